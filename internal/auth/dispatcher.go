package auth

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/tidwall/gjson"
)

// TokenEngine runs the form-encoded token protocol.
type TokenEngine interface {
	HandleTokenRequest(r *http.Request) *EngineResponse
}

// CreateAccessToken is the JSON form of a token request.
type CreateAccessToken struct {
	GrantType    string `json:"grant_type"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// TokenResponse is the token endpoint's success body. Values are copied
// from the engine response as strings.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

// GrantRejectedError is returned when the engine declines a grant.
type GrantRejectedError struct {
	Status      int
	Code        string
	Description string
}

func (e *GrantRejectedError) Error() string {
	return e.Description
}

func (e *GrantRejectedError) Unwrap() error {
	return apperrors.ErrGrantRejected
}

// Dispatcher adapts token requests for the engine and maps its wire
// responses back into typed results.
type Dispatcher struct {
	engine TokenEngine
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher in front of engine.
func NewDispatcher(engine TokenEngine, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, logger: logger}
}

func isJSONRequest(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json"
}

// formFromJSON builds the form-encoded equivalent of a JSON request.
func formFromJSON(r *http.Request, body *CreateAccessToken) (*http.Request, error) {
	form := url.Values{}

	for name, value := range map[string]string{
		"grant_type":    body.GrantType,
		"username":      body.Username,
		"password":      body.Password,
		"refresh_token": body.RefreshToken,
		"scope":         body.Scope,
		"client_id":     body.ClientID,
		"client_secret": body.ClientSecret,
	} {
		if value != "" {
			form.Set(name, value)
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, r.URL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building form request: %w", err)
	}

	for name, values := range r.Header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Type", "Content-Length":
			continue
		}

		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Cache-Control", "no-store, no-cache")
	req.RemoteAddr = r.RemoteAddr
	req.Host = r.Host

	return req, nil
}

// HandleTokenRequest runs a token request through the engine. JSON
// requests are converted to their form-encoded equivalent first, in
// which case body must be the decoded request. Declined grants return a
// *GrantRejectedError.
func (d *Dispatcher) HandleTokenRequest(r *http.Request, body *CreateAccessToken) (*TokenResponse, error) {
	if r == nil {
		return nil, fmt.Errorf("request is required: %w", apperrors.ErrArgument)
	}

	req := r

	if isJSONRequest(r) {
		if body == nil {
			return nil, fmt.Errorf("json body is required: %w", apperrors.ErrArgument)
		}

		var err error
		if req, err = formFromJSON(r, body); err != nil {
			return nil, err
		}
	}

	resp := d.engine.HandleTokenRequest(req)
	if resp == nil {
		return nil, fmt.Errorf("token engine returned no response")
	}

	if resp.Status == http.StatusOK {
		if !gjson.ValidBytes(resp.Body) {
			return nil, fmt.Errorf("token engine returned malformed body")
		}

		fields := gjson.GetManyBytes(resp.Body, "access_token", "refresh_token", "expires_in", "token_type", "scope")

		return &TokenResponse{
			AccessToken:  fields[0].String(),
			RefreshToken: fields[1].String(),
			ExpiresIn:    fields[2].String(),
			TokenType:    fields[3].String(),
			Scope:        fields[4].String(),
		}, nil
	}

	return nil, d.engineFailure(resp)
}

// engineFailure converts a non-200 engine response into an error. The
// message prefers error_description, then error, then the raw body.
func (d *Dispatcher) engineFailure(resp *EngineResponse) error {
	var code, message string

	if gjson.ValidBytes(resp.Body) {
		code = gjson.GetBytes(resp.Body, "error").String()
		message = gjson.GetBytes(resp.Body, "error_description").String()
	}

	if message == "" {
		message = code
	}

	if message == "" {
		message = strings.TrimSpace(string(resp.Body))
	}

	if resp.Status >= http.StatusInternalServerError {
		d.logger.Debug("token engine failed", slog.Int("status", resp.Status), slog.String("error", code))
		return fmt.Errorf("token engine: %s", message)
	}

	return &GrantRejectedError{Status: resp.Status, Code: code, Description: message}
}
