package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
	"github.com/alexjbarnes/authz-server/internal/models"
)

// RFC 6749 Section 5.2 error codes, plus slow_down for throttled clients.
const (
	errInvalidRequest       = "invalid_request"
	errInvalidClient        = "invalid_client"
	errInvalidGrant         = "invalid_grant"
	errInvalidScope         = "invalid_scope"
	errUnauthorizedClient   = "unauthorized_client"
	errUnsupportedGrantType = "unsupported_grant_type"
	errSlowDown             = "slow_down"
	errServerError          = "server_error"
)

const (
	// passwordFailureWindow and passwordFailureLimit bound failed
	// password grants per source IP.
	passwordFailureWindow = 5 * time.Minute
	passwordFailureLimit  = 10

	formContentType = "application/x-www-form-urlencoded"
)

// EngineResponse is the wire response of the token endpoint.
type EngineResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// engineToken is the success body written by the engine.
type engineToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// EngineConfig holds the dependencies of an Engine.
type EngineConfig struct {
	Authorizer *Authorizer
	Issuer     *Issuer
	Refresh    *RefreshCodec
	Logger     *slog.Logger
}

// Engine implements the form-encoded token endpoint protocol.
type Engine struct {
	authorizer *Authorizer
	issuer     *Issuer
	refresh    *RefreshCodec
	logger     *slog.Logger
	limiter    *rateLimiter
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		authorizer: cfg.Authorizer,
		issuer:     cfg.Issuer,
		refresh:    cfg.Refresh,
		logger:     cfg.Logger,
		limiter:    newRateLimiter(passwordFailureWindow, passwordFailureLimit),
	}
}

func errorResponse(status int, code, description string) *EngineResponse {
	body, _ := json.Marshal(map[string]string{
		"error":             code,
		"error_description": description,
	})

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")

	return &EngineResponse{Status: status, Header: h, Body: body}
}

func rejected(code, description string) *EngineResponse {
	return errorResponse(http.StatusBadRequest, code, description)
}

func tokenResponse(tok engineToken) *EngineResponse {
	body, err := json.Marshal(tok)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, errServerError, "encoding token response")
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")

	return &EngineResponse{Status: http.StatusOK, Header: h, Body: body}
}

// clientCredentials reads client authentication from HTTP Basic or from
// the client_id and client_secret form fields.
func clientCredentials(r *http.Request) (id, secret string, ok bool) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret, true
	}

	id = r.PostForm.Get("client_id")
	if id == "" {
		return "", "", false
	}

	return id, r.PostForm.Get("client_secret"), true
}

// HandleTokenRequest processes one token request and returns the wire
// response. It never panics on bad input and never returns nil.
func (e *Engine) HandleTokenRequest(r *http.Request) *EngineResponse {
	if r.Method != http.MethodPost {
		return rejected(errInvalidRequest, "token requests must use POST")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != formContentType {
		return rejected(errInvalidRequest, "token requests must be form-encoded")
	}

	if err := r.ParseForm(); err != nil {
		return rejected(errInvalidRequest, "invalid form data")
	}

	clientID, secret, ok := clientCredentials(r)
	if !ok {
		return rejected(errInvalidClient, "client authentication is required")
	}

	authenticated, err := e.authorizer.AuthenticateClient(clientID, secret)
	if err != nil {
		return e.serverError("authenticating client", err)
	}

	if !authenticated {
		e.logger.Warn("token: client authentication failed",
			slog.String("client_id", clientID),
			slog.String("ip", remoteIP(r)),
		)

		return rejected(errInvalidClient, "client authentication failed")
	}

	scope := strings.Fields(r.PostForm.Get("scope"))

	switch grantType := r.PostForm.Get("grant_type"); grantType {
	case "password":
		return e.passwordGrant(r, clientID, scope)
	case "refresh_token":
		return e.refreshGrant(r, clientID, scope)
	case "client_credentials":
		return e.clientCredentialsGrant(clientID, scope)
	case "":
		return rejected(errInvalidRequest, "grant_type is required")
	default:
		return rejected(errUnsupportedGrantType, "unsupported grant_type "+grantType)
	}
}

func (e *Engine) serverError(msg string, err error) *EngineResponse {
	e.logger.Error("token: "+msg, slog.String("error", err.Error()))

	status := apperrors.HTTPStatus(err)
	if status < http.StatusInternalServerError {
		status = http.StatusInternalServerError
	}

	return errorResponse(status, errServerError, "the authorization server could not complete the request")
}

func (e *Engine) passwordGrant(r *http.Request, clientID string, scope []string) *EngineResponse {
	ip := remoteIP(r)

	// The attempt holds a failure slot until it is known not to be a
	// credential failure.
	withdraw, ok := e.limiter.reserve(ip)
	if !ok {
		e.logger.Warn("token: password grant throttled", slog.String("ip", ip))
		return errorResponse(http.StatusTooManyRequests, errSlowDown, "too many failed attempts, try again later")
	}

	failed := false
	defer func() {
		if !failed {
			withdraw()
		}
	}()

	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	if username == "" || password == "" {
		return rejected(errInvalidRequest, "username and password are required")
	}

	req := &models.AccessTokenRequest{
		ClientID: clientID,
		Scope:    scope,
		Grant:    models.PasswordGrant{Username: username, Password: password},
	}

	decision, err := e.authorizer.CheckResourceOwnerGrant(username, password, req)
	if err != nil {
		return e.serverError("checking password grant", err)
	}

	if !decision.Approved {
		failed = true
		e.logger.Warn("token: password grant rejected",
			slog.String("client_id", clientID),
			slog.String("ip", ip),
		)

		return rejected(errInvalidGrant, "the resource owner credentials or scope are invalid")
	}

	req.Grant = models.PasswordGrant{Username: decision.CanonicalUsername}

	token, encoded, err := e.issuer.CreateAccessToken(req)
	if err != nil {
		return e.serverError("issuing access token", err)
	}

	refresh, err := e.refresh.Seal(models.AuthorizationDescription{
		User:      decision.CanonicalUsername,
		ClientID:  clientID,
		Scope:     token.Scope,
		UTCIssued: token.UTCIssued,
	})
	if err != nil {
		return e.serverError("sealing refresh token", err)
	}

	e.logger.Info("token: password grant approved",
		slog.String("client_id", clientID),
		slog.Duration("lifetime", token.Lifetime),
	)

	return tokenResponse(engineToken{
		AccessToken:  encoded,
		TokenType:    "Bearer",
		ExpiresIn:    int64(token.Lifetime / time.Second),
		RefreshToken: refresh,
		Scope:        strings.Join(token.Scope, " "),
	})
}

// scopeSubset reports whether every requested value appears in granted,
// ignoring case.
func scopeSubset(requested, granted []string) bool {
	for _, r := range requested {
		found := false

		for _, g := range granted {
			if strings.EqualFold(r, g) {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

func (e *Engine) refreshGrant(r *http.Request, clientID string, scope []string) *EngineResponse {
	presented := r.PostForm.Get("refresh_token")
	if presented == "" {
		return rejected(errInvalidRequest, "refresh_token is required")
	}

	auth, err := e.refresh.Open(presented)
	if errors.Is(err, apperrors.ErrGrantRejected) {
		e.logger.Warn("token: refresh token rejected",
			slog.String("client_id", clientID),
			slog.String("reason", err.Error()),
		)

		return rejected(errInvalidGrant, "the refresh token is invalid or expired")
	}

	if err != nil {
		return e.serverError("opening refresh token", err)
	}

	if auth.ClientID != clientID {
		e.logger.Warn("token: refresh token presented by another client", slog.String("client_id", clientID))
		return rejected(errInvalidGrant, "the refresh token was issued to another client")
	}

	valid, err := e.authorizer.IsAuthorizationValid(auth)
	if err != nil {
		return e.serverError("revalidating authorization", err)
	}

	if !valid {
		e.logger.Warn("token: authorization no longer valid", slog.String("client_id", clientID))
		return rejected(errInvalidGrant, "the authorization is no longer valid")
	}

	if len(scope) == 0 {
		scope = auth.Scope
	} else if !scopeSubset(scope, auth.Scope) {
		return rejected(errInvalidScope, "the requested scope exceeds the original grant")
	}

	token, encoded, err := e.issuer.CreateAccessToken(&models.AccessTokenRequest{
		ClientID: clientID,
		Scope:    scope,
		Grant:    models.RefreshGrant{Authorization: *auth},
	})
	if err != nil {
		return e.serverError("issuing access token", err)
	}

	// The replacement keeps the original UTCIssued.
	refresh, err := e.refresh.Seal(*auth)
	if err != nil {
		return e.serverError("sealing refresh token", err)
	}

	e.logger.Info("token: refresh grant approved", slog.String("client_id", clientID))

	return tokenResponse(engineToken{
		AccessToken:  encoded,
		TokenType:    "Bearer",
		ExpiresIn:    int64(token.Lifetime / time.Second),
		RefreshToken: refresh,
		Scope:        strings.Join(token.Scope, " "),
	})
}

func (e *Engine) clientCredentialsGrant(clientID string, scope []string) *EngineResponse {
	req := &models.AccessTokenRequest{
		ClientID: clientID,
		Scope:    scope,
		Grant:    models.ClientCredentialsGrant{},
	}

	decision, err := e.authorizer.CheckClientCredentialsGrant(req)
	if err != nil {
		return e.serverError("checking client credentials grant", err)
	}

	if !decision.Approved {
		return rejected(errUnauthorizedClient, "the client is not registered")
	}

	req.Scope = decision.ApprovedScope

	token, encoded, err := e.issuer.CreateAccessToken(req)
	if err != nil {
		return e.serverError("issuing access token", err)
	}

	e.logger.Info("token: client credentials grant approved", slog.String("client_id", clientID))

	return tokenResponse(engineToken{
		AccessToken: encoded,
		TokenType:   "Bearer",
		ExpiresIn:   int64(token.Lifetime / time.Second),
		Scope:       strings.Join(token.Scope, " "),
	})
}
