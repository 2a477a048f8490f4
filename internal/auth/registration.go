package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/authz-server/internal/models"
)

const (
	// maxClients caps the number of registered clients.
	maxClients = 1000

	registrationWindow = time.Minute
	registrationLimit  = 10

	clientIDBytes     = 16
	clientSecretBytes = 32
)

// ClientRegistry persists new client applications.
type ClientRegistry interface {
	SaveClient(c models.ClientApplication) error
	ClientCount() (int, error)
}

// registrationRequest is the registration POST body.
type registrationRequest struct {
	ClientName                 string  `json:"client_name,omitempty"`
	AccessTokenLifetimeMinutes float64 `json:"access_token_lifetime_minutes,omitempty"`
}

// registrationResponse is the registration response (RFC 7591 Section 3.2.1).
type registrationResponse struct {
	ClientID                   string   `json:"client_id"`
	ClientSecret               string   `json:"client_secret"`
	ClientName                 string   `json:"client_name,omitempty"`
	ClientIDIssuedAt           int64    `json:"client_id_issued_at"`
	AccessTokenLifetimeMinutes float64  `json:"access_token_lifetime_minutes,omitempty"`
	GrantTypes                 []string `json:"grant_types"`
	TokenEndpointAuthMethod    string   `json:"token_endpoint_auth_method"`
}

// HandleRegistration returns the /oauth/register handler. Registrations
// are rate limited per caller.
func HandleRegistration(registry ClientRegistry, logger *slog.Logger) http.HandlerFunc {
	limiter := newRateLimiter(registrationWindow, registrationLimit)

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		caller := RequestUserID(r.Context())
		if caller == "" {
			caller = RequestClientID(r.Context())
		}

		if !limiter.allow(caller) {
			logger.Warn("registration rate limit exceeded", slog.String("user_id", caller))
			writeJSONError(w, http.StatusTooManyRequests, errSlowDown, "too many registrations, try again later")

			return
		}

		var req registrationRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", "invalid request body")
			return
		}

		if req.AccessTokenLifetimeMinutes < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_client_metadata", "access_token_lifetime_minutes must not be negative")
			return
		}

		count, err := registry.ClientCount()
		if err != nil {
			logger.Error("registration: counting clients", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, errServerError, "could not count clients")

			return
		}

		if count >= maxClients {
			logger.Warn("registration rejected: client limit reached", slog.Int("max_clients", maxClients))
			writeJSONError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "client limit reached")

			return
		}

		client := models.ClientApplication{
			ClientID:            RandomHex(clientIDBytes),
			ClientSecret:        RandomHex(clientSecretBytes),
			Name:                req.ClientName,
			AccessTokenLifetime: time.Duration(req.AccessTokenLifetimeMinutes * float64(time.Minute)),
		}

		if err := registry.SaveClient(client); err != nil {
			logger.Error("registration: saving client", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, errServerError, "could not save client")

			return
		}

		logger.Info("client registered",
			slog.String("client_id", client.ClientID),
			slog.String("client_name", client.Name),
			slog.String("registered_by", caller),
		)

		resp := registrationResponse{
			ClientID:                   client.ClientID,
			ClientSecret:               client.ClientSecret,
			ClientName:                 client.Name,
			ClientIDIssuedAt:           time.Now().Unix(),
			AccessTokenLifetimeMinutes: req.AccessTokenLifetimeMinutes,
			GrantTypes:                 []string{"password", "refresh_token", "client_credentials"},
			TokenEndpointAuthMethod:    "client_secret_basic",
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
