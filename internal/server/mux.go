// Package server provides HTTP server construction for authz-server.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/authz-server/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Dispatcher *auth.Dispatcher
	Authorizer *auth.Authorizer
	Validator  *auth.TokenValidator
	Registry   auth.ClientRegistry
	Logger     *slog.Logger
	ServerURL  string
}

// NewMux builds the HTTP mux with discovery, token, revocation and
// registration endpoints, plus the bearer protected /api/me resource.
func NewMux(cfg MuxConfig) *http.ServeMux {
	bearer := auth.Middleware(cfg.Validator, cfg.Logger, cfg.ServerURL, auth.CanonicalScope)
	admin := auth.RequireRoles(cfg.Logger, auth.RoleGod)

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", auth.HandleServerMetadata(cfg.ServerURL))
	mux.HandleFunc("/.well-known/oauth-protected-resource", auth.HandleProtectedResourceMetadata(cfg.ServerURL))
	mux.HandleFunc("/oauth/token", auth.HandleToken(cfg.Dispatcher, cfg.Logger))
	mux.Handle("/oauth/revoke", bearer(auth.HandleRevoke(cfg.Authorizer, cfg.Logger)))
	mux.Handle("/oauth/register", bearer(admin(auth.HandleRegistration(cfg.Registry, cfg.Logger))))
	mux.Handle("/api/me", bearer(handleMe()))

	return mux
}

type meResponse struct {
	UserID   string   `json:"user_id,omitempty"`
	ClientID string   `json:"client_id"`
	Roles    []string `json:"roles"`
	Scope    []string `json:"scope"`
}

// handleMe echoes the identity carried by the bearer token.
func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx := r.Context()
		resp := meResponse{
			UserID:   auth.RequestUserID(ctx),
			ClientID: auth.RequestClientID(ctx),
			Roles:    auth.RequestRoles(ctx),
			Scope:    auth.RequestScope(ctx),
		}

		if resp.Roles == nil {
			resp.Roles = []string{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
