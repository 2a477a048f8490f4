package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
)

// RoleGod passes every role check.
const RoleGod = "god"

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxClientID
	ctxRemoteIP
	ctxRoles
	ctxScope
)

// RequestUserID returns the authenticated user from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestClientID returns the OAuth client ID from the context, or "".
func RequestClientID(ctx context.Context) string {
	v, _ := ctx.Value(ctxClientID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// RequestRoles returns the roles carried by the access token.
func RequestRoles(ctx context.Context) []string {
	v, _ := ctx.Value(ctxRoles).([]string)
	return v
}

// RequestScope returns the scope carried by the access token.
func RequestScope(ctx context.Context) []string {
	v, _ := ctx.Value(ctxScope).([]string)
	return v
}

// splitRoles splits a roles claim on spaces, commas and semicolons.
func splitRoles(claim string) []string {
	return strings.FieldsFunc(claim, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';'
	})
}

// Middleware returns HTTP middleware that validates Bearer tokens and
// requires requiredScope. Unauthenticated requests get a 401 with a
// Bearer WWW-Authenticate challenge (RFC 6750 Section 3) pointing at the
// protected resource metadata (RFC 9728 Section 5.1).
func Middleware(validator *TokenValidator, logger *slog.Logger, serverURL, requiredScope string) func(http.Handler) http.Handler {
	metadataURL := serverURL + "/.well-known/oauth-protected-resource"
	// RFC 6750 Section 3.1: no error attribute when no token was provided.
	wwwAuthNoToken := fmt.Sprintf(`Bearer resource_metadata="%s"`, metadataURL)
	// error="invalid_token" signals the client should attempt a refresh.
	wwwAuthInvalid := fmt.Sprintf(`Bearer error="invalid_token", resource_metadata="%s"`, metadataURL)
	wwwAuthScope := fmt.Sprintf(`Bearer error="insufficient_scope", scope="%s", resource_metadata="%s"`, requiredScope, metadataURL)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)
			authHeader := r.Header.Get("Authorization")

			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthNoToken)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			issued, err := validator.Validate(token)
			if err != nil {
				if !errors.Is(err, apperrors.ErrUnauthorized) {
					logger.Error("middleware: validating token", slog.String("error", err.Error()))
					http.Error(w, "internal server error", http.StatusInternalServerError)

					return
				}

				logger.Debug("middleware: invalid bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("reason", err.Error()),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthInvalid)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			if requiredScope != "" && !slices.ContainsFunc(issued.Scope, func(s string) bool {
				return strings.EqualFold(s, requiredScope)
			}) {
				logger.Debug("middleware: token lacks scope",
					slog.String("client_id", issued.ClientID),
					slog.String("required", requiredScope),
				)
				w.Header().Set("WWW-Authenticate", wwwAuthScope)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			logger.Debug("middleware: authenticated via bearer token",
				slog.String("user_id", issued.User),
				slog.String("client_id", issued.ClientID),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxUserID, issued.User)
			ctx = context.WithValue(ctx, ctxClientID, issued.ClientID)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)
			ctx = context.WithValue(ctx, ctxRoles, splitRoles(issued.ExtraData[RolesClaim]))
			ctx = context.WithValue(ctx, ctxScope, issued.Scope)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HasAnyRole reports whether held grants any of the wanted roles. The
// god role grants all of them.
func HasAnyRole(held []string, wanted ...string) bool {
	for _, h := range held {
		if strings.EqualFold(h, RoleGod) {
			return true
		}

		for _, w := range wanted {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}

	return false
}

// RequireRoles returns middleware answering 403 unless the token
// carries one of roles. It must run inside Middleware.
func RequireRoles(logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasAnyRole(RequestRoles(r.Context()), roles...) {
				logger.Warn("middleware: missing role",
					slog.String("user_id", RequestUserID(r.Context())),
					slog.String("path", r.URL.Path),
				)
				writeJSONError(w, http.StatusForbidden, "insufficient_role", "the token does not carry a required role")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
