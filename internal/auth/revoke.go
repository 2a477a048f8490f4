package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
)

type revokeRequest struct {
	ClientID string `json:"client_id"`
}

// HandleRevoke returns the /oauth/revoke handler. The authenticated user
// withdraws every authorization previously granted to client_id; refresh
// tokens issued before now stop working.
func HandleRevoke(authorizer *Authorizer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		user := RequestUserID(r.Context())
		if user == "" {
			writeJSONError(w, http.StatusBadRequest, errInvalidRequest, "revocation requires a user token")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)

		var req revokeRequest
		if isJSONRequest(r) {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, http.StatusBadRequest, errInvalidRequest, "invalid request body")
				return
			}
		} else {
			if err := r.ParseForm(); err != nil {
				writeJSONError(w, http.StatusBadRequest, errInvalidRequest, "invalid form data")
				return
			}

			req.ClientID = r.PostForm.Get("client_id")
		}

		if req.ClientID == "" {
			req.ClientID = RequestClientID(r.Context())
		}

		if err := authorizer.Revoke(user, req.ClientID, time.Now()); err != nil {
			if apperrors.HTTPStatus(err) == http.StatusBadRequest {
				writeJSONError(w, http.StatusBadRequest, errInvalidRequest, err.Error())
				return
			}

			logger.Error("revoke failed",
				slog.String("client_id", req.ClientID),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusInternalServerError, errServerError, "could not record revocation")

			return
		}

		logger.Info("authorization revoked",
			slog.String("user_id", user),
			slog.String("client_id", req.ClientID),
		)

		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	}
}
