package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/alexjbarnes/authz-server/internal/errors"
)

// maxTokenRequestBytes caps token request bodies.
const maxTokenRequestBytes = 64 << 10

// HandleToken returns the /oauth/token handler.
func HandleToken(d *Dispatcher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)

		// Support both JSON and form-encoded bodies.
		var body *CreateAccessToken
		if isJSONRequest(r) {
			body = &CreateAccessToken{}
			if err := json.NewDecoder(r.Body).Decode(body); err != nil {
				writeJSONError(w, http.StatusBadRequest, errInvalidRequest, "invalid request body")
				return
			}
		}

		resp, err := d.HandleTokenRequest(r, body)
		if err != nil {
			var rejected *GrantRejectedError
			if errors.As(err, &rejected) {
				writeJSONError(w, rejected.Status, rejected.Code, rejected.Description)
				return
			}

			status := apperrors.HTTPStatus(err)
			if status == http.StatusBadRequest {
				writeJSONError(w, status, errInvalidRequest, err.Error())
				return
			}

			logger.Error("token request failed", slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, errServerError, "the authorization server could not complete the request")

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func writeJSONError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}
