package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/daap14/blueprints/internal/api/response"
)

// RequireAPIKey rejects requests whose X-API-Key header does not match the
// bcrypt hash. An empty hash disables the check.
func RequireAPIKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		hashed := []byte(hash)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key is required", requestID)
				return
			}

			if err := bcrypt.CompareHashAndPassword(hashed, []byte(rawKey)); err != nil {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
