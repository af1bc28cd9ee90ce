package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// AuthMiddleware checks the X-API-Key header against apiKey.
// An empty apiKey disables auth.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			providedKey := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
				respondError(w, r, errUnauthorized, http.StatusUnauthorized, codeUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
