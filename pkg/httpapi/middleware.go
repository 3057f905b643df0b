package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// ServerTokenHeader carries the shared server token on inbound control
// requests and outbound webhook and inference calls.
const ServerTokenHeader = "X-Server-Token"

// TokenAuth returns middleware that requires the shared server token on
// every request. An empty token disables the check.
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(ServerTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid server token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
