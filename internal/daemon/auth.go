package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"mediaqueue/internal/api"
)

// bearerAuth returns a middleware that validates bearer tokens. An empty
// token disables authentication. WebSocket clients that cannot set headers
// may pass the token as ?token=.
func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.URL.Query().Get("token")
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized", Kind: "unauthorized"}, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
