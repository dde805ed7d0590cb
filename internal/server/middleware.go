package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// bearerAuth requires the configured token as an Authorization bearer
// credential. Caller identity beyond the shared token is an upstream
// concern.
func bearerAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errorDetail{
				Code:    "UNAUTHORIZED",
				Message: "missing or invalid bearer token",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}
