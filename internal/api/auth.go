package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware implements spec.md §4.9: every request must present
// Authorization: Bearer <token> or X-ZDMR-Token: <token>, checked
// constant-time against the stored token. Grounded in torrus's
// internal/auth.Middleware, extended with the second header form and the
// loopback-only bind (enforced by the listener address in Server, not
// here).
func authMiddleware(tokenFn func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFn()
			got := bearerToken(r)
			if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if v := r.Header.Get("X-ZDMR-Token"); v != "" {
		return v
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
