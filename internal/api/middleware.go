package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/JustinTDCT/ListVault/internal/httputil"
)

// authMiddleware enforces the shared worker secret as a bearer token on every
// route except health, metrics, and the websocket upgrade (which checks its
// token itself, since browsers cannot set headers on upgrade requests).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/metrics", "/jobs/events":
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.WorkerSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !secretMatches(token, s.cfg.WorkerSecret) {
			httputil.WriteError(w, http.StatusUnauthorized, "AuthError", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secretMatches compares hashes so the comparison is constant-time and does
// not leak the secret's length.
func secretMatches(got, want string) bool {
	if got == "" {
		return false
	}
	g := sha256.Sum256([]byte(got))
	w := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(g[:], w[:]) == 1
}
