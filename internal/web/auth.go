package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// withAuth rejects requests without the configured token. The health check
// stays open for supervisors.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && !s.authorizeRequest(r) {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorizeRequest(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}

	if queryToken := strings.TrimSpace(r.URL.Query().Get("token")); queryToken != "" {
		return secureEqual(queryToken, s.cfg.Token)
	}
	if headerToken := bearerToken(r.Header.Get("Authorization")); headerToken != "" {
		return secureEqual(headerToken, s.cfg.Token)
	}
	return false
}

func bearerToken(authHeader string) string {
	token, ok := strings.CutPrefix(strings.TrimSpace(authHeader), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
