package api

import (
	"net/http"
	"strings"

	"rbus/internal/auth"
)

// principal extracts the caller from an Authorization: Bearer header.
func (s *Server) principal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return auth.Principal{}, false
	}
	tok := strings.TrimSpace(authz[len("Bearer "):])
	p, err := s.Auth.Verify(tok)
	if err != nil {
		s.Log.Debug("rejected token", "err", err)
		return auth.Principal{}, false
	}
	return p, true
}

// requirePrincipal writes 401 when the request carries no valid token.
func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := s.principal(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="rbus"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required", r.URL.Path)
	}
	return p, ok
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := s.requirePrincipal(w, r)
	if !ok {
		return p, false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return p, false
	}
	return p, true
}
