package app

import (
	"net/http"

	"vidtube/internal/rbac"
)

// authorize resolves the viewer and checks they may call a procedure at
// access. Public procedures treat a bad token as anonymous. Protected calls
// are charged against the viewer's rate limit.
func (s *HTTPServer) authorize(r *http.Request, access rbac.Access) (Session, error) {
	var viewer Session
	if token := bearerToken(r); token != "" {
		session, err := s.service.SessionFromToken(r.Context(), token)
		switch {
		case err == nil:
			viewer = session
		case access == rbac.AccessPublic:
			s.logger.Debug("ignoring bad token on public procedure", "error", err)
		default:
			if _, code, _, _ := mapError(err); code == CodeInternal {
				return Session{}, err
			}
			return Session{}, unauthorized()
		}
	}

	role := rbac.RoleFor(viewer.UserID)
	if !rbac.Can(role, access) {
		if role == rbac.RoleAnonymous {
			return Session{}, unauthorized()
		}
		return Session{}, codedError(CodeForbidden, "Forbidden")
	}

	if rbac.RateLimited(access) && !s.service.allow(r.Context(), viewer.UserID) {
		return Session{}, codedError(CodeTooManyRequests, "Too many requests")
	}
	return viewer, nil
}
