package api

import (
	"context"
	"net/http"
	"strings"

	"eldhos/internal/auth"
	"eldhos/internal/eld"
)

type ctxKeyPrincipal struct{}

// authenticate resolves the caller from the bearer token. Without a token,
// dev mode falls back to the X-Role and X-Driver-Id headers and hmac mode
// rejects the request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p auth.Principal
		authz := r.Header.Get("Authorization")
		switch {
		case strings.HasPrefix(strings.ToLower(authz), "bearer "):
			var err error
			p, err = s.auth.Verify(strings.TrimSpace(authz[len("Bearer "):]))
			if err != nil {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
				return
			}
		case s.auth.Mode == "dev":
			p = auth.Principal{Role: strings.ToLower(r.Header.Get("X-Role")), DriverID: r.Header.Get("X-Driver-Id")}
			if p.Role == "" {
				p.Role = auth.RoleAdmin
			}
		default:
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required", r.URL.Path)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := r.Context().Value(ctxKeyPrincipal{}).(auth.Principal)
	return p
}

// actor is the audit identity of the caller.
func actor(r *http.Request) eld.Actor {
	p := principal(r)
	name := p.Subject
	if name == "" {
		name = p.DriverID
	}
	if name == "" {
		name = p.Role
	}
	return eld.Actor{Name: name, Type: p.Role}
}

// requireRole writes 403 unless the caller holds one of roles.
func requireRole(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	p := principal(r)
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	writeProblem(w, http.StatusForbidden, "Forbidden", strings.Join(roles, " or ")+" role required", r.URL.Path)
	return false
}

// requireDriver writes 403 when a driver caller targets another driver.
func requireDriver(w http.ResponseWriter, r *http.Request, driverID string) bool {
	if principal(r).CanAccessDriver(driverID) {
		return true
	}
	writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for this driver", r.URL.Path)
	return false
}

// requireOwner applies requireDriver to the driver that owns a record.
// Only driver callers pay for the lookup.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request, owner func(ctx context.Context) (string, error)) bool {
	if principal(r).Role != auth.RoleDriver {
		return true
	}
	driverID, err := owner(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return false
	}
	return requireDriver(w, r, driverID)
}
