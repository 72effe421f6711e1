package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"eldhos/internal/auth"
	"eldhos/internal/eld"
)

// logScope rejects driver callers reading or certifying another driver's log.
func (s *Server) logScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "logID")
		ok := s.requireOwner(w, r, func(ctx context.Context) (string, error) {
			l, err := s.svc.GetLog(ctx, id)
			return l.DriverID, err
		})
		if ok {
			next.ServeHTTP(w, r)
		}
	})
}

func (s *Server) GetLog(w http.ResponseWriter, r *http.Request) {
	l, err := s.svc.GetLog(r.Context(), chi.URLParam(r, "logID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) DailySummary(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.DailySummary(r.Context(), chi.URLParam(r, "logID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RenderLog returns JSON for printable and inspection views and a file
// download for csv and xlsx.
func (s *Server) RenderLog(w http.ResponseWriter, r *http.Request) {
	f, err := eld.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.svc.RenderLog(r.Context(), chi.URLParam(r, "logID"), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out.Data == nil {
		writeJSON(w, http.StatusOK, out)
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+out.FileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func (s *Server) CertifyLog(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleDriver, auth.RoleAdmin) {
		return
	}
	var in eld.CertifyInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.Actor = actor(r)
	l, err := s.svc.CertifyLog(r.Context(), chi.URLParam(r, "logID"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) UncertifyLog(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleOffice, auth.RoleAdmin) {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	l, err := s.svc.UncertifyLog(r.Context(), chi.URLParam(r, "logID"), req.Reason, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) AuditTrail(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.AuditTrail(r.Context(), chi.URLParam(r, "logID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) ListViolations(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.ListViolations(r.Context(), chi.URLParam(r, "logID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) ResolveViolation(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleOffice, auth.RoleAdmin) {
		return
	}
	var req notesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, err := s.svc.ResolveViolation(r.Context(), chi.URLParam(r, "violationID"), req.Notes, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) AnnotateInterval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "intervalID")
	ok := s.requireOwner(w, r, func(ctx context.Context) (string, error) {
		iv, err := s.store.GetInterval(ctx, id)
		if err != nil {
			return "", s.notFound(err, "interval", id)
		}
		return iv.DriverID, nil
	})
	if !ok {
		return
	}
	var req struct {
		Remarks string `json:"remarks"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	iv, err := s.svc.AnnotateInterval(r.Context(), id, req.Remarks, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, iv)
}
