package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eldhos/internal/auth"
	"eldhos/internal/eld"
)

func (s *Server) documentOwner(id string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		d, err := s.store.GetDocument(ctx, id)
		if err != nil {
			return "", s.notFound(err, "document", id)
		}
		return d.DriverID, nil
	}
}

func (s *Server) UploadDocument(w http.ResponseWriter, r *http.Request) {
	var in eld.DocumentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if !requireDriver(w, r, in.DriverID) {
		return
	}
	doc, err := s.svc.UploadDocument(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if !s.requireOwner(w, r, s.documentOwner(id)) {
		return
	}
	if err := s.svc.DeleteDocument(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) VerifyDocument(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleOffice, auth.RoleAdmin) {
		return
	}
	doc, err := s.svc.VerifyDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := s.svc.ListDocuments(r.Context(), chi.URLParam(r, "driverID"), q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": docs})
}

func (s *Server) DocumentCompliance(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.DailyDocumentCompliance(r.Context(), chi.URLParam(r, "driverID"), r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) AutoAssociateDocuments(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.AutoAssociateDocuments(r.Context(), chi.URLParam(r, "driverID"), r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"associated": n})
}

func (s *Server) DocumentRetention(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := s.svc.DocumentRetentionReport(r.Context(), chi.URLParam(r, "driverID"), q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
