package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eldhos/internal/eld"
)

func (s *Server) tripOwner(id string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		t, err := s.svc.GetTrip(ctx, id)
		return t.DriverID, err
	}
}

func (s *Server) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req eld.TripRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !requireDriver(w, r, req.DriverID) {
		return
	}
	plan, err := s.svc.CreateTrip(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.GetTrip(r.Context(), chi.URLParam(r, "tripID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !requireDriver(w, r, t.DriverID) {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) GenerateTripLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tripID")
	if !s.requireOwner(w, r, s.tripOwner(id)) {
		return
	}
	logs, err := s.svc.GenerateLogsForTrip(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": logs})
}

func (s *Server) TripSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tripID")
	if !s.requireOwner(w, r, s.tripOwner(id)) {
		return
	}
	sum, err := s.svc.TripSummary(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) RestartSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tripID")
	if !s.requireOwner(w, r, s.tripOwner(id)) {
		return
	}
	sug, err := s.svc.RestartSuggestion(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sug == nil {
		writeJSON(w, http.StatusOK, map[string]any{"restartNeeded": false})
		return
	}
	writeJSON(w, http.StatusOK, sug)
}
