package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"eldhos/internal/auth"
	"eldhos/internal/errs"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

// notFound turns the store's sentinel into a typed not-found error.
func (s *Server) notFound(err error, what, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.NotFound(what, id)
	}
	return err
}

func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleAdmin) {
		return
	}
	var req model.SubscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := s.svc.CreateSubscription(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleAdmin) {
		return
	}
	subs, err := s.store.ListSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for i := range subs {
		subs[i].Secret = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs})
}

func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleAdmin) {
		return
	}
	id := chi.URLParam(r, "subscriptionID")
	if err := s.store.DeleteSubscription(r.Context(), id); err != nil {
		s.writeError(w, r, s.notFound(err, "subscription", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) WebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	s.listDeliveries(w, r, r.URL.Query().Get("status"))
}

// WebhookDLQ lists deliveries that exhausted their attempts.
func (s *Server) WebhookDLQ(w http.ResponseWriter, r *http.Request) {
	s.listDeliveries(w, r, store.DeliveryDead)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request, status string) {
	if !requireRole(w, r, auth.RoleAdmin) {
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.store.ListWebhookDeliveries(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
