// Package api exposes the compliance engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"eldhos/internal/auth"
	"eldhos/internal/buildinfo"
	"eldhos/internal/eld"
	"eldhos/internal/metrics"
	"eldhos/internal/store"
)

type Server struct {
	svc       *eld.Service
	store     store.Store
	broker    EventBroker
	locations *LocationCache
	auth      *auth.Verifier
	logger    *zap.Logger
	limiter   *clientLimiter
	settings  map[string]any
}

// Deps are the collaborators a Server is built from. Broker, Auth and Logger
// default to an in-process broker, dev-mode auth and a no-op logger.
type Deps struct {
	Service   *eld.Service
	Broker    EventBroker
	Auth      *auth.Verifier
	Logger    *zap.Logger
	RateRPS   float64
	RateBurst int
	// Settings is the non-secret configuration reported by /debug/info.
	Settings map[string]any
}

func NewServer(d Deps) *Server {
	if d.Broker == nil {
		d.Broker = NewBroker()
	}
	if d.Auth == nil {
		d.Auth = auth.NewVerifier("dev", "")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Server{
		svc:       d.Service,
		store:     d.Service.Store(),
		broker:    d.Broker,
		locations: NewLocationCache(),
		auth:      d.Auth,
		logger:    d.Logger,
		limiter:   newClientLimiter(d.RateRPS, d.RateBurst),
		settings:  d.Settings,
	}
}

func (s *Server) Router() http.Handler {
	metrics.RegisterDefault()
	r := chi.NewRouter()
	r.Use(s.recoverer, s.logRequests, instrument)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate, s.rateLimit)

		r.Get("/debug/info", s.DebugInfo)

		r.Route("/v1/drivers", func(r chi.Router) {
			r.Post("/", s.CreateDriver)
			r.Route("/{driverID}", func(r chi.Router) {
				r.Use(s.driverScope)
				r.Get("/", s.GetDriver)
				r.Put("/hours", s.UpdateDriverHours)
				r.Get("/usage", s.DriverUsage)
				r.Get("/can-drive", s.CanDrive)
				r.Get("/available-hours", s.AvailableHours)
				r.Post("/status", s.RecordStatusChange)
				r.Post("/samples", s.RecordIntervalSample)
				r.Get("/location", s.LatestLocation)
				r.Get("/timeline", s.Timeline)
				r.Get("/logs", s.ListLogs)
				r.Post("/logs/{date}/build", s.BuildLog)
				r.Get("/documents", s.ListDocuments)
				r.Get("/documents/compliance", s.DocumentCompliance)
				r.Post("/documents/associate", s.AutoAssociateDocuments)
				r.Get("/documents/retention", s.DocumentRetention)
				r.Get("/compliance-report", s.ComplianceReport)
				r.Get("/alerts", s.ListAlerts)
				r.Get("/events", s.EventStream)
				r.Get("/stream", s.DriverStream)
			})
		})

		r.Post("/v1/vehicles", s.CreateVehicle)
		r.Get("/v1/vehicles/{vehicleID}", s.GetVehicle)

		r.Route("/v1/trips", func(r chi.Router) {
			r.Post("/", s.CreateTrip)
			r.Get("/{tripID}", s.GetTrip)
			r.Post("/{tripID}/logs", s.GenerateTripLogs)
			r.Get("/{tripID}/summary", s.TripSummary)
			r.Get("/{tripID}/restart-suggestion", s.RestartSuggestion)
		})

		r.Route("/v1/logs/{logID}", func(r chi.Router) {
			r.Use(s.logScope)
			r.Get("/", s.GetLog)
			r.Get("/summary", s.DailySummary)
			r.Get("/render", s.RenderLog)
			r.Post("/certify", s.CertifyLog)
			r.Post("/uncertify", s.UncertifyLog)
			r.Get("/audit", s.AuditTrail)
			r.Get("/violations", s.ListViolations)
		})

		r.Post("/v1/violations/{violationID}/resolve", s.ResolveViolation)
		r.Patch("/v1/intervals/{intervalID}", s.AnnotateInterval)

		r.Post("/v1/documents", s.UploadDocument)
		r.Delete("/v1/documents/{documentID}", s.DeleteDocument)
		r.Post("/v1/documents/{documentID}/verify", s.VerifyDocument)

		r.Post("/v1/alerts/{alertID}/resolve", s.ResolveAlert)

		r.Route("/v1/subscriptions", func(r chi.Router) {
			r.Post("/", s.CreateSubscription)
			r.Get("/", s.ListSubscriptions)
			r.Delete("/{subscriptionID}", s.DeleteSubscription)
		})

		r.Get("/v1/admin/webhook-deliveries", s.WebhookDeliveries)
		r.Get("/v1/admin/webhook-dlq", s.WebhookDLQ)
	})
	return r
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) DebugInfo(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleAdmin) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": s.settings,
	})
}
