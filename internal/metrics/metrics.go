package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
	// RateLimited counts requests rejected by the rate limiter
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the rate limiter."},
	)

	// StatusChanges counts recorded duty-status changes by new status
	StatusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eld_status_changes_total", Help: "Duty-status changes recorded."},
		[]string{"status"},
	)
	// LocationSamples counts interval samples by outcome (recorded, dropped)
	LocationSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eld_location_samples_total", Help: "Driving location samples by outcome."},
		[]string{"outcome"},
	)
	// LogsGenerated counts daily logs materialized by source (trip, timeline)
	LogsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eld_logs_generated_total", Help: "Daily logs built."},
		[]string{"source"},
	)
	// ViolationsDetected counts newly detected violations by type
	ViolationsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eld_violations_detected_total", Help: "HOS violations detected."},
		[]string{"type"},
	)
	// RenderDuration times log rendering by format
	RenderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "eld_render_duration_seconds", Help: "Daily log render time by format.", Buckets: prometheus.DefBuckets},
		[]string{"format"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration, RateLimited)
		Registry.MustRegister(StatusChanges, LocationSamples, LogsGenerated, ViolationsDetected, RenderDuration)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
