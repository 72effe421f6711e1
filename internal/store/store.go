package store

import (
	"context"
	"time"

	"eldhos/internal/errs"
	"eldhos/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errs.ErrNotFound

// IntervalFilter selects duty-status intervals overlapping [From, To).
// Zero times leave that bound open.
type IntervalFilter struct {
	DriverID string
	LogID    string
	// TimelineOnly restricts to recorded timeline intervals (no LogID).
	TimelineOnly bool
	Status       model.DutyStatus
	From         time.Time
	To           time.Time
}

// Repo is the set of persistence operations. Every method is also available
// inside a transaction through Store.WithTx.
type Repo interface {
	// Drivers & vehicles
	CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error)
	GetDriver(ctx context.Context, id string) (model.Driver, error)
	UpdateDriver(ctx context.Context, d model.Driver) error
	// LockDriver serializes writers for a driver for the rest of the transaction.
	LockDriver(ctx context.Context, id string) error
	CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	UpdateVehicle(ctx context.Context, v model.Vehicle) error

	// Duty-status intervals
	OpenInterval(ctx context.Context, driverID string) (model.DutyStatusInterval, error)
	InsertInterval(ctx context.Context, iv model.DutyStatusInterval) (model.DutyStatusInterval, error)
	UpdateInterval(ctx context.Context, iv model.DutyStatusInterval) error
	GetInterval(ctx context.Context, id string) (model.DutyStatusInterval, error)
	ListIntervals(ctx context.Context, f IntervalFilter) ([]model.DutyStatusInterval, error)
	DeleteLogIntervals(ctx context.Context, logID string) error

	// Location samples
	LastSample(ctx context.Context, intervalID string) (model.LocationIntervalSample, error)
	InsertSample(ctx context.Context, s model.LocationIntervalSample) (model.LocationIntervalSample, error)
	ListSamples(ctx context.Context, driverID string, from, to time.Time) ([]model.LocationIntervalSample, error)

	// Trips
	CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error)
	GetTrip(ctx context.Context, id string) (model.Trip, error)
	UpdateTripStatus(ctx context.Context, id, status string) error

	// Daily logs
	// GetOrCreateLog inserts the log unless one exists for (driver, date);
	// created reports which happened.
	GetOrCreateLog(ctx context.Context, l model.DailyLog) (log model.DailyLog, created bool, err error)
	GetLog(ctx context.Context, id string) (model.DailyLog, error)
	GetLogByDate(ctx context.Context, driverID, date string) (model.DailyLog, error)
	UpdateLog(ctx context.Context, l model.DailyLog) error
	ListLogs(ctx context.Context, driverID, fromDate, toDate string) ([]model.DailyLog, error)
	ListLogsByTrip(ctx context.Context, tripID string) ([]model.DailyLog, error)

	// Violations
	InsertViolation(ctx context.Context, v model.Violation) (model.Violation, error)
	UpdateViolation(ctx context.Context, v model.Violation) error
	GetViolation(ctx context.Context, id string) (model.Violation, error)
	ListViolations(ctx context.Context, logID string) ([]model.Violation, error)

	// Audit
	InsertAudit(ctx context.Context, a model.AuditEntry) error
	ListAudit(ctx context.Context, logID string) ([]model.AuditEntry, error)

	// Supporting documents
	InsertDocument(ctx context.Context, d model.SupportingDocument) (model.SupportingDocument, error)
	GetDocument(ctx context.Context, id string) (model.SupportingDocument, error)
	UpdateDocument(ctx context.Context, d model.SupportingDocument) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, driverID, fromDate, toDate string) ([]model.SupportingDocument, error)
	UpsertDocumentSummary(ctx context.Context, s model.DailyDocumentSummary) error
	GetDocumentSummary(ctx context.Context, driverID, date string) (model.DailyDocumentSummary, error)
	ListDocumentSummaries(ctx context.Context, driverID, fromDate, toDate string) ([]model.DailyDocumentSummary, error)

	// Compliance alerts
	InsertAlert(ctx context.Context, a model.ComplianceAlert) (model.ComplianceAlert, error)
	GetAlert(ctx context.Context, id string) (model.ComplianceAlert, error)
	UpdateAlert(ctx context.Context, a model.ComplianceAlert) error
	ListAlerts(ctx context.Context, driverID, status string) ([]model.ComplianceAlert, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)
}

// Store is the persistence interface used by the compliance engine and API.
type Store interface {
	Repo
	// WithTx runs fn atomically: either every write made through the Repo
	// passed to fn is kept, or none is.
	WithTx(ctx context.Context, fn func(Repo) error) error
	Ping(ctx context.Context) error
}
