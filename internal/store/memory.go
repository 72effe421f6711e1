package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"eldhos/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// Transactions run against a copy of the data that replaces the live copy
// on success.
type Memory struct {
	mu sync.Mutex
	d  *memData
	tx bool
}

type memData struct {
	drivers    map[string]model.Driver
	vehicles   map[string]model.Vehicle
	intervals  map[string]model.DutyStatusInterval
	samples    map[string][]model.LocationIntervalSample // intervalId -> samples in sequence order
	trips      map[string]model.Trip
	logs       map[string]model.DailyLog
	logByDate  map[string]string // driverId|date -> logId
	violations map[string]model.Violation
	audit      map[string][]model.AuditEntry // logId -> entries
	documents  map[string]model.SupportingDocument
	summaries  map[string]model.DailyDocumentSummary // driverId|date -> summary
	alerts     map[string]model.ComplianceAlert
	subs       []model.Subscription
	deliveries map[string]WebhookDelivery
	order      []string // delivery ids in enqueue order
}

func NewMemory() *Memory {
	return &Memory{d: &memData{
		drivers:    map[string]model.Driver{},
		vehicles:   map[string]model.Vehicle{},
		intervals:  map[string]model.DutyStatusInterval{},
		samples:    map[string][]model.LocationIntervalSample{},
		trips:      map[string]model.Trip{},
		logs:       map[string]model.DailyLog{},
		logByDate:  map[string]string{},
		violations: map[string]model.Violation{},
		audit:      map[string][]model.AuditEntry{},
		documents:  map[string]model.SupportingDocument{},
		summaries:  map[string]model.DailyDocumentSummary{},
		alerts:     map[string]model.ComplianceAlert{},
		deliveries: map[string]WebhookDelivery{},
	}}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (d *memData) clone() *memData {
	c := &memData{
		drivers:    cloneMap(d.drivers),
		vehicles:   cloneMap(d.vehicles),
		intervals:  cloneMap(d.intervals),
		samples:    make(map[string][]model.LocationIntervalSample, len(d.samples)),
		trips:      cloneMap(d.trips),
		logs:       cloneMap(d.logs),
		logByDate:  cloneMap(d.logByDate),
		violations: cloneMap(d.violations),
		audit:      make(map[string][]model.AuditEntry, len(d.audit)),
		documents:  cloneMap(d.documents),
		summaries:  cloneMap(d.summaries),
		alerts:     cloneMap(d.alerts),
		subs:       append([]model.Subscription(nil), d.subs...),
		deliveries: cloneMap(d.deliveries),
		order:      append([]string(nil), d.order...),
	}
	for k, v := range d.samples {
		c.samples[k] = append([]model.LocationIntervalSample(nil), v...)
	}
	for k, v := range d.audit {
		c.audit[k] = append([]model.AuditEntry(nil), v...)
	}
	return c
}

func (m *Memory) lock() func() {
	if m.tx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) WithTx(ctx context.Context, fn func(Repo) error) error {
	if m.tx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	view := &Memory{d: m.d.clone(), tx: true}
	if err := fn(view); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.d = view.d
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func dayKey(driverID, date string) string { return driverID + "|" + date }

// Drivers & vehicles

func (m *Memory) CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	defer m.lock()()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.d.drivers[d.ID] = d
	return d, nil
}

func (m *Memory) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	defer m.lock()()
	d, ok := m.d.drivers[id]
	if !ok {
		return model.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) UpdateDriver(ctx context.Context, d model.Driver) error {
	defer m.lock()()
	if _, ok := m.d.drivers[d.ID]; !ok {
		return ErrNotFound
	}
	m.d.drivers[d.ID] = d
	return nil
}

// LockDriver is a no-op: memory transactions are already serialized.
func (m *Memory) LockDriver(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.d.drivers[id]; !ok {
		return ErrNotFound
	}
	return nil
}

func (m *Memory) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	defer m.lock()()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.d.vehicles[v.ID] = v
	return v, nil
}

func (m *Memory) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	defer m.lock()()
	v, ok := m.d.vehicles[id]
	if !ok {
		return model.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) UpdateVehicle(ctx context.Context, v model.Vehicle) error {
	defer m.lock()()
	if _, ok := m.d.vehicles[v.ID]; !ok {
		return ErrNotFound
	}
	m.d.vehicles[v.ID] = v
	return nil
}

// Intervals

func (m *Memory) OpenInterval(ctx context.Context, driverID string) (model.DutyStatusInterval, error) {
	defer m.lock()()
	for _, iv := range m.d.intervals {
		if iv.DriverID == driverID && iv.LogID == "" && iv.End == nil {
			return iv, nil
		}
	}
	return model.DutyStatusInterval{}, ErrNotFound
}

func (m *Memory) InsertInterval(ctx context.Context, iv model.DutyStatusInterval) (model.DutyStatusInterval, error) {
	defer m.lock()()
	if iv.ID == "" {
		iv.ID = uuid.New().String()
	}
	m.d.intervals[iv.ID] = iv
	return iv, nil
}

func (m *Memory) UpdateInterval(ctx context.Context, iv model.DutyStatusInterval) error {
	defer m.lock()()
	if _, ok := m.d.intervals[iv.ID]; !ok {
		return ErrNotFound
	}
	m.d.intervals[iv.ID] = iv
	return nil
}

func (m *Memory) GetInterval(ctx context.Context, id string) (model.DutyStatusInterval, error) {
	defer m.lock()()
	iv, ok := m.d.intervals[id]
	if !ok {
		return model.DutyStatusInterval{}, ErrNotFound
	}
	return iv, nil
}

func (m *Memory) ListIntervals(ctx context.Context, f IntervalFilter) ([]model.DutyStatusInterval, error) {
	defer m.lock()()
	out := []model.DutyStatusInterval{}
	for _, iv := range m.d.intervals {
		if f.DriverID != "" && iv.DriverID != f.DriverID {
			continue
		}
		if f.LogID != "" && iv.LogID != f.LogID {
			continue
		}
		if f.TimelineOnly && iv.LogID != "" {
			continue
		}
		if f.Status != "" && iv.Status != f.Status {
			continue
		}
		if !f.To.IsZero() && !iv.Start.Before(f.To) {
			continue
		}
		if !f.From.IsZero() && iv.End != nil && !iv.End.After(f.From) {
			continue
		}
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *Memory) DeleteLogIntervals(ctx context.Context, logID string) error {
	defer m.lock()()
	for id, iv := range m.d.intervals {
		if iv.LogID == logID {
			delete(m.d.intervals, id)
		}
	}
	return nil
}

// Samples

func (m *Memory) LastSample(ctx context.Context, intervalID string) (model.LocationIntervalSample, error) {
	defer m.lock()()
	ss := m.d.samples[intervalID]
	if len(ss) == 0 {
		return model.LocationIntervalSample{}, ErrNotFound
	}
	return ss[len(ss)-1], nil
}

func (m *Memory) InsertSample(ctx context.Context, s model.LocationIntervalSample) (model.LocationIntervalSample, error) {
	defer m.lock()()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	m.d.samples[s.IntervalID] = append(m.d.samples[s.IntervalID], s)
	return s, nil
}

func (m *Memory) ListSamples(ctx context.Context, driverID string, from, to time.Time) ([]model.LocationIntervalSample, error) {
	defer m.lock()()
	out := []model.LocationIntervalSample{}
	for _, ss := range m.d.samples {
		for _, s := range ss {
			if s.DriverID != driverID {
				continue
			}
			if !from.IsZero() && s.RecordedAt.Before(from) {
				continue
			}
			if !to.IsZero() && !s.RecordedAt.Before(to) {
				continue
			}
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// Trips

func (m *Memory) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	defer m.lock()()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	stops := make([]model.Stop, len(t.Stops))
	for i, s := range t.Stops {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		s.TripID = t.ID
		stops[i] = s
	}
	t.Stops = stops
	m.d.trips[t.ID] = t
	return t, nil
}

func (m *Memory) GetTrip(ctx context.Context, id string) (model.Trip, error) {
	defer m.lock()()
	t, ok := m.d.trips[id]
	if !ok {
		return model.Trip{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) UpdateTripStatus(ctx context.Context, id, status string) error {
	defer m.lock()()
	t, ok := m.d.trips[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	m.d.trips[id] = t
	return nil
}

// Logs

func (m *Memory) GetOrCreateLog(ctx context.Context, l model.DailyLog) (model.DailyLog, bool, error) {
	defer m.lock()()
	if id, ok := m.d.logByDate[dayKey(l.DriverID, l.LogDate)]; ok {
		return m.d.logs[id], false, nil
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	m.d.logs[l.ID] = l
	m.d.logByDate[dayKey(l.DriverID, l.LogDate)] = l.ID
	return l, true, nil
}

func (m *Memory) GetLog(ctx context.Context, id string) (model.DailyLog, error) {
	defer m.lock()()
	l, ok := m.d.logs[id]
	if !ok {
		return model.DailyLog{}, ErrNotFound
	}
	return l, nil
}

func (m *Memory) GetLogByDate(ctx context.Context, driverID, date string) (model.DailyLog, error) {
	defer m.lock()()
	id, ok := m.d.logByDate[dayKey(driverID, date)]
	if !ok {
		return model.DailyLog{}, ErrNotFound
	}
	return m.d.logs[id], nil
}

func (m *Memory) UpdateLog(ctx context.Context, l model.DailyLog) error {
	defer m.lock()()
	if _, ok := m.d.logs[l.ID]; !ok {
		return ErrNotFound
	}
	l.UpdatedAt = time.Now().UTC()
	m.d.logs[l.ID] = l
	return nil
}

func (m *Memory) ListLogs(ctx context.Context, driverID, fromDate, toDate string) ([]model.DailyLog, error) {
	defer m.lock()()
	out := []model.DailyLog{}
	for _, l := range m.d.logs {
		if l.DriverID != driverID {
			continue
		}
		if (fromDate != "" && l.LogDate < fromDate) || (toDate != "" && l.LogDate > toDate) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogDate < out[j].LogDate })
	return out, nil
}

func (m *Memory) ListLogsByTrip(ctx context.Context, tripID string) ([]model.DailyLog, error) {
	defer m.lock()()
	out := []model.DailyLog{}
	for _, l := range m.d.logs {
		if l.TripID == tripID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogDate < out[j].LogDate })
	return out, nil
}

// Violations

func (m *Memory) InsertViolation(ctx context.Context, v model.Violation) (model.Violation, error) {
	defer m.lock()()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	m.d.violations[v.ID] = v
	return v, nil
}

func (m *Memory) UpdateViolation(ctx context.Context, v model.Violation) error {
	defer m.lock()()
	if _, ok := m.d.violations[v.ID]; !ok {
		return ErrNotFound
	}
	m.d.violations[v.ID] = v
	return nil
}

func (m *Memory) GetViolation(ctx context.Context, id string) (model.Violation, error) {
	defer m.lock()()
	v, ok := m.d.violations[id]
	if !ok {
		return model.Violation{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) ListViolations(ctx context.Context, logID string) ([]model.Violation, error) {
	defer m.lock()()
	out := []model.Violation{}
	for _, v := range m.d.violations {
		if v.LogID == logID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].Type < out[j].Type
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// Audit

func (m *Memory) InsertAudit(ctx context.Context, a model.AuditEntry) error {
	defer m.lock()()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.d.audit[a.LogID] = append(m.d.audit[a.LogID], a)
	return nil
}

func (m *Memory) ListAudit(ctx context.Context, logID string) ([]model.AuditEntry, error) {
	defer m.lock()()
	return append([]model.AuditEntry{}, m.d.audit[logID]...), nil
}

// Documents

func (m *Memory) InsertDocument(ctx context.Context, d model.SupportingDocument) (model.SupportingDocument, error) {
	defer m.lock()()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.d.documents[d.ID] = d
	return d, nil
}

func (m *Memory) GetDocument(ctx context.Context, id string) (model.SupportingDocument, error) {
	defer m.lock()()
	d, ok := m.d.documents[id]
	if !ok {
		return model.SupportingDocument{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) UpdateDocument(ctx context.Context, d model.SupportingDocument) error {
	defer m.lock()()
	if _, ok := m.d.documents[d.ID]; !ok {
		return ErrNotFound
	}
	m.d.documents[d.ID] = d
	return nil
}

func (m *Memory) DeleteDocument(ctx context.Context, id string) error {
	defer m.lock()()
	if _, ok := m.d.documents[id]; !ok {
		return ErrNotFound
	}
	delete(m.d.documents, id)
	return nil
}

func (m *Memory) ListDocuments(ctx context.Context, driverID, fromDate, toDate string) ([]model.SupportingDocument, error) {
	defer m.lock()()
	out := []model.SupportingDocument{}
	for _, d := range m.d.documents {
		if d.DriverID != driverID {
			continue
		}
		if (fromDate != "" && d.DocumentDate < fromDate) || (toDate != "" && d.DocumentDate > toDate) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentDate != out[j].DocumentDate {
			return out[i].DocumentDate < out[j].DocumentDate
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpsertDocumentSummary(ctx context.Context, s model.DailyDocumentSummary) error {
	defer m.lock()()
	m.d.summaries[dayKey(s.DriverID, s.Date)] = s
	return nil
}

func (m *Memory) GetDocumentSummary(ctx context.Context, driverID, date string) (model.DailyDocumentSummary, error) {
	defer m.lock()()
	s, ok := m.d.summaries[dayKey(driverID, date)]
	if !ok {
		return model.DailyDocumentSummary{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListDocumentSummaries(ctx context.Context, driverID, fromDate, toDate string) ([]model.DailyDocumentSummary, error) {
	defer m.lock()()
	out := []model.DailyDocumentSummary{}
	for _, s := range m.d.summaries {
		if s.DriverID != driverID {
			continue
		}
		if (fromDate != "" && s.Date < fromDate) || (toDate != "" && s.Date > toDate) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Alerts

func (m *Memory) InsertAlert(ctx context.Context, a model.ComplianceAlert) (model.ComplianceAlert, error) {
	defer m.lock()()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.d.alerts[a.ID] = a
	return a, nil
}

func (m *Memory) GetAlert(ctx context.Context, id string) (model.ComplianceAlert, error) {
	defer m.lock()()
	a, ok := m.d.alerts[id]
	if !ok {
		return model.ComplianceAlert{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) UpdateAlert(ctx context.Context, a model.ComplianceAlert) error {
	defer m.lock()()
	if _, ok := m.d.alerts[a.ID]; !ok {
		return ErrNotFound
	}
	m.d.alerts[a.ID] = a
	return nil
}

func (m *Memory) ListAlerts(ctx context.Context, driverID, status string) ([]model.ComplianceAlert, error) {
	defer m.lock()()
	out := []model.ComplianceAlert{}
	for _, a := range m.d.alerts {
		if driverID != "" && a.DriverID != driverID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	defer m.lock()()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret, CreatedAt: time.Now().UTC()}
	m.d.subs = append(m.d.subs, s)
	return s, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	defer m.lock()()
	return append([]model.Subscription{}, m.d.subs...), nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	defer m.lock()()
	for i, s := range m.d.subs {
		if s.ID == id {
			m.d.subs = append(m.d.subs[:i:i], m.d.subs[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	defer m.lock()()
	var out []model.Subscription
	for _, s := range m.d.subs {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	defer m.lock()()
	now := time.Now()
	id := uuid.New().String()
	m.d.deliveries[id] = WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, NextAttemptAt: now, CreatedAt: now}
	m.d.order = append(m.d.order, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	defer m.lock()()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.d.order {
		d, ok := m.d.deliveries[id]
		if !ok {
			continue
		}
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	defer m.lock()()
	d, ok := m.d.deliveries[id]
	if !ok {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
	} else {
		d.Status = DeliveryRetry
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(time.Minute)
		}
	}
	m.d.deliveries[id] = d
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	defer m.lock()()
	d, ok := m.d.deliveries[id]
	if !ok {
		return nil
	}
	d.Attempts++
	d.Status = DeliveryDead
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.d.deliveries[id] = d
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	defer m.lock()()
	if limit <= 0 {
		limit = 100
	}
	out := []WebhookDelivery{}
	for i := len(m.d.order) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.d.deliveries[m.d.order[i]]
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}
