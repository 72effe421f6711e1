// Package eld is the Hours of Service compliance engine: the duty-status
// timeline, daily log generation, violation detection, log rendering and
// compliance reporting.
package eld

import (
	"context"
	"time"

	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/lock"
	"eldhos/internal/model"
	"eldhos/internal/routing"
	"eldhos/internal/store"
)

// Event types published by the engine.
const (
	EventDutyStatusChanged = "duty_status.changed"
	EventViolationDetected = "violation.detected"
	EventDocumentsExceeded = "documents.limit_exceeded"
	EventLogCertified      = "log.certified"
)

// Event is a notification about a driver's compliance state.
type Event struct {
	Type     string    `json:"type"`
	DriverID string    `json:"driverId"`
	At       time.Time `json:"at"`
	Data     any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event)

func (f PublisherFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// MultiPublisher fans an event out to every publisher in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// Router resolves addresses and driving routes.
type Router interface {
	Geocode(ctx context.Context, address string) (model.Location, error)
	Route(ctx context.Context, waypoints []model.Location) (routing.Route, error)
}

// Policy holds the tunable compliance and planning settings.
type Policy struct {
	RequiredDocumentTypes []model.DocumentType
	AverageSpeedMPH       float64
	FuelIntervalMiles     float64
}

func DefaultPolicy() Policy {
	return Policy{
		RequiredDocumentTypes: []model.DocumentType{model.DocDispatchRecord},
		AverageSpeedMPH:       60,
		FuelIntervalMiles:     1000,
	}
}

// Actor identifies who performed an audited action.
type Actor struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

var systemActor = Actor{Name: "system", Type: "system"}

type Service struct {
	store  store.Store
	locks  lock.Locker
	router Router
	pub    Publisher
	logger *zap.Logger
	policy Policy
	now    func() time.Time
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option { return func(s *Service) { s.locks = l } }
func WithRouter(r Router) Option { return func(s *Service) { s.router = r } }
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }
func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		locks:  lock.NewKeyedMutex(),
		router: routing.NewEstimator(0, 0),
		pub:    MultiPublisher(nil),
		logger: zap.NewNop(),
		policy: DefaultPolicy(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() store.Store { return s.store }

func (s *Service) publish(ctx context.Context, typ, driverID string, data any) {
	s.pub.Publish(ctx, Event{Type: typ, DriverID: driverID, At: s.now().UTC(), Data: data})
}

// withDriver runs fn in a transaction while holding the driver's write lock.
func (s *Service) withDriver(ctx context.Context, driverID string, fn func(r store.Repo, d model.Driver) error) error {
	unlock, err := s.locks.Lock(ctx, "driver:"+driverID)
	if err != nil {
		return errs.Wrap(err, "acquire driver lock")
	}
	defer unlock()
	return s.store.WithTx(ctx, func(r store.Repo) error {
		if err := r.LockDriver(ctx, driverID); err != nil {
			return notFound(err, "driver", driverID)
		}
		d, err := r.GetDriver(ctx, driverID)
		if err != nil {
			return notFound(err, "driver", driverID)
		}
		return fn(r, d)
	})
}

func (s *Service) getDriver(ctx context.Context, r store.Repo, id string) (model.Driver, error) {
	d, err := r.GetDriver(ctx, id)
	return d, notFound(err, "driver", id)
}

// notFound turns a store miss into a classified not-found error.
func notFound(err error, what, id string) error {
	if err != nil && errs.KindOf(err) == errs.KindNotFound {
		return errs.NotFound(what, id)
	}
	return err
}

// dayBounds returns [midnight, next midnight) of date in loc.
func dayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validationf("date", "invalid date %q, expected YYYY-MM-DD", date)
	}
	return start, start.AddDate(0, 0, 1), nil
}

func midnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func dateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(model.DateLayout)
}

// dateRange validates an inclusive [start, end] pair of dates.
func dateRange(start, end string, loc *time.Location) (time.Time, time.Time, error) {
	from, _, err := dayBounds(start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validationf("startDate", "invalid date %q", start)
	}
	_, to, err := dayBounds(end, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Validationf("endDate", "invalid date %q", end)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errs.Validation("endDate", "end date is before start date")
	}
	return from, to, nil
}

// eachDay calls fn for each calendar date in [from, to).
func eachDay(from, to time.Time, fn func(date string, start, end time.Time)) {
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		fn(d.Format(model.DateLayout), d, d.AddDate(0, 0, 1))
	}
}

func validateLocation(l *model.Location, field string) error {
	if l == nil {
		return nil
	}
	if l.Lat < -90 || l.Lat > 90 {
		return errs.Validationf(field+".lat", "latitude %v out of range [-90, 90]", l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return errs.Validationf(field+".lon", "longitude %v out of range [-180, 180]", l.Lon)
	}
	if l.Method != "" && !l.Method.Valid() {
		return errs.Validationf(field+".method", "unknown location method %q", l.Method)
	}
	return nil
}
