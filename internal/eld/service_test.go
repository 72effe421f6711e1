package eld

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"eldhos/internal/model"
	"eldhos/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	svc    *Service
	store  *store.Memory
	clock  *testClock
	events *recorder
	driver model.Driver
}

var day1 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: store.NewMemory(), clock: &testClock{t: day1}, events: &recorder{}}
	h.svc = NewService(h.store, WithClock(h.clock.Now), WithPublisher(h.events))
	d, err := h.svc.CreateDriver(context.Background(), model.Driver{
		Name:                 "Pat Driver",
		LicenseNumber:        "D1234567",
		HomeTerminalTimezone: "UTC",
		IsActive:             true,
	})
	require.NoError(t, err)
	h.driver = d
	return h
}

func at(hh, mm int) time.Time {
	return day1.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

var somewhere = model.Location{Lat: 41.88, Lon: -87.63, Description: "Chicago, IL"}

// change moves the clock to when and records a status change at a fixed location.
func (h *harness) change(t *testing.T, when time.Time, st model.DutyStatus) StatusChangeResult {
	t.Helper()
	h.clock.Set(when)
	loc := somewhere
	in := StatusChange{DriverID: h.driver.ID, Status: st, Location: &loc}
	res, err := h.svc.RecordStatusChange(context.Background(), in)
	require.NoError(t, err)
	return res
}

func hrs(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireHours(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, hrs(want).Equal(got), "want %s hours, got %s", want, got.String())
}
