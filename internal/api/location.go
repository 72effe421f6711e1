package api

import (
	"sync"
	"time"

	"eldhos/internal/model"
)

// LatestLocation is the last position reported for a driver, from either a
// status change or an hourly sample.
type LatestLocation struct {
	DriverID string           `json:"driverId"`
	Status   model.DutyStatus `json:"status,omitempty"`
	Location model.Location   `json:"location"`
	Odometer int              `json:"odometer,omitempty"`
	TS       time.Time        `json:"ts"`
}

// LocationCache keeps the most recent location per driver. Older reports
// never replace newer ones.
type LocationCache struct {
	mu sync.Mutex
	m  map[string]LatestLocation
}

func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]LatestLocation{}} }

func (c *LocationCache) Upsert(l LatestLocation) {
	if l.DriverID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.m[l.DriverID]; ok && cur.TS.After(l.TS) {
		return
	}
	if l.Status == "" {
		l.Status = c.m[l.DriverID].Status
	}
	c.m[l.DriverID] = l
}

func (c *LocationCache) Get(driverID string) (LatestLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.m[driverID]
	return l, ok
}
