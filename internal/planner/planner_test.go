package planner

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/model"
)

var start = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func input(toPickup, toDropoff float64) Input {
	return Input{
		Start:     start,
		Current:   model.Location{Lat: 41.0, Lon: -87.0},
		Pickup:    model.Location{Lat: 41.5, Lon: -88.0},
		Dropoff:   model.Location{Lat: 35.0, Lon: -97.0},
		ToPickup:  Leg{Miles: toPickup},
		ToDropoff: Leg{Miles: toDropoff},
	}
}

func requireContiguous(t *testing.T, p Plan) {
	t.Helper()
	for i, st := range p.Stops {
		assert.Equal(t, i+1, st.Sequence)
		assert.False(t, st.Departure.Before(st.Arrival))
		assert.Equal(t, int(st.Departure.Sub(st.Arrival)/time.Minute), st.DurationMinutes)
		if i > 0 {
			assert.False(t, st.Arrival.Before(p.Stops[i-1].Departure), "stop %d overlaps the previous one", st.Sequence)
		}
	}
}

func types(p Plan) []model.StopType {
	var out []model.StopType
	for _, st := range p.Stops {
		out = append(out, st.Type)
	}
	return out
}

func TestMakeShortTrip(t *testing.T) {
	p := Make(input(60, 240))
	requireContiguous(t, p)
	assert.Equal(t, []model.StopType{model.StopPickup, model.StopDropoff}, types(p))
	assert.False(t, p.RestartScheduled)
	assert.Zero(t, p.Breaks)

	// 1h drive + 15m inspection, 1h pickup, 4h drive + 15m inspection, 1h dropoff
	assert.Equal(t, start.Add(75*time.Minute), p.Stops[0].Arrival)
	assert.Equal(t, start.Add(7*time.Hour+30*time.Minute), p.End)
	assert.True(t, decimal.NewFromInt(300).Equal(p.TotalMiles))
	assert.True(t, decimal.NewFromInt(5).Equal(p.TotalDriveHours))
}

func TestMakeInsertsBreakAtDriveLimit(t *testing.T) {
	p := Make(input(0, 900))
	requireContiguous(t, p)
	assert.Equal(t, []model.StopType{model.StopPickup, model.StopMandatoryBreak, model.StopDropoff}, types(p))
	assert.Equal(t, 1, p.Breaks)

	brk := p.Stops[1]
	assert.Equal(t, 600, brk.DurationMinutes)
	// pickup departs at 07:15, then 11h of driving
	assert.Equal(t, start.Add(75*time.Minute+11*time.Hour), brk.Arrival)
	assert.True(t, brk.IsMandatory)
	assert.Equal(t, "En route", brk.Location.Description)
}

func TestMakeHonorsStartingDailyUsage(t *testing.T) {
	in := input(0, 300)
	in.DailyDriveHours = decimal.NewFromInt(9)
	in.DailyDutyHours = decimal.NewFromInt(10)
	p := Make(in)
	requireContiguous(t, p)
	assert.Equal(t, []model.StopType{model.StopPickup, model.StopMandatoryBreak, model.StopDropoff}, types(p))
	// 10h duty + 1.25h pickup leaves 2.75h of the 14h window, but only 2h of driving.
	assert.Equal(t, p.Stops[0].Departure.Add(2*time.Hour), p.Stops[1].Arrival)
}

func TestMakeSchedulesRestartWhenCycleShort(t *testing.T) {
	in := input(100, 500)
	in.CycleHours = decimal.NewFromInt(65)
	p := Make(in)
	requireContiguous(t, p)
	require.NotEmpty(t, p.Stops)
	assert.True(t, p.RestartScheduled)
	assert.Equal(t, model.StopRest, p.Stops[0].Type)
	assert.Equal(t, int(RestartDuration/time.Minute), p.Stops[0].DurationMinutes)
	assert.Equal(t, start, p.Stops[0].Arrival)
}

func TestMakeAddsFuelStops(t *testing.T) {
	p := Make(input(0, 2500))
	requireContiguous(t, p)
	assert.Equal(t, 2, p.FuelStops)
	for _, st := range p.Stops {
		if st.Type == model.StopFuel {
			assert.Equal(t, 30, st.DurationMinutes)
		}
	}
	assert.Equal(t, model.StopDropoff, p.Stops[len(p.Stops)-1].Type)
}

func TestMakeUsesLegHours(t *testing.T) {
	in := input(0, 100)
	in.ToDropoff.Hours = 2.5
	p := Make(in)
	assert.True(t, decimal.NewFromFloat(2.5).Equal(p.TotalDriveHours))
	assert.Equal(t, p.Stops[0].Departure.Add(2*time.Hour+45*time.Minute), p.Stops[1].Arrival)
}
