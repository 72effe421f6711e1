package eld

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/model"
	"eldhos/internal/store"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

// useChicagoDriver switches the harness to a driver whose day runs on
// America/Chicago wall clock.
func useChicagoDriver(t *testing.T, h *harness) {
	t.Helper()
	d, err := h.svc.CreateDriver(context.Background(), model.Driver{
		Name:                 "Lee Central",
		LicenseNumber:        "C7654321",
		HomeTerminalTimezone: "America/Chicago",
		IsActive:             true,
	})
	require.NoError(t, err)
	h.driver = d
}

func TestHomeTerminalDayBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		date    string
		minutes int
	}{
		{name: "standard day", date: "2026-03-02", minutes: 24 * 60},
		{name: "clocks go forward", date: "2026-03-08", minutes: 23 * 60},
		{name: "clocks go back", date: "2026-11-01", minutes: 25 * 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := chicago(t)
			h := newHarness(t)
			useChicagoDriver(t, h)
			ctx := context.Background()

			day, err := time.ParseInLocation(model.DateLayout, tt.date, loc)
			require.NoError(t, err)
			y, m, dd := day.Date()
			wall := func(hh, mm int) time.Time { return time.Date(y, m, dd, hh, mm, 0, 0, loc) }
			dayHours := decimal.NewFromInt(int64(tt.minutes)).Div(decimal.NewFromInt(60))

			h.change(t, wall(0, 0), model.OffDuty)
			h.change(t, wall(22, 0), model.Driving)
			h.change(t, wall(23, 30), model.OffDuty)
			h.clock.Set(time.Date(y, m, dd+1, 0, 30, 0, 0, loc))

			l, err := h.svc.BuildFromTimeline(ctx, h.driver.ID, tt.date, Actor{})
			require.NoError(t, err)
			requireHours(t, "1.5", l.TotalDriveTime)
			requireHours(t, dayHours.Sub(decimal.NewFromFloat(1.5)).String(), l.TotalOffDutyTime)

			ivs, err := h.store.ListIntervals(ctx, store.IntervalFilter{LogID: l.ID})
			require.NoError(t, err)
			var covered time.Duration
			for _, iv := range ivs {
				covered += iv.End.Sub(iv.Start)
			}
			assert.Equal(t, time.Duration(tt.minutes)*time.Minute, covered)

			out, err := h.svc.RenderLog(ctx, l.ID, FormatPrintable)
			require.NoError(t, err)
			p := out.Printable
			assert.Empty(t, p.DataWarnings)
			assert.Equal(t, tt.minutes, p.Grid.Minutes)
			requireHours(t, "1.5", p.DutySummary.Driving)
			requireHours(t, dayHours.String(), p.DutySummary.Total)
			driveAt := int(wall(22, 0).Sub(day) / time.Minute)
			assert.Equal(t, model.OffDuty, p.Grid.StatusAt(driveAt-1))
			assert.Equal(t, model.Driving, p.Grid.StatusAt(driveAt))
			assert.Equal(t, model.Driving, p.Grid.StatusAt(driveAt+89))
			assert.Equal(t, model.OffDuty, p.Grid.StatusAt(driveAt+90))
			assert.Equal(t, model.OffDuty, p.Grid.StatusAt(tt.minutes-1))
			assert.Equal(t, "22:00", p.LocationChanges[1].Time)

			rep, err := h.svc.ComplianceReport(ctx, h.driver.ID, tt.date, tt.date)
			require.NoError(t, err)
			assert.Equal(t, 3, rep.Totals.DutyEntries)
			missing := issuesOf(rep, IssueMissingIntervals)
			require.Len(t, missing, 1)
			assert.Equal(t, tt.date, missing[0].Date)
			assert.Equal(t, 1, missing[0].Expected)
		})
	}
}

func TestBuildGridFollowsDayLength(t *testing.T) {
	loc := chicago(t)
	tests := []struct {
		date      string
		minutes   int
		hourLines []int
	}{
		{date: "2026-03-08", minutes: 23 * 60, hourLines: []int{0, 3, 6, 9, 12, 15, 18, 21, 23}},
		{date: "2026-11-01", minutes: 25 * 60, hourLines: []int{0, 3, 6, 9, 12, 15, 18, 21, 24, 25}},
	}
	for _, tt := range tests {
		start, end, err := dayBounds(tt.date, loc)
		require.NoError(t, err)
		last := end.Add(-30 * time.Minute)
		ivs := []model.DutyStatusInterval{{Status: model.Driving, Start: last, End: &end}}
		g := BuildGrid(tt.date, ivs, start, end, end)

		assert.Equal(t, tt.minutes, g.Minutes, tt.date)
		assert.Equal(t, tt.hourLines, g.HourLines, tt.date)
		assert.Equal(t, model.Driving, g.StatusAt(tt.minutes-1), tt.date)
		requireHours(t, "0.5", g.Summary[model.Driving])
		for _, r := range g.Rows {
			assert.Equal(t, tt.minutes/15, len([]rune(r.Text)), tt.date)
		}
		dayHours := decimal.NewFromInt(int64(tt.minutes)).Div(decimal.NewFromInt(60))
		assert.Empty(t, g.Mismatches(model.DailyLog{
			TotalDriveTime:   decimal.NewFromFloat(0.5),
			TotalOnDutyTime:  decimal.NewFromFloat(0.5),
			TotalOffDutyTime: dayHours.Sub(decimal.NewFromFloat(0.5)),
		}), tt.date)
	}
}

func TestGenerateLogsForTripAcrossFallBack(t *testing.T) {
	loc := chicago(t)
	h := newHarness(t)
	useChicagoDriver(t, h)
	ctx := context.Background()
	v, err := h.svc.CreateVehicle(ctx, model.Vehicle{UnitNumber: "T-9"})
	require.NoError(t, err)
	local := func(d, hh int) time.Time { return time.Date(2026, 10, d, hh, 0, 0, 0, loc) }

	tr, err := h.store.CreateTrip(ctx, model.Trip{
		DriverID:           h.driver.ID,
		VehicleID:          v.ID,
		TotalDistanceMiles: decimal.NewFromInt(1200),
		Status:             TripPlanned,
		Stops: []model.Stop{
			{Sequence: 1, Type: model.StopPickup, Location: somewhere, Arrival: local(31, 20), Departure: local(31, 21), DurationMinutes: 60},
			// October 32nd normalizes to November 1st, the fall-back day.
			{Sequence: 2, Type: model.StopDropoff, Location: somewhere, Arrival: local(32, 22), Departure: local(32, 23), DurationMinutes: 60},
		},
	})
	require.NoError(t, err)

	logs, err := h.svc.GenerateLogsForTrip(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "2026-10-31", logs[0].LogDate)
	assert.Equal(t, "2026-11-01", logs[1].LogDate)

	requireHours(t, "3", logs[0].TotalDriveTime)
	requireHours(t, "24", logs[0].TotalOnDutyTime.Add(logs[0].TotalOffDutyTime))
	// midnight CDT to 21:45 CST
	requireHours(t, "22.75", logs[1].TotalDriveTime)
	requireHours(t, "25", logs[1].TotalOnDutyTime.Add(logs[1].TotalOffDutyTime))

	out, err := h.svc.RenderLog(ctx, logs[1].ID, FormatPrintable)
	require.NoError(t, err)
	assert.Empty(t, out.Printable.DataWarnings)
	assert.Equal(t, 25*60, out.Printable.Grid.Minutes)
}
