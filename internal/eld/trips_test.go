package eld

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/errs"
	"eldhos/internal/model"
)

func place(lat, lon float64) Place {
	return Place{Location: &model.Location{Lat: lat, Lon: lon}}
}

func TestCreateTripSchedulesRestartAndBreak(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.svc.CreateVehicle(ctx, model.Vehicle{UnitNumber: "T-1", Odometer: 120000})
	require.NoError(t, err)
	cycle := decimal.NewFromInt(65)

	plan, err := h.svc.CreateTrip(ctx, TripRequest{
		DriverID:   h.driver.ID,
		VehicleID:  v.ID,
		Current:    place(41.88, -87.63),
		Pickup:     place(41.88, -87.63),
		Dropoff:    place(32.78, -96.80),
		CycleHours: &cycle,
	})
	require.NoError(t, err)
	assert.True(t, plan.Plan.RestartScheduled)
	assert.Equal(t, 1, plan.Plan.Breaks)
	assert.Zero(t, plan.Plan.FuelStops)

	var types []model.StopType
	for _, st := range plan.Trip.Stops {
		types = append(types, st.Type)
		assert.Equal(t, plan.Trip.ID, st.TripID)
	}
	assert.Equal(t, []model.StopType{model.StopRest, model.StopPickup, model.StopMandatoryBreak, model.StopDropoff}, types)
	assert.Equal(t, 120000, plan.Trip.StartOdometer)
	assert.Equal(t, TripPlanned, plan.Trip.Status)

	assert.True(t, plan.PreTripCheck.CanDrive)
	require.NotNil(t, plan.RestartSuggestion)
	assert.Equal(t, plan.Trip.Stops[1].Arrival, plan.RestartSuggestion.End)

	logs, err := h.svc.GenerateLogsForTrip(ctx, plan.Trip.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "2026-03-02", logs[0].LogDate)
}

func TestCreateTripValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v, err := h.svc.CreateVehicle(ctx, model.Vehicle{UnitNumber: "T-1"})
	require.NoError(t, err)

	_, err = h.svc.CreateTrip(ctx, TripRequest{DriverID: h.driver.ID})
	assert.Equal(t, "vehicleId", errs.FieldOf(err))

	neg := decimal.NewFromInt(-1)
	_, err = h.svc.CreateTrip(ctx, TripRequest{DriverID: h.driver.ID, VehicleID: v.ID, CycleHours: &neg})
	assert.Equal(t, "cycleHours", errs.FieldOf(err))

	_, err = h.svc.CreateTrip(ctx, TripRequest{DriverID: h.driver.ID, VehicleID: v.ID, Current: place(41, -87), Pickup: place(41, -87)})
	assert.Equal(t, "dropoffLocation", errs.FieldOf(err))

	_, err = h.svc.CreateTrip(ctx, TripRequest{DriverID: h.driver.ID, VehicleID: v.ID, Current: place(41, -87), Pickup: Place{Address: "1 Main St, Springfield"}, Dropoff: place(40, -88)})
	assert.Equal(t, "pickupLocation", errs.FieldOf(err))

	_, err = h.svc.CreateTrip(ctx, TripRequest{DriverID: h.driver.ID, VehicleID: "ghost", Current: place(41, -87), Pickup: place(41, -87), Dropoff: place(40, -88)})
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestCreateDriverValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.CreateDriver(ctx, model.Driver{LicenseNumber: "X"})
	assert.Equal(t, "name", errs.FieldOf(err))
	_, err = h.svc.CreateDriver(ctx, model.Driver{Name: "A", LicenseNumber: "X", HomeTerminalTimezone: "Mars/Olympus"})
	assert.Equal(t, "homeTerminalTimezone", errs.FieldOf(err))

	d, err := h.svc.CreateDriver(ctx, model.Driver{Name: "A", LicenseNumber: "X", HomeTerminalTimezone: "America/Chicago"})
	require.NoError(t, err)
	assert.Equal(t, model.OffDuty, d.CurrentStatus)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.CreateSubscription(ctx, model.SubscriptionRequest{URL: "ftp://x", Events: []string{"*"}})
	assert.Equal(t, "url", errs.FieldOf(err))
	_, err = h.svc.CreateSubscription(ctx, model.SubscriptionRequest{URL: "https://hooks.example.com", Events: []string{"trip.created"}})
	assert.Equal(t, "events", errs.FieldOf(err))

	sub, err := h.svc.CreateSubscription(ctx, model.SubscriptionRequest{URL: "https://hooks.example.com", Events: []string{EventLogCertified}})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)
}
