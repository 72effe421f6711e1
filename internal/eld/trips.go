package eld

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/hos"
	"eldhos/internal/model"
	"eldhos/internal/planner"
	"eldhos/internal/routing"
)

// Trip statuses.
const (
	TripPlanned = "planned"
	TripLogged  = "logs_generated"
)

// Place is an address or a coordinate pair; coordinates win when both are set.
type Place struct {
	Address  string          `json:"address,omitempty"`
	Location *model.Location `json:"location,omitempty"`
}

type TripRequest struct {
	DriverID          string           `json:"driverId"`
	VehicleID         string           `json:"vehicleId"`
	Current           Place            `json:"currentLocation"`
	Pickup            Place            `json:"pickupLocation"`
	Dropoff           Place            `json:"dropoffLocation"`
	CycleHours        *decimal.Decimal `json:"cycleHours,omitempty"`
	DailyDriveHours   *decimal.Decimal `json:"dailyDriveHours,omitempty"`
	DailyDutyHours    *decimal.Decimal `json:"dailyDutyHours,omitempty"`
	ShippingDocNumber string           `json:"shippingDocNumber,omitempty"`
	Notes             string           `json:"notes,omitempty"`
}

// PreTripCheck is the HOS check on the counters the trip starts with.
type PreTripCheck struct {
	CanDrive  bool             `json:"canDrive"`
	Reason    string           `json:"reason"`
	Available hos.Availability `json:"available"`
}

type TripPlan struct {
	Trip              model.Trip             `json:"trip"`
	PreTripCheck      PreTripCheck           `json:"preTripCheck"`
	RestartSuggestion *hos.RestartSuggestion `json:"restartSuggestion,omitempty"`
	Route             routing.Route          `json:"route"`
	Plan              planner.Plan           `json:"plan"`
}

// CreateTrip resolves the trip's places, routes it, plans the stops and
// stores the trip. Counters not given on the request come from the
// driver's live usage.
func (s *Service) CreateTrip(ctx context.Context, req TripRequest) (TripPlan, error) {
	if req.VehicleID == "" {
		return TripPlan{}, errs.Validation("vehicleId", "vehicle is required")
	}
	for field, h := range map[string]*decimal.Decimal{"cycleHours": req.CycleHours, "dailyDriveHours": req.DailyDriveHours, "dailyDutyHours": req.DailyDutyHours} {
		if h != nil && h.IsNegative() {
			return TripPlan{}, errs.Validation(field, "hours cannot be negative")
		}
	}
	d, u, err := s.usage(ctx, req.DriverID)
	if err != nil {
		return TripPlan{}, err
	}
	v, err := s.store.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		return TripPlan{}, notFound(err, "vehicle", req.VehicleID)
	}
	if req.CycleHours != nil {
		u.Cycle = *req.CycleHours
	}
	if req.DailyDriveHours != nil {
		u.DailyDrive = *req.DailyDriveHours
	}
	if req.DailyDutyHours != nil {
		u.DailyDuty = *req.DailyDutyHours
	}

	cur, err := s.resolve(ctx, req.Current, "currentLocation")
	if err != nil {
		return TripPlan{}, err
	}
	pick, err := s.resolve(ctx, req.Pickup, "pickupLocation")
	if err != nil {
		return TripPlan{}, err
	}
	drop, err := s.resolve(ctx, req.Dropoff, "dropoffLocation")
	if err != nil {
		return TripPlan{}, err
	}
	route, err := s.router.Route(ctx, []model.Location{cur, pick, drop})
	if err != nil {
		return TripPlan{}, errs.Wrap(err, "calculate route")
	}
	var toPickup, toDropoff planner.Leg
	if len(route.Segments) == 2 {
		toPickup = planner.Leg{Miles: route.Segments[0].DistanceMiles, Hours: route.Segments[0].TimeHours}
		toDropoff = planner.Leg{Miles: route.Segments[1].DistanceMiles, Hours: route.Segments[1].TimeHours}
	} else {
		toDropoff = planner.Leg{Miles: route.TotalDistanceMiles, Hours: route.TotalTimeHours}
	}

	now := s.now().UTC()
	plan := planner.Make(planner.Input{
		Start:           now,
		Current:         cur,
		Pickup:          pick,
		Dropoff:         drop,
		ToPickup:        toPickup,
		ToDropoff:       toDropoff,
		CycleHours:      u.Cycle,
		DailyDriveHours: u.DailyDrive,
		DailyDutyHours:  u.DailyDuty,
		FuelEveryMiles:  s.policy.FuelIntervalMiles,
		SpeedMPH:        s.policy.AverageSpeedMPH,
	})

	trip, err := s.store.CreateTrip(ctx, model.Trip{
		DriverID:            d.ID,
		VehicleID:           v.ID,
		CurrentLocation:     cur,
		PickupLocation:      pick,
		DropoffLocation:     drop,
		CycleHours:          u.Cycle,
		DailyDriveHours:     u.DailyDrive,
		DailyDutyHours:      u.DailyDuty,
		TotalDistanceMiles:  plan.TotalMiles,
		EstimatedDriveHours: plan.TotalDriveHours,
		StartOdometer:       v.Odometer,
		ShippingDocNumber:   req.ShippingDocNumber,
		Status:              TripPlanned,
		Notes:               req.Notes,
		Stops:               plan.Stops,
	})
	if err != nil {
		return TripPlan{}, err
	}
	ok, reason := u.CanDrive(d.IsActive)
	s.logger.Info("trip planned",
		zap.String("trip_id", trip.ID),
		zap.String("driver_id", d.ID),
		zap.Int("stops", len(trip.Stops)),
		zap.Bool("restart", plan.RestartScheduled))
	return TripPlan{
		Trip:              trip,
		PreTripCheck:      PreTripCheck{CanDrive: ok, Reason: reason, Available: u.Available()},
		RestartSuggestion: restartFor(trip),
		Route:             route,
		Plan:              plan,
	}, nil
}

func (s *Service) resolve(ctx context.Context, p Place, field string) (model.Location, error) {
	if p.Location != nil {
		if err := validateLocation(p.Location, field); err != nil {
			return model.Location{}, err
		}
		loc := *p.Location
		if loc.Address == "" {
			loc.Address = p.Address
		}
		if loc.Method == "" {
			loc.Method = model.MethodManual
		}
		return loc, nil
	}
	if strings.TrimSpace(p.Address) == "" {
		return model.Location{}, errs.Validation(field, "address or coordinates required")
	}
	loc, err := s.router.Geocode(ctx, p.Address)
	if errs.Is(err, errs.KindNotFound) {
		return model.Location{}, errs.Validationf(field, "address %q could not be geocoded", p.Address)
	}
	return loc, err
}

func (s *Service) GetTrip(ctx context.Context, id string) (model.Trip, error) {
	t, err := s.store.GetTrip(ctx, id)
	return t, notFound(err, "trip", id)
}

// Drivers and vehicles

func (s *Service) CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	if strings.TrimSpace(d.Name) == "" {
		return d, errs.Validation("name", "name is required")
	}
	if strings.TrimSpace(d.LicenseNumber) == "" {
		return d, errs.Validation("licenseNumber", "license number is required")
	}
	if d.HomeTerminalTimezone == "" {
		d.HomeTerminalTimezone = "UTC"
	}
	if d.TZ().String() != d.HomeTerminalTimezone {
		return d, errs.Validationf("homeTerminalTimezone", "unknown time zone %q", d.HomeTerminalTimezone)
	}
	for field, h := range map[string]decimal.Decimal{"cycleHours": d.CycleHours, "dailyDriveHours": d.DailyDriveHours, "dailyDutyHours": d.DailyDutyHours} {
		if h.IsNegative() {
			return d, errs.Validation(field, "hours cannot be negative")
		}
	}
	if d.CurrentStatus == "" {
		d.CurrentStatus = model.OffDuty
	} else if !d.CurrentStatus.Valid() {
		return d, errs.Validationf("currentStatus", "unknown duty status %q", d.CurrentStatus)
	}
	d.CreatedAt = s.now().UTC()
	return s.store.CreateDriver(ctx, d)
}

func (s *Service) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	return s.getDriver(ctx, s.store, id)
}

func (s *Service) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	if strings.TrimSpace(v.UnitNumber) == "" && strings.TrimSpace(v.LicensePlate) == "" {
		return v, errs.Validation("unitNumber", "unit number or license plate is required")
	}
	if v.Odometer < 0 {
		return v, errs.Validation("odometer", "odometer cannot be negative")
	}
	if v.EngineHours.IsNegative() {
		return v, errs.Validation("engineHours", "engine hours cannot be negative")
	}
	v.CreatedAt = s.now().UTC()
	return s.store.CreateVehicle(ctx, v)
}

func (s *Service) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	v, err := s.store.GetVehicle(ctx, id)
	return v, notFound(err, "vehicle", id)
}

// Subscriptions

func (s *Service) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return model.Subscription{}, errs.Validation("url", "url must be http or https")
	}
	if len(req.Events) == 0 {
		return model.Subscription{}, errs.Validation("events", "at least one event type is required")
	}
	known := map[string]bool{"*": true, EventDutyStatusChanged: true, EventViolationDetected: true, EventDocumentsExceeded: true, EventLogCertified: true}
	for _, e := range req.Events {
		if !known[e] {
			return model.Subscription{}, errs.Validationf("events", "unknown event type %q", e)
		}
	}
	return s.store.CreateSubscription(ctx, req)
}
