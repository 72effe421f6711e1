package eld

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/hos"
	"eldhos/internal/metrics"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

// StatusChange is a request to move a driver into a new duty status.
type StatusChange struct {
	DriverID    string           `json:"driverId"`
	VehicleID   string           `json:"vehicleId,omitempty"`
	Status      model.DutyStatus `json:"status"`
	Location    *model.Location  `json:"location,omitempty"`
	Odometer    *int             `json:"odometer,omitempty"`
	EngineHours *decimal.Decimal `json:"engineHours,omitempty"`
	Remarks     string           `json:"remarks,omitempty"`
}

type StatusChangeResult struct {
	OldStatus  model.DutyStatus         `json:"oldStatus"`
	NewStatus  model.DutyStatus         `json:"newStatus"`
	ChangeTime time.Time                `json:"changeTime"`
	Location   *model.Location          `json:"location,omitempty"`
	Interval   model.DutyStatusInterval `json:"interval"`
}

// RecordStatusChange closes the driver's open interval and opens a new one.
// The interval write, the driver's current-status fields and the day's
// document summary commit together.
func (s *Service) RecordStatusChange(ctx context.Context, in StatusChange) (StatusChangeResult, error) {
	if !in.Status.Valid() {
		return StatusChangeResult{}, errs.Validationf("status", "unknown duty status %q", in.Status)
	}
	if err := validateLocation(in.Location, "location"); err != nil {
		return StatusChangeResult{}, err
	}
	if in.Status == model.Driving && in.Location == nil {
		return StatusChangeResult{}, errs.Validation("location", "location is required when changing to driving")
	}
	if in.Odometer != nil && *in.Odometer < 0 {
		return StatusChangeResult{}, errs.Validation("odometer", "odometer cannot be negative")
	}

	var res StatusChangeResult
	err := s.withDriver(ctx, in.DriverID, func(r store.Repo, d model.Driver) error {
		now := s.now().UTC()
		iv := model.DutyStatusInterval{
			DriverID:    d.ID,
			VehicleID:   in.VehicleID,
			Status:      in.Status,
			Start:       now,
			Trigger:     model.TriggerDutyChange,
			Odometer:    in.Odometer,
			EngineHours: in.EngineHours,
			Remarks:     in.Remarks,
		}
		if in.Location != nil {
			loc := *in.Location
			if loc.Method == "" {
				loc.Method = model.MethodGPS
			}
			iv.Location = &loc
		}

		open, err := r.OpenInterval(ctx, d.ID)
		switch {
		case err == nil:
			if !now.After(open.Start) {
				return ErrStaleStatusTime
			}
			open.End = &now
			if err := r.UpdateInterval(ctx, open); err != nil {
				return err
			}
			iv.PreviousStatus = open.Status
			if iv.VehicleID == "" {
				iv.VehicleID = open.VehicleID
			}
		case errs.Is(err, errs.KindNotFound):
		default:
			return err
		}

		if iv.VehicleID != "" {
			if err := s.syncVehicleReadings(ctx, r, &iv); err != nil {
				return err
			}
		}
		iv, err = r.InsertInterval(ctx, iv)
		if err != nil {
			return err
		}

		d.CurrentStatus = in.Status
		d.LastStatusChangeAt = &now
		d.LastStatusLocation = ""
		if in.Location != nil {
			d.LastStatusLocation = in.Location.Display()
		}
		if err := r.UpdateDriver(ctx, d); err != nil {
			return err
		}
		if _, err := s.recomputeDocumentSummary(ctx, r, d, dateOf(now, d.TZ())); err != nil {
			return err
		}
		res = StatusChangeResult{OldStatus: iv.PreviousStatus, NewStatus: iv.Status, ChangeTime: now, Location: iv.Location, Interval: iv}
		return nil
	})
	if err != nil {
		return StatusChangeResult{}, err
	}
	metrics.StatusChanges.WithLabelValues(string(in.Status)).Inc()
	s.logger.Info("duty status changed",
		zap.String("driver_id", in.DriverID),
		zap.String("from", string(res.OldStatus)),
		zap.String("to", string(res.NewStatus)))
	s.publish(ctx, EventDutyStatusChanged, in.DriverID, res)
	return res, nil
}

// syncVehicleReadings fills missing odometer/engine hours from the vehicle, or
// stores supplied readings on it.
func (s *Service) syncVehicleReadings(ctx context.Context, r store.Repo, iv *model.DutyStatusInterval) error {
	v, err := r.GetVehicle(ctx, iv.VehicleID)
	if err != nil {
		return notFound(err, "vehicle", iv.VehicleID)
	}
	changed := false
	if iv.Odometer == nil {
		odo := v.Odometer
		iv.Odometer = &odo
	} else if *iv.Odometer != v.Odometer {
		v.Odometer = *iv.Odometer
		changed = true
	}
	if iv.EngineHours == nil {
		eh := v.EngineHours
		iv.EngineHours = &eh
	} else if !iv.EngineHours.Equal(v.EngineHours) {
		v.EngineHours = *iv.EngineHours
		changed = true
	}
	if changed {
		return r.UpdateVehicle(ctx, v)
	}
	return nil
}

// SampleInput is an hourly position fix reported while driving.
type SampleInput struct {
	Location    model.Location   `json:"location"`
	Odometer    *int             `json:"odometer,omitempty"`
	EngineHours *decimal.Decimal `json:"engineHours,omitempty"`
}

// RecordIntervalSample appends a sample to the driver's open driving interval.
// With no open driving interval the sample is dropped with a warning and a
// nil result.
func (s *Service) RecordIntervalSample(ctx context.Context, driverID string, in SampleInput) (*model.LocationIntervalSample, error) {
	if err := validateLocation(&in.Location, "location"); err != nil {
		return nil, err
	}
	if in.Odometer != nil && *in.Odometer < 0 {
		return nil, errs.Validation("odometer", "odometer cannot be negative")
	}
	var out *model.LocationIntervalSample
	err := s.withDriver(ctx, driverID, func(r store.Repo, d model.Driver) error {
		open, err := r.OpenInterval(ctx, d.ID)
		if errs.Is(err, errs.KindNotFound) || (err == nil && open.Status != model.Driving) {
			return nil
		}
		if err != nil {
			return err
		}

		seq, prevOdo := 1, 0
		if open.Odometer != nil {
			prevOdo = *open.Odometer
		}
		last, err := r.LastSample(ctx, open.ID)
		switch {
		case err == nil:
			seq = last.Sequence + 1
			prevOdo = last.Odometer
		case errs.Is(err, errs.KindNotFound):
		default:
			return err
		}

		readings := model.DutyStatusInterval{VehicleID: open.VehicleID, Odometer: in.Odometer, EngineHours: in.EngineHours}
		if readings.VehicleID != "" {
			if err := s.syncVehicleReadings(ctx, r, &readings); err != nil {
				return err
			}
		}
		smp := model.LocationIntervalSample{
			IntervalID: open.ID,
			DriverID:   d.ID,
			VehicleID:  open.VehicleID,
			Sequence:   seq,
			Location:   in.Location,
			RecordedAt: s.now().UTC(),
		}
		if smp.Location.Method == "" {
			smp.Location.Method = model.MethodGPS
		}
		if readings.Odometer != nil {
			smp.Odometer = *readings.Odometer
			if miles := smp.Odometer - prevOdo; miles > 0 {
				smp.MilesSinceLast = miles
			}
		}
		if readings.EngineHours != nil {
			smp.EngineHours = *readings.EngineHours
		}
		smp, err = r.InsertSample(ctx, smp)
		if err != nil {
			return err
		}
		out = &smp
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		metrics.LocationSamples.WithLabelValues("dropped").Inc()
		s.logger.Warn("location sample dropped: no active driving session", zap.String("driver_id", driverID))
		return nil, nil
	}
	metrics.LocationSamples.WithLabelValues("recorded").Inc()
	return out, nil
}

// DriveCheck is the answer to "can this driver drive now".
type DriveCheck struct {
	CanDrive bool      `json:"canDrive"`
	Reason   string    `json:"reason"`
	Usage    hos.Usage `json:"usage"`
}

func (s *Service) CanDrive(ctx context.Context, driverID string) (DriveCheck, error) {
	d, u, err := s.usage(ctx, driverID)
	if err != nil {
		return DriveCheck{}, err
	}
	ok, reason := u.CanDrive(d.IsActive)
	return DriveCheck{CanDrive: ok, Reason: reason, Usage: u}, nil
}

type HoursAvailable struct {
	hos.Availability
	Usage hos.Usage `json:"usage"`
}

func (s *Service) AvailableHours(ctx context.Context, driverID string) (HoursAvailable, error) {
	_, u, err := s.usage(ctx, driverID)
	if err != nil {
		return HoursAvailable{}, err
	}
	return HoursAvailable{Availability: u.Available(), Usage: u}, nil
}

// DriverUsage is the live HOS usage of a driver.
func (s *Service) DriverUsage(ctx context.Context, driverID string) (hos.Usage, error) {
	_, u, err := s.usage(ctx, driverID)
	return u, err
}

// usage derives hours from the timeline: the current home-terminal day for
// the daily counters and the last 8 days for the cycle. Drivers without
// recorded history use their seeded counters.
func (s *Service) usage(ctx context.Context, driverID string) (model.Driver, hos.Usage, error) {
	d, err := s.getDriver(ctx, s.store, driverID)
	if err != nil {
		return d, hos.Usage{}, err
	}
	now := s.now().UTC()
	loc := d.TZ()
	today := midnight(now, loc)
	window := today.AddDate(0, 0, -(hos.CycleDays - 1))
	ivs, err := s.store.ListIntervals(ctx, store.IntervalFilter{DriverID: d.ID, TimelineOnly: true, From: window, To: now})
	if err != nil {
		return d, hos.Usage{}, err
	}
	if len(ivs) == 0 {
		return d, hos.Usage{Cycle: d.CycleHours, DailyDrive: d.DailyDriveHours, DailyDuty: d.DailyDutyHours}, nil
	}
	day := totalsWithin(ivs, today, now, now)
	return d, hos.Usage{
		Cycle:      cycleHours(ivs, window, now, now),
		DailyDrive: hos.Hours(day.Drive()),
		DailyDuty:  hos.Hours(day.OnDuty()),
	}, nil
}

// UpdateDriverHours seeds the counters used before any history exists.
func (s *Service) UpdateDriverHours(ctx context.Context, driverID string, u hos.Usage) (model.Driver, error) {
	for field, v := range map[string]decimal.Decimal{"cycleHours": u.Cycle, "dailyDriveHours": u.DailyDrive, "dailyDutyHours": u.DailyDuty} {
		if v.IsNegative() {
			return model.Driver{}, errs.Validation(field, "hours cannot be negative")
		}
	}
	var out model.Driver
	err := s.withDriver(ctx, driverID, func(r store.Repo, d model.Driver) error {
		d.CycleHours, d.DailyDriveHours, d.DailyDutyHours = u.Cycle, u.DailyDrive, u.DailyDuty
		out = d
		return r.UpdateDriver(ctx, d)
	})
	return out, err
}

// Timeline returns the recorded intervals overlapping the driver's day.
func (s *Service) Timeline(ctx context.Context, driverID, date string) ([]model.DutyStatusInterval, error) {
	d, err := s.getDriver(ctx, s.store, driverID)
	if err != nil {
		return nil, err
	}
	from, to, err := dayBounds(date, d.TZ())
	if err != nil {
		return nil, err
	}
	return s.store.ListIntervals(ctx, store.IntervalFilter{DriverID: d.ID, TimelineOnly: true, From: from, To: to})
}

// AnnotateInterval sets remarks on an interval and marks it edited.
func (s *Service) AnnotateInterval(ctx context.Context, intervalID, remarks string, by Actor) (model.DutyStatusInterval, error) {
	iv, err := s.store.GetInterval(ctx, intervalID)
	if err != nil {
		return iv, notFound(err, "interval", intervalID)
	}
	err = s.withDriver(ctx, iv.DriverID, func(r store.Repo, _ model.Driver) error {
		iv, err = r.GetInterval(ctx, intervalID)
		if err != nil {
			return notFound(err, "interval", intervalID)
		}
		if iv.IsCertified {
			return ErrLogCertified
		}
		iv.Remarks = remarks
		iv.IsEdited = true
		if err := r.UpdateInterval(ctx, iv); err != nil {
			return err
		}
		if iv.LogID == "" {
			return nil
		}
		return r.InsertAudit(ctx, model.AuditEntry{
			LogID:       iv.LogID,
			Action:      model.AuditModified,
			Description: "Interval " + iv.ID + " annotated: " + remarks,
			UserName:    by.Name,
			UserType:    by.Type,
		})
	})
	return iv, err
}
