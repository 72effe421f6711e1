package eld

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/hos"
	"eldhos/internal/metrics"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

const preTripInspection = 15 * time.Minute

// SynthesizeTrip turns planned stops into a contiguous duty-status sequence.
// Driving fills the gap between one stop's departure and the start of the
// next stop's first interval.
func SynthesizeTrip(stops []model.Stop) []model.DutyStatusInterval {
	ordered := append([]model.Stop(nil), stops...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	var out []model.DutyStatusInterval
	var cursor time.Time
	seg := func(st model.DutyStatus, from, to time.Time, stop model.Stop, remarks string) {
		if !to.After(from) {
			return
		}
		end := to
		loc := stop.Location
		out = append(out, model.DutyStatusInterval{
			Status:      st,
			Start:       from,
			End:         &end,
			Location:    &loc,
			Trigger:     model.TriggerDutyChange,
			Remarks:     remarks,
			IsAutomatic: true,
		})
	}

	for i, stop := range ordered {
		first := stop.Arrival
		var pre time.Time
		if stop.Type == model.StopPickup || stop.Type == model.StopDropoff {
			pre = stop.Arrival.Add(-preTripInspection)
			if i > 0 && pre.Before(cursor) {
				pre = cursor
			}
			first = pre
		}
		if i > 0 && first.After(cursor) {
			end := first
			loc := stop.Location
			out = append(out, model.DutyStatusInterval{
				Status:      model.Driving,
				Start:       cursor,
				End:         &end,
				Location:    &loc,
				Trigger:     model.TriggerDutyChange,
				Remarks:     "Driving to " + stopLabel(stop),
				IsAutomatic: true,
			})
		}

		switch stop.Type {
		case model.StopPickup, model.StopDropoff:
			seg(model.OnDutyNotDriving, pre, stop.Arrival, stop, "Pre-trip inspection")
			seg(model.OnDutyNotDriving, stop.Arrival, stop.Departure, stop, stopLabel(stop))
		case model.StopFuel:
			seg(model.OnDutyNotDriving, stop.Arrival, stop.Departure, stop, stopLabel(stop))
		case model.StopRest, model.StopMandatoryBreak:
			st := model.OffDuty
			if stop.DurationMinutes >= 480 {
				st = model.SleeperBerth
			}
			seg(st, stop.Arrival, stop.Departure, stop, stopLabel(stop))
		}
		if stop.Departure.After(cursor) {
			cursor = stop.Departure
		}
	}
	for i := 1; i < len(out); i++ {
		out[i].PreviousStatus = out[i-1].Status
	}
	return out
}

func stopLabel(s model.Stop) string {
	if s.Description != "" {
		return s.Description
	}
	switch s.Type {
	case model.StopPickup:
		return "Pickup"
	case model.StopDropoff:
		return "Dropoff"
	case model.StopFuel:
		return "Fuel stop"
	case model.StopRest:
		return "Rest period"
	case model.StopMandatoryBreak:
		return "Mandatory break"
	}
	return string(s.Type)
}

// GenerateLogsForTrip materializes one daily log per home-terminal day the
// trip touches, including days with no stop arrival. Days that already carry
// intervals are returned unchanged.
// The whole trip is written in one transaction.
func (s *Service) GenerateLogsForTrip(ctx context.Context, tripID string) ([]model.DailyLog, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, notFound(err, "trip", tripID)
	}
	if len(trip.Stops) == 0 {
		return nil, ErrTripHasNoStops
	}
	segs := SynthesizeTrip(trip.Stops)
	if len(segs) == 0 {
		return nil, ErrTripHasNoStops
	}

	var logs, generated []model.DailyLog
	var added []model.Violation
	err = s.withDriver(ctx, trip.DriverID, func(r store.Repo, d model.Driver) error {
		loc := d.TZ()
		tripStart := segs[0].Start
		tripEnd := *segs[len(segs)-1].End
		first := midnight(tripStart, loc)
		last := midnight(tripEnd, loc).AddDate(0, 0, 1)
		if midnight(tripEnd, loc).Equal(tripEnd) {
			last = tripEnd
		}

		var tripDrive time.Duration
		for _, sg := range segs {
			if sg.Status == model.Driving {
				tripDrive += sg.Duration(tripEnd)
			}
		}
		runs := restRuns(segs)
		cycleBase := trip.CycleHours
		// on-duty time of each trip day since the last restart, newest last
		var window []time.Duration
		var driveSoFar time.Duration
		dayIndex := 0
		odoBase := trip.StartOdometer

		var loopErr error
		eachDay(first, last, func(date string, dayStart, dayEnd time.Time) {
			if loopErr != nil {
				return
			}
			l, created, err := r.GetOrCreateLog(ctx, model.DailyLog{
				DriverID:    d.ID,
				VehicleID:   trip.VehicleID,
				TripID:      trip.ID,
				LogDate:     date,
				IsCompliant: true,
			})
			if err != nil {
				loopErr = err
				return
			}

			day := daySegments(segs, dayStart, dayEnd, tripStart, tripEnd)
			var dayDrive, dayOn time.Duration
			for _, sg := range day {
				switch {
				case sg.Status == model.Driving:
					dayDrive += sg.Duration(dayEnd)
					dayOn += sg.Duration(dayEnd)
				case sg.Status.OnDuty():
					dayOn += sg.Duration(dayEnd)
				case sg.Status.Rest() && inRestart(runs, sg.Start):
					cycleBase, window, dayOn = decimal.Zero, nil, 0
				}
			}
			window = append(window, dayOn)
			if len(window) > hos.CycleDays {
				window = window[len(window)-hos.CycleDays:]
			}
			// Hours carried in at trip start are out of the window once the
			// trip itself fills all eight days.
			if dayIndex >= hos.CycleDays {
				cycleBase = decimal.Zero
			}
			dayIndex++
			var cycleRun time.Duration
			for _, on := range window {
				cycleRun += on
			}
			startMiles := shareOf(trip.TotalDistanceMiles, driveSoFar, tripDrive)
			driveSoFar += dayDrive
			endMiles := shareOf(trip.TotalDistanceMiles, driveSoFar, tripDrive)

			existing, err := r.ListIntervals(ctx, store.IntervalFilter{LogID: l.ID})
			if err != nil {
				loopErr = err
				return
			}
			if len(existing) > 0 || l.IsCertified {
				logs = append(logs, l)
				return
			}

			for i := range day {
				day[i].DriverID = d.ID
				day[i].VehicleID = trip.VehicleID
				day[i].LogID = l.ID
				day[i].ShippingDocNumber = trip.ShippingDocNumber
				if day[i], err = r.InsertInterval(ctx, day[i]); err != nil {
					loopErr = err
					return
				}
			}

			if l.VehicleID == "" {
				l.VehicleID = trip.VehicleID
			}
			l.TripID = trip.ID
			dayTotals(&l, day, dayStart, dayEnd)
			l.StartingOdometer = odoBase + int(startMiles.IntPart())
			l.EndingOdometer = odoBase + int(endMiles.IntPart())
			l.TotalMilesDriven = endMiles.Sub(startMiles).Round(2)
			l.CycleHoursUsed = cycleBase.Add(hos.Hours(cycleRun))

			newV, err := s.applyViolations(ctx, r, &l, Detect(l, day, dayStart, dayEnd))
			if err != nil {
				loopErr = err
				return
			}
			added = append(added, newV...)
			if err := r.UpdateLog(ctx, l); err != nil {
				loopErr = err
				return
			}
			action, desc := model.AuditCreated, "Daily log created from trip "+trip.ID
			if !created {
				action, desc = model.AuditModified, "Daily log updated from trip "+trip.ID
			}
			if err := r.InsertAudit(ctx, model.AuditEntry{LogID: l.ID, Action: action, Description: desc, UserName: systemActor.Name, UserType: systemActor.Type}); err != nil {
				loopErr = err
				return
			}
			logs = append(logs, l)
			generated = append(generated, l)
		})
		if loopErr != nil {
			return loopErr
		}
		if len(generated) > 0 {
			return r.UpdateTripStatus(ctx, trip.ID, TripLogged)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.LogsGenerated.WithLabelValues("trip").Add(float64(len(generated)))
	s.announceViolations(ctx, added)
	s.logger.Info("trip logs generated",
		zap.String("trip_id", tripID),
		zap.Int("days", len(logs)),
		zap.Int("new", len(generated)))
	return logs, nil
}

// daySegments clips the trip sequence to one day, padding the trip's first
// and last day with off-duty time so the log covers the full day.
func daySegments(segs []model.DutyStatusInterval, dayStart, dayEnd, tripStart, tripEnd time.Time) []model.DutyStatusInterval {
	var out []model.DutyStatusInterval
	pad := func(from, to time.Time, remarks string) {
		if from.Before(dayStart) {
			from = dayStart
		}
		if to.After(dayEnd) {
			to = dayEnd
		}
		if !to.After(from) {
			return
		}
		end := to
		out = append(out, model.DutyStatusInterval{Status: model.OffDuty, Start: from, End: &end, Trigger: model.TriggerManual, Remarks: remarks, IsAutomatic: true})
	}
	pad(dayStart, tripStart, "Off duty before trip")
	for _, sg := range segs {
		if c, ok := clip(sg, dayStart, dayEnd, dayEnd); ok {
			out = append(out, c)
		}
	}
	pad(tripEnd, dayEnd, "Off duty after trip")
	for i := 1; i < len(out); i++ {
		out[i].PreviousStatus = out[i-1].Status
	}
	return out
}

type span struct{ start, end time.Time }

// restRuns merges back-to-back OFF/SB segments into runs.
func restRuns(segs []model.DutyStatusInterval) []span {
	var out []span
	for _, sg := range segs {
		if !sg.Status.Rest() || sg.End == nil {
			continue
		}
		if n := len(out); n > 0 && out[n-1].end.Equal(sg.Start) {
			out[n-1].end = *sg.End
			continue
		}
		out = append(out, span{sg.Start, *sg.End})
	}
	return out
}

// inRestart reports whether t falls inside a rest run long enough to reset the cycle.
func inRestart(runs []span, t time.Time) bool {
	for _, r := range runs {
		if !t.Before(r.start) && t.Before(r.end) && r.end.Sub(r.start) >= hos.RestartHours*time.Hour {
			return true
		}
	}
	return false
}

// shareOf allocates total by the driven fraction part/whole.
func shareOf(total decimal.Decimal, part, whole time.Duration) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return total.Mul(decimal.NewFromInt(int64(part))).Div(decimal.NewFromInt(int64(whole)))
}

// BuildFromTimeline converts the driver's recorded intervals for a day into
// the day's log. An existing uncertified log is rebuilt in full.
func (s *Service) BuildFromTimeline(ctx context.Context, driverID, date string, by Actor) (model.DailyLog, error) {
	var out model.DailyLog
	var added []model.Violation
	err := s.withDriver(ctx, driverID, func(r store.Repo, d model.Driver) error {
		loc := d.TZ()
		dayStart, dayEnd, err := dayBounds(date, loc)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		end := dayEnd
		if now.Before(end) {
			end = now
		}
		if !end.After(dayStart) {
			return errs.Validationf("date", "%s has not started yet", date)
		}

		window := dayStart.AddDate(0, 0, -(hos.CycleDays - 1))
		history, err := r.ListIntervals(ctx, store.IntervalFilter{DriverID: d.ID, TimelineOnly: true, From: window, To: end})
		if err != nil {
			return err
		}
		var vehicleID string
		for _, iv := range history {
			if iv.VehicleID != "" {
				vehicleID = iv.VehicleID
			}
		}

		l, created, err := r.GetOrCreateLog(ctx, model.DailyLog{DriverID: d.ID, VehicleID: vehicleID, LogDate: date, IsCompliant: true})
		if err != nil {
			return err
		}
		if l.IsCertified {
			return ErrLogCertified
		}
		if err := r.DeleteLogIntervals(ctx, l.ID); err != nil {
			return err
		}

		var day []model.DutyStatusInterval
		gap := func(from, to time.Time) {
			if to.After(from) {
				e := to
				day = append(day, model.DutyStatusInterval{Status: model.OffDuty, Start: from, End: &e, Trigger: model.TriggerManual, Remarks: "No duty status recorded", IsAutomatic: true})
			}
		}
		cursor := dayStart
		for _, iv := range history {
			c, ok := clip(iv, dayStart, end, now)
			if !ok {
				continue
			}
			gap(cursor, c.Start)
			c.ID = ""
			day = append(day, c)
			cursor = *c.End
		}
		gap(cursor, end)

		startOdo, endOdo := -1, -1
		for i := range day {
			day[i].DriverID = d.ID
			day[i].LogID = l.ID
			if day[i].VehicleID == "" {
				day[i].VehicleID = vehicleID
			}
			if i > 0 {
				day[i].PreviousStatus = day[i-1].Status
			}
			if o := day[i].Odometer; o != nil {
				if startOdo < 0 {
					startOdo = *o
				}
				if *o > endOdo {
					endOdo = *o
				}
			}
			if day[i], err = r.InsertInterval(ctx, day[i]); err != nil {
				return err
			}
		}
		samples, err := r.ListSamples(ctx, d.ID, dayStart, end)
		if err != nil {
			return err
		}
		for _, smp := range samples {
			if startOdo < 0 {
				startOdo = smp.Odometer
			}
			if smp.Odometer > endOdo {
				endOdo = smp.Odometer
			}
		}
		if startOdo >= 0 {
			l.StartingOdometer, l.EndingOdometer = startOdo, endOdo
			l.TotalMilesDriven = decimal.NewFromInt(int64(endOdo - startOdo))
		}
		if l.VehicleID == "" {
			l.VehicleID = vehicleID
		}

		dayTotals(&l, day, dayStart, end)
		if len(history) == 0 {
			l.CycleHoursUsed = d.CycleHours
		} else {
			l.CycleHoursUsed = cycleHours(history, window, end, now)
		}
		if added, err = s.applyViolations(ctx, r, &l, Detect(l, day, dayStart, end)); err != nil {
			return err
		}
		if err := r.UpdateLog(ctx, l); err != nil {
			return err
		}
		action, desc := model.AuditCreated, "Daily log created from recorded duty status"
		if !created {
			action, desc = model.AuditModified, fmt.Sprintf("Daily log rebuilt from %d recorded intervals", len(day))
		}
		if by.Name == "" {
			by = systemActor
		}
		out = l
		return r.InsertAudit(ctx, model.AuditEntry{LogID: l.ID, Action: action, Description: desc, UserName: by.Name, UserType: by.Type})
	})
	if err != nil {
		return model.DailyLog{}, err
	}
	metrics.LogsGenerated.WithLabelValues("timeline").Inc()
	s.announceViolations(ctx, added)
	return out, nil
}
