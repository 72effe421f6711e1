package eld

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eldhos/internal/hos"
	"eldhos/internal/metrics"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

// Detect evaluates a daily log against the HOS limits. Each rule is checked
// independently; ivs are the log's own intervals bounded to [dayStart, dayEnd).
func Detect(l model.DailyLog, ivs []model.DutyStatusInterval, dayStart, dayEnd time.Time) []model.Violation {
	var out []model.Violation
	add := func(t model.ViolationType, sev model.Severity, desc string, at time.Time, minutes int) {
		out = append(out, model.Violation{
			LogID:           l.ID,
			DriverID:        l.DriverID,
			Type:            t,
			Severity:        sev,
			Description:     desc,
			OccurredAt:      at,
			DurationMinutes: minutes,
		})
	}
	lastEnd := dayEnd
	if n := len(ivs); n > 0 {
		lastEnd = ivs[n-1].EndOr(dayEnd)
	}

	if l.TotalDriveTime.GreaterThan(hos.MaxDailyDrive) {
		at := crossing(ivs, dayStart, dayEnd, hos.MaxDailyDriveHours*time.Hour, func(s model.DutyStatus) bool { return s == model.Driving })
		add(model.ViolationDailyDriveExceeded, model.SeverityHigh,
			fmt.Sprintf("Daily driving time of %s hours exceeds %d-hour limit", l.TotalDriveTime.StringFixed(2), hos.MaxDailyDriveHours),
			orTime(at, lastEnd), hos.OverageMinutes(l.TotalDriveTime, hos.MaxDailyDrive))
	}
	if l.TotalOnDutyTime.GreaterThan(hos.MaxDailyDuty) {
		at := crossing(ivs, dayStart, dayEnd, hos.MaxDailyDutyHours*time.Hour, model.DutyStatus.OnDuty)
		add(model.ViolationDailyDutyExceeded, model.SeverityHigh,
			fmt.Sprintf("Daily on-duty time of %s hours exceeds %d-hour limit", l.TotalOnDutyTime.StringFixed(2), hos.MaxDailyDutyHours),
			orTime(at, lastEnd), hos.OverageMinutes(l.TotalOnDutyTime, hos.MaxDailyDuty))
	}
	if l.CycleHoursUsed.GreaterThan(hos.MaxCycle) {
		add(model.ViolationCycleExceeded, model.SeverityCritical,
			fmt.Sprintf("8-day cycle hours of %s exceeds %d-hour limit", l.CycleHoursUsed.StringFixed(2), hos.MaxCycleHours),
			lastEnd, hos.OverageMinutes(l.CycleHoursUsed, hos.MaxCycle))
	}
	if l.TotalDriveTime.IsPositive() {
		rest := longestRest(ivs, dayStart, dayEnd, dayEnd)
		if rest < hos.MinOffDutyHours*time.Hour {
			restHours := hos.Hours(rest)
			add(model.ViolationInsufficientRest, model.SeverityMedium,
				fmt.Sprintf("Insufficient rest: %sh (min: %dh)", restHours.StringFixed(1), hos.MinOffDutyHours),
				firstDrive(ivs, dayStart), hos.OverageMinutes(hos.MinOffDuty, restHours))
		}
	}
	return out
}

// crossing returns when cumulative time in matching statuses reaches limit,
// or the zero time when it never does.
func crossing(ivs []model.DutyStatusInterval, from, to time.Time, limit time.Duration, match func(model.DutyStatus) bool) time.Time {
	var sum time.Duration
	for _, iv := range ivs {
		if !match(iv.Status) {
			continue
		}
		d := overlap(iv, from, to, to)
		if d <= 0 {
			continue
		}
		if sum+d > limit {
			start := iv.Start
			if start.Before(from) {
				start = from
			}
			return start.Add(limit - sum)
		}
		sum += d
	}
	return time.Time{}
}

func firstDrive(ivs []model.DutyStatusInterval, dayStart time.Time) time.Time {
	for _, iv := range ivs {
		if iv.Status == model.Driving {
			if iv.Start.Before(dayStart) {
				return dayStart
			}
			return iv.Start
		}
	}
	return dayStart
}

func orTime(t, def time.Time) time.Time {
	if t.IsZero() {
		return def
	}
	return t
}

// applyViolations stores the detected violations on the log. Records are
// upserted per type and never removed, so resolution notes survive a rebuild.
// A record the rebuild no longer detects is marked cleared, and a detected
// one is uncleared. The log's compliance flag and summary are always fully
// replaced. Newly added violations are returned for event publication.
func (s *Service) applyViolations(ctx context.Context, r store.Repo, l *model.DailyLog, found []model.Violation) ([]model.Violation, error) {
	existing, err := r.ListViolations(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	byType := make(map[model.ViolationType]model.Violation, len(existing))
	for _, v := range existing {
		byType[v.Type] = v
	}

	var added []model.Violation
	descs := make([]string, 0, len(found))
	detected := make(map[model.ViolationType]bool, len(found))
	for _, v := range found {
		descs = append(descs, v.Description)
		detected[v.Type] = true
		if prev, ok := byType[v.Type]; ok {
			prev.Severity = v.Severity
			prev.Description = v.Description
			prev.OccurredAt = v.OccurredAt
			prev.DurationMinutes = v.DurationMinutes
			prev.ClearedAt = nil
			if err := r.UpdateViolation(ctx, prev); err != nil {
				return nil, err
			}
			continue
		}
		v, err := r.InsertViolation(ctx, v)
		if err != nil {
			return nil, err
		}
		if err := r.InsertAudit(ctx, model.AuditEntry{
			LogID:       l.ID,
			Action:      model.AuditViolationAdded,
			Description: v.Description,
			UserName:    systemActor.Name,
			UserType:    systemActor.Type,
		}); err != nil {
			return nil, err
		}
		if _, err := r.InsertAlert(ctx, model.ComplianceAlert{
			DriverID:    l.DriverID,
			Type:        model.AlertHOSViolation,
			Severity:    v.Severity,
			Status:      model.AlertOpen,
			Title:       v.Type.Label(),
			Description: v.Description,
			AlertDate:   l.LogDate,
			LogID:       l.ID,
			ViolationID: v.ID,
		}); err != nil {
			return nil, err
		}
		added = append(added, v)
	}
	now := s.now().UTC()
	for _, prev := range existing {
		if detected[prev.Type] || prev.IsResolved || prev.ClearedAt != nil {
			continue
		}
		prev.ClearedAt = &now
		if err := r.UpdateViolation(ctx, prev); err != nil {
			return nil, err
		}
		if err := r.InsertAudit(ctx, model.AuditEntry{
			LogID:       l.ID,
			Action:      model.AuditViolationCleared,
			Description: prev.Type.Label() + " no longer detected",
			UserName:    systemActor.Name,
			UserType:    systemActor.Type,
		}); err != nil {
			return nil, err
		}
	}
	l.IsCompliant = len(found) == 0
	l.ViolationSummary = strings.Join(descs, "; ")
	return added, nil
}

func (s *Service) announceViolations(ctx context.Context, vs []model.Violation) {
	for _, v := range vs {
		metrics.ViolationsDetected.WithLabelValues(string(v.Type)).Inc()
		s.publish(ctx, EventViolationDetected, v.DriverID, v)
	}
}

// dayTotals fills the log's hour totals from intervals bounded to the day.
func dayTotals(l *model.DailyLog, ivs []model.DutyStatusInterval, from, to time.Time) StatusTotals {
	t := totalsWithin(ivs, from, to, to)
	l.TotalDriveTime = hos.Hours(t.Drive())
	l.TotalOnDutyTime = hos.Hours(t.OnDuty())
	l.TotalOffDutyTime = hos.Hours(t.OffDuty())
	return t
}
