package eld

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"eldhos/internal/hos"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

// Compliance issue types.
const (
	IssueMissingDutyLocation   = "missing_duty_location"
	IssueMissingIntervals      = "missing_intervals"
	IssueInsufficientDocuments = "insufficient_documents"
	IssueExcessiveDocuments    = "excessive_documents"
	IssueHOSViolation          = "hos_violation"
)

type ComplianceIssue struct {
	Type        string         `json:"type"`
	Severity    model.Severity `json:"severity"`
	Date        string         `json:"date"`
	Description string         `json:"description"`
	IntervalID  string         `json:"intervalId,omitempty"`
	ViolationID string         `json:"violationId,omitempty"`
	Expected    int            `json:"expected,omitempty"`
	Actual      int            `json:"actual,omitempty"`
}

type ComplianceTotals struct {
	DutyEntries     int `json:"dutyEntries"`
	LocationSamples int `json:"locationSamples"`
	Documents       int `json:"documents"`
}

type DocumentBreakdown struct {
	DaysSufficient     int `json:"daysSufficient"`
	DaysExceedingLimit int `json:"daysExceedingLimit"`
	TotalDocuments     int `json:"totalDocuments"`
	VerifiedDocuments  int `json:"verifiedDocuments"`
}

type ComplianceReport struct {
	DriverID    string            `json:"driverId"`
	StartDate   string            `json:"startDate"`
	EndDate     string            `json:"endDate"`
	GeneratedAt time.Time         `json:"generatedAt"`
	IsCompliant bool              `json:"isCompliant"`
	Issues      []ComplianceIssue `json:"issues"`
	Totals      ComplianceTotals  `json:"totals"`
	Documents   DocumentBreakdown `json:"documentCompliance"`
}

// ComplianceReport audits a driver's records over an inclusive date range.
// Days without records contribute zero counts.
func (s *Service) ComplianceReport(ctx context.Context, driverID, start, end string) (ComplianceReport, error) {
	d, err := s.getDriver(ctx, s.store, driverID)
	if err != nil {
		return ComplianceReport{}, err
	}
	loc := d.TZ()
	from, to, err := dateRange(start, end, loc)
	if err != nil {
		return ComplianceReport{}, err
	}
	now := s.now().UTC()
	rep := ComplianceReport{DriverID: d.ID, StartDate: start, EndDate: end, GeneratedAt: now, Issues: []ComplianceIssue{}}

	err = s.store.WithTx(ctx, func(r store.Repo) error {
		ivs, err := r.ListIntervals(ctx, store.IntervalFilter{DriverID: d.ID, TimelineOnly: true, From: from, To: to})
		if err != nil {
			return err
		}
		sampleFrom := from
		if len(ivs) > 0 && ivs[0].Start.Before(from) {
			sampleFrom = ivs[0].Start
		}
		samples, err := r.ListSamples(ctx, d.ID, sampleFrom, time.Time{})
		if err != nil {
			return err
		}
		perInterval := map[string]int{}
		for _, smp := range samples {
			perInterval[smp.IntervalID]++
			if !smp.RecordedAt.Before(from) && smp.RecordedAt.Before(to) {
				rep.Totals.LocationSamples++
			}
		}

		rep.Totals.DutyEntries = len(ivs)
		for _, iv := range ivs {
			date := dateOf(iv.Start, loc)
			if iv.Trigger.RequiresLocation(iv.Status) && iv.Location == nil {
				rep.Issues = append(rep.Issues, ComplianceIssue{
					Type:        IssueMissingDutyLocation,
					Severity:    model.SeverityMedium,
					Date:        date,
					IntervalID:  iv.ID,
					Description: fmt.Sprintf("%s at %s has no recorded location", iv.Status.Label(), iv.Start.In(loc).Format("15:04")),
				})
			}
			if iv.Status != model.Driving {
				continue
			}
			expected := ExpectedSamples(iv.Duration(now))
			if actual := perInterval[iv.ID]; actual < expected {
				rep.Issues = append(rep.Issues, ComplianceIssue{
					Type:        IssueMissingIntervals,
					Severity:    model.SeverityMedium,
					Date:        date,
					IntervalID:  iv.ID,
					Expected:    expected,
					Actual:      actual,
					Description: fmt.Sprintf("Driving period starting %s has %d of %d hourly location records", iv.Start.In(loc).Format("15:04"), actual, expected),
				})
			}
		}

		docs, err := r.ListDocuments(ctx, d.ID, start, end)
		if err != nil {
			return err
		}
		rep.Totals.Documents = len(docs)
		rep.Documents.TotalDocuments = len(docs)
		for _, doc := range docs {
			if doc.IsVerified {
				rep.Documents.VerifiedDocuments++
			}
		}
		sums, err := r.ListDocumentSummaries(ctx, d.ID, start, end)
		if err != nil {
			return err
		}
		for _, sm := range sums {
			if sm.HasMinimumDocuments {
				rep.Documents.DaysSufficient++
			} else {
				rep.Issues = append(rep.Issues, ComplianceIssue{
					Type:        IssueInsufficientDocuments,
					Severity:    model.SeverityLow,
					Date:        sm.Date,
					Actual:      sm.DocumentCount,
					Description: "Required supporting documents missing",
				})
			}
			if sm.ExceedsLimit {
				rep.Documents.DaysExceedingLimit++
				rep.Issues = append(rep.Issues, ComplianceIssue{
					Type:        IssueExcessiveDocuments,
					Severity:    model.SeverityMedium,
					Date:        sm.Date,
					Expected:    MaxDocumentsPerDay,
					Actual:      sm.DocumentCount,
					Description: fmt.Sprintf("%d supporting documents exceed the %d-document daily limit", sm.DocumentCount, MaxDocumentsPerDay),
				})
			}
		}

		logs, err := r.ListLogs(ctx, d.ID, start, end)
		if err != nil {
			return err
		}
		for _, l := range logs {
			vs, err := r.ListViolations(ctx, l.ID)
			if err != nil {
				return err
			}
			for _, v := range vs {
				if v.IsResolved || v.ClearedAt != nil {
					continue
				}
				rep.Issues = append(rep.Issues, ComplianceIssue{
					Type:        IssueHOSViolation,
					Severity:    v.Severity,
					Date:        l.LogDate,
					ViolationID: v.ID,
					Description: v.Description,
				})
			}
		}
		return nil
	})
	if err != nil {
		return ComplianceReport{}, err
	}
	rep.IsCompliant = len(rep.Issues) == 0
	return rep, nil
}

// ExpectedSamples is the number of hourly location records a driving period
// of length d must have.
func ExpectedSamples(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Hour)
}

func (s *Service) GetLog(ctx context.Context, id string) (model.DailyLog, error) {
	l, err := s.store.GetLog(ctx, id)
	return l, notFound(err, "log", id)
}

func (s *Service) ListLogs(ctx context.Context, driverID, start, end string) ([]model.DailyLog, error) {
	d, err := s.getDriver(ctx, s.store, driverID)
	if err != nil {
		return nil, err
	}
	if start != "" || end != "" {
		if _, _, err := dateRange(start, end, d.TZ()); err != nil {
			return nil, err
		}
	}
	return s.store.ListLogs(ctx, d.ID, start, end)
}

// LogDetail is a daily log with its intervals and violations.
type LogDetail struct {
	Log        model.DailyLog             `json:"log"`
	Intervals  []model.DutyStatusInterval `json:"intervals"`
	Violations []model.Violation          `json:"violations"`
	Totals     DutySummary                `json:"totals"`
	Available  hos.Availability           `json:"availableAtEndOfDay"`
}

func (s *Service) DailySummary(ctx context.Context, logID string) (LogDetail, error) {
	snap, err := s.snapshot(ctx, logID)
	if err != nil {
		return LogDetail{}, err
	}
	l := snap.log
	t := totalsWithin(snap.intervals, snap.dayStart, snap.dayEnd, snap.dayEnd)
	return LogDetail{
		Log:        l,
		Intervals:  snap.intervals,
		Violations: snap.violations,
		Totals: DutySummary{
			OffDuty:     hos.Hours(t[model.OffDuty]),
			Sleeper:     hos.Hours(t[model.SleeperBerth]),
			Driving:     l.TotalDriveTime,
			OnDuty:      l.TotalOnDutyTime.Sub(l.TotalDriveTime),
			TotalOnDuty: l.TotalOnDutyTime,
			Total:       l.TotalOnDutyTime.Add(l.TotalOffDutyTime),
			CycleUsed:   l.CycleHoursUsed,
		},
		Available: hos.AvailableHours(l.CycleHoursUsed, l.TotalDriveTime, l.TotalOnDutyTime),
	}, nil
}

func (s *Service) AuditTrail(ctx context.Context, logID string) ([]model.AuditEntry, error) {
	if _, err := s.GetLog(ctx, logID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, logID)
}

func (s *Service) ListViolations(ctx context.Context, logID string) ([]model.Violation, error) {
	if _, err := s.GetLog(ctx, logID); err != nil {
		return nil, err
	}
	return s.store.ListViolations(ctx, logID)
}

// TripSummary aggregates the daily logs generated for a trip.
type TripSummary struct {
	Trip            model.Trip       `json:"trip"`
	Days            int              `json:"days"`
	CompliantDays   int              `json:"compliantDays"`
	ViolationDays   int              `json:"violationDays"`
	TotalDriveHours decimal.Decimal  `json:"totalDriveHours"`
	TotalDutyHours  decimal.Decimal  `json:"totalOnDutyHours"`
	TotalMiles      decimal.Decimal  `json:"totalMiles"`
	FinalCycleHours decimal.Decimal  `json:"finalCycleHours"`
	Logs            []model.DailyLog `json:"logs"`
}

func (s *Service) TripSummary(ctx context.Context, tripID string) (TripSummary, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return TripSummary{}, notFound(err, "trip", tripID)
	}
	logs, err := s.store.ListLogsByTrip(ctx, tripID)
	if err != nil {
		return TripSummary{}, err
	}
	sum := TripSummary{Trip: trip, Days: len(logs), Logs: logs, FinalCycleHours: trip.CycleHours}
	for _, l := range logs {
		if l.IsCompliant {
			sum.CompliantDays++
		} else {
			sum.ViolationDays++
		}
		sum.TotalDriveHours = sum.TotalDriveHours.Add(l.TotalDriveTime)
		sum.TotalDutyHours = sum.TotalDutyHours.Add(l.TotalOnDutyTime)
		sum.TotalMiles = sum.TotalMiles.Add(l.TotalMilesDriven)
		sum.FinalCycleHours = l.CycleHoursUsed
	}
	return sum, nil
}

// RestartSuggestion recommends a 34-hour restart ending at the trip's first
// pickup when the trip starts with a high cycle.
func (s *Service) RestartSuggestion(ctx context.Context, tripID string) (*hos.RestartSuggestion, error) {
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, notFound(err, "trip", tripID)
	}
	return restartFor(trip), nil
}

func restartFor(trip model.Trip) *hos.RestartSuggestion {
	var next time.Time
	for _, st := range trip.Stops {
		if st.Type == model.StopPickup && (next.IsZero() || st.Arrival.Before(next)) {
			next = st.Arrival
		}
	}
	if sg, ok := hos.SuggestRestart(trip.CycleHours, next); ok {
		return &sg
	}
	return nil
}
