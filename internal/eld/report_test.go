package eld

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/errs"
	"eldhos/internal/model"
)

func issuesOf(rep ComplianceReport, typ string) []ComplianceIssue {
	var out []ComplianceIssue
	for _, is := range rep.Issues {
		if is.Type == typ {
			out = append(out, is)
		}
	}
	return out
}

func TestComplianceReportSampleBoundary(t *testing.T) {
	tests := []struct {
		minutes int
		samples int
		missing bool
	}{
		{minutes: 59, samples: 0, missing: false},
		{minutes: 60, samples: 0, missing: true},
		{minutes: 61, samples: 1, missing: false},
		{minutes: 130, samples: 1, missing: true},
	}
	for _, tt := range tests {
		h := newHarness(t)
		ctx := context.Background()
		h.change(t, at(0, 0), model.OffDuty)
		h.change(t, at(8, 0), model.Driving)
		for i := 0; i < tt.samples; i++ {
			h.clock.Set(at(8, 0).Add(time.Duration(i+1) * time.Hour))
			_, err := h.svc.RecordIntervalSample(ctx, h.driver.ID, SampleInput{Location: somewhere})
			require.NoError(t, err)
		}
		h.change(t, at(8, 0).Add(time.Duration(tt.minutes)*time.Minute), model.OffDuty)
		upload(t, h, model.DocDispatchRecord, "2026-03-02")

		rep, err := h.svc.ComplianceReport(ctx, h.driver.ID, "2026-03-02", "2026-03-02")
		require.NoError(t, err)
		got := issuesOf(rep, IssueMissingIntervals)
		if !tt.missing {
			assert.Empty(t, got, "%d minutes with %d samples", tt.minutes, tt.samples)
			assert.True(t, rep.IsCompliant, "%d minutes: %+v", tt.minutes, rep.Issues)
			continue
		}
		require.Len(t, got, 1, "%d minutes with %d samples", tt.minutes, tt.samples)
		assert.Equal(t, tt.samples, got[0].Actual)
		assert.Equal(t, tt.minutes/60, got[0].Expected)
		assert.False(t, rep.IsCompliant)
	}
}

func TestComplianceReportMissingLocation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.change(t, at(0, 0), model.OffDuty)
	h.clock.Set(at(9, 0))
	// Bypass the service so the driving interval has no location.
	_, err := h.store.InsertInterval(ctx, model.DutyStatusInterval{DriverID: h.driver.ID, Status: model.Driving, Start: at(9, 0), End: ptrTime(at(9, 30)), Trigger: model.TriggerDutyChange})
	require.NoError(t, err)

	rep, err := h.svc.ComplianceReport(ctx, h.driver.ID, "2026-03-02", "2026-03-02")
	require.NoError(t, err)
	got := issuesOf(rep, IssueMissingDutyLocation)
	require.Len(t, got, 1)
	assert.Equal(t, "2026-03-02", got[0].Date)
	assert.Equal(t, 2, rep.Totals.DutyEntries)
}

func TestComplianceReportIncludesOpenViolations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.change(t, at(0, 0), model.OffDuty)
	h.change(t, at(1, 0), model.Driving)
	for i := 1; i <= 11; i++ {
		h.clock.Set(at(1+i, 0))
		_, err := h.svc.RecordIntervalSample(ctx, h.driver.ID, SampleInput{Location: somewhere})
		require.NoError(t, err)
	}
	h.change(t, at(12, 30), model.OffDuty)
	upload(t, h, model.DocDispatchRecord, "2026-03-02")
	h.clock.Set(day1.AddDate(0, 0, 1))
	_, err := h.svc.BuildFromTimeline(ctx, h.driver.ID, "2026-03-02", Actor{})
	require.NoError(t, err)

	rep, err := h.svc.ComplianceReport(ctx, h.driver.ID, "2026-03-02", "2026-03-02")
	require.NoError(t, err)
	assert.Empty(t, issuesOf(rep, IssueMissingIntervals))
	hosIssues := issuesOf(rep, IssueHOSViolation)
	require.Len(t, hosIssues, 1)
	assert.Equal(t, model.SeverityHigh, hosIssues[0].Severity)
	assert.Equal(t, 11, rep.Totals.LocationSamples)
}

func TestComplianceReportEmptyRange(t *testing.T) {
	h := newHarness(t)
	rep, err := h.svc.ComplianceReport(context.Background(), h.driver.ID, "2026-01-01", "2026-01-31")
	require.NoError(t, err)
	assert.True(t, rep.IsCompliant)
	assert.Empty(t, rep.Issues)
	assert.Zero(t, rep.Totals.DutyEntries)

	_, err = h.svc.ComplianceReport(context.Background(), h.driver.ID, "2026-01-31", "2026-01-01")
	assert.True(t, errs.Is(err, errs.KindValidation))
	_, err = h.svc.ComplianceReport(context.Background(), "ghost", "2026-01-01", "2026-01-31")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestDailySummary(t *testing.T) {
	h := newHarness(t)
	l := builtDay(t, h)
	det, err := h.svc.DailySummary(context.Background(), l.ID)
	require.NoError(t, err)
	requireHours(t, "1", det.Totals.OnDuty)
	requireHours(t, "24", det.Totals.Total)
	requireHours(t, "6", det.Available.Drive)
	assert.Len(t, det.Intervals, 5)
}

func ptrTime(t time.Time) *time.Time { return &t }
