package eld

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/model"
)

func closed(st model.DutyStatus, from, to time.Time) model.DutyStatusInterval {
	return model.DutyStatusInterval{Status: st, Start: from, End: &to}
}

func TestDetect(t *testing.T) {
	dayEnd := day1.AddDate(0, 0, 1)
	rested := []model.DutyStatusInterval{
		closed(model.OffDuty, day1, at(1, 0)),
		closed(model.Driving, at(1, 0), at(12, 30)),
		closed(model.OffDuty, at(12, 30), dayEnd),
	}

	tests := []struct {
		name    string
		log     model.DailyLog
		ivs     []model.DutyStatusInterval
		want    model.ViolationType
		sev     model.Severity
		minutes int
		desc    string
	}{
		{
			name:    "drive over 11",
			log:     model.DailyLog{TotalDriveTime: decimal.RequireFromString("11.5"), TotalOnDutyTime: decimal.RequireFromString("11.5")},
			ivs:     rested,
			want:    model.ViolationDailyDriveExceeded,
			sev:     model.SeverityHigh,
			minutes: 30,
			desc:    "Daily driving time of 11.50 hours exceeds 11-hour limit",
		},
		{
			name:    "duty over 14",
			log:     model.DailyLog{TotalOnDutyTime: decimal.NewFromInt(15)},
			ivs:     []model.DutyStatusInterval{closed(model.OnDutyNotDriving, day1, at(15, 0)), closed(model.OffDuty, at(15, 0), dayEnd)},
			want:    model.ViolationDailyDutyExceeded,
			sev:     model.SeverityHigh,
			minutes: 60,
			desc:    "Daily on-duty time of 15.00 hours exceeds 14-hour limit",
		},
		{
			name:    "cycle over 70",
			log:     model.DailyLog{CycleHoursUsed: decimal.NewFromInt(72)},
			ivs:     []model.DutyStatusInterval{closed(model.OffDuty, day1, dayEnd)},
			want:    model.ViolationCycleExceeded,
			sev:     model.SeverityCritical,
			minutes: 120,
			desc:    "8-day cycle hours of 72.00 exceeds 70-hour limit",
		},
		{
			name:    "short rest",
			log:     model.DailyLog{TotalDriveTime: decimal.NewFromInt(6), TotalOnDutyTime: decimal.NewFromInt(6)},
			ivs:     []model.DutyStatusInterval{closed(model.OffDuty, day1, at(8, 0)), closed(model.Driving, at(8, 0), at(14, 0)), closed(model.SleeperBerth, at(14, 0), at(18, 0)), closed(model.OnDutyNotDriving, at(18, 0), at(18, 30)), closed(model.OffDuty, at(18, 30), dayEnd)},
			want:    model.ViolationInsufficientRest,
			sev:     model.SeverityMedium,
			minutes: 120,
			desc:    "Insufficient rest: 8.0h (min: 10h)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.log, tt.ivs, day1, dayEnd)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Type)
			assert.Equal(t, tt.sev, got[0].Severity)
			assert.Equal(t, tt.minutes, got[0].DurationMinutes)
			assert.Equal(t, tt.desc, got[0].Description)
		})
	}
}

func TestDetectAtLimitsIsClean(t *testing.T) {
	l := model.DailyLog{
		TotalDriveTime:  decimal.NewFromInt(11),
		TotalOnDutyTime: decimal.NewFromInt(14),
		CycleHoursUsed:  decimal.NewFromInt(70),
	}
	ivs := []model.DutyStatusInterval{
		closed(model.OnDutyNotDriving, day1, at(3, 0)),
		closed(model.Driving, at(3, 0), at(14, 0)),
		closed(model.OffDuty, at(14, 0), day1.AddDate(0, 0, 1)),
	}
	assert.Empty(t, Detect(l, ivs, day1, day1.AddDate(0, 0, 1)))
}

func TestDetectRestRunsAcrossStatuses(t *testing.T) {
	// OFF then SB back to back count as one rest period.
	l := model.DailyLog{TotalDriveTime: decimal.NewFromInt(4), TotalOnDutyTime: decimal.NewFromInt(4)}
	ivs := []model.DutyStatusInterval{
		closed(model.Driving, day1, at(4, 0)),
		closed(model.OffDuty, at(4, 0), at(9, 0)),
		closed(model.SleeperBerth, at(9, 0), at(15, 0)),
		closed(model.OffDuty, at(15, 0), day1.AddDate(0, 0, 1)),
	}
	assert.Empty(t, Detect(l, ivs, day1, day1.AddDate(0, 0, 1)))
}

func TestExpectedSamples(t *testing.T) {
	assert.Equal(t, 0, ExpectedSamples(0))
	assert.Equal(t, 0, ExpectedSamples(59*time.Minute))
	assert.Equal(t, 1, ExpectedSamples(60*time.Minute))
	assert.Equal(t, 1, ExpectedSamples(61*time.Minute))
	assert.Equal(t, 2, ExpectedSamples(125*time.Minute))
}
