package hos

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestCanDrivePriority(t *testing.T) {
	cases := []struct {
		name               string
		cycle, drive, duty float64
		active             bool
		ok                 bool
		reason             string
	}{
		{"fresh", 0, 0, 0, true, true, ReasonOK},
		{"cycle at limit", 70, 0, 0, true, false, ReasonCycle},
		{"cycle wins over drive", 72, 11, 14, false, false, ReasonCycle},
		{"drive at limit", 10, 11, 0, true, false, ReasonDrive},
		{"drive wins over duty", 10, 11.5, 14, true, false, ReasonDrive},
		{"duty at limit", 10, 5, 14, true, false, ReasonDuty},
		{"inactive last", 10, 5, 5, false, false, ReasonInactive},
		{"just under", 69.99, 10.99, 13.99, true, true, ReasonOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := CanDrive(d(tc.cycle), d(tc.drive), d(tc.duty), tc.active)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestCanDriveFailsClosedGrid(t *testing.T) {
	for cycle := 60.0; cycle <= 75; cycle += 2.5 {
		for drive := 8.0; drive <= 13; drive += 0.5 {
			for duty := 11.0; duty <= 16; duty += 0.5 {
				ok, _ := CanDrive(d(cycle), d(drive), d(duty), true)
				tripped := cycle >= 70 || drive >= 11 || duty >= 14
				require.Equal(t, !tripped, ok, "cycle=%v drive=%v duty=%v", cycle, drive, duty)
			}
		}
	}
}

func TestAvailableHours(t *testing.T) {
	a := AvailableHours(d(65), d(3), d(4))
	assert.True(t, a.Cycle.Equal(d(5)))
	assert.True(t, a.RemainingDailyDrive.Equal(d(8)))
	assert.True(t, a.Drive.Equal(d(5)), "drive capped by cycle")
	assert.True(t, a.Duty.Equal(d(5)))
	assert.False(t, a.NeedsRestart)

	a = AvailableHours(d(72), d(12), d(15))
	assert.True(t, a.Cycle.IsZero())
	assert.True(t, a.Drive.IsZero())
	assert.True(t, a.Duty.IsZero())
	assert.True(t, a.NeedsRestart)
}

func TestSuggestRestart(t *testing.T) {
	pickup := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	_, ok := SuggestRestart(d(59.5), pickup)
	assert.False(t, ok)

	s, ok := SuggestRestart(d(60), pickup)
	require.True(t, ok)
	assert.Equal(t, pickup.Add(-34*time.Hour), s.Start)
	assert.Equal(t, pickup, s.End)
	assert.Equal(t, 34, s.Hours)
}

func TestOverageMinutes(t *testing.T) {
	assert.Equal(t, 30, OverageMinutes(d(11.5), MaxDailyDrive))
	assert.Equal(t, 120, OverageMinutes(d(72), MaxCycle))
	assert.True(t, Hours(90*time.Minute).Equal(d(1.5)))
}
