// Package hos holds the FMCSA property-carrying Hours of Service limits and
// the pure functions that evaluate a driver's usage against them.
package hos

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MaxDailyDriveHours = 11
	MaxDailyDutyHours  = 14
	MaxCycleHours      = 70
	MinOffDutyHours    = 10
	RestartHours       = 34
	// RestartWarningHours is the cycle usage at which a restart is suggested.
	RestartWarningHours = 60
	CycleDays           = 8
)

var (
	MaxDailyDrive = decimal.NewFromInt(MaxDailyDriveHours)
	MaxDailyDuty  = decimal.NewFromInt(MaxDailyDutyHours)
	MaxCycle      = decimal.NewFromInt(MaxCycleHours)
	MinOffDuty    = decimal.NewFromInt(MinOffDutyHours)
	RestartWarn   = decimal.NewFromInt(RestartWarningHours)
)

const (
	ReasonCycle    = "70-hour cycle limit reached"
	ReasonDrive    = "11-hour daily drive limit reached"
	ReasonDuty     = "14-hour daily duty limit reached"
	ReasonInactive = "Driver is inactive"
	ReasonOK       = "Can drive"
)

// Usage is the hours a driver has consumed against each limit.
type Usage struct {
	Cycle      decimal.Decimal `json:"cycleHours"`
	DailyDrive decimal.Decimal `json:"dailyDriveHours"`
	DailyDuty  decimal.Decimal `json:"dailyDutyHours"`
}

// CanDrive fails closed: any counter at or above its limit, or an inactive
// driver, refuses driving. Checks run cycle, drive, duty, then active flag.
func CanDrive(cycle, dailyDrive, dailyDuty decimal.Decimal, active bool) (bool, string) {
	if cycle.GreaterThanOrEqual(MaxCycle) {
		return false, ReasonCycle
	}
	if dailyDrive.GreaterThanOrEqual(MaxDailyDrive) {
		return false, ReasonDrive
	}
	if dailyDuty.GreaterThanOrEqual(MaxDailyDuty) {
		return false, ReasonDuty
	}
	if !active {
		return false, ReasonInactive
	}
	return true, ReasonOK
}

// Availability is what remains before a limit is hit.
type Availability struct {
	Drive               decimal.Decimal `json:"availableDriveHours"`
	Duty                decimal.Decimal `json:"availableDutyHours"`
	Cycle               decimal.Decimal `json:"remainingCycleHours"`
	RemainingDailyDrive decimal.Decimal `json:"remainingDailyDriveHours"`
	RemainingDailyDuty  decimal.Decimal `json:"remainingDailyDutyHours"`
	NeedsRestart        bool            `json:"needsRestart"`
}

// AvailableHours computes remaining hours; drive and duty are capped by the cycle.
func AvailableHours(cycle, dailyDrive, dailyDuty decimal.Decimal) Availability {
	remCycle := floorZero(MaxCycle.Sub(cycle))
	remDrive := floorZero(MaxDailyDrive.Sub(dailyDrive))
	remDuty := floorZero(MaxDailyDuty.Sub(dailyDuty))
	return Availability{
		Drive:               decimal.Min(remCycle, remDrive),
		Duty:                decimal.Min(remCycle, remDuty),
		Cycle:               remCycle,
		RemainingDailyDrive: remDrive,
		RemainingDailyDuty:  remDuty,
		NeedsRestart:        remCycle.LessThanOrEqual(decimal.Zero),
	}
}

func (u Usage) CanDrive(active bool) (bool, string) {
	return CanDrive(u.Cycle, u.DailyDrive, u.DailyDuty, active)
}

func (u Usage) Available() Availability {
	return AvailableHours(u.Cycle, u.DailyDrive, u.DailyDuty)
}

// RestartSuggestion is a recommended 34-hour restart window.
type RestartSuggestion struct {
	Start  time.Time `json:"restartStart"`
	End    time.Time `json:"restartEnd"`
	Hours  int       `json:"hoursToRestart"`
	Reason string    `json:"reason"`
}

// SuggestRestart returns a window ending at the next mandatory event when
// cycle usage has reached the warning threshold.
func SuggestRestart(cycleUsed decimal.Decimal, nextEvent time.Time) (RestartSuggestion, bool) {
	if cycleUsed.LessThan(RestartWarn) || nextEvent.IsZero() {
		return RestartSuggestion{}, false
	}
	return RestartSuggestion{
		Start:  nextEvent.Add(-RestartHours * time.Hour),
		End:    nextEvent,
		Hours:  RestartHours,
		Reason: "Approaching 70-hour cycle limit",
	}, true
}

// Hours converts a duration to hours rounded to two places.
func Hours(d time.Duration) decimal.Decimal {
	return MinutesToHours(int64(d / time.Minute))
}

// MinutesToHours converts whole minutes to hours rounded to two places.
func MinutesToHours(minutes int64) decimal.Decimal {
	return decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60)).Round(2)
}

// OverageMinutes is (value - limit) * 60, truncated to whole minutes.
func OverageMinutes(value, limit decimal.Decimal) int {
	return int(value.Sub(limit).Mul(decimal.NewFromInt(60)).IntPart())
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
