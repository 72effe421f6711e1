package eld

import (
	"time"

	"github.com/shopspring/decimal"

	"eldhos/internal/hos"
	"eldhos/internal/model"
)

// overlap is the part of iv inside [from, to); open intervals run to now.
func overlap(iv model.DutyStatusInterval, from, to, now time.Time) time.Duration {
	start := iv.Start
	if start.Before(from) {
		start = from
	}
	end := iv.EndOr(now)
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// StatusTotals are the minutes spent in each duty status.
type StatusTotals map[model.DutyStatus]time.Duration

func totalsWithin(ivs []model.DutyStatusInterval, from, to, now time.Time) StatusTotals {
	t := StatusTotals{}
	for _, iv := range ivs {
		t[iv.Status] += overlap(iv, from, to, now)
	}
	return t
}

func (t StatusTotals) Drive() time.Duration { return t[model.Driving] }
func (t StatusTotals) OnDuty() time.Duration {
	return t[model.Driving] + t[model.OnDutyNotDriving]
}
func (t StatusTotals) OffDuty() time.Duration {
	return t[model.OffDuty] + t[model.SleeperBerth]
}

// longestRest is the longest run of back-to-back OFF/SB time inside [from, to).
func longestRest(ivs []model.DutyStatusInterval, from, to, now time.Time) time.Duration {
	var best, run time.Duration
	var runEnd time.Time
	for _, iv := range ivs {
		d := overlap(iv, from, to, now)
		if d <= 0 {
			continue
		}
		start := iv.Start
		if start.Before(from) {
			start = from
		}
		if !iv.Status.Rest() {
			run = 0
			continue
		}
		if run > 0 && start.Equal(runEnd) {
			run += d
		} else {
			run = d
		}
		runEnd = start.Add(d)
		if run > best {
			best = run
		}
	}
	return best
}

// cycleHours sums on-duty time in [from, to), restarting the count after
// any run of rest of at least 34 hours.
func cycleHours(ivs []model.DutyStatusInterval, from, to, now time.Time) decimal.Decimal {
	var onDuty, rest time.Duration
	var restEnd time.Time
	for _, iv := range ivs {
		d := overlap(iv, from, to, now)
		if iv.Status.Rest() {
			full := overlap(iv, time.Time{}, to, now)
			if rest > 0 && iv.Start.Equal(restEnd) {
				rest += full
			} else {
				rest = full
			}
			restEnd = iv.Start.Add(full)
			if rest >= hos.RestartHours*time.Hour {
				onDuty = 0
			}
			continue
		}
		rest = 0
		if iv.Status.OnDuty() {
			onDuty += d
		}
	}
	return hos.Hours(onDuty)
}

// clip returns a copy of iv bounded to [from, to), or false when it does not overlap.
func clip(iv model.DutyStatusInterval, from, to, now time.Time) (model.DutyStatusInterval, bool) {
	if overlap(iv, from, to, now) <= 0 {
		return iv, false
	}
	if iv.Start.Before(from) {
		iv.Start = from
	}
	end := iv.EndOr(now)
	if end.After(to) {
		end = to
	}
	iv.End = &end
	return iv, true
}
