// Package planner lays out the stops of a trip so the driver stays inside
// the Hours of Service limits. It is a greedy heuristic: breaks are placed
// when a limit would otherwise be reached, not by searching for an optimal
// schedule.
//
// The 70-hour cycle is checked once, against the whole trip, and a 34-hour
// restart is placed up front when the trip would not fit. The plan does not
// roll the eight-day window forward on long trips; daily logs built from the
// plan recompute the cycle per day.
package planner

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"eldhos/internal/hos"
	"eldhos/internal/model"
)

const (
	PickupDuration    = 60 * time.Minute
	DropoffDuration   = 60 * time.Minute
	FuelDuration      = 30 * time.Minute
	BreakDuration     = hos.MinOffDutyHours * time.Hour
	RestartDuration   = hos.RestartHours * time.Hour
	PreTripInspection = 15 * time.Minute

	DefaultFuelIntervalMiles = 1000.0
	DefaultSpeedMPH          = 60.0
)

// Leg is one routed stretch of the trip.
type Leg struct {
	Miles float64
	Hours float64
}

type Input struct {
	Start           time.Time
	Current         model.Location
	Pickup          model.Location
	Dropoff         model.Location
	ToPickup        Leg
	ToDropoff       Leg
	CycleHours      decimal.Decimal
	DailyDriveHours decimal.Decimal
	DailyDutyHours  decimal.Decimal
	FuelEveryMiles  float64
	SpeedMPH        float64
}

type Plan struct {
	Stops            []model.Stop    `json:"stops"`
	TotalMiles       decimal.Decimal `json:"totalMiles"`
	TotalDriveHours  decimal.Decimal `json:"totalDriveHours"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	RestartScheduled bool            `json:"restartScheduled"`
	Breaks           int             `json:"breaks"`
	FuelStops        int             `json:"fuelStops"`
}

type clock struct {
	in        Input
	t         time.Time
	drive     time.Duration
	duty      time.Duration
	cycle     time.Duration
	sinceFuel float64
	plan      Plan
}

func hoursToDuration(h decimal.Decimal) time.Duration {
	return time.Duration(h.Mul(decimal.NewFromInt(3600)).IntPart()) * time.Second
}

// Make schedules pickup, dropoff, fuel stops, 10-hour breaks and, when the
// cycle cannot cover the trip, a 34-hour restart before driving.
func Make(in Input) Plan {
	if in.FuelEveryMiles <= 0 {
		in.FuelEveryMiles = DefaultFuelIntervalMiles
	}
	if in.SpeedMPH <= 0 {
		in.SpeedMPH = DefaultSpeedMPH
	}
	c := &clock{
		in:    in,
		t:     in.Start,
		drive: hoursToDuration(in.DailyDriveHours),
		duty:  hoursToDuration(in.DailyDutyHours),
		cycle: hoursToDuration(in.CycleHours),
	}
	c.plan.Start = in.Start

	driveHours := c.legHours(in.ToPickup) + c.legHours(in.ToDropoff)
	if c.cycle+hoursToDuration(decimal.NewFromFloat(driveHours)) > hos.MaxCycleHours*time.Hour {
		c.rest(model.StopRest, in.Current, RestartDuration, "34-hour restart")
		c.plan.RestartScheduled = true
	}

	c.driveLeg(in.Current, in.Pickup, in.ToPickup)
	c.work(model.StopPickup, in.Pickup, PickupDuration, "Pickup")
	c.driveLeg(in.Pickup, in.Dropoff, in.ToDropoff)
	c.work(model.StopDropoff, in.Dropoff, DropoffDuration, "Dropoff")

	c.plan.End = c.t
	c.plan.TotalMiles = decimal.NewFromFloat(in.ToPickup.Miles + in.ToDropoff.Miles).Round(2)
	c.plan.TotalDriveHours = decimal.NewFromFloat(driveHours).Round(2)
	return c.plan
}

func (c *clock) legHours(l Leg) float64 {
	if l.Hours > 0 {
		return l.Hours
	}
	return l.Miles / c.in.SpeedMPH
}

func (c *clock) add(typ model.StopType, loc model.Location, d time.Duration, mandatory bool, desc string) {
	st := model.Stop{
		Sequence:        len(c.plan.Stops) + 1,
		Type:            typ,
		Location:        loc,
		Arrival:         c.t,
		Departure:       c.t.Add(d),
		DurationMinutes: int(d / time.Minute),
		IsMandatory:     mandatory,
		Description:     desc,
	}
	c.plan.Stops = append(c.plan.Stops, st)
	c.t = st.Departure
}

// work is an on-duty stop; pickups and dropoffs start with an inspection.
func (c *clock) work(typ model.StopType, loc model.Location, d time.Duration, desc string) {
	if typ == model.StopPickup || typ == model.StopDropoff {
		c.t = c.t.Add(PreTripInspection)
		c.duty += PreTripInspection
		c.cycle += PreTripInspection
	}
	c.add(typ, loc, d, true, desc)
	c.duty += d
	c.cycle += d
}

func (c *clock) rest(typ model.StopType, loc model.Location, d time.Duration, desc string) {
	c.add(typ, loc, d, true, desc)
	c.drive, c.duty = 0, 0
	if d >= RestartDuration {
		c.cycle = 0
	}
	if typ == model.StopMandatoryBreak {
		c.plan.Breaks++
	}
}

func (c *clock) available() time.Duration {
	a := hos.MaxDailyDriveHours*time.Hour - c.drive
	if d := hos.MaxDailyDutyHours*time.Hour - c.duty; d < a {
		a = d
	}
	if d := hos.MaxCycleHours*time.Hour - c.cycle; d < a {
		a = d
	}
	return a
}

func (c *clock) driveLeg(from, to model.Location, leg Leg) {
	if leg.Miles <= 0 {
		return
	}
	speed := c.in.SpeedMPH
	if leg.Hours > 0 {
		speed = leg.Miles / leg.Hours
	}
	done := 0.0
	for leg.Miles-done > 1e-6 {
		if c.sinceFuel >= c.in.FuelEveryMiles-1e-6 {
			c.work(model.StopFuel, lerp(from, to, done/leg.Miles), FuelDuration, "Fuel stop")
			c.sinceFuel = 0
			c.plan.FuelStops++
			continue
		}
		if c.available() < time.Minute {
			here := lerp(from, to, done/leg.Miles)
			if hos.MaxCycleHours*time.Hour-c.cycle < time.Minute {
				c.rest(model.StopRest, here, RestartDuration, "34-hour restart")
				c.plan.RestartScheduled = true
			} else {
				c.rest(model.StopMandatoryBreak, here, BreakDuration, "10-hour break")
			}
			continue
		}
		chunk := leg.Miles - done
		if m := c.available().Hours() * speed; m < chunk {
			chunk = m
		}
		if m := c.in.FuelEveryMiles - c.sinceFuel; m < chunk {
			chunk = m
		}
		d := time.Duration(math.Round(chunk / speed * float64(time.Hour)))
		c.t = c.t.Add(d)
		c.drive += d
		c.duty += d
		c.cycle += d
		c.sinceFuel += chunk
		done += chunk
	}
}

func lerp(a, b model.Location, f float64) model.Location {
	return model.Location{
		Lat:         a.Lat + (b.Lat-a.Lat)*f,
		Lon:         a.Lon + (b.Lon-a.Lon)*f,
		Method:      model.MethodManual,
		Description: "En route",
	}
}
