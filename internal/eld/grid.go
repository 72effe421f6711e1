package eld

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"eldhos/internal/hos"
	"eldhos/internal/model"
)

const (
	MinutesPerDay = 24 * 60
	// quarter-hour resolution of the text rendering
	columnMinutes = 15
)

// Physical size of the printed graph grid, in inches.
const (
	GridWidthInches     = 8.0
	GridHeightInches    = 2.0
	MinGridWidthInches  = 6.0
	MinGridHeightInches = 1.5
)

type gridRowStyle struct {
	label string
	glyph rune
}

var gridStyles = map[model.DutyStatus]gridRowStyle{
	model.OffDuty:          {"OFF DUTY", ' '},
	model.SleeperBerth:     {"SLEEPER BERTH", '▓'},
	model.Driving:          {"DRIVING", '█'},
	model.OnDutyNotDriving: {"ON DUTY (NOT DRIVING)", '▒'},
}

// GridSegment is a run of minutes [Start, End) on one row.
type GridSegment struct {
	Start int `json:"startMinute"`
	End   int `json:"endMinute"`
}

type GridRow struct {
	Row      int              `json:"row"`
	Status   model.DutyStatus `json:"status"`
	Label    string           `json:"label"`
	Glyph    string           `json:"glyph"`
	Minutes  int              `json:"minutes"`
	Hours    decimal.Decimal  `json:"hours"`
	Segments []GridSegment    `json:"segments"`
	Text     string           `json:"text"`
}

// Grid is the duty-status graph for one home-terminal day. Minutes is the
// length of that day: 1380 or 1500 on daylight-saving transitions.
type Grid struct {
	Date         string                               `json:"date"`
	Minutes      int                                  `json:"minutes"`
	Rows         []GridRow                            `json:"rows"`
	HourLines    []int                                `json:"hourLines"`
	WidthInches  float64                              `json:"widthInches"`
	HeightInches float64                              `json:"heightInches"`
	MinWidth     float64                              `json:"minWidthInches"`
	MinHeight    float64                              `json:"minHeightInches"`
	Summary      map[model.DutyStatus]decimal.Decimal `json:"hoursSummary"`
	cells        []model.DutyStatus
}

// StatusAt returns the status drawn at minute m after the day's midnight.
func (g *Grid) StatusAt(m int) model.DutyStatus {
	if m < 0 || m >= len(g.cells) {
		return model.OffDuty
	}
	return g.cells[m]
}

// BuildGrid fills one cell per elapsed minute of [dayStart, dayEnd). Each
// minute takes the first interval, in time order, whose [start, end) contains
// it; uncovered minutes are off duty.
func BuildGrid(date string, ivs []model.DutyStatusInterval, dayStart, dayEnd, now time.Time) *Grid {
	n := int(dayEnd.Sub(dayStart) / time.Minute)
	if n <= 0 {
		n = MinutesPerDay
	}
	g := &Grid{
		Date:         date,
		Minutes:      n,
		WidthInches:  GridWidthInches,
		HeightInches: GridHeightInches,
		MinWidth:     MinGridWidthInches,
		MinHeight:    MinGridHeightInches,
		Summary:      map[model.DutyStatus]decimal.Decimal{},
		cells:        make([]model.DutyStatus, n),
	}
	hours := (n + 59) / 60
	for h := 0; h <= hours; h += 3 {
		g.HourLines = append(g.HourLines, h)
	}
	if g.HourLines[len(g.HourLines)-1] != hours {
		g.HourLines = append(g.HourLines, hours)
	}
	for m := 0; m < n; m++ {
		t := dayStart.Add(time.Duration(m) * time.Minute)
		g.cells[m] = model.OffDuty
		for _, iv := range ivs {
			if !t.Before(iv.Start) && t.Before(iv.EndOr(now)) {
				g.cells[m] = iv.Status
				break
			}
		}
	}

	for i, st := range model.DutyStatuses {
		style := gridStyles[st]
		row := GridRow{Row: i, Status: st, Label: style.label, Glyph: string(style.glyph), Segments: []GridSegment{}}
		open := -1
		for m := 0; m <= n; m++ {
			on := m < n && g.cells[m] == st
			if on {
				row.Minutes++
				if open < 0 {
					open = m
				}
			} else if open >= 0 {
				row.Segments = append(row.Segments, GridSegment{Start: open, End: m})
				open = -1
			}
		}
		var b strings.Builder
		for c := 0; c < g.columns(); c++ {
			if g.cells[c*columnMinutes] == st {
				b.WriteRune(style.glyph)
			} else if style.glyph == ' ' {
				b.WriteRune('·')
			} else {
				b.WriteRune(' ')
			}
		}
		row.Text = b.String()
		row.Hours = hos.MinutesToHours(int64(row.Minutes))
		g.Summary[st] = row.Hours
		g.Rows = append(g.Rows, row)
	}
	return g
}

func (g *Grid) columns() int {
	return (len(g.cells) + columnMinutes - 1) / columnMinutes
}

// Lines renders the grid as labelled text rows with an hour ruler.
func (g *Grid) Lines() []string {
	const labelWidth = 22
	cols := g.columns()
	ruler := []rune(strings.Repeat(" ", cols))
	for _, h := range g.HourLines {
		if c := h * 60 / columnMinutes; c < cols {
			ruler[c] = '|'
		}
	}
	out := []string{strings.Repeat(" ", labelWidth) + string(ruler)}
	for _, r := range g.Rows {
		label := r.Label
		if len(label) < labelWidth {
			label += strings.Repeat(" ", labelWidth-len(label))
		}
		out = append(out, label+r.Text+" "+r.Hours.StringFixed(2))
	}
	return out
}

// Mismatches lists statuses whose grid hours disagree with the stored log
// totals by more than a hundredth of an hour.
func (g *Grid) Mismatches(l model.DailyLog) []string {
	tol := decimal.NewFromFloat(0.01)
	check := func(name string, grid, stored decimal.Decimal) []string {
		if grid.Sub(stored).Abs().GreaterThan(tol) {
			return []string{name + ": grid " + grid.StringFixed(2) + "h, stored " + stored.StringFixed(2) + "h"}
		}
		return nil
	}
	drive := g.Summary[model.Driving]
	var out []string
	out = append(out, check("driving", drive, l.TotalDriveTime)...)
	out = append(out, check("on duty", drive.Add(g.Summary[model.OnDutyNotDriving]), l.TotalOnDutyTime)...)
	out = append(out, check("off duty", g.Summary[model.OffDuty].Add(g.Summary[model.SleeperBerth]), l.TotalOffDutyTime)...)
	return out
}
