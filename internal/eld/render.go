package eld

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/metrics"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

type Format string

const (
	FormatPrintable  Format = "printable"
	FormatInspection Format = "inspection"
	FormatCSV        Format = "csv"
	FormatXLSX       Format = "xlsx"
)

func ParseFormat(v string) (Format, error) {
	switch f := Format(v); f {
	case FormatPrintable, FormatInspection, FormatCSV, FormatXLSX:
		return f, nil
	case "":
		return FormatPrintable, nil
	}
	return "", errs.Validationf("format", "unknown format %q, expected printable, inspection, csv or xlsx", v)
}

// CSVHeader is the fixed column set of the CSV export.
var CSVHeader = []string{"Date", "Time", "Duty Status", "Location", "Odometer", "Remarks"}

// MaxPrintedDocuments caps the supporting-document block of a printout.
const MaxPrintedDocuments = MaxDocumentsPerDay

type LogHeader struct {
	LogDate         string `json:"logDate"`
	StartingTime    string `json:"startingTime"`
	EndingTime      string `json:"endingTime"`
	Timezone        string `json:"timezone"`
	DriverID        string `json:"driverId"`
	DriverName      string `json:"driverName"`
	LicenseNumber   string `json:"licenseNumber,omitempty"`
	LicenseState    string `json:"licenseState,omitempty"`
	CoDriverName    string `json:"coDriverName,omitempty"`
	CarrierName     string `json:"carrierName,omitempty"`
	CarrierUSDOT    string `json:"carrierUsdot,omitempty"`
	HomeTerminal    string `json:"homeTerminal,omitempty"`
	ELDDeviceID     string `json:"eldDeviceId,omitempty"`
	Vehicle         string `json:"vehicle,omitempty"`
	VIN             string `json:"vin,omitempty"`
	ShippingDocs    string `json:"shippingDocuments,omitempty"`
	TotalMilesToday string `json:"totalMilesToday"`
}

type DutySummary struct {
	OffDuty     decimal.Decimal `json:"offDuty"`
	Sleeper     decimal.Decimal `json:"sleeperBerth"`
	Driving     decimal.Decimal `json:"driving"`
	OnDuty      decimal.Decimal `json:"onDutyNotDriving"`
	TotalOnDuty decimal.Decimal `json:"totalOnDuty"`
	Total       decimal.Decimal `json:"total"`
	CycleUsed   decimal.Decimal `json:"cycleHoursUsed"`
}

type DocumentEntry struct {
	Type            model.DocumentType `json:"type"`
	TypeLabel       string             `json:"typeLabel"`
	Title           string             `json:"title"`
	ReferenceNumber string             `json:"referenceNumber,omitempty"`
	Verified        bool               `json:"verified"`
}

type DocumentBlock struct {
	Items     []DocumentEntry `json:"items"`
	Total     int             `json:"total"`
	Truncated bool            `json:"truncated"`
}

type CertificationBlock struct {
	Status      string     `json:"status"`
	Certified   bool       `json:"certified"`
	CertifiedAt *time.Time `json:"certifiedAt,omitempty"`
	Method      string     `json:"method,omitempty"`
	Statement   string     `json:"statement"`
}

type ViolationEntry struct {
	Type            model.ViolationType `json:"type"`
	Label           string              `json:"label"`
	Severity        model.Severity      `json:"severity"`
	Description     string              `json:"description"`
	OccurredAt      string              `json:"occurredAt"`
	DurationMinutes int                 `json:"durationMinutes"`
	Resolved        bool                `json:"resolved"`
	Cleared         bool                `json:"cleared"`
}

type OdometerBlock struct {
	Starting    int             `json:"starting"`
	Ending      int             `json:"ending"`
	Miles       decimal.Decimal `json:"miles"`
	EngineHours decimal.Decimal `json:"engineHours"`
}

type LocationChange struct {
	Time     string           `json:"time"`
	Status   model.DutyStatus `json:"status"`
	Label    string           `json:"label"`
	Location string           `json:"location"`
	Remarks  string           `json:"remarks,omitempty"`
}

// PrintableLog is the full printout payload of a daily log.
type PrintableLog struct {
	Header          LogHeader          `json:"header"`
	Grid            *Grid              `json:"grid"`
	GridText        []string           `json:"gridText"`
	DutySummary     DutySummary        `json:"dutySummary"`
	Documents       DocumentBlock      `json:"documents"`
	Certification   CertificationBlock `json:"certification"`
	Violations      []ViolationEntry   `json:"violations"`
	Odometer        OdometerBlock      `json:"odometer"`
	LocationChanges []LocationChange   `json:"locationChanges"`
	DataWarnings    []string           `json:"dataWarnings,omitempty"`
}

// InspectionView is the condensed roadside inspection payload.
type InspectionView struct {
	Header          LogHeader          `json:"header"`
	GridText        []string           `json:"gridText"`
	DutySummary     DutySummary        `json:"dutySummary"`
	Certification   CertificationBlock `json:"certification"`
	Violations      []ViolationEntry   `json:"violations"`
	Odometer        OdometerBlock      `json:"odometer"`
	InspectionNotes []string           `json:"inspectionNotes"`
}

// Rendered is a daily log in one output format. Structured formats set
// Printable or Inspection; file formats set Data.
type Rendered struct {
	Format      Format          `json:"format"`
	ContentType string          `json:"-"`
	FileName    string          `json:"-"`
	Printable   *PrintableLog   `json:"printable,omitempty"`
	Inspection  *InspectionView `json:"inspection,omitempty"`
	Data        []byte          `json:"-"`
}

// logSnapshot is everything read for one render.
type logSnapshot struct {
	log        model.DailyLog
	driver     model.Driver
	vehicle    *model.Vehicle
	intervals  []model.DutyStatusInterval
	violations []model.Violation
	documents  []model.SupportingDocument
	dayStart   time.Time
	dayEnd     time.Time
	loc        *time.Location
}

func (s *Service) snapshot(ctx context.Context, logID string) (logSnapshot, error) {
	var snap logSnapshot
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		var err error
		if snap.log, err = r.GetLog(ctx, logID); err != nil {
			return notFound(err, "log", logID)
		}
		if snap.driver, err = s.getDriver(ctx, r, snap.log.DriverID); err != nil {
			return err
		}
		if snap.log.VehicleID != "" {
			v, err := r.GetVehicle(ctx, snap.log.VehicleID)
			if err == nil {
				snap.vehicle = &v
			} else if !errs.Is(err, errs.KindNotFound) {
				return err
			}
		}
		if snap.intervals, err = r.ListIntervals(ctx, store.IntervalFilter{LogID: snap.log.ID}); err != nil {
			return err
		}
		if snap.violations, err = r.ListViolations(ctx, snap.log.ID); err != nil {
			return err
		}
		snap.documents, err = r.ListDocuments(ctx, snap.log.DriverID, snap.log.LogDate, snap.log.LogDate)
		return err
	})
	if err != nil {
		return snap, err
	}
	snap.loc = snap.driver.TZ()
	snap.dayStart, snap.dayEnd, err = dayBounds(snap.log.LogDate, snap.loc)
	return snap, err
}

// RenderLog produces the log in the requested format from a consistent read.
// Rendering stops when ctx is cancelled.
func (s *Service) RenderLog(ctx context.Context, logID string, format Format) (Rendered, error) {
	start := time.Now()
	snap, err := s.snapshot(ctx, logID)
	if err != nil {
		return Rendered{}, err
	}
	if err := ctx.Err(); err != nil {
		return Rendered{}, err
	}

	out := Rendered{Format: format}
	base := fmt.Sprintf("eld-log-%s-%s", snap.log.LogDate, snap.driver.ID)
	switch format {
	case FormatPrintable, "":
		out.Format = FormatPrintable
		out.ContentType = "application/json"
		out.Printable = s.printable(snap)
	case FormatInspection:
		out.ContentType = "application/json"
		out.Inspection = inspection(s.printable(snap))
	case FormatCSV:
		out.ContentType = "text/csv"
		out.FileName = base + ".csv"
		out.Data, err = renderCSV(snap)
	case FormatXLSX:
		out.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		out.FileName = base + ".xlsx"
		out.Data, err = renderXLSX(ctx, snap)
	default:
		return Rendered{}, errs.Validationf("format", "unknown format %q", format)
	}
	if err != nil {
		return Rendered{}, err
	}
	if err := ctx.Err(); err != nil {
		return Rendered{}, err
	}
	metrics.RenderDuration.WithLabelValues(string(out.Format)).Observe(time.Since(start).Seconds())
	return out, nil
}

func (s *Service) printable(snap logSnapshot) *PrintableLog {
	l, d := snap.log, snap.driver
	now := s.now().UTC()
	grid := BuildGrid(l.LogDate, snap.intervals, snap.dayStart, snap.dayEnd, now)
	p := &PrintableLog{
		Grid:     grid,
		GridText: grid.Lines(),
		Header: LogHeader{
			LogDate:         l.LogDate,
			StartingTime:    "12:01 AM",
			EndingTime:      "12:00 AM",
			Timezone:        snap.loc.String(),
			DriverID:        d.ID,
			DriverName:      d.DisplayName(),
			LicenseNumber:   d.LicenseNumber,
			LicenseState:    d.LicenseState,
			CoDriverName:    d.CoDriverName,
			CarrierName:     d.CarrierName,
			CarrierUSDOT:    d.CarrierUSDOT,
			HomeTerminal:    d.HomeTerminalAddress,
			ELDDeviceID:     d.ELDDeviceID,
			TotalMilesToday: l.TotalMilesDriven.StringFixed(1),
		},
		DutySummary: DutySummary{
			OffDuty:     grid.Summary[model.OffDuty],
			Sleeper:     grid.Summary[model.SleeperBerth],
			Driving:     grid.Summary[model.Driving],
			OnDuty:      grid.Summary[model.OnDutyNotDriving],
			TotalOnDuty: grid.Summary[model.Driving].Add(grid.Summary[model.OnDutyNotDriving]),
			CycleUsed:   l.CycleHoursUsed,
		},
		Violations:      []ViolationEntry{},
		LocationChanges: []LocationChange{},
	}
	for _, h := range grid.Summary {
		p.DutySummary.Total = p.DutySummary.Total.Add(h)
	}
	if v := snap.vehicle; v != nil {
		p.Header.Vehicle = v.Describe()
		p.Header.VIN = v.VIN
	}
	seenDocs := map[string]bool{}
	for _, iv := range snap.intervals {
		if iv.ShippingDocNumber != "" && !seenDocs[iv.ShippingDocNumber] {
			if p.Header.ShippingDocs != "" {
				p.Header.ShippingDocs += ", "
			}
			p.Header.ShippingDocs += iv.ShippingDocNumber
			seenDocs[iv.ShippingDocNumber] = true
		}
		p.LocationChanges = append(p.LocationChanges, LocationChange{
			Time:     iv.Start.In(snap.loc).Format("15:04"),
			Status:   iv.Status,
			Label:    iv.Status.Label(),
			Location: iv.Location.Display(),
			Remarks:  iv.Remarks,
		})
	}

	if bad := grid.Mismatches(l); len(bad) > 0 {
		s.logger.Warn("grid hours disagree with stored log totals",
			zap.String("log_id", l.ID),
			zap.Strings("mismatches", bad))
		p.DataWarnings = bad
	}

	p.Documents = DocumentBlock{Items: []DocumentEntry{}, Total: len(snap.documents)}
	for i, doc := range snap.documents {
		if i == MaxPrintedDocuments {
			p.Documents.Truncated = true
			break
		}
		p.Documents.Items = append(p.Documents.Items, DocumentEntry{
			Type:            doc.Type,
			TypeLabel:       doc.Type.Label(),
			Title:           doc.Title,
			ReferenceNumber: doc.ReferenceNumber,
			Verified:        doc.IsVerified,
		})
	}

	p.Certification = CertificationBlock{Status: "NOT CERTIFIED", Statement: "I hereby certify that my data entries and my record of duty status for this 24-hour period are true and correct."}
	if l.IsCertified {
		p.Certification.Status = "ELECTRONICALLY SIGNED"
		p.Certification.Certified = true
		p.Certification.CertifiedAt = l.CertifiedAt
		p.Certification.Method = l.CertificationMethod
	}

	for _, v := range snap.violations {
		p.Violations = append(p.Violations, ViolationEntry{
			Type:            v.Type,
			Label:           v.Type.Label(),
			Severity:        v.Severity,
			Description:     v.Description,
			OccurredAt:      v.OccurredAt.In(snap.loc).Format("15:04"),
			DurationMinutes: v.DurationMinutes,
			Resolved:        v.IsResolved,
			Cleared:         v.ClearedAt != nil,
		})
	}

	p.Odometer = OdometerBlock{
		Starting:    l.StartingOdometer,
		Ending:      l.EndingOdometer,
		Miles:       l.TotalMilesDriven,
		EngineHours: p.DutySummary.TotalOnDuty,
	}
	return p
}

func inspection(p *PrintableLog) *InspectionView {
	notes := []string{}
	if p.Certification.Certified {
		notes = append(notes, "Log certified by driver")
	} else {
		notes = append(notes, "Log not yet certified by driver")
	}
	open := 0
	for _, v := range p.Violations {
		if !v.Resolved && !v.Cleared {
			open++
		}
	}
	if open > 0 {
		notes = append(notes, fmt.Sprintf("%d unresolved HOS violations", open))
	} else {
		notes = append(notes, "No unresolved HOS violations")
	}
	missing := 0
	for _, c := range p.LocationChanges {
		if c.Location == (*model.Location)(nil).Display() {
			missing++
		}
	}
	if missing > 0 {
		notes = append(notes, fmt.Sprintf("%d duty status changes without a recorded location", missing))
	}
	if p.Documents.Truncated {
		notes = append(notes, fmt.Sprintf("%d supporting documents on file, only %d retained per day", p.Documents.Total, MaxPrintedDocuments))
	}
	notes = append(notes, p.DataWarnings...)
	return &InspectionView{
		Header:          p.Header,
		GridText:        p.GridText,
		DutySummary:     p.DutySummary,
		Certification:   p.Certification,
		Violations:      p.Violations,
		Odometer:        p.Odometer,
		InspectionNotes: notes,
	}
}

func csvRows(snap logSnapshot) [][]string {
	rows := make([][]string, 0, len(snap.intervals))
	for _, iv := range snap.intervals {
		t := iv.Start.In(snap.loc)
		odo := ""
		if iv.Odometer != nil {
			odo = strconv.Itoa(*iv.Odometer)
		}
		rows = append(rows, []string{
			t.Format("01/02/2006"),
			t.Format("15:04"),
			iv.Status.Label(),
			iv.Location.Display(),
			odo,
			iv.Remarks,
		})
	}
	return rows
}

func renderCSV(snap logSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, err
	}
	if err := w.WriteAll(csvRows(snap)); err != nil {
		return nil, errs.Wrap(err, "write csv")
	}
	return buf.Bytes(), nil
}

func renderXLSX(ctx context.Context, snap logSnapshot) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	const logSheet, totalsSheet = "Log", "Totals"
	if err := f.SetSheetName("Sheet1", logSheet); err != nil {
		return nil, errs.Wrap(err, "xlsx sheet")
	}
	header := make([]any, len(CSVHeader))
	for i, h := range CSVHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(logSheet, "A1", &header); err != nil {
		return nil, errs.Wrap(err, "xlsx header")
	}
	for i, row := range csvRows(snap) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = v
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(logSheet, cell, &vals); err != nil {
			return nil, errs.Wrap(err, "xlsx row")
		}
	}

	if _, err := f.NewSheet(totalsSheet); err != nil {
		return nil, errs.Wrap(err, "xlsx sheet")
	}
	l := snap.log
	totals := [][]any{
		{"Log Date", l.LogDate},
		{"Driver", snap.driver.DisplayName()},
		{"Total Drive Hours", l.TotalDriveTime.InexactFloat64()},
		{"Total On Duty Hours", l.TotalOnDutyTime.InexactFloat64()},
		{"Total Off Duty Hours", l.TotalOffDutyTime.InexactFloat64()},
		{"Cycle Hours Used", l.CycleHoursUsed.InexactFloat64()},
		{"Miles Driven", l.TotalMilesDriven.InexactFloat64()},
		{"Starting Odometer", l.StartingOdometer},
		{"Ending Odometer", l.EndingOdometer},
		{"Compliant", l.IsCompliant},
		{"Certified", l.IsCertified},
	}
	for i, row := range totals {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(totalsSheet, cell, &row); err != nil {
			return nil, errs.Wrap(err, "xlsx totals")
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errs.Wrap(err, "xlsx write")
	}
	return buf.Bytes(), nil
}
