package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Location is a position fix with optional address context.
type Location struct {
	Lat         float64        `json:"lat"`
	Lon         float64        `json:"lon"`
	Method      LocationMethod `json:"method,omitempty"`
	Description string         `json:"description,omitempty"`
	Address     string         `json:"address,omitempty"`
	City        string         `json:"city,omitempty"`
	State       string         `json:"state,omitempty"`
	PostalCode  string         `json:"postalCode,omitempty"`
}

// Display returns the human readable form used on printouts.
func (l *Location) Display() string {
	switch {
	case l == nil:
		return "Location not recorded"
	case l.Description != "":
		return l.Description
	case l.City != "" && l.State != "":
		return l.City + ", " + l.State
	default:
		return fmt.Sprintf("%.4f, %.4f", l.Lat, l.Lon)
	}
}

type Driver struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	LicenseNumber        string     `json:"licenseNumber"`
	LicenseState         string     `json:"licenseState,omitempty"`
	CoDriverName         string     `json:"coDriverName,omitempty"`
	CarrierName          string     `json:"carrierName,omitempty"`
	CarrierUSDOT         string     `json:"carrierUsdot,omitempty"`
	HomeTerminalAddress  string     `json:"homeTerminalAddress,omitempty"`
	HomeTerminalTimezone string     `json:"homeTerminalTimezone"`
	ELDDeviceID          string     `json:"eldDeviceId,omitempty"`
	IsActive             bool       `json:"isActive"`
	CertificationMethod  string     `json:"certificationMethod,omitempty"`
	LastCertifiedAt      *time.Time `json:"lastCertifiedAt,omitempty"`

	// Seeded counters, used when the timeline has no history for the driver.
	CycleHours      decimal.Decimal `json:"cycleHours"`
	DailyDriveHours decimal.Decimal `json:"dailyDriveHours"`
	DailyDutyHours  decimal.Decimal `json:"dailyDutyHours"`

	// Current-status read model, written together with the timeline.
	CurrentStatus      DutyStatus `json:"currentStatus"`
	LastStatusChangeAt *time.Time `json:"lastStatusChangeAt,omitempty"`
	LastStatusLocation string     `json:"lastStatusLocation,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// TZ returns the home terminal time zone, falling back to UTC.
func (d Driver) TZ() *time.Location {
	if d.HomeTerminalTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.HomeTerminalTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DisplayName includes the co-driver for team operations.
func (d Driver) DisplayName() string {
	if d.CoDriverName != "" {
		return d.Name + " / " + d.CoDriverName + " (Team)"
	}
	return d.Name
}

type Vehicle struct {
	ID           string          `json:"id"`
	UnitNumber   string          `json:"unitNumber,omitempty"`
	LicensePlate string          `json:"licensePlate,omitempty"`
	VIN          string          `json:"vin,omitempty"`
	Make         string          `json:"make,omitempty"`
	Model        string          `json:"model,omitempty"`
	Odometer     int             `json:"odometer"`
	EngineHours  decimal.Decimal `json:"engineHours"`
	IsActive     bool            `json:"isActive"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Describe returns "plate - make model".
func (v Vehicle) Describe() string {
	if v.LicensePlate == "" && v.Make == "" && v.Model == "" {
		return v.UnitNumber
	}
	return fmt.Sprintf("%s - %s %s", v.LicensePlate, v.Make, v.Model)
}

type Trip struct {
	ID                  string          `json:"id"`
	DriverID            string          `json:"driverId"`
	VehicleID           string          `json:"vehicleId"`
	CurrentLocation     Location        `json:"currentLocation"`
	PickupLocation      Location        `json:"pickupLocation"`
	DropoffLocation     Location        `json:"dropoffLocation"`
	CycleHours          decimal.Decimal `json:"cycleHours"`
	DailyDriveHours     decimal.Decimal `json:"dailyDriveHours"`
	DailyDutyHours      decimal.Decimal `json:"dailyDutyHours"`
	TotalDistanceMiles  decimal.Decimal `json:"totalDistanceMiles"`
	EstimatedDriveHours decimal.Decimal `json:"estimatedDriveHours"`
	StartOdometer       int             `json:"startOdometer"`
	ShippingDocNumber   string          `json:"shippingDocNumber,omitempty"`
	Status              string          `json:"status"`
	Notes               string          `json:"notes,omitempty"`
	Stops               []Stop          `json:"stops,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

type Stop struct {
	ID              string    `json:"id"`
	TripID          string    `json:"tripId"`
	Sequence        int       `json:"sequence"`
	Type            StopType  `json:"type"`
	Location        Location  `json:"location"`
	Arrival         time.Time `json:"arrival"`
	Departure       time.Time `json:"departure"`
	DurationMinutes int       `json:"durationMinutes"`
	IsMandatory     bool      `json:"isMandatory"`
	Description     string    `json:"description,omitempty"`
}

// DutyStatusInterval is one continuous period in a single duty status.
// Timeline intervals have an empty LogID; intervals materialized into a
// DailyLog carry the log's ID and are always closed.
type DutyStatusInterval struct {
	ID                string           `json:"id"`
	DriverID          string           `json:"driverId"`
	VehicleID         string           `json:"vehicleId"`
	LogID             string           `json:"logId,omitempty"`
	Status            DutyStatus       `json:"status"`
	PreviousStatus    DutyStatus       `json:"previousStatus,omitempty"`
	Start             time.Time        `json:"start"`
	End               *time.Time       `json:"end,omitempty"`
	Location          *Location        `json:"location,omitempty"`
	Trigger           LocationTrigger  `json:"trigger"`
	Odometer          *int             `json:"odometer,omitempty"`
	EngineHours       *decimal.Decimal `json:"engineHours,omitempty"`
	Remarks           string           `json:"remarks,omitempty"`
	ShippingDocNumber string           `json:"shippingDocNumber,omitempty"`
	IsAutomatic       bool             `json:"isAutomatic"`
	IsEdited          bool             `json:"isEdited"`
	IsCertified       bool             `json:"isCertified"`
	CertifiedAt       *time.Time       `json:"certifiedAt,omitempty"`
}

// Open reports whether the interval is still ongoing.
func (iv DutyStatusInterval) Open() bool { return iv.End == nil }

// EndOr returns End, or now for an open interval.
func (iv DutyStatusInterval) EndOr(now time.Time) time.Time {
	if iv.End != nil {
		return *iv.End
	}
	return now
}

// Duration is the interval length, measured to now when open.
func (iv DutyStatusInterval) Duration(now time.Time) time.Duration {
	return iv.EndOr(now).Sub(iv.Start)
}

// Covers reports whether t falls in [Start, End).
func (iv DutyStatusInterval) Covers(t time.Time) bool {
	if t.Before(iv.Start) {
		return false
	}
	return iv.End == nil || iv.End.After(t)
}

// LocationIntervalSample is a 60-minute position fix taken while driving.
type LocationIntervalSample struct {
	ID             string          `json:"id"`
	IntervalID     string          `json:"intervalId"`
	DriverID       string          `json:"driverId"`
	VehicleID      string          `json:"vehicleId"`
	Sequence       int             `json:"sequence"`
	Location       Location        `json:"location"`
	RecordedAt     time.Time       `json:"recordedAt"`
	Odometer       int             `json:"odometer"`
	EngineHours    decimal.Decimal `json:"engineHours"`
	MilesSinceLast int             `json:"milesSinceLast"`
}

// DailyLog is one calendar day's record of duty status for a driver.
type DailyLog struct {
	ID                  string          `json:"id"`
	DriverID            string          `json:"driverId"`
	VehicleID           string          `json:"vehicleId"`
	TripID              string          `json:"tripId,omitempty"`
	LogDate             string          `json:"logDate"`
	StartingOdometer    int             `json:"startingOdometer"`
	EndingOdometer      int             `json:"endingOdometer"`
	TotalMilesDriven    decimal.Decimal `json:"totalMilesDriven"`
	TotalDriveTime      decimal.Decimal `json:"totalDriveTime"`
	TotalOnDutyTime     decimal.Decimal `json:"totalOnDutyTime"`
	TotalOffDutyTime    decimal.Decimal `json:"totalOffDutyTime"`
	CycleHoursUsed      decimal.Decimal `json:"cycleHoursUsed"`
	IsCompliant         bool            `json:"isCompliant"`
	ViolationSummary    string          `json:"violationSummary,omitempty"`
	IsCertified         bool            `json:"isCertified"`
	CertifiedAt         *time.Time      `json:"certifiedAt,omitempty"`
	CertificationMethod string          `json:"certificationMethod,omitempty"`
	Signature           string          `json:"-"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

type Violation struct {
	ID              string        `json:"id"`
	LogID           string        `json:"logId"`
	DriverID        string        `json:"driverId"`
	Type            ViolationType `json:"type"`
	Severity        Severity      `json:"severity"`
	Description     string        `json:"description"`
	OccurredAt      time.Time     `json:"occurredAt"`
	DurationMinutes int           `json:"durationMinutes"`
	IsResolved      bool          `json:"isResolved"`
	ResolutionNotes string        `json:"resolutionNotes,omitempty"`
	ResolvedAt      *time.Time    `json:"resolvedAt,omitempty"`

	// ClearedAt is set while the latest rebuild of the log no longer detects
	// this violation. The record is kept and can still be resolved.
	ClearedAt *time.Time `json:"clearedAt,omitempty"`
}

// SupportingDocument is retained paperwork for a driver's day. File bytes
// live elsewhere; only metadata is kept here.
type SupportingDocument struct {
	ID              string       `json:"id"`
	DriverID        string       `json:"driverId"`
	VehicleID       string       `json:"vehicleId,omitempty"`
	TripID          string       `json:"tripId,omitempty"`
	Type            DocumentType `json:"type"`
	DocumentDate    string       `json:"documentDate"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	ReferenceNumber string       `json:"referenceNumber,omitempty"`
	FileName        string       `json:"fileName,omitempty"`
	FileSize        int64        `json:"fileSize,omitempty"`
	IsRequired      bool         `json:"isRequired"`
	IsVerified      bool         `json:"isVerified"`
	IntervalIDs     []string     `json:"intervalIds,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// DailyDocumentSummary is derived from the documents of one driver-day.
type DailyDocumentSummary struct {
	DriverID             string          `json:"driverId"`
	Date                 string          `json:"date"`
	DocumentCount        int             `json:"documentCount"`
	RequiredCount        int             `json:"requiredCount"`
	HasMinimumDocuments  bool            `json:"hasMinimumDocuments"`
	ExceedsLimit         bool            `json:"exceedsLimit"`
	HasBillOfLading      bool            `json:"hasBillOfLading"`
	HasDispatchRecord    bool            `json:"hasDispatchRecord"`
	HasFuelReceipts      bool            `json:"hasFuelReceipts"`
	AllDocumentsVerified bool            `json:"allDocumentsVerified"`
	DrivingTime          decimal.Decimal `json:"drivingTime"`
	TotalDutyTime        decimal.Decimal `json:"totalDutyTime"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

type AuditEntry struct {
	ID          string      `json:"id"`
	LogID       string      `json:"logId"`
	Action      AuditAction `json:"action"`
	Description string      `json:"description"`
	UserName    string      `json:"userName,omitempty"`
	UserType    string      `json:"userType,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type ComplianceAlert struct {
	ID              string     `json:"id"`
	DriverID        string     `json:"driverId"`
	Type            AlertType  `json:"type"`
	Severity        Severity   `json:"severity"`
	Status          string     `json:"status"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	AlertDate       string     `json:"alertDate"`
	LogID           string     `json:"logId,omitempty"`
	ViolationID     string     `json:"violationId,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Subscription is an outbound webhook registration.
type Subscription struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
