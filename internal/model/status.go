package model

import "strings"

// DutyStatus is one of the four FMCSA duty statuses.
type DutyStatus string

const (
	OffDuty          DutyStatus = "OFF"
	SleeperBerth     DutyStatus = "SB"
	Driving          DutyStatus = "D"
	OnDutyNotDriving DutyStatus = "ON"
)

// DutyStatuses lists statuses in graph row order.
var DutyStatuses = []DutyStatus{OffDuty, SleeperBerth, Driving, OnDutyNotDriving}

func (s DutyStatus) Valid() bool {
	switch s {
	case OffDuty, SleeperBerth, Driving, OnDutyNotDriving:
		return true
	}
	return false
}

// Label is the human readable status name used on printouts and CSV rows.
func (s DutyStatus) Label() string {
	switch s {
	case OffDuty:
		return "Off Duty"
	case SleeperBerth:
		return "Sleeper Berth"
	case Driving:
		return "Driving"
	case OnDutyNotDriving:
		return "On Duty (Not Driving)"
	}
	return string(s)
}

// Priority orders statuses for display only.
func (s DutyStatus) Priority() int {
	switch s {
	case OffDuty:
		return 1
	case SleeperBerth:
		return 2
	case OnDutyNotDriving:
		return 3
	case Driving:
		return 4
	}
	return 0
}

// OnDuty reports whether time in this status counts toward duty and cycle totals.
func (s DutyStatus) OnDuty() bool { return s == Driving || s == OnDutyNotDriving }

// Rest reports whether time in this status counts as off-duty rest.
func (s DutyStatus) Rest() bool { return s == OffDuty || s == SleeperBerth }

// ParseDutyStatus accepts the short codes and a few long spellings.
func ParseDutyStatus(v string) (DutyStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "OFF", "OFF_DUTY", "OFFDUTY":
		return OffDuty, true
	case "SB", "SLEEPER", "SLEEPER_BERTH":
		return SleeperBerth, true
	case "D", "DRIVING":
		return Driving, true
	case "ON", "ON_DUTY", "ON_DUTY_NOT_DRIVING":
		return OnDutyNotDriving, true
	}
	return "", false
}

// LocationMethod is how a position fix was obtained.
type LocationMethod string

const (
	MethodGPS      LocationMethod = "GPS"
	MethodCellular LocationMethod = "CELLULAR"
	MethodWiFi     LocationMethod = "WIFI"
	MethodManual   LocationMethod = "MANUAL"
	MethodUnknown  LocationMethod = "UNKNOWN"
)

func (m LocationMethod) Valid() bool {
	switch m {
	case MethodGPS, MethodCellular, MethodWiFi, MethodManual, MethodUnknown:
		return true
	}
	return false
}

// LocationTrigger is the event that caused a location to be recorded.
type LocationTrigger string

const (
	TriggerDutyChange LocationTrigger = "DUTY_CHANGE"
	TriggerInterval   LocationTrigger = "INTERVAL"
	TriggerPowerOn    LocationTrigger = "POWER_ON"
	TriggerPowerOff   LocationTrigger = "POWER_OFF"
	TriggerManual     LocationTrigger = "MANUAL"
)

// RequiresLocation reports whether an entry with this trigger and status
// must carry coordinates.
func (t LocationTrigger) RequiresLocation(status DutyStatus) bool {
	switch t {
	case TriggerDutyChange, TriggerPowerOn, TriggerPowerOff:
		return true
	case TriggerInterval:
		return status == Driving
	}
	return false
}

// StopType classifies a planned trip stop.
type StopType string

const (
	StopPickup         StopType = "pickup"
	StopDropoff        StopType = "dropoff"
	StopFuel           StopType = "fuel"
	StopRest           StopType = "rest"
	StopMandatoryBreak StopType = "mandatory_break"
)

type ViolationType string

const (
	ViolationCycleExceeded      ViolationType = "CYCLE_EXCEEDED"
	ViolationDailyDriveExceeded ViolationType = "DAILY_DRIVE_EXCEEDED"
	ViolationDailyDutyExceeded  ViolationType = "DAILY_DUTY_EXCEEDED"
	ViolationInsufficientRest   ViolationType = "INSUFFICIENT_REST"
	ViolationMissingLog         ViolationType = "MISSING_LOG"
	ViolationFormAndManner      ViolationType = "FORM_MANNER"
)

func (v ViolationType) Label() string {
	switch v {
	case ViolationCycleExceeded:
		return "70-hour cycle exceeded"
	case ViolationDailyDriveExceeded:
		return "11-hour daily drive limit exceeded"
	case ViolationDailyDutyExceeded:
		return "14-hour daily duty limit exceeded"
	case ViolationInsufficientRest:
		return "Insufficient off-duty time"
	case ViolationMissingLog:
		return "Missing or incomplete log"
	case ViolationFormAndManner:
		return "Form and manner violation"
	}
	return string(v)
}

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type DocumentType string

const (
	DocBillOfLading     DocumentType = "BILL_OF_LADING"
	DocDispatchRecord   DocumentType = "DISPATCH_RECORD"
	DocFuelReceipt      DocumentType = "FUEL_RECEIPT"
	DocLoadingDocuments DocumentType = "LOADING_DOCUMENTS"
	DocTollReceipt      DocumentType = "TOLL_RECEIPT"
	DocRepairOrder      DocumentType = "REPAIR_ORDER"
	DocDeliveryReceipt  DocumentType = "DELIVERY_RECEIPT"
	DocInspectionReport DocumentType = "INSPECTION_REPORTS"
	DocPermit           DocumentType = "PERMIT"
	DocManifest         DocumentType = "MANIFEST"
	DocOther            DocumentType = "OTHER"
)

var documentLabels = map[DocumentType]string{
	DocBillOfLading:     "Bill of Lading",
	DocDispatchRecord:   "Dispatch Record",
	DocFuelReceipt:      "Fuel Receipt",
	DocLoadingDocuments: "Loading Documents",
	DocTollReceipt:      "Toll Receipt",
	DocRepairOrder:      "Repair Order",
	DocDeliveryReceipt:  "Delivery Receipt",
	DocInspectionReport: "Inspection Reports",
	DocPermit:           "Special Permit",
	DocManifest:         "Cargo Manifest",
	DocOther:            "Other Supporting Document",
}

func (d DocumentType) Valid() bool {
	_, ok := documentLabels[d]
	return ok
}

func (d DocumentType) Label() string {
	if l, ok := documentLabels[d]; ok {
		return l
	}
	return string(d)
}

type AuditAction string

const (
	AuditCreated           AuditAction = "CREATED"
	AuditModified          AuditAction = "MODIFIED"
	AuditCertified         AuditAction = "CERTIFIED"
	AuditUncertified       AuditAction = "UNCERTIFIED"
	AuditViolationAdded    AuditAction = "VIOLATION_ADDED"
	AuditViolationResolved AuditAction = "VIOLATION_RESOLVED"
	AuditViolationCleared  AuditAction = "VIOLATION_CLEARED"
)

type AlertType string

const (
	AlertHOSViolation       AlertType = "HOS_VIOLATION"
	AlertExcessiveDocuments AlertType = "EXCESSIVE_DOCUMENTS"
	AlertMissingDocuments   AlertType = "MISSING_DOCUMENTS"
	AlertMissingLocation    AlertType = "MISSING_LOCATION"
	AlertMissingInterval    AlertType = "MISSING_INTERVAL"
)

const (
	AlertOpen     = "OPEN"
	AlertResolved = "RESOLVED"
)

// Certification methods accepted when a driver certifies a log.
const (
	CertifyElectronic = "ELECTRONIC"
	CertifyPIN        = "PIN"
	CertifyBiometric  = "BIOMETRIC"
)

func ValidCertificationMethod(m string) bool {
	return m == CertifyElectronic || m == CertifyPIN || m == CertifyBiometric
}
