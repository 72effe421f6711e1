package eld

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/hos"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

// MaxDocumentsPerDay is the FMCSA retention cap for supporting documents.
const MaxDocumentsPerDay = 8

type DocumentInput struct {
	DriverID        string             `json:"driverId"`
	VehicleID       string             `json:"vehicleId,omitempty"`
	TripID          string             `json:"tripId,omitempty"`
	Type            model.DocumentType `json:"documentType"`
	Date            string             `json:"documentDate"`
	Title           string             `json:"title"`
	Description     string             `json:"description,omitempty"`
	ReferenceNumber string             `json:"referenceNumber,omitempty"`
	FileName        string             `json:"fileName,omitempty"`
	FileSize        int64              `json:"fileSize,omitempty"`
	IntervalIDs     []string           `json:"intervalIds,omitempty"`
}

func (s *Service) isRequired(t model.DocumentType) bool {
	for _, rt := range s.policy.RequiredDocumentTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// UploadDocument records document metadata and refreshes the day's summary.
func (s *Service) UploadDocument(ctx context.Context, in DocumentInput) (model.SupportingDocument, error) {
	if !in.Type.Valid() {
		return model.SupportingDocument{}, errs.Validationf("documentType", "unknown document type %q", in.Type)
	}
	if _, err := time.Parse(model.DateLayout, in.Date); err != nil {
		return model.SupportingDocument{}, errs.Validationf("documentDate", "invalid date %q, expected YYYY-MM-DD", in.Date)
	}
	if strings.TrimSpace(in.Title) == "" {
		in.Title = in.Type.Label()
	}
	if in.FileSize < 0 {
		return model.SupportingDocument{}, errs.Validation("fileSize", "file size cannot be negative")
	}

	var doc model.SupportingDocument
	var crossed *model.DailyDocumentSummary
	err := s.withDriver(ctx, in.DriverID, func(r store.Repo, d model.Driver) error {
		for _, id := range in.IntervalIDs {
			iv, err := r.GetInterval(ctx, id)
			if err != nil {
				return notFound(err, "interval", id)
			}
			if iv.DriverID != d.ID {
				return errs.Validationf("intervalIds", "interval %s belongs to another driver", id)
			}
		}
		var err error
		doc, err = r.InsertDocument(ctx, model.SupportingDocument{
			DriverID:        d.ID,
			VehicleID:       in.VehicleID,
			TripID:          in.TripID,
			Type:            in.Type,
			DocumentDate:    in.Date,
			Title:           in.Title,
			Description:     in.Description,
			ReferenceNumber: in.ReferenceNumber,
			FileName:        in.FileName,
			FileSize:        in.FileSize,
			IsRequired:      s.isRequired(in.Type),
			IntervalIDs:     in.IntervalIDs,
		})
		if err != nil {
			return err
		}
		crossed, err = s.refreshSummary(ctx, r, d, in.Date)
		return err
	})
	if err != nil {
		return model.SupportingDocument{}, err
	}
	if crossed != nil {
		s.logger.Warn("document retention limit exceeded",
			zap.String("driver_id", in.DriverID),
			zap.String("date", in.Date),
			zap.Int("count", crossed.DocumentCount))
		s.publish(ctx, EventDocumentsExceeded, in.DriverID, crossed)
	}
	return doc, nil
}

func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return notFound(err, "document", id)
	}
	return s.withDriver(ctx, doc.DriverID, func(r store.Repo, d model.Driver) error {
		if err := r.DeleteDocument(ctx, id); err != nil {
			return notFound(err, "document", id)
		}
		_, err := s.refreshSummary(ctx, r, d, doc.DocumentDate)
		return err
	})
}

func (s *Service) VerifyDocument(ctx context.Context, id string) (model.SupportingDocument, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return doc, notFound(err, "document", id)
	}
	err = s.withDriver(ctx, doc.DriverID, func(r store.Repo, d model.Driver) error {
		doc.IsVerified = true
		if err := r.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		_, err := s.refreshSummary(ctx, r, d, doc.DocumentDate)
		return err
	})
	return doc, err
}

func (s *Service) ListDocuments(ctx context.Context, driverID, start, end string) ([]model.SupportingDocument, error) {
	d, err := s.getDriver(ctx, s.store, driverID)
	if err != nil {
		return nil, err
	}
	if _, _, err := dateRange(start, end, d.TZ()); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, d.ID, start, end)
}

// refreshSummary recomputes the summary and, when the day has just crossed
// the retention cap, opens an alert and returns the new summary.
func (s *Service) refreshSummary(ctx context.Context, r store.Repo, d model.Driver, date string) (*model.DailyDocumentSummary, error) {
	prev, err := r.GetDocumentSummary(ctx, d.ID, date)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return nil, err
	}
	sum, err := s.recomputeDocumentSummary(ctx, r, d, date)
	if err != nil {
		return nil, err
	}
	if !sum.ExceedsLimit || prev.ExceedsLimit {
		return nil, nil
	}
	if _, err := r.InsertAlert(ctx, model.ComplianceAlert{
		DriverID:    d.ID,
		Type:        model.AlertExcessiveDocuments,
		Severity:    model.SeverityMedium,
		Status:      model.AlertOpen,
		Title:       "Excessive supporting documents",
		Description: fmt.Sprintf("%d documents retained for %s, limit is %d", sum.DocumentCount, date, MaxDocumentsPerDay),
		AlertDate:   date,
	}); err != nil {
		return nil, err
	}
	return &sum, nil
}

// recomputeDocumentSummary derives the day's summary from its documents and
// duty-status timeline. It never reads the previous summary.
func (s *Service) recomputeDocumentSummary(ctx context.Context, r store.Repo, d model.Driver, date string) (model.DailyDocumentSummary, error) {
	docs, err := r.ListDocuments(ctx, d.ID, date, date)
	if err != nil {
		return model.DailyDocumentSummary{}, err
	}
	sum := model.DailyDocumentSummary{
		DriverID:             d.ID,
		Date:                 date,
		DocumentCount:        len(docs),
		ExceedsLimit:         len(docs) > MaxDocumentsPerDay,
		AllDocumentsVerified: true,
		DrivingTime:          decimal.Zero,
		TotalDutyTime:        decimal.Zero,
		UpdatedAt:            s.now().UTC(),
	}
	present := map[model.DocumentType]bool{}
	for _, doc := range docs {
		present[doc.Type] = true
		if doc.IsRequired {
			sum.RequiredCount++
		}
		if !doc.IsVerified {
			sum.AllDocumentsVerified = false
		}
	}
	sum.HasBillOfLading = present[model.DocBillOfLading]
	sum.HasDispatchRecord = present[model.DocDispatchRecord]
	sum.HasFuelReceipts = present[model.DocFuelReceipt]
	sum.HasMinimumDocuments = len(docs) > 0
	for _, rt := range s.policy.RequiredDocumentTypes {
		if !present[rt] {
			sum.HasMinimumDocuments = false
		}
	}

	if from, to, err := dayBounds(date, d.TZ()); err == nil {
		now := s.now().UTC()
		ivs, err := r.ListIntervals(ctx, store.IntervalFilter{DriverID: d.ID, TimelineOnly: true, From: from, To: to})
		if err != nil {
			return sum, err
		}
		end := to
		if now.Before(end) {
			end = now
		}
		t := totalsWithin(ivs, from, end, now)
		sum.DrivingTime = hos.Hours(t.Drive())
		sum.TotalDutyTime = hos.Hours(t.OnDuty())
	}
	return sum, r.UpsertDocumentSummary(ctx, sum)
}

// DocumentCompliance is the document check for one driver-day.
type DocumentCompliance struct {
	Date          string                     `json:"date"`
	IsCompliant   bool                       `json:"isCompliant"`
	Issues        []string                   `json:"issues"`
	DocumentCount int                        `json:"documentCount"`
	Summary       model.DailyDocumentSummary `json:"summary"`
}

func (s *Service) DailyDocumentCompliance(ctx context.Context, driverID, date string) (DocumentCompliance, error) {
	d, err := s.getDriver(ctx, s.store, driverID)
	if err != nil {
		return DocumentCompliance{}, err
	}
	if _, _, err := dayBounds(date, d.TZ()); err != nil {
		return DocumentCompliance{}, err
	}
	docs, err := s.store.ListDocuments(ctx, d.ID, date, date)
	if err != nil {
		return DocumentCompliance{}, err
	}
	sum, err := s.store.GetDocumentSummary(ctx, d.ID, date)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return DocumentCompliance{}, err
	}

	issues := []string{}
	if len(docs) > MaxDocumentsPerDay {
		issues = append(issues, fmt.Sprintf("Exceeds %d-document limit (%d documents)", MaxDocumentsPerDay, len(docs)))
	}
	present := map[model.DocumentType]bool{}
	unverified := 0
	for _, doc := range docs {
		present[doc.Type] = true
		if !doc.IsVerified {
			unverified++
		}
	}
	for _, rt := range s.policy.RequiredDocumentTypes {
		if !present[rt] {
			issues = append(issues, "Missing "+strings.ToLower(rt.Label()))
		}
	}
	if unverified > 0 {
		issues = append(issues, fmt.Sprintf("%d unverified documents", unverified))
	}
	return DocumentCompliance{
		Date:          date,
		IsCompliant:   len(issues) == 0,
		Issues:        issues,
		DocumentCount: len(docs),
		Summary:       sum,
	}, nil
}

// AutoAssociateDocuments links the day's documents to the duty-status
// intervals they corroborate and returns the number of new links.
func (s *Service) AutoAssociateDocuments(ctx context.Context, driverID, date string) (int, error) {
	linked := 0
	err := s.withDriver(ctx, driverID, func(r store.Repo, d model.Driver) error {
		from, to, err := dayBounds(date, d.TZ())
		if err != nil {
			return err
		}
		docs, err := r.ListDocuments(ctx, d.ID, date, date)
		if err != nil {
			return err
		}
		ivs, err := r.ListIntervals(ctx, store.IntervalFilter{DriverID: d.ID, TimelineOnly: true, From: from, To: to})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			var want func(model.DutyStatus) bool
			switch doc.Type {
			case model.DocFuelReceipt:
				want = func(st model.DutyStatus) bool { return st == model.Driving }
			case model.DocLoadingDocuments:
				want = func(st model.DutyStatus) bool { return st == model.OnDutyNotDriving }
			case model.DocBillOfLading, model.DocDispatchRecord:
				want = func(model.DutyStatus) bool { return true }
			default:
				continue
			}
			have := map[string]bool{}
			for _, id := range doc.IntervalIDs {
				have[id] = true
			}
			n := 0
			for _, iv := range ivs {
				if want(iv.Status) && !have[iv.ID] {
					doc.IntervalIDs = append(doc.IntervalIDs, iv.ID)
					have[iv.ID] = true
					n++
				}
			}
			if n == 0 {
				continue
			}
			if err := r.UpdateDocument(ctx, doc); err != nil {
				return err
			}
			linked += n
		}
		return nil
	})
	return linked, err
}

// RetentionReport summarizes document retention over a date range.
type RetentionReport struct {
	DriverID           string                       `json:"driverId"`
	StartDate          string                       `json:"startDate"`
	EndDate            string                       `json:"endDate"`
	TotalDays          int                          `json:"totalDays"`
	DaysWithDocuments  int                          `json:"daysWithDocuments"`
	CompliantDays      int                          `json:"compliantDays"`
	DaysExceedingLimit int                          `json:"daysExceedingLimit"`
	TotalDocuments     int                          `json:"totalDocuments"`
	AverageDocsPerDay  decimal.Decimal              `json:"averageDocsPerDay"`
	TypeBreakdown      map[model.DocumentType]int   `json:"typeBreakdown"`
	Daily              []model.DailyDocumentSummary `json:"daily"`
}

func (s *Service) DocumentRetentionReport(ctx context.Context, driverID, start, end string) (RetentionReport, error) {
	d, err := s.getDriver(ctx, s.store, driverID)
	if err != nil {
		return RetentionReport{}, err
	}
	from, to, err := dateRange(start, end, d.TZ())
	if err != nil {
		return RetentionReport{}, err
	}
	docs, err := s.store.ListDocuments(ctx, d.ID, start, end)
	if err != nil {
		return RetentionReport{}, err
	}
	sums, err := s.store.ListDocumentSummaries(ctx, d.ID, start, end)
	if err != nil {
		return RetentionReport{}, err
	}

	rep := RetentionReport{
		DriverID:       d.ID,
		StartDate:      start,
		EndDate:        end,
		TotalDocuments: len(docs),
		TypeBreakdown:  map[model.DocumentType]int{},
		Daily:          sums,
	}
	eachDay(from, to, func(string, time.Time, time.Time) { rep.TotalDays++ })
	for _, doc := range docs {
		rep.TypeBreakdown[doc.Type]++
	}
	for _, sm := range sums {
		if sm.DocumentCount > 0 {
			rep.DaysWithDocuments++
		}
		if sm.ExceedsLimit {
			rep.DaysExceedingLimit++
		}
		if sm.HasMinimumDocuments && !sm.ExceedsLimit {
			rep.CompliantDays++
		}
	}
	if rep.TotalDays > 0 {
		rep.AverageDocsPerDay = decimal.NewFromInt(int64(len(docs))).Div(decimal.NewFromInt(int64(rep.TotalDays))).Round(2)
	}
	return rep, nil
}
