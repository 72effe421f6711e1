package eld

import (
	"context"

	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

type CertifyInput struct {
	Method    string `json:"method"`
	Signature string `json:"signature,omitempty"`
	Actor     Actor  `json:"-"`
}

// CertifyLog signs the driver's log and freezes its intervals.
func (s *Service) CertifyLog(ctx context.Context, logID string, in CertifyInput) (model.DailyLog, error) {
	if in.Method == "" {
		in.Method = model.CertifyElectronic
	}
	if !model.ValidCertificationMethod(in.Method) {
		return model.DailyLog{}, errs.Validationf("method", "unknown certification method %q", in.Method)
	}
	l, err := s.store.GetLog(ctx, logID)
	if err != nil {
		return l, notFound(err, "log", logID)
	}
	err = s.withDriver(ctx, l.DriverID, func(r store.Repo, d model.Driver) error {
		if l, err = r.GetLog(ctx, logID); err != nil {
			return notFound(err, "log", logID)
		}
		if l.IsCertified {
			return ErrAlreadyCertified
		}
		now := s.now().UTC()
		l.IsCertified = true
		l.CertifiedAt = &now
		l.CertificationMethod = in.Method
		l.Signature = in.Signature
		if err := r.UpdateLog(ctx, l); err != nil {
			return err
		}
		ivs, err := r.ListIntervals(ctx, store.IntervalFilter{LogID: l.ID})
		if err != nil {
			return err
		}
		for _, iv := range ivs {
			iv.IsCertified = true
			iv.CertifiedAt = &now
			if err := r.UpdateInterval(ctx, iv); err != nil {
				return err
			}
		}
		d.LastCertifiedAt = &now
		d.CertificationMethod = in.Method
		if err := r.UpdateDriver(ctx, d); err != nil {
			return err
		}
		by := in.Actor
		if by.Name == "" {
			by = Actor{Name: d.Name, Type: "driver"}
		}
		return r.InsertAudit(ctx, model.AuditEntry{
			LogID:       l.ID,
			Action:      model.AuditCertified,
			Description: "Log certified by " + by.Name + " (" + in.Method + ")",
			UserName:    by.Name,
			UserType:    by.Type,
		})
	})
	if err != nil {
		return model.DailyLog{}, err
	}
	s.logger.Info("log certified", zap.String("log_id", l.ID), zap.String("driver_id", l.DriverID))
	s.publish(ctx, EventLogCertified, l.DriverID, l)
	return l, nil
}

// UncertifyLog reopens a certified log for correction.
func (s *Service) UncertifyLog(ctx context.Context, logID, reason string, by Actor) (model.DailyLog, error) {
	l, err := s.store.GetLog(ctx, logID)
	if err != nil {
		return l, notFound(err, "log", logID)
	}
	err = s.withDriver(ctx, l.DriverID, func(r store.Repo, _ model.Driver) error {
		if l, err = r.GetLog(ctx, logID); err != nil {
			return notFound(err, "log", logID)
		}
		if !l.IsCertified {
			return ErrNotCertified
		}
		l.IsCertified = false
		l.CertifiedAt = nil
		l.Signature = ""
		if err := r.UpdateLog(ctx, l); err != nil {
			return err
		}
		ivs, err := r.ListIntervals(ctx, store.IntervalFilter{LogID: l.ID})
		if err != nil {
			return err
		}
		for _, iv := range ivs {
			iv.IsCertified = false
			iv.CertifiedAt = nil
			if err := r.UpdateInterval(ctx, iv); err != nil {
				return err
			}
		}
		if by.Name == "" {
			by = systemActor
		}
		desc := "Log uncertified"
		if reason != "" {
			desc += ": " + reason
		}
		return r.InsertAudit(ctx, model.AuditEntry{LogID: l.ID, Action: model.AuditUncertified, Description: desc, UserName: by.Name, UserType: by.Type})
	})
	if err != nil {
		return model.DailyLog{}, err
	}
	return l, nil
}

// ResolveViolation closes a violation and any alert raised for it.
func (s *Service) ResolveViolation(ctx context.Context, violationID, notes string, by Actor) (model.Violation, error) {
	v, err := s.store.GetViolation(ctx, violationID)
	if err != nil {
		return v, notFound(err, "violation", violationID)
	}
	err = s.withDriver(ctx, v.DriverID, func(r store.Repo, _ model.Driver) error {
		if v, err = r.GetViolation(ctx, violationID); err != nil {
			return notFound(err, "violation", violationID)
		}
		if v.IsResolved {
			return ErrAlreadyResolved
		}
		now := s.now().UTC()
		v.IsResolved = true
		v.ResolutionNotes = notes
		v.ResolvedAt = &now
		if err := r.UpdateViolation(ctx, v); err != nil {
			return err
		}
		alerts, err := r.ListAlerts(ctx, v.DriverID, model.AlertOpen)
		if err != nil {
			return err
		}
		for _, a := range alerts {
			if a.ViolationID != v.ID {
				continue
			}
			a.Status = model.AlertResolved
			a.ResolutionNotes = notes
			a.ResolvedAt = &now
			if err := r.UpdateAlert(ctx, a); err != nil {
				return err
			}
		}
		if by.Name == "" {
			by = systemActor
		}
		return r.InsertAudit(ctx, model.AuditEntry{
			LogID:       v.LogID,
			Action:      model.AuditViolationResolved,
			Description: v.Type.Label() + " resolved: " + notes,
			UserName:    by.Name,
			UserType:    by.Type,
		})
	})
	return v, err
}

func (s *Service) ListAlerts(ctx context.Context, driverID, status string) ([]model.ComplianceAlert, error) {
	if status != "" && status != model.AlertOpen && status != model.AlertResolved {
		return nil, errs.Validationf("status", "unknown alert status %q", status)
	}
	if _, err := s.getDriver(ctx, s.store, driverID); err != nil {
		return nil, err
	}
	return s.store.ListAlerts(ctx, driverID, status)
}

func (s *Service) ResolveAlert(ctx context.Context, alertID, notes string) (model.ComplianceAlert, error) {
	a, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return a, notFound(err, "alert", alertID)
	}
	err = s.withDriver(ctx, a.DriverID, func(r store.Repo, _ model.Driver) error {
		if a, err = r.GetAlert(ctx, alertID); err != nil {
			return notFound(err, "alert", alertID)
		}
		if a.Status == model.AlertResolved {
			return ErrAlreadyResolved
		}
		now := s.now().UTC()
		a.Status = model.AlertResolved
		a.ResolutionNotes = notes
		a.ResolvedAt = &now
		return r.UpdateAlert(ctx, a)
	})
	return a, err
}
