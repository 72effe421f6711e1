package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"eldhos/internal/auth"
	"eldhos/internal/eld"
	"eldhos/internal/hos"
	"eldhos/internal/model"
)

// driverScope rejects driver callers acting on another driver.
func (s *Server) driverScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireDriver(w, r, chi.URLParam(r, "driverID")) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createDriverRequest struct {
	model.Driver
	// IsActive defaults to true when omitted.
	IsActive *bool `json:"isActive"`
}

func (s *Server) CreateDriver(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleOffice, auth.RoleAdmin) {
		return
	}
	var req createDriverRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d := req.Driver
	d.ID = ""
	d.IsActive = req.IsActive == nil || *req.IsActive
	out, err := s.svc.CreateDriver(r.Context(), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) GetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.GetDriver(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) UpdateDriverHours(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleOffice, auth.RoleAdmin) {
		return
	}
	var u hos.Usage
	if !decodeJSON(w, r, &u) {
		return
	}
	d, err := s.svc.UpdateDriverHours(r.Context(), chi.URLParam(r, "driverID"), u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) DriverUsage(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.DriverUsage(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) CanDrive(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.CanDrive(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) AvailableHours(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.AvailableHours(r.Context(), chi.URLParam(r, "driverID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) RecordStatusChange(w http.ResponseWriter, r *http.Request) {
	var in eld.StatusChange
	if !decodeJSON(w, r, &in) {
		return
	}
	in.DriverID = chi.URLParam(r, "driverID")
	res, err := s.svc.RecordStatusChange(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Location != nil {
		l := LatestLocation{DriverID: in.DriverID, Status: res.NewStatus, Location: *res.Location, TS: res.ChangeTime}
		if in.Odometer != nil {
			l.Odometer = *in.Odometer
		}
		s.locations.Upsert(l)
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) RecordIntervalSample(w http.ResponseWriter, r *http.Request) {
	var in eld.SampleInput
	if !decodeJSON(w, r, &in) {
		return
	}
	driverID := chi.URLParam(r, "driverID")
	sample, err := s.svc.RecordIntervalSample(r.Context(), driverID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sample == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"recorded": false, "reason": "no active driving session"})
		return
	}
	s.locations.Upsert(LatestLocation{DriverID: driverID, Location: sample.Location, Odometer: sample.Odometer, TS: sample.RecordedAt})
	writeJSON(w, http.StatusCreated, sample)
}

func (s *Server) LatestLocation(w http.ResponseWriter, r *http.Request) {
	l, ok := s.locations.Get(chi.URLParam(r, "driverID"))
	if !ok {
		writeProblem(w, http.StatusNotFound, "Not found", "no location reported for driver", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) Timeline(w http.ResponseWriter, r *http.Request) {
	ivs, err := s.svc.Timeline(r.Context(), chi.URLParam(r, "driverID"), r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ivs})
}

func (s *Server) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := s.svc.ListLogs(r.Context(), chi.URLParam(r, "driverID"), q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

func (s *Server) BuildLog(w http.ResponseWriter, r *http.Request) {
	l, err := s.svc.BuildFromTimeline(r.Context(), chi.URLParam(r, "driverID"), chi.URLParam(r, "date"), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rep, err := s.svc.ComplianceReport(r.Context(), chi.URLParam(r, "driverID"), q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) ListAlerts(w http.ResponseWriter, r *http.Request) {
	as, err := s.svc.ListAlerts(r.Context(), chi.URLParam(r, "driverID"), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": as})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleOffice, auth.RoleAdmin) {
		return
	}
	var req notesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.svc.ResolveAlert(r.Context(), chi.URLParam(r, "alertID"), req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleOffice, auth.RoleAdmin) {
		return
	}
	var v model.Vehicle
	if !decodeJSON(w, r, &v) {
		return
	}
	v.ID = ""
	out, err := s.svc.CreateVehicle(r.Context(), v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) GetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.GetVehicle(r.Context(), chi.URLParam(r, "vehicleID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
