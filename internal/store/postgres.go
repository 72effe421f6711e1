package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"eldhos/internal/errs"
	"eldhos/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Postgres struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return NewPostgresDB(db), nil
}

// NewPostgresDB wraps an already opened handle.
func NewPostgresDB(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return errs.Wrap(goose.UpContext(ctx, p.db, "migrations"), "migrate")
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) WithTx(ctx context.Context, fn func(Repo) error) error {
	if p.inTx {
		return fn(p)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&Postgres{db: p.db, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Drivers & vehicles

const driverCols = `id, name, license_number, license_state, co_driver_name, carrier_name, carrier_usdot,
	home_terminal_address, home_terminal_timezone, eld_device_id, is_active, certification_method, last_certified_at,
	cycle_hours, daily_drive_hours, daily_duty_hours, current_status, last_status_change_at, last_status_location, created_at`

func (p *Postgres) CreateDriver(ctx context.Context, d model.Driver) (model.Driver, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.CurrentStatus == "" {
		d.CurrentStatus = model.OffDuty
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO drivers (`+driverCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		d.ID, d.Name, d.LicenseNumber, d.LicenseState, d.CoDriverName, d.CarrierName, d.CarrierUSDOT,
		d.HomeTerminalAddress, d.HomeTerminalTimezone, d.ELDDeviceID, d.IsActive, d.CertificationMethod, d.LastCertifiedAt,
		d.CycleHours, d.DailyDriveHours, d.DailyDutyHours, string(d.CurrentStatus), d.LastStatusChangeAt, d.LastStatusLocation, d.CreatedAt)
	if err != nil {
		return model.Driver{}, err
	}
	return d, nil
}

func (p *Postgres) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	return p.scanDriver(p.q.QueryRowContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE id=$1`, id))
}

func (p *Postgres) LockDriver(ctx context.Context, id string) error {
	var got string
	err := p.q.QueryRowContext(ctx, `SELECT id FROM drivers WHERE id=$1 FOR UPDATE`, id).Scan(&got)
	return notFound(err)
}

func (p *Postgres) scanDriver(row *sql.Row) (model.Driver, error) {
	var d model.Driver
	var certAt, changeAt sql.NullTime
	var status string
	err := row.Scan(&d.ID, &d.Name, &d.LicenseNumber, &d.LicenseState, &d.CoDriverName, &d.CarrierName, &d.CarrierUSDOT,
		&d.HomeTerminalAddress, &d.HomeTerminalTimezone, &d.ELDDeviceID, &d.IsActive, &d.CertificationMethod, &certAt,
		&d.CycleHours, &d.DailyDriveHours, &d.DailyDutyHours, &status, &changeAt, &d.LastStatusLocation, &d.CreatedAt)
	if err != nil {
		return model.Driver{}, notFound(err)
	}
	d.CurrentStatus = model.DutyStatus(status)
	d.LastCertifiedAt = timePtr(certAt)
	d.LastStatusChangeAt = timePtr(changeAt)
	return d, nil
}

func (p *Postgres) UpdateDriver(ctx context.Context, d model.Driver) error {
	return affected(p.q.ExecContext(ctx, `UPDATE drivers SET name=$2, license_number=$3, license_state=$4, co_driver_name=$5,
		carrier_name=$6, carrier_usdot=$7, home_terminal_address=$8, home_terminal_timezone=$9, eld_device_id=$10, is_active=$11,
		certification_method=$12, last_certified_at=$13, cycle_hours=$14, daily_drive_hours=$15, daily_duty_hours=$16,
		current_status=$17, last_status_change_at=$18, last_status_location=$19 WHERE id=$1`,
		d.ID, d.Name, d.LicenseNumber, d.LicenseState, d.CoDriverName, d.CarrierName, d.CarrierUSDOT,
		d.HomeTerminalAddress, d.HomeTerminalTimezone, d.ELDDeviceID, d.IsActive, d.CertificationMethod, d.LastCertifiedAt,
		d.CycleHours, d.DailyDriveHours, d.DailyDutyHours, string(d.CurrentStatus), d.LastStatusChangeAt, d.LastStatusLocation))
}

const vehicleCols = `id, unit_number, license_plate, vin, make, model, odometer, engine_hours, is_active, created_at`

func (p *Postgres) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO vehicles (`+vehicleCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		v.ID, v.UnitNumber, v.LicensePlate, v.VIN, v.Make, v.Model, v.Odometer, v.EngineHours, v.IsActive, v.CreatedAt)
	if err != nil {
		return model.Vehicle{}, err
	}
	return v, nil
}

func (p *Postgres) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	var v model.Vehicle
	err := p.q.QueryRowContext(ctx, `SELECT `+vehicleCols+` FROM vehicles WHERE id=$1`, id).
		Scan(&v.ID, &v.UnitNumber, &v.LicensePlate, &v.VIN, &v.Make, &v.Model, &v.Odometer, &v.EngineHours, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return model.Vehicle{}, notFound(err)
	}
	return v, nil
}

func (p *Postgres) UpdateVehicle(ctx context.Context, v model.Vehicle) error {
	return affected(p.q.ExecContext(ctx, `UPDATE vehicles SET unit_number=$2, license_plate=$3, vin=$4, make=$5, model=$6,
		odometer=$7, engine_hours=$8, is_active=$9 WHERE id=$1`,
		v.ID, v.UnitNumber, v.LicensePlate, v.VIN, v.Make, v.Model, v.Odometer, v.EngineHours, v.IsActive))
}

// Intervals

const intervalCols = `id, driver_id, vehicle_id, log_id, status, previous_status, start_time, end_time, location, trigger,
	odometer, engine_hours, remarks, shipping_doc_number, is_automatic, is_edited, is_certified, certified_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanInterval(s scanner) (model.DutyStatusInterval, error) {
	var iv model.DutyStatusInterval
	var status, prev, trigger string
	var end, certAt sql.NullTime
	var loc []byte
	var odo sql.NullInt64
	var eh decimal.NullDecimal
	err := s.Scan(&iv.ID, &iv.DriverID, &iv.VehicleID, &iv.LogID, &status, &prev, &iv.Start, &end, &loc, &trigger,
		&odo, &eh, &iv.Remarks, &iv.ShippingDocNumber, &iv.IsAutomatic, &iv.IsEdited, &iv.IsCertified, &certAt)
	if err != nil {
		return model.DutyStatusInterval{}, err
	}
	iv.Status = model.DutyStatus(status)
	iv.PreviousStatus = model.DutyStatus(prev)
	iv.Trigger = model.LocationTrigger(trigger)
	iv.End = timePtr(end)
	iv.CertifiedAt = timePtr(certAt)
	if len(loc) > 0 && string(loc) != "null" {
		var l model.Location
		if err := json.Unmarshal(loc, &l); err != nil {
			return model.DutyStatusInterval{}, err
		}
		iv.Location = &l
	}
	if odo.Valid {
		v := int(odo.Int64)
		iv.Odometer = &v
	}
	if eh.Valid {
		v := eh.Decimal
		iv.EngineHours = &v
	}
	return iv, nil
}

func intervalArgs(iv model.DutyStatusInterval) []any {
	var odo, eh any
	if iv.Odometer != nil {
		odo = *iv.Odometer
	}
	if iv.EngineHours != nil {
		eh = *iv.EngineHours
	}
	return []any{iv.ID, iv.DriverID, iv.VehicleID, iv.LogID, string(iv.Status), string(iv.PreviousStatus), iv.Start, iv.End,
		jsonOrNil(iv.Location), string(iv.Trigger), odo, eh, iv.Remarks, iv.ShippingDocNumber,
		iv.IsAutomatic, iv.IsEdited, iv.IsCertified, iv.CertifiedAt}
}

func (p *Postgres) OpenInterval(ctx context.Context, driverID string) (model.DutyStatusInterval, error) {
	row := p.q.QueryRowContext(ctx, `SELECT `+intervalCols+` FROM duty_status_intervals
		WHERE driver_id=$1 AND log_id='' AND end_time IS NULL`, driverID)
	iv, err := scanInterval(row)
	return iv, notFound(err)
}

func (p *Postgres) InsertInterval(ctx context.Context, iv model.DutyStatusInterval) (model.DutyStatusInterval, error) {
	if iv.ID == "" {
		iv.ID = uuid.New().String()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO duty_status_intervals (`+intervalCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`, intervalArgs(iv)...)
	if err != nil {
		return model.DutyStatusInterval{}, err
	}
	return iv, nil
}

func (p *Postgres) UpdateInterval(ctx context.Context, iv model.DutyStatusInterval) error {
	return affected(p.q.ExecContext(ctx, `UPDATE duty_status_intervals SET driver_id=$2, vehicle_id=$3, log_id=$4, status=$5,
		previous_status=$6, start_time=$7, end_time=$8, location=$9, trigger=$10, odometer=$11, engine_hours=$12, remarks=$13,
		shipping_doc_number=$14, is_automatic=$15, is_edited=$16, is_certified=$17, certified_at=$18 WHERE id=$1`, intervalArgs(iv)...))
}

func (p *Postgres) GetInterval(ctx context.Context, id string) (model.DutyStatusInterval, error) {
	iv, err := scanInterval(p.q.QueryRowContext(ctx, `SELECT `+intervalCols+` FROM duty_status_intervals WHERE id=$1`, id))
	return iv, notFound(err)
}

func (p *Postgres) ListIntervals(ctx context.Context, f IntervalFilter) ([]model.DutyStatusInterval, error) {
	q := `SELECT ` + intervalCols + ` FROM duty_status_intervals WHERE 1=1`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		q += ` AND ` + cond + `$` + strconv.Itoa(len(args))
	}
	if f.DriverID != "" {
		add(`driver_id=`, f.DriverID)
	}
	if f.LogID != "" {
		add(`log_id=`, f.LogID)
	}
	if f.TimelineOnly {
		q += ` AND log_id=''`
	}
	if f.Status != "" {
		add(`status=`, string(f.Status))
	}
	if !f.To.IsZero() {
		add(`start_time < `, f.To)
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		q += ` AND (end_time IS NULL OR end_time > $` + strconv.Itoa(len(args)) + `)`
	}
	q += ` ORDER BY start_time`
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DutyStatusInterval{}
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteLogIntervals(ctx context.Context, logID string) error {
	_, err := p.q.ExecContext(ctx, `DELETE FROM duty_status_intervals WHERE log_id=$1`, logID)
	return err
}

// Samples

const sampleCols = `id, interval_id, driver_id, vehicle_id, sequence, location, recorded_at, odometer, engine_hours, miles_since_last`

func scanSample(s scanner) (model.LocationIntervalSample, error) {
	var smp model.LocationIntervalSample
	var loc []byte
	err := s.Scan(&smp.ID, &smp.IntervalID, &smp.DriverID, &smp.VehicleID, &smp.Sequence, &loc, &smp.RecordedAt,
		&smp.Odometer, &smp.EngineHours, &smp.MilesSinceLast)
	if err != nil {
		return model.LocationIntervalSample{}, err
	}
	if err := json.Unmarshal(loc, &smp.Location); err != nil {
		return model.LocationIntervalSample{}, err
	}
	return smp, nil
}

func (p *Postgres) LastSample(ctx context.Context, intervalID string) (model.LocationIntervalSample, error) {
	s, err := scanSample(p.q.QueryRowContext(ctx, `SELECT `+sampleCols+` FROM location_samples
		WHERE interval_id=$1 ORDER BY sequence DESC LIMIT 1`, intervalID))
	return s, notFound(err)
}

func (p *Postgres) InsertSample(ctx context.Context, s model.LocationIntervalSample) (model.LocationIntervalSample, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	loc, _ := json.Marshal(s.Location)
	_, err := p.q.ExecContext(ctx, `INSERT INTO location_samples (`+sampleCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.IntervalID, s.DriverID, s.VehicleID, s.Sequence, loc, s.RecordedAt, s.Odometer, s.EngineHours, s.MilesSinceLast)
	if err != nil {
		return model.LocationIntervalSample{}, err
	}
	return s, nil
}

func (p *Postgres) ListSamples(ctx context.Context, driverID string, from, to time.Time) ([]model.LocationIntervalSample, error) {
	q := `SELECT ` + sampleCols + ` FROM location_samples WHERE driver_id=$1`
	args := []any{driverID}
	if !from.IsZero() {
		args = append(args, from)
		q += ` AND recorded_at >= $` + strconv.Itoa(len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		q += ` AND recorded_at < $` + strconv.Itoa(len(args))
	}
	rows, err := p.q.QueryContext(ctx, q+` ORDER BY recorded_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.LocationIntervalSample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Trips

func (p *Postgres) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cur, _ := json.Marshal(t.CurrentLocation)
	pick, _ := json.Marshal(t.PickupLocation)
	drop, _ := json.Marshal(t.DropoffLocation)
	_, err := p.q.ExecContext(ctx, `INSERT INTO trips (id, driver_id, vehicle_id, current_location, pickup_location, dropoff_location,
		cycle_hours, daily_drive_hours, daily_duty_hours, total_distance_miles, estimated_drive_hours, start_odometer,
		shipping_doc_number, status, notes, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.DriverID, t.VehicleID, cur, pick, drop, t.CycleHours, t.DailyDriveHours, t.DailyDutyHours,
		t.TotalDistanceMiles, t.EstimatedDriveHours, t.StartOdometer, t.ShippingDocNumber, t.Status, t.Notes, t.CreatedAt)
	if err != nil {
		return model.Trip{}, err
	}
	for i := range t.Stops {
		s := &t.Stops[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		s.TripID = t.ID
		loc, _ := json.Marshal(s.Location)
		_, err = p.q.ExecContext(ctx, `INSERT INTO stops (id, trip_id, sequence, type, location, arrival, departure,
			duration_minutes, is_mandatory, description) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			s.ID, t.ID, s.Sequence, string(s.Type), loc, s.Arrival, s.Departure, s.DurationMinutes, s.IsMandatory, s.Description)
		if err != nil {
			return model.Trip{}, err
		}
	}
	return t, nil
}

func (p *Postgres) GetTrip(ctx context.Context, id string) (model.Trip, error) {
	var t model.Trip
	var cur, pick, drop []byte
	err := p.q.QueryRowContext(ctx, `SELECT id, driver_id, vehicle_id, current_location, pickup_location, dropoff_location,
		cycle_hours, daily_drive_hours, daily_duty_hours, total_distance_miles, estimated_drive_hours, start_odometer,
		shipping_doc_number, status, notes, created_at FROM trips WHERE id=$1`, id).
		Scan(&t.ID, &t.DriverID, &t.VehicleID, &cur, &pick, &drop, &t.CycleHours, &t.DailyDriveHours, &t.DailyDutyHours,
			&t.TotalDistanceMiles, &t.EstimatedDriveHours, &t.StartOdometer, &t.ShippingDocNumber, &t.Status, &t.Notes, &t.CreatedAt)
	if err != nil {
		return model.Trip{}, notFound(err)
	}
	_ = json.Unmarshal(cur, &t.CurrentLocation)
	_ = json.Unmarshal(pick, &t.PickupLocation)
	_ = json.Unmarshal(drop, &t.DropoffLocation)
	rows, err := p.q.QueryContext(ctx, `SELECT id, sequence, type, location, arrival, departure, duration_minutes, is_mandatory, description
		FROM stops WHERE trip_id=$1 ORDER BY sequence`, id)
	if err != nil {
		return model.Trip{}, err
	}
	defer rows.Close()
	for rows.Next() {
		s := model.Stop{TripID: id}
		var typ string
		var loc []byte
		if err := rows.Scan(&s.ID, &s.Sequence, &typ, &loc, &s.Arrival, &s.Departure, &s.DurationMinutes, &s.IsMandatory, &s.Description); err != nil {
			return model.Trip{}, err
		}
		s.Type = model.StopType(typ)
		_ = json.Unmarshal(loc, &s.Location)
		t.Stops = append(t.Stops, s)
	}
	return t, rows.Err()
}

func (p *Postgres) UpdateTripStatus(ctx context.Context, id, status string) error {
	return affected(p.q.ExecContext(ctx, `UPDATE trips SET status=$2 WHERE id=$1`, id, status))
}

// Logs

const logCols = `id, driver_id, vehicle_id, trip_id, log_date, starting_odometer, ending_odometer, total_miles_driven,
	total_drive_time, total_on_duty_time, total_off_duty_time, cycle_hours_used, is_compliant, violation_summary,
	is_certified, certified_at, certification_method, signature, created_at, updated_at`

func scanLog(s scanner) (model.DailyLog, error) {
	var l model.DailyLog
	var date time.Time
	var certAt sql.NullTime
	err := s.Scan(&l.ID, &l.DriverID, &l.VehicleID, &l.TripID, &date, &l.StartingOdometer, &l.EndingOdometer, &l.TotalMilesDriven,
		&l.TotalDriveTime, &l.TotalOnDutyTime, &l.TotalOffDutyTime, &l.CycleHoursUsed, &l.IsCompliant, &l.ViolationSummary,
		&l.IsCertified, &certAt, &l.CertificationMethod, &l.Signature, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return model.DailyLog{}, err
	}
	l.LogDate = date.Format(model.DateLayout)
	l.CertifiedAt = timePtr(certAt)
	return l, nil
}

func (p *Postgres) GetOrCreateLog(ctx context.Context, l model.DailyLog) (model.DailyLog, bool, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	res, err := p.q.ExecContext(ctx, `INSERT INTO daily_logs (id, driver_id, vehicle_id, trip_id, log_date, starting_odometer,
		ending_odometer, cycle_hours_used, is_compliant, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (driver_id, log_date) DO NOTHING`,
		l.ID, l.DriverID, l.VehicleID, l.TripID, l.LogDate, l.StartingOdometer, l.EndingOdometer, l.CycleHoursUsed, l.IsCompliant, now)
	if err != nil {
		return model.DailyLog{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.DailyLog{}, false, err
	}
	got, err := p.GetLogByDate(ctx, l.DriverID, l.LogDate)
	return got, n == 1, err
}

func (p *Postgres) GetLog(ctx context.Context, id string) (model.DailyLog, error) {
	l, err := scanLog(p.q.QueryRowContext(ctx, `SELECT `+logCols+` FROM daily_logs WHERE id=$1`, id))
	return l, notFound(err)
}

func (p *Postgres) GetLogByDate(ctx context.Context, driverID, date string) (model.DailyLog, error) {
	l, err := scanLog(p.q.QueryRowContext(ctx, `SELECT `+logCols+` FROM daily_logs WHERE driver_id=$1 AND log_date=$2`, driverID, date))
	return l, notFound(err)
}

func (p *Postgres) UpdateLog(ctx context.Context, l model.DailyLog) error {
	return affected(p.q.ExecContext(ctx, `UPDATE daily_logs SET vehicle_id=$2, trip_id=$3, starting_odometer=$4, ending_odometer=$5,
		total_miles_driven=$6, total_drive_time=$7, total_on_duty_time=$8, total_off_duty_time=$9, cycle_hours_used=$10,
		is_compliant=$11, violation_summary=$12, is_certified=$13, certified_at=$14, certification_method=$15, signature=$16,
		updated_at=now() WHERE id=$1`,
		l.ID, l.VehicleID, l.TripID, l.StartingOdometer, l.EndingOdometer, l.TotalMilesDriven, l.TotalDriveTime,
		l.TotalOnDutyTime, l.TotalOffDutyTime, l.CycleHoursUsed, l.IsCompliant, l.ViolationSummary, l.IsCertified,
		l.CertifiedAt, l.CertificationMethod, l.Signature))
}

func (p *Postgres) ListLogs(ctx context.Context, driverID, fromDate, toDate string) ([]model.DailyLog, error) {
	q := `SELECT ` + logCols + ` FROM daily_logs WHERE driver_id=$1`
	args := []any{driverID}
	q, args = dateRange(q, args, "log_date", fromDate, toDate)
	return p.queryLogs(ctx, q+` ORDER BY log_date`, args...)
}

func (p *Postgres) ListLogsByTrip(ctx context.Context, tripID string) ([]model.DailyLog, error) {
	return p.queryLogs(ctx, `SELECT `+logCols+` FROM daily_logs WHERE trip_id=$1 ORDER BY log_date`, tripID)
}

func (p *Postgres) queryLogs(ctx context.Context, q string, args ...any) ([]model.DailyLog, error) {
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DailyLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Violations

const violationCols = `id, log_id, driver_id, type, severity, description, occurred_at, duration_minutes, is_resolved, resolution_notes, resolved_at, cleared_at`

func scanViolation(s scanner) (model.Violation, error) {
	var v model.Violation
	var typ, sev string
	var resolvedAt, clearedAt sql.NullTime
	err := s.Scan(&v.ID, &v.LogID, &v.DriverID, &typ, &sev, &v.Description, &v.OccurredAt, &v.DurationMinutes,
		&v.IsResolved, &v.ResolutionNotes, &resolvedAt, &clearedAt)
	if err != nil {
		return model.Violation{}, err
	}
	v.Type = model.ViolationType(typ)
	v.Severity = model.Severity(sev)
	v.ResolvedAt = timePtr(resolvedAt)
	v.ClearedAt = timePtr(clearedAt)
	return v, nil
}

func (p *Postgres) InsertViolation(ctx context.Context, v model.Violation) (model.Violation, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO violations (`+violationCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		v.ID, v.LogID, v.DriverID, string(v.Type), string(v.Severity), v.Description, v.OccurredAt, v.DurationMinutes,
		v.IsResolved, v.ResolutionNotes, v.ResolvedAt, v.ClearedAt)
	if err != nil {
		return model.Violation{}, err
	}
	return v, nil
}

func (p *Postgres) UpdateViolation(ctx context.Context, v model.Violation) error {
	return affected(p.q.ExecContext(ctx, `UPDATE violations SET severity=$2, description=$3, occurred_at=$4, duration_minutes=$5,
		is_resolved=$6, resolution_notes=$7, resolved_at=$8, cleared_at=$9 WHERE id=$1`,
		v.ID, string(v.Severity), v.Description, v.OccurredAt, v.DurationMinutes, v.IsResolved, v.ResolutionNotes, v.ResolvedAt, v.ClearedAt))
}

func (p *Postgres) GetViolation(ctx context.Context, id string) (model.Violation, error) {
	v, err := scanViolation(p.q.QueryRowContext(ctx, `SELECT `+violationCols+` FROM violations WHERE id=$1`, id))
	return v, notFound(err)
}

func (p *Postgres) ListViolations(ctx context.Context, logID string) ([]model.Violation, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT `+violationCols+` FROM violations WHERE log_id=$1 ORDER BY occurred_at, type`, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Violation{}
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Audit

func (p *Postgres) InsertAudit(ctx context.Context, a model.AuditEntry) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO audit_entries (id, log_id, action, description, user_name, user_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`, a.ID, a.LogID, string(a.Action), a.Description, a.UserName, a.UserType, a.CreatedAt)
	return err
}

func (p *Postgres) ListAudit(ctx context.Context, logID string) ([]model.AuditEntry, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT id, log_id, action, description, user_name, user_type, created_at
		FROM audit_entries WHERE log_id=$1 ORDER BY created_at, id`, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditEntry{}
	for rows.Next() {
		var a model.AuditEntry
		var action string
		if err := rows.Scan(&a.ID, &a.LogID, &action, &a.Description, &a.UserName, &a.UserType, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Action = model.AuditAction(action)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Documents

const documentCols = `id, driver_id, vehicle_id, trip_id, type, document_date, title, description, reference_number,
	file_name, file_size, is_required, is_verified, interval_ids, created_at`

func scanDocument(s scanner) (model.SupportingDocument, error) {
	var d model.SupportingDocument
	var typ string
	var date time.Time
	var ids []byte
	err := s.Scan(&d.ID, &d.DriverID, &d.VehicleID, &d.TripID, &typ, &date, &d.Title, &d.Description, &d.ReferenceNumber,
		&d.FileName, &d.FileSize, &d.IsRequired, &d.IsVerified, &ids, &d.CreatedAt)
	if err != nil {
		return model.SupportingDocument{}, err
	}
	d.Type = model.DocumentType(typ)
	d.DocumentDate = date.Format(model.DateLayout)
	if len(ids) > 0 {
		_ = json.Unmarshal(ids, &d.IntervalIDs)
	}
	return d, nil
}

func (p *Postgres) InsertDocument(ctx context.Context, d model.SupportingDocument) (model.SupportingDocument, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO supporting_documents (`+documentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		d.ID, d.DriverID, d.VehicleID, d.TripID, string(d.Type), d.DocumentDate, d.Title, d.Description, d.ReferenceNumber,
		d.FileName, d.FileSize, d.IsRequired, d.IsVerified, stringList(d.IntervalIDs), d.CreatedAt)
	if err != nil {
		return model.SupportingDocument{}, err
	}
	return d, nil
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (model.SupportingDocument, error) {
	d, err := scanDocument(p.q.QueryRowContext(ctx, `SELECT `+documentCols+` FROM supporting_documents WHERE id=$1`, id))
	return d, notFound(err)
}

func (p *Postgres) UpdateDocument(ctx context.Context, d model.SupportingDocument) error {
	return affected(p.q.ExecContext(ctx, `UPDATE supporting_documents SET vehicle_id=$2, trip_id=$3, type=$4, document_date=$5,
		title=$6, description=$7, reference_number=$8, file_name=$9, file_size=$10, is_required=$11, is_verified=$12,
		interval_ids=$13 WHERE id=$1`,
		d.ID, d.VehicleID, d.TripID, string(d.Type), d.DocumentDate, d.Title, d.Description, d.ReferenceNumber,
		d.FileName, d.FileSize, d.IsRequired, d.IsVerified, stringList(d.IntervalIDs)))
}

func (p *Postgres) DeleteDocument(ctx context.Context, id string) error {
	return affected(p.q.ExecContext(ctx, `DELETE FROM supporting_documents WHERE id=$1`, id))
}

func (p *Postgres) ListDocuments(ctx context.Context, driverID, fromDate, toDate string) ([]model.SupportingDocument, error) {
	q := `SELECT ` + documentCols + ` FROM supporting_documents WHERE driver_id=$1`
	args := []any{driverID}
	q, args = dateRange(q, args, "document_date", fromDate, toDate)
	rows, err := p.q.QueryContext(ctx, q+` ORDER BY document_date, type, created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.SupportingDocument{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const summaryCols = `driver_id, date, document_count, required_count, has_minimum_documents, exceeds_limit, has_bill_of_lading,
	has_dispatch_record, has_fuel_receipts, all_documents_verified, driving_time, total_duty_time, updated_at`

func scanSummary(s scanner) (model.DailyDocumentSummary, error) {
	var sm model.DailyDocumentSummary
	var date time.Time
	err := s.Scan(&sm.DriverID, &date, &sm.DocumentCount, &sm.RequiredCount, &sm.HasMinimumDocuments, &sm.ExceedsLimit,
		&sm.HasBillOfLading, &sm.HasDispatchRecord, &sm.HasFuelReceipts, &sm.AllDocumentsVerified, &sm.DrivingTime,
		&sm.TotalDutyTime, &sm.UpdatedAt)
	if err != nil {
		return model.DailyDocumentSummary{}, err
	}
	sm.Date = date.Format(model.DateLayout)
	return sm, nil
}

func (p *Postgres) UpsertDocumentSummary(ctx context.Context, s model.DailyDocumentSummary) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO daily_document_summaries (`+summaryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (driver_id, date) DO UPDATE SET document_count=EXCLUDED.document_count, required_count=EXCLUDED.required_count,
		has_minimum_documents=EXCLUDED.has_minimum_documents, exceeds_limit=EXCLUDED.exceeds_limit,
		has_bill_of_lading=EXCLUDED.has_bill_of_lading, has_dispatch_record=EXCLUDED.has_dispatch_record,
		has_fuel_receipts=EXCLUDED.has_fuel_receipts, all_documents_verified=EXCLUDED.all_documents_verified,
		driving_time=EXCLUDED.driving_time, total_duty_time=EXCLUDED.total_duty_time, updated_at=EXCLUDED.updated_at`,
		s.DriverID, s.Date, s.DocumentCount, s.RequiredCount, s.HasMinimumDocuments, s.ExceedsLimit, s.HasBillOfLading,
		s.HasDispatchRecord, s.HasFuelReceipts, s.AllDocumentsVerified, s.DrivingTime, s.TotalDutyTime, s.UpdatedAt)
	return err
}

func (p *Postgres) GetDocumentSummary(ctx context.Context, driverID, date string) (model.DailyDocumentSummary, error) {
	s, err := scanSummary(p.q.QueryRowContext(ctx, `SELECT `+summaryCols+` FROM daily_document_summaries
		WHERE driver_id=$1 AND date=$2`, driverID, date))
	return s, notFound(err)
}

func (p *Postgres) ListDocumentSummaries(ctx context.Context, driverID, fromDate, toDate string) ([]model.DailyDocumentSummary, error) {
	q := `SELECT ` + summaryCols + ` FROM daily_document_summaries WHERE driver_id=$1`
	args := []any{driverID}
	q, args = dateRange(q, args, "date", fromDate, toDate)
	rows, err := p.q.QueryContext(ctx, q+` ORDER BY date`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DailyDocumentSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Alerts

const alertCols = `id, driver_id, type, severity, status, title, description, alert_date, log_id, violation_id,
	resolution_notes, resolved_at, created_at`

func scanAlert(s scanner) (model.ComplianceAlert, error) {
	var a model.ComplianceAlert
	var typ, sev string
	var date time.Time
	var resolvedAt sql.NullTime
	err := s.Scan(&a.ID, &a.DriverID, &typ, &sev, &a.Status, &a.Title, &a.Description, &date, &a.LogID, &a.ViolationID,
		&a.ResolutionNotes, &resolvedAt, &a.CreatedAt)
	if err != nil {
		return model.ComplianceAlert{}, err
	}
	a.Type = model.AlertType(typ)
	a.Severity = model.Severity(sev)
	a.AlertDate = date.Format(model.DateLayout)
	a.ResolvedAt = timePtr(resolvedAt)
	return a, nil
}

func (p *Postgres) InsertAlert(ctx context.Context, a model.ComplianceAlert) (model.ComplianceAlert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := p.q.ExecContext(ctx, `INSERT INTO compliance_alerts (`+alertCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.DriverID, string(a.Type), string(a.Severity), a.Status, a.Title, a.Description, a.AlertDate, a.LogID,
		a.ViolationID, a.ResolutionNotes, a.ResolvedAt, a.CreatedAt)
	if err != nil {
		return model.ComplianceAlert{}, err
	}
	return a, nil
}

func (p *Postgres) GetAlert(ctx context.Context, id string) (model.ComplianceAlert, error) {
	a, err := scanAlert(p.q.QueryRowContext(ctx, `SELECT `+alertCols+` FROM compliance_alerts WHERE id=$1`, id))
	return a, notFound(err)
}

func (p *Postgres) UpdateAlert(ctx context.Context, a model.ComplianceAlert) error {
	return affected(p.q.ExecContext(ctx, `UPDATE compliance_alerts SET status=$2, resolution_notes=$3, resolved_at=$4 WHERE id=$1`,
		a.ID, a.Status, a.ResolutionNotes, a.ResolvedAt))
}

func (p *Postgres) ListAlerts(ctx context.Context, driverID, status string) ([]model.ComplianceAlert, error) {
	q := `SELECT ` + alertCols + ` FROM compliance_alerts WHERE 1=1`
	var args []any
	if driverID != "" {
		args = append(args, driverID)
		q += ` AND driver_id=$` + strconv.Itoa(len(args))
	}
	if status != "" {
		args = append(args, status)
		q += ` AND status=$` + strconv.Itoa(len(args))
	}
	rows, err := p.q.QueryContext(ctx, q+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ComplianceAlert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret, CreatedAt: time.Now().UTC()}
	_, err := p.q.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret, created_at) VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.URL, stringList(s.Events), s.Secret, s.CreatedAt)
	if err != nil {
		return model.Subscription{}, err
	}
	return s, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	return p.querySubscriptions(ctx, `SELECT id, url, secret, events, created_at FROM subscriptions ORDER BY created_at`)
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	return affected(p.q.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id))
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	ev, _ := json.Marshal([]string{eventType})
	return p.querySubscriptions(ctx, `SELECT id, url, secret, events, created_at FROM subscriptions
		WHERE events @> $1::jsonb OR events @> '["*"]'::jsonb`, ev)
}

func (p *Postgres) querySubscriptions(ctx context.Context, q string, args ...any) ([]model.Subscription, error) {
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev, &s.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.q.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status,
		attempts, next_attempt_at, dedup_key) VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
		ON CONFLICT (event_type, url, dedup_key) DO NOTHING`, id, subscriptionID, eventType, url, secret, payload, computeDedupKey(payload))
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryCols = `id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, last_error,
	response_code, latency_ms, delivered_at, created_at`

func scanDelivery(s scanner) (WebhookDelivery, error) {
	var d WebhookDelivery
	var deliveredAt sql.NullTime
	err := s.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts,
		&d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs, &deliveredAt, &d.CreatedAt)
	d.DeliveredAt = timePtr(deliveredAt)
	return d, err
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	return p.queryDeliveries(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
		WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.q.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2,
			next_attempt_at=$3, response_code=$4, latency_ms=$5, updated_at=now() WHERE id=$1`,
			id, lastError, *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.q.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(),
		response_code=$2, latency_ms=$3, updated_at=now() WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.q.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='dead', last_error=$2,
		response_code=$3, latency_ms=$4, updated_at=now() WHERE id=$1`, id, lastError, responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if status != "" {
		return p.queryDeliveries(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries WHERE status=$1
			ORDER BY created_at DESC LIMIT $2`, status, limit)
	}
	return p.queryDeliveries(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries ORDER BY created_at DESC LIMIT $1`, limit)
}

func (p *Postgres) queryDeliveries(ctx context.Context, q string, args ...any) ([]WebhookDelivery, error) {
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// computeDedupKey uses the event id when the payload carries one, else a
// short content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func dateRange(q string, args []any, col, from, to string) (string, []any) {
	if from != "" {
		args = append(args, from)
		q += ` AND ` + col + ` >= $` + strconv.Itoa(len(args))
	}
	if to != "" {
		args = append(args, to)
		q += ` AND ` + col + ` <= $` + strconv.Itoa(len(args))
	}
	return q, args
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func jsonOrNil(l *model.Location) any {
	if l == nil {
		return nil
	}
	b, _ := json.Marshal(l)
	return b
}

// stringList encodes a slice as a JSON array, never null.
func stringList(v []string) []byte {
	if len(v) == 0 {
		return []byte("[]")
	}
	b, _ := json.Marshal(v)
	return b
}
