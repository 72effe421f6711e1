package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/model"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresDB(db), mock
}

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	assert.Equal(t, "evt_123", computeDedupKey(body))
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	got := computeDedupKey([]byte(`{"notId":"x"}`))
	b, err := hex.DecodeString(got)
	require.NoError(t, err)
	assert.Len(t, b, 8)
}

func TestStringListNeverNull(t *testing.T) {
	assert.Equal(t, "[]", string(stringList(nil)))
	assert.Equal(t, `["a","b"]`, string(stringList([]string{"a", "b"})))
}

func TestGetDriverNotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM drivers WHERE id=$1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := p.GetDriver(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVehicleNoRowsIsNotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE vehicles SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.UpdateVehicle(context.Background(), model.Vehicle{ID: "v1"})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitsAndLocksDriver(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM drivers WHERE id=$1 FOR UPDATE`)).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d1"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE trips SET status=$2 WHERE id=$1`)).
		WithArgs("t1", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := p.WithTx(context.Background(), func(r Repo) error {
		if err := r.LockDriver(context.Background(), "d1"); err != nil {
			return err
		}
		return r.UpdateTripStatus(context.Background(), "t1", "completed")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	p, mock := newMock(t)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := p.WithTx(context.Background(), func(r Repo) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateLogReportsExisting(t *testing.T) {
	p, mock := newMock(t)
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO daily_logs`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	cols := []string{"id", "driver_id", "vehicle_id", "trip_id", "log_date", "starting_odometer", "ending_odometer",
		"total_miles_driven", "total_drive_time", "total_on_duty_time", "total_off_duty_time", "cycle_hours_used",
		"is_compliant", "violation_summary", "is_certified", "certified_at", "certification_method", "signature",
		"created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM daily_logs WHERE driver_id=$1 AND log_date=$2`)).
		WithArgs("d1", "2024-03-04").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("log1", "d1", "v1", "", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			1000, 1200, "200", "5.5", "8", "16", "30", true, "", false, nil, "", "", now, now))

	l, created, err := p.GetOrCreateLog(context.Background(), model.DailyLog{DriverID: "d1", LogDate: "2024-03-04"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "log1", l.ID)
	assert.Equal(t, "2024-03-04", l.LogDate)
	assert.Equal(t, "5.5", l.TotalDriveTime.String())
	assert.Nil(t, l.CertifiedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListIntervalsBuildsOverlapFilter(t *testing.T) {
	p, mock := newMock(t)
	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	cols := []string{"id", "driver_id", "vehicle_id", "log_id", "status", "previous_status", "start_time", "end_time",
		"location", "trigger", "odometer", "engine_hours", "remarks", "shipping_doc_number", "is_automatic", "is_edited",
		"is_certified", "certified_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE 1=1 AND driver_id=$1 AND log_id='' AND start_time < $2 AND (end_time IS NULL OR end_time > $3) ORDER BY start_time`)).
		WithArgs("d1", to, from).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("iv1", "d1", "v1", "", "D", "ON", from.Add(6*time.Hour), nil,
			[]byte(`{"lat":41.88,"lon":-87.63,"method":"GPS"}`), "DUTY_CHANGE", 1000, "12.5", "", "", false, false, false, nil))

	got, err := p.ListIntervals(context.Background(), IntervalFilter{DriverID: "d1", TimelineOnly: true, From: from, To: to})
	require.NoError(t, err)
	require.Len(t, got, 1)
	iv := got[0]
	assert.Equal(t, model.Driving, iv.Status)
	assert.True(t, iv.Open())
	require.NotNil(t, iv.Location)
	assert.Equal(t, model.MethodGPS, iv.Location.Method)
	require.NotNil(t, iv.Odometer)
	assert.Equal(t, 1000, *iv.Odometer)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailWebhookDeliveryMarksDead(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`status='dead'`)).
		WithArgs("w1", "gone", 410, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, p.FailWebhookDelivery(context.Background(), "w1", "gone", 410, 12))
	require.NoError(t, mock.ExpectationsWereMet())
}
