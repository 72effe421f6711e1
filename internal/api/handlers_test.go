package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldhos/internal/auth"
	"eldhos/internal/eld"
	"eldhos/internal/model"
	"eldhos/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	clock   *fakeClock
	store   *store.Memory
}

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	env := &testEnv{clock: &fakeClock{t: monday}, store: store.NewMemory()}
	broker := NewBroker()
	svc := eld.NewService(env.store, eld.WithClock(env.clock.Now), eld.WithPublisher(BrokerPublisher{Broker: broker}))
	d := Deps{Service: svc, Broker: broker}
	for _, m := range mutate {
		m(&d)
	}
	env.srv = NewServer(d)
	env.handler = env.srv.Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (e *testEnv) createDriver(t *testing.T) model.Driver {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/drivers", map[string]any{
		"name":                 "Pat Driver",
		"licenseNumber":        "D1234567",
		"homeTerminalTimezone": "UTC",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[model.Driver](t, rr)
}

func (e *testEnv) changeStatus(t *testing.T, driverID string, at time.Time, st model.DutyStatus) {
	t.Helper()
	e.clock.Set(at)
	rr := e.do(t, http.MethodPost, "/v1/drivers/"+driverID+"/status", map[string]any{
		"status":   st,
		"location": map[string]any{"lat": 41.88, "lon": -87.63, "description": "Chicago, IL"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestHealthReady(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", nil).Code)
	rr := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestCreateDriverDefaultsActive(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDriver(t)
	assert.True(t, d.IsActive)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, model.OffDuty, d.CurrentStatus)

	rr := env.do(t, http.MethodPost, "/v1/drivers", map[string]any{"name": "B", "licenseNumber": "X", "isActive": false})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.False(t, decode[model.Driver](t, rr).IsActive)

	rr = env.do(t, http.MethodGet, "/v1/drivers/"+d.ID+"/can-drive", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[eld.DriveCheck](t, rr).CanDrive)
}

func TestProblemMapping(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDriver(t)

	rr := env.do(t, http.MethodPost, "/v1/drivers/"+d.ID+"/status", map[string]any{"status": "NAP"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	p := decode[Problem](t, rr)
	assert.Equal(t, "status", p.Field)
	assert.Equal(t, "/v1/drivers/"+d.ID+"/status", p.Instance)

	rr = env.do(t, http.MethodGet, "/v1/drivers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/drivers/"+d.ID+"/status", `{"status":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid JSON", decode[Problem](t, rr).Title)

	rr = env.do(t, http.MethodPost, "/v1/drivers/"+d.ID+"/status", `{"status":"OFF","mood":"sleepy"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/logs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/logs/nope/render?format=pdf", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLogLifecycle(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDriver(t)
	env.changeStatus(t, d.ID, monday, model.OffDuty)
	env.changeStatus(t, d.ID, monday.Add(8*time.Hour), model.Driving)

	env.clock.Set(monday.Add(9 * time.Hour))
	rr := env.do(t, http.MethodPost, "/v1/drivers/"+d.ID+"/samples", map[string]any{
		"location": map[string]any{"lat": 41.0, "lon": -88.0},
		"odometer": 1060,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = env.do(t, http.MethodGet, "/v1/drivers/"+d.ID+"/location", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	loc := decode[LatestLocation](t, rr)
	assert.Equal(t, 41.0, loc.Location.Lat)
	assert.Equal(t, model.Driving, loc.Status)
	assert.Equal(t, 1060, loc.Odometer)

	env.changeStatus(t, d.ID, monday.Add(10*time.Hour), model.OffDuty)

	rr = env.do(t, http.MethodPost, "/v1/drivers/"+d.ID+"/samples", map[string]any{"location": map[string]any{"lat": 41.0, "lon": -88.0}})
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/drivers/"+d.ID+"/timeline?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	tl := decode[struct {
		Items []model.DutyStatusInterval `json:"items"`
	}](t, rr)
	assert.Len(t, tl.Items, 3)

	rr = env.do(t, http.MethodPost, "/v1/drivers/"+d.ID+"/logs/2026-03-05/build", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "date", decode[Problem](t, rr).Field)

	env.clock.Set(monday.Add(25 * time.Hour))
	rr = env.do(t, http.MethodPost, "/v1/drivers/"+d.ID+"/logs/2026-03-02/build", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	l := decode[model.DailyLog](t, rr)
	assert.True(t, l.TotalDriveTime.Equal(hours(2)), l.TotalDriveTime.String())
	assert.True(t, l.IsCompliant)

	rr = env.do(t, http.MethodGet, "/v1/logs/"+l.ID+"/render?format=csv", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="eld-log-2026-03-02-`+d.ID+`.csv"`, rr.Header().Get("Content-Disposition"))

	rr = env.do(t, http.MethodGet, "/v1/logs/"+l.ID+"/render", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotNil(t, decode[eld.Rendered](t, rr).Printable)

	rr = env.do(t, http.MethodGet, "/v1/logs/"+l.ID+"/render?format=pdf", nil)
	assert.Equal(t, "format", decode[Problem](t, rr).Field)

	asDriver := []string{"X-Role", auth.RoleDriver, "X-Driver-Id", d.ID}
	rr = env.do(t, http.MethodPost, "/v1/logs/"+l.ID+"/certify", map[string]any{"method": model.CertifyElectronic}, asDriver...)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[model.DailyLog](t, rr).IsCertified)

	rr = env.do(t, http.MethodPost, "/v1/logs/"+l.ID+"/certify", map[string]any{}, asDriver...)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/drivers/"+d.ID+"/logs/2026-03-02/build", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/logs/"+l.ID+"/uncertify", map[string]any{"reason": "edit"}, asDriver...)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodPost, "/v1/logs/"+l.ID+"/uncertify", map[string]any{"reason": "edit"}, "X-Role", auth.RoleOffice)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/logs/"+l.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	audit := decode[struct {
		Items []model.AuditEntry `json:"items"`
	}](t, rr)
	require.Len(t, audit.Items, 3)
	assert.Equal(t, d.ID, audit.Items[1].UserName)
	assert.Equal(t, auth.RoleDriver, audit.Items[1].UserType)
}

func TestDriverRoleIsScoped(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDriver(t)
	other := []string{"X-Role", auth.RoleDriver, "X-Driver-Id", "someone-else"}

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/drivers/"+d.ID, nil, other...).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/drivers", map[string]any{"name": "x"}, other...).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/debug/info", nil, "X-Role", auth.RoleOffice).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/drivers/"+d.ID, nil, "X-Role", auth.RoleDriver, "X-Driver-Id", d.ID).Code)

	rr := env.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"driverId": d.ID, "documentType": model.DocFuelReceipt, "documentDate": "2026-03-02", "title": "Fuel",
	}, other...)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDocumentsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	d := env.createDriver(t)
	var ids []string
	for i := 0; i < 9; i++ {
		rr := env.do(t, http.MethodPost, "/v1/documents", map[string]any{
			"driverId": d.ID, "documentType": model.DocFuelReceipt, "documentDate": "2026-03-02", "title": "Fuel",
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		ids = append(ids, decode[model.SupportingDocument](t, rr).ID)
	}

	rr := env.do(t, http.MethodGet, "/v1/drivers/"+d.ID+"/documents/compliance?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[eld.DocumentCompliance](t, rr).IsCompliant)

	rr = env.do(t, http.MethodGet, "/v1/drivers/"+d.ID+"/alerts?status=OPEN", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	alerts := decode[struct {
		Items []model.ComplianceAlert `json:"items"`
	}](t, rr)
	require.Len(t, alerts.Items, 1)
	rr = env.do(t, http.MethodPost, "/v1/alerts/"+alerts.Items[0].ID+"/resolve", map[string]any{"notes": "purged"})
	assert.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/documents/"+ids[0]+"/verify", nil).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/documents/"+ids[1], nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/v1/documents/"+ids[1], nil).Code)

	rr = env.do(t, http.MethodGet, "/v1/drivers/"+d.ID+"/documents?start=2026-03-01&end=2026-03-03", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	docs := decode[struct {
		Items []model.SupportingDocument `json:"items"`
	}](t, rr)
	assert.Len(t, docs.Items, 8)

	rr = env.do(t, http.MethodGet, "/v1/drivers/"+d.ID+"/compliance-report?start=2026-03-03&end=2026-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "endDate", decode[Problem](t, rr).Field)
}

func TestSubscriptionsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"url": "https://hooks.example.com/eld", "events": []string{eld.EventLogCertified}, "secret": "s"}
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/subscriptions", body, "X-Role", auth.RoleOffice).Code)

	rr := env.do(t, http.MethodPost, "/v1/subscriptions", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sub := decode[model.Subscription](t, rr)

	rr = env.do(t, http.MethodGet, "/v1/subscriptions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), `"secret"`)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil).Code)

	rr = env.do(t, http.MethodGet, "/v1/admin/webhook-dlq?limit=x", nil)
	assert.Equal(t, "limit", decode[Problem](t, rr).Field)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/admin/webhook-deliveries?status=dead", nil).Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.RateRPS, d.RateBurst = 0.001, 2 })
	d := env.createDriver(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/drivers/"+d.ID, nil).Code)
	rr := env.do(t, http.MethodGet, "/v1/drivers/"+d.ID, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	// unauthenticated health checks are not limited
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
}

func TestHMACAuth(t *testing.T) {
	secret := "k"
	env := newTestEnv(t, func(d *Deps) { d.Auth = auth.NewVerifier("hmac", secret) })
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/drivers/x", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/drivers/x", nil, "Authorization", "Bearer nope").Code)

	tok, err := auth.SignHS256([]byte(secret), map[string]any{"role": "office", "sub": "ops"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/drivers/x", nil, "Authorization", "Bearer "+tok).Code)
}

func hours(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
