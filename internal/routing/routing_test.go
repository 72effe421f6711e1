package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/model"
)

var (
	chicago = model.Location{Lat: 41.8781, Lon: -87.6298}
	dallas  = model.Location{Lat: 32.7767, Lon: -96.7970}
)

func TestEstimatorRoute(t *testing.T) {
	e := NewEstimator(0, 0)
	r, err := e.Route(context.Background(), []model.Location{chicago, chicago, dallas})
	require.NoError(t, err)
	require.Len(t, r.Segments, 2)
	assert.Zero(t, r.Segments[0].DistanceMiles)
	// ~803 great-circle miles with the 1.2 road factor
	assert.InDelta(t, 963, r.TotalDistanceMiles, 5)
	assert.InDelta(t, r.TotalDistanceMiles/60, r.TotalTimeHours, 0.01)
	assert.Equal(t, SourceEstimate, r.Source)
	assert.Equal(t, [2]float64{chicago.Lon, chicago.Lat}, r.Geometry[0])

	_, err = e.Route(context.Background(), []model.Location{chicago})
	assert.Equal(t, "waypoints", errs.FieldOf(err))
}

func TestEstimatorGeocode(t *testing.T) {
	e := NewEstimator(0, 0)
	loc, err := e.Geocode(context.Background(), " 41.5, -88.25 ")
	require.NoError(t, err)
	assert.Equal(t, 41.5, loc.Lat)
	assert.Equal(t, -88.25, loc.Lon)

	for _, addr := range []string{"123 Main St", "Springfield, IL", "95,10"} {
		_, err := e.Geocode(context.Background(), addr)
		assert.True(t, errs.Is(err, errs.KindNotFound), addr)
	}
}

func TestClientGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("q") == "nowhere" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no match"}`))
			return
		}
		_, _ = w.Write([]byte(`{"lat":41.88,"lon":-87.63,"city":"Chicago","state":"IL","displayName":"Chicago, IL"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, zap.NewNop())
	loc, err := c.Geocode(context.Background(), "233 S Wacker Dr")
	require.NoError(t, err)
	assert.Equal(t, "Chicago", loc.City)
	assert.Equal(t, "Chicago, IL", loc.Display())
	assert.Equal(t, "233 S Wacker Dr", loc.Address)

	_, err = c.Geocode(context.Background(), "nowhere")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestClientRouteRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req routeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, [2]float64{chicago.Lat, chicago.Lon}, req.Waypoints[0])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(routeResponse{
			DistanceMiles: 925.4,
			DurationHours: 14.2,
			Segments:      []Segment{{DistanceMiles: 925.4, TimeHours: 14.2}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	r, err := c.Route(context.Background(), []model.Location{chicago, dallas})
	require.NoError(t, err)
	assert.Equal(t, 925.4, r.TotalDistanceMiles)
	assert.Equal(t, SourceRoutingAPI, r.Source)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

type stubService struct {
	err   error
	calls int
}

func (s *stubService) Geocode(ctx context.Context, address string) (model.Location, error) {
	s.calls++
	return model.Location{Description: "stub"}, s.err
}

func (s *stubService) Route(ctx context.Context, waypoints []model.Location) (Route, error) {
	s.calls++
	return Route{Source: "stub"}, s.err
}

func TestFallback(t *testing.T) {
	ctx := context.Background()
	down := &stubService{err: errs.Wrap(assert.AnError, "dial")}
	est := NewEstimator(0, 0)
	f := &Fallback{Primary: down, Secondary: est, Logger: zap.NewNop()}

	r, err := f.Route(ctx, []model.Location{chicago, dallas})
	require.NoError(t, err)
	assert.Equal(t, SourceEstimate, r.Source)

	loc, err := f.Geocode(ctx, "41.5,-88")
	require.NoError(t, err)
	assert.Equal(t, 41.5, loc.Lat)

	unknown := &stubService{err: errs.NotFound("address", "x")}
	second := &stubService{}
	f = &Fallback{Primary: unknown, Secondary: second, Logger: zap.NewNop()}
	_, err = f.Geocode(ctx, "x")
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Zero(t, second.calls)
}
