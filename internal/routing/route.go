// Package routing resolves addresses and driving routes, either through an
// external routing service or a great-circle estimate.
package routing

import (
	"context"
	"math"
	"strconv"
	"strings"

	"eldhos/internal/errs"
	"eldhos/internal/model"
)

// Route is a driving route through an ordered list of waypoints.
type Route struct {
	TotalDistanceMiles float64      `json:"totalDistanceMiles"`
	TotalTimeHours     float64      `json:"totalTimeHours"`
	Geometry           [][2]float64 `json:"geometry"`
	Segments           []Segment    `json:"segments"`
	Source             string       `json:"source"`
}

// Segment is the leg between two consecutive waypoints.
type Segment struct {
	DistanceMiles float64 `json:"distanceMiles"`
	TimeHours     float64 `json:"timeHours"`
}

const (
	earthRadiusMiles  = 3958.8
	defaultSpeedMPH   = 60.0
	defaultRoadFactor = 1.2
	SourceEstimate    = "estimate"
	SourceRoutingAPI  = "routing_api"
)

func haversineMiles(a, b model.Location) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Estimator approximates road distance as the great-circle distance times a
// road factor, driven at a constant speed.
type Estimator struct {
	SpeedMPH   float64
	RoadFactor float64
}

// NewEstimator returns an estimator; zero values select 60 mph and a 1.2 road factor.
func NewEstimator(speedMPH, roadFactor float64) *Estimator {
	if speedMPH <= 0 {
		speedMPH = defaultSpeedMPH
	}
	if roadFactor <= 0 {
		roadFactor = defaultRoadFactor
	}
	return &Estimator{SpeedMPH: speedMPH, RoadFactor: roadFactor}
}

// Geocode only understands literal "lat,lon" addresses.
func (e *Estimator) Geocode(ctx context.Context, address string) (model.Location, error) {
	parts := strings.Split(address, ",")
	if len(parts) == 2 {
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 == nil && err2 == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
			return model.Location{Lat: lat, Lon: lon, Method: model.MethodManual, Description: strings.TrimSpace(address)}, nil
		}
	}
	return model.Location{}, errs.NotFound("address", address)
}

func (e *Estimator) Route(ctx context.Context, waypoints []model.Location) (Route, error) {
	if len(waypoints) < 2 {
		return Route{}, errs.Validation("waypoints", "at least two waypoints are required")
	}
	r := Route{Source: SourceEstimate}
	for i, w := range waypoints {
		r.Geometry = append(r.Geometry, [2]float64{w.Lon, w.Lat})
		if i == 0 {
			continue
		}
		miles := haversineMiles(waypoints[i-1], w) * e.RoadFactor
		seg := Segment{DistanceMiles: round2(miles), TimeHours: round2(miles / e.SpeedMPH)}
		r.Segments = append(r.Segments, seg)
		r.TotalDistanceMiles += miles
	}
	r.TotalTimeHours = round2(r.TotalDistanceMiles / e.SpeedMPH)
	r.TotalDistanceMiles = round2(r.TotalDistanceMiles)
	return r, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
