package routing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/model"
)

// Client talks to an HTTP geocoding and routing service.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &Client{http: c, logger: logger}
}

type geocodeResponse struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	PostalCode  string  `json:"postalCode"`
	DisplayName string  `json:"displayName"`
}

type apiError struct {
	Error string `json:"error"`
}

// Geocode resolves an address. An unknown address is a not-found error.
func (c *Client) Geocode(ctx context.Context, address string) (model.Location, error) {
	var out geocodeResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("q", address).
		SetResult(&out).
		SetError(&apiErr).
		Get("/geocode")
	if err != nil {
		c.logger.Error("geocode request failed", zap.String("address", address), zap.Error(err))
		return model.Location{}, errs.Wrap(err, "geocode")
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return model.Location{}, errs.NotFound("address", address)
	case resp.IsError():
		return model.Location{}, fmt.Errorf("geocode: status %d: %s", resp.StatusCode(), apiErr.Error)
	}
	desc := out.DisplayName
	if desc == "" {
		desc = address
	}
	return model.Location{
		Lat:         out.Lat,
		Lon:         out.Lon,
		Method:      model.MethodManual,
		Description: desc,
		Address:     address,
		City:        out.City,
		State:       out.State,
		PostalCode:  out.PostalCode,
	}, nil
}

type routeRequest struct {
	Waypoints [][2]float64 `json:"waypoints"`
}

type routeResponse struct {
	DistanceMiles float64      `json:"distanceMiles"`
	DurationHours float64      `json:"durationHours"`
	Geometry      [][2]float64 `json:"geometry"`
	Segments      []Segment    `json:"segments"`
}

// Route requests a driving route. Waypoints are sent as [lat, lon] pairs.
func (c *Client) Route(ctx context.Context, waypoints []model.Location) (Route, error) {
	if len(waypoints) < 2 {
		return Route{}, errs.Validation("waypoints", "at least two waypoints are required")
	}
	req := routeRequest{}
	for _, w := range waypoints {
		req.Waypoints = append(req.Waypoints, [2]float64{w.Lat, w.Lon})
	}
	var out routeResponse
	var apiErr apiError
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/route")
	if err != nil {
		return Route{}, errs.Wrap(err, "route")
	}
	if resp.IsError() {
		return Route{}, fmt.Errorf("route: status %d: %s", resp.StatusCode(), apiErr.Error)
	}
	c.logger.Debug("route calculated",
		zap.Int("waypoints", len(waypoints)),
		zap.Float64("miles", out.DistanceMiles),
		zap.Duration("took", time.Since(start)))
	return Route{
		TotalDistanceMiles: out.DistanceMiles,
		TotalTimeHours:     out.DurationHours,
		Geometry:           out.Geometry,
		Segments:           out.Segments,
		Source:             SourceRoutingAPI,
	}, nil
}
