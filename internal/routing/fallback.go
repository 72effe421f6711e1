package routing

import (
	"context"

	"go.uber.org/zap"

	"eldhos/internal/errs"
	"eldhos/internal/model"
)

// Service is the geocode and route contract.
type Service interface {
	Geocode(ctx context.Context, address string) (model.Location, error)
	Route(ctx context.Context, waypoints []model.Location) (Route, error)
}

// Fallback answers from Primary and falls back to Secondary when Primary
// fails for any reason other than bad input or an unknown address.
type Fallback struct {
	Primary   Service
	Secondary Service
	Logger    *zap.Logger
}

func (f *Fallback) Geocode(ctx context.Context, address string) (model.Location, error) {
	loc, err := f.Primary.Geocode(ctx, address)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return loc, err
	}
	f.Logger.Warn("geocoder unavailable, using fallback", zap.String("address", address), zap.Error(err))
	return f.Secondary.Geocode(ctx, address)
}

func (f *Fallback) Route(ctx context.Context, waypoints []model.Location) (Route, error) {
	r, err := f.Primary.Route(ctx, waypoints)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return r, err
	}
	f.Logger.Warn("routing service unavailable, estimating route", zap.Error(err))
	return f.Secondary.Route(ctx, waypoints)
}

func retryable(err error) bool {
	k := errs.KindOf(err)
	return k != errs.KindValidation && k != errs.KindNotFound
}
