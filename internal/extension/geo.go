package extension

import (
	"github.com/shopspring/decimal"

	"github.com/uuru/uuru/internal/apperr"
	"github.com/uuru/uuru/internal/database/models"
)

var (
	scale  = decimal.New(models.GeoScale, 0)
	maxLat = decimal.New(90, 0)
	maxLon = decimal.New(180, 0)
)

// toFixed converts degrees to the stored fixed-point form, rounding to the
// seventh decimal. A nil input stays nil.
func toFixed(deg *decimal.Decimal, limit decimal.Decimal, field string) (*int64, error) {
	if deg == nil {
		return nil, nil
	}
	if deg.Abs().GreaterThan(limit) {
		return nil, apperr.Invalid("%s must be between -%s and %s", field, limit, limit)
	}
	v := deg.Mul(scale).Round(0).IntPart()
	return &v, nil
}

// location converts a lat/lon pair. Either both or neither must be set.
func location(lat, lon *decimal.Decimal) (*int64, *int64, error) {
	if (lat == nil) != (lon == nil) {
		return nil, nil, apperr.Invalid("lat and lon must be given together")
	}
	fixedLat, err := toFixed(lat, maxLat, "lat")
	if err != nil {
		return nil, nil, err
	}
	fixedLon, err := toFixed(lon, maxLon, "lon")
	if err != nil {
		return nil, nil, err
	}
	return fixedLat, fixedLon, nil
}
