package forecast

import (
	"context"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

// PriceProvider defines the interface for fetching day-ahead energy prices.
// Implementations normalize source-specific payloads into PricePoint at this
// boundary; the decision core never sees provider field names.
type PriceProvider interface {
	// GetCurrentPrice returns the price for the slot containing now.
	GetCurrentPrice(ctx context.Context) (types.PricePoint, error)

	// GetForecast returns the ordered price series for the given date plus
	// the provider's confidence in it.
	GetForecast(ctx context.Context, date time.Time) (types.PriceForecast, error)
}

// ConsumptionForecaster estimates household consumption over a forward
// horizon. It is used only by the sell-then-buy-back risk analysis and may
// be swapped freely as long as it returns an energy-over-horizon estimate.
type ConsumptionForecaster interface {
	ForecastConsumption(ctx context.Context, horizonHours float64) (float64, error)
}
