package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage"
)

// fallbackHourlyKWH is assumed when no consumption history exists yet,
// erring on the high side so the buy-back analysis stays conservative.
const fallbackHourlyKWH = 1.0

// HistoricalAverage estimates future consumption by averaging stored hourly
// history by hour of day over the last week.
type HistoricalAverage struct {
	db  storage.Database
	now func() time.Time
}

var _ ConsumptionForecaster = (*HistoricalAverage)(nil)

// NewHistoricalAverage creates the forecaster backed by the given database.
func NewHistoricalAverage(db storage.Database) *HistoricalAverage {
	return &HistoricalAverage{
		db:  db,
		now: time.Now,
	}
}

// SetNowFunc overrides the clock. This is primarily used for testing.
func (h *HistoricalAverage) SetNowFunc(now func() time.Time) {
	h.now = now
}

// ForecastConsumption returns the estimated household consumption (kWh) over
// the next horizonHours, summing the per-hour-of-day averages for each
// upcoming hour. Hours with no history fall back to a conservative constant.
func (h *HistoricalAverage) ForecastConsumption(ctx context.Context, horizonHours float64) (float64, error) {
	if horizonHours <= 0 {
		return 0, fmt.Errorf("horizon must be positive, got %f", horizonHours)
	}

	now := h.now()
	history, err := h.db.GetConsumptionHistory(ctx, now.Add(-7*24*time.Hour), now)
	if err != nil {
		return 0, fmt.Errorf("failed to load consumption history: %w", err)
	}

	// average usage by hour of day
	sums := map[int]float64{}
	counts := map[int]int{}
	for _, rec := range history {
		hour := rec.TSHourStart.In(now.Location()).Hour()
		sums[hour] += rec.HomeKWH
		counts[hour]++
	}

	var total float64
	fullHours := int(math.Floor(horizonHours))
	for i := 0; i <= fullHours; i++ {
		fraction := 1.0
		if i == fullHours {
			fraction = horizonHours - float64(fullHours)
			if fraction <= 0 {
				break
			}
		}
		hour := now.Add(time.Duration(i) * time.Hour).Hour()
		if counts[hour] > 0 {
			total += sums[hour] / float64(counts[hour]) * fraction
		} else {
			total += fallbackHourlyKWH * fraction
		}
	}

	log.Ctx(ctx).DebugContext(ctx, "consumption forecast",
		slog.Float64("horizonHours", horizonHours),
		slog.Float64("totalKWH", total),
		slog.Int("historyRecords", len(history)),
	)
	return total, nil
}

// Fixed is a ConsumptionForecaster returning a constant hourly rate. It is
// used in tests and as a stand-in before any history accumulates.
type Fixed struct {
	HourlyKWH float64
}

var _ ConsumptionForecaster = Fixed{}

func (f Fixed) ForecastConsumption(_ context.Context, horizonHours float64) (float64, error) {
	return f.HourlyKWH * horizonHours, nil
}
