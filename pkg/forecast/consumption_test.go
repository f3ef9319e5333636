package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage/storagemock"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoricalAverage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC)

	db := storagemock.NewMemory()
	// two prior evenings at 18:00: 2.0 and 1.0 kWh, averaging 1.5
	require.NoError(t, db.UpsertConsumption(ctx, types.ConsumptionRecord{
		TSHourStart: now.AddDate(0, 0, -1), HomeKWH: 2.0,
	}))
	require.NoError(t, db.UpsertConsumption(ctx, types.ConsumptionRecord{
		TSHourStart: now.AddDate(0, 0, -2), HomeKWH: 1.0,
	}))

	h := NewHistoricalAverage(db)
	h.SetNowFunc(func() time.Time { return now })

	t.Run("averages by hour of day with fallback", func(t *testing.T) {
		// 18:00 has history (1.5), 19:00 falls back to 1.0
		total, err := h.ForecastConsumption(ctx, 2)
		require.NoError(t, err)
		assert.InDelta(t, 2.5, total, 1e-9)
	})

	t.Run("fractional last hour", func(t *testing.T) {
		total, err := h.ForecastConsumption(ctx, 1.5)
		require.NoError(t, err)
		// 1.5 for the full hour plus half of the 1.0 fallback
		assert.InDelta(t, 2.0, total, 1e-9)
	})

	t.Run("rejects non-positive horizon", func(t *testing.T) {
		_, err := h.ForecastConsumption(ctx, 0)
		assert.Error(t, err)
	})
}

func TestHistoricalAverageNoHistory(t *testing.T) {
	now := time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC)
	h := NewHistoricalAverage(storagemock.NewMemory())
	h.SetNowFunc(func() time.Time { return now })

	total, err := h.ForecastConsumption(context.Background(), 3)
	require.NoError(t, err)
	// pure fallback at 1 kWh per hour
	assert.InDelta(t, 3.0, total, 1e-9)
}

func TestFixed(t *testing.T) {
	total, err := Fixed{HourlyKWH: 0.5}.ForecastConsumption(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, 6.0, total)
}
