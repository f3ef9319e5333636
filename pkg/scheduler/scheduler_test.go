package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var midnight = time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)

func testSettings() types.Settings {
	s, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		panic(err)
	}
	return s
}

func newTestScheduler() *Scheduler {
	s := New()
	n := 0
	s.SetIDFunc(func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	})
	return s
}

// dayForecast builds 24 hourly points from a base price with overrides per
// hour.
func dayForecast(base float64, overrides map[int]float64) types.PriceForecast {
	points := make([]types.PricePoint, 24)
	for h := 0; h < 24; h++ {
		price := base
		if v, ok := overrides[h]; ok {
			price = v
		}
		points[h] = types.PricePoint{TS: midnight.Add(time.Duration(h) * time.Hour), PricePLNPerKWH: price}
	}
	return types.PriceForecast{Points: points, Confidence: 1.0}
}

func TestPlanDayScenario(t *testing.T) {
	// one clear peak, 10% SOC headroom on a 20 kWh battery: a single 2 kWh
	// session ending exactly at the safety margin
	settings := testSettings()
	settings.BatteryCapacityKWH = 20
	settings.SafetyMarginSOC = 50
	settings.ReserveEveningPeak = false

	forecast := dayForecast(0.30, map[int]float64{12: 1.20})

	plan, ok := newTestScheduler().PlanDay(context.Background(), forecast, 60, settings)
	require.True(t, ok)
	require.Len(t, plan.Sessions, 1)

	session := plan.Sessions[0]
	assert.Equal(t, midnight.Add(12*time.Hour), session.StartTime)
	assert.InDelta(t, 2.0, session.AllocatedEnergyKWH, 1e-9)
	assert.InDelta(t, 50.0, session.TargetEndSOC, 1e-9)
	assert.Equal(t, types.PeakQualityExcellent, session.Quality)
	assert.InDelta(t, 2.0*1.20, session.ExpectedRevenuePLN, 1e-9)
	assert.InDelta(t, 50.0, plan.BatteryEndSOC, 1e-9)
	assert.Equal(t, 60.0, plan.BatteryStartSOC)
	assert.Equal(t, midnight, plan.PlanDate)
}

func TestPlanDayNoForecast(t *testing.T) {
	settings := testSettings()
	_, ok := newTestScheduler().PlanDay(context.Background(), types.PriceForecast{}, 80, settings)
	assert.False(t, ok)
}

func TestPlanDayForecastTooShort(t *testing.T) {
	settings := testSettings()
	short := types.PriceForecast{Points: dayForecast(0.3, nil).Points[:4], Confidence: 1}
	_, ok := newTestScheduler().PlanDay(context.Background(), short, 80, settings)
	assert.False(t, ok)
}

func TestPlanDayNoHeadroom(t *testing.T) {
	settings := testSettings()
	forecast := dayForecast(0.30, map[int]float64{12: 1.20})
	// at the margin there is nothing to sell
	_, ok := newTestScheduler().PlanDay(context.Background(), forecast, settings.SafetyMarginSOC, settings)
	assert.False(t, ok)
}

func TestPlanDayAllPeaksBelowMinPrice(t *testing.T) {
	settings := testSettings()
	forecast := dayForecast(0.30, map[int]float64{12: 0.55}) // below 0.60
	_, ok := newTestScheduler().PlanDay(context.Background(), forecast, 80, settings)
	assert.False(t, ok)
}

func TestPlanDayPoorTierDropped(t *testing.T) {
	settings := testSettings()
	settings.ReserveEveningPeak = false

	// a descending morning keeps the only local maximum in the bottom
	// quartile of the distribution
	overrides := map[int]float64{}
	for h := 0; h < 20; h++ {
		overrides[h] = 2.0 - 0.02*float64(h)
	}
	overrides[20] = 0.62
	overrides[21] = 0.70 // local max but ~17th percentile
	overrides[22] = 0.30
	overrides[23] = 0.20

	_, ok := newTestScheduler().PlanDay(context.Background(), dayForecast(0.3, overrides), 80, settings)
	assert.False(t, ok)
}

func TestIdentifyPeaksSeparation(t *testing.T) {
	settings := testSettings()
	settings.MinPeakSeparationHours = 3

	// two local maxima 2h apart; the higher one survives
	forecast := dayForecast(0.30, map[int]float64{8: 0.90, 10: 1.10})
	peaks := identifyPeaks(forecast, settings)
	require.Len(t, peaks, 1)
	assert.Equal(t, 1.10, peaks[0].PricePLNPerKWH)
	assert.Equal(t, midnight.Add(10*time.Hour), peaks[0].TS)
}

func TestIdentifyPeaksKeepsSeparatedPeaks(t *testing.T) {
	settings := testSettings()
	forecast := dayForecast(0.30, map[int]float64{8: 0.90, 12: 1.10, 19: 0.80})
	peaks := identifyPeaks(forecast, settings)
	require.Len(t, peaks, 3)
}

func TestPlanDayEveningReservation(t *testing.T) {
	settings := testSettings()
	settings.MaxSessionsPerDay = 2

	// two excellent midday peaks and a merely good evening one
	forecast := dayForecast(0.30, map[int]float64{8: 1.50, 12: 1.40, 19: 0.90})

	t.Run("reserved", func(t *testing.T) {
		plan, ok := newTestScheduler().PlanDay(context.Background(), forecast, 80, settings)
		require.True(t, ok)
		require.Len(t, plan.Sessions, 2)
		var hours []int
		for _, session := range plan.Sessions {
			hours = append(hours, session.StartTime.Hour())
		}
		// the evening peak displaces the second midday peak
		assert.Equal(t, []int{8, 19}, hours)
	})

	t.Run("not reserved", func(t *testing.T) {
		s := settings
		s.ReserveEveningPeak = false
		plan, ok := newTestScheduler().PlanDay(context.Background(), forecast, 80, s)
		require.True(t, ok)
		require.Len(t, plan.Sessions, 2)
		var hours []int
		for _, session := range plan.Sessions {
			hours = append(hours, session.StartTime.Hour())
		}
		assert.Equal(t, []int{8, 12}, hours)
	})
}

func TestPlanDayMaxSessionsCap(t *testing.T) {
	settings := testSettings()
	settings.ReserveEveningPeak = false
	settings.MaxSessionsPerDay = 3

	forecast := dayForecast(0.30, map[int]float64{5: 1.10, 8: 1.20, 12: 1.30, 15: 1.40, 19: 1.50})
	plan, ok := newTestScheduler().PlanDay(context.Background(), forecast, 90, settings)
	require.True(t, ok)
	require.Len(t, plan.Sessions, 3)

	// chronological order
	for i := 1; i < len(plan.Sessions); i++ {
		assert.True(t, plan.Sessions[i].StartTime.After(plan.Sessions[i-1].StartTime))
	}
}

func TestAllocationNeverBreachesMargin(t *testing.T) {
	settings := testSettings()
	settings.BatteryCapacityKWH = 10
	settings.SafetyMarginSOC = 30

	forecast := dayForecast(0.30, map[int]float64{8: 1.50, 12: 1.40, 19: 0.90})

	for _, soc := range []float64{35, 50, 80, 100} {
		plan, ok := newTestScheduler().PlanDay(context.Background(), forecast, soc, settings)
		if !ok {
			continue
		}
		running := soc
		for _, session := range plan.Sessions {
			assert.GreaterOrEqual(t, session.TargetEndSOC, settings.SafetyMarginSOC-1e-9,
				"session at %v must not plan below the safety margin", session.StartTime)
			assert.Less(t, session.TargetEndSOC, running)
			running = session.TargetEndSOC
		}
		assert.InDelta(t, running, plan.BatteryEndSOC, 1e-9)
	}
}

func TestPlanConfidence(t *testing.T) {
	settings := testSettings()
	settings.ReserveEveningPeak = false
	forecast := dayForecast(0.30, map[int]float64{12: 1.20})
	forecast.Confidence = 0.5

	plan, ok := newTestScheduler().PlanDay(context.Background(), forecast, 80, settings)
	require.True(t, ok)
	// one excellent session: 0.8 * 0.5
	assert.InDelta(t, 0.4, plan.Confidence, 1e-9)
}
