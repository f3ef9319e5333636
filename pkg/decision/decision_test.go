package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/forecast"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/risk"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage/storagemock"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC)

type failingConsumption struct{}

func (failingConsumption) ForecastConsumption(context.Context, float64) (float64, error) {
	return 0, errors.New("no history")
}

func testSettings() types.Settings {
	s, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		panic(err)
	}
	return s
}

func newTestEngine(t *testing.T, consumption forecast.ConsumptionForecaster) (*Engine, *risk.Ledger) {
	t.Helper()
	ledger := risk.NewLedger(storagemock.NewMemory())
	ledger.SetNowFunc(func() time.Time { return testNow })
	e := New(ledger, consumption)
	e.SetNowFunc(func() time.Time { return testNow })
	return e, ledger
}

func safeReport() types.SafetyReport {
	return types.SafetyReport{OverallStatus: types.SafetyStatusSafe, Timestamp: testNow}
}

func emergencyReport() types.SafetyReport {
	return types.SafetyReport{
		OverallStatus: types.SafetyStatusEmergency,
		Checks: []types.SafetyCheck{
			{Name: "grid_voltage", Status: types.SafetyStatusEmergency},
		},
		EmergencyStopRequired: true,
		Timestamp:             testNow,
	}
}

func sellNow() types.TimingRecommendation {
	return types.TimingRecommendation{Decision: types.TimingSellNow, Confidence: 0.9}
}

func healthyTelemetry() types.Telemetry {
	return types.Telemetry{
		Timestamp:      testNow,
		BatterySOC:     75,
		BatteryTempC:   25,
		BatteryVoltage: 52,
		GridVoltage:    230,
	}
}

// flatForecast keeps the buy-back window average exactly at the current
// price so the analysis passes by default.
func flatForecast(price float64) types.PriceForecast {
	points := make([]types.PricePoint, 12)
	for i := range points {
		points[i] = types.PricePoint{TS: testNow.Add(time.Duration(i) * time.Hour), PricePLNPerKWH: price}
	}
	return types.PriceForecast{Points: points, Confidence: 0.9}
}

func TestEvaluateStart(t *testing.T) {
	e, _ := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.1})
	settings := testSettings()

	opp := e.Evaluate(context.Background(), safeReport(), sellNow(), healthyTelemetry(), 0.80, flatForecast(0.80), settings)
	require.Equal(t, types.SellingDecisionStart, opp.Decision)
	assert.True(t, opp.SafetyChecksPassed)

	// headroom 45% capped by the 20% session limit
	assert.InDelta(t, 20.0, opp.SOCDropPercent, 1e-9)
	assert.InDelta(t, 2.0, opp.ExpectedRevenuePLN/(0.80*settings.DischargeEfficiency), 1e-9) // 2 kWh
	assert.Equal(t, settings.MaxExportPowerW, opp.SellingPowerW)
	assert.InDelta(t, 0.4, opp.EstimatedDurationHours, 1e-9) // 2 kWh at 5 kW
}

func TestEvaluateSafetyGateNeverBypassed(t *testing.T) {
	e, _ := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.1})
	settings := testSettings()

	// even an extreme price spike cannot override a safety emergency
	opp := e.Evaluate(context.Background(), emergencyReport(), sellNow(), healthyTelemetry(), 5.00, flatForecast(5.00), settings)
	require.Equal(t, types.SellingDecisionWait, opp.Decision)
	assert.False(t, opp.SafetyChecksPassed)
	assert.Contains(t, opp.Reasoning, "safety emergency")
	assert.Contains(t, opp.Reasoning, "grid_voltage")
}

func TestEvaluateTimingGate(t *testing.T) {
	e, _ := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.1})
	settings := testSettings()

	waitRec := types.TimingRecommendation{
		Decision:  types.TimingWaitForPeak,
		WaitHours: 3,
		Reasoning: "waiting for the evening peak",
	}
	opp := e.Evaluate(context.Background(), safeReport(), waitRec, healthyTelemetry(), 0.80, flatForecast(0.80), settings)
	require.Equal(t, types.SellingDecisionWait, opp.Decision)
	assert.True(t, opp.SafetyChecksPassed)
	assert.Contains(t, opp.Reasoning, "timing")
}

func TestEvaluateProfitGate(t *testing.T) {
	e, _ := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.1})
	settings := testSettings()

	// floor is 1.2 * 0.50 = 0.60
	opp := e.Evaluate(context.Background(), safeReport(), sellNow(), healthyTelemetry(), 0.55, flatForecast(0.55), settings)
	require.Equal(t, types.SellingDecisionWait, opp.Decision)
	assert.Contains(t, opp.Reasoning, "profit floor")
}

func TestEvaluateBuyBackRejections(t *testing.T) {
	settings := testSettings()

	t.Run("expensive future prices", func(t *testing.T) {
		e, _ := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.1})
		// future average is +50% over current, past the 1.1x margin
		f := flatForecast(1.20)
		opp := e.Evaluate(context.Background(), safeReport(), sellNow(), healthyTelemetry(), 0.80, f, settings)
		require.Equal(t, types.SellingDecisionWait, opp.Decision)
		assert.Contains(t, opp.Reasoning, "exceeds current")
	})

	t.Run("poor savings ratio", func(t *testing.T) {
		// huge deficit makes the buy-back cost dwarf the revenue
		e, _ := newTestEngine(t, forecast.Fixed{HourlyKWH: 10})
		opp := e.Evaluate(context.Background(), safeReport(), sellNow(), healthyTelemetry(), 0.80, flatForecast(0.80), settings)
		require.Equal(t, types.SellingDecisionWait, opp.Decision)
		assert.Contains(t, opp.Reasoning, "ratio")
	})

	t.Run("forecaster failure holds", func(t *testing.T) {
		e, _ := newTestEngine(t, failingConsumption{})
		opp := e.Evaluate(context.Background(), safeReport(), sellNow(), healthyTelemetry(), 0.80, flatForecast(0.80), settings)
		require.Equal(t, types.SellingDecisionWait, opp.Decision)
		assert.Contains(t, opp.Reasoning, "buy-back analysis unavailable")
	})
}

func TestEvaluateEmergencyPriceOverride(t *testing.T) {
	settings := testSettings()

	t.Run("skips timing, profit and buy-back", func(t *testing.T) {
		// everything that would normally block: timing says wait and the
		// consumption forecaster is down
		e, _ := newTestEngine(t, failingConsumption{})
		waitRec := types.TimingRecommendation{Decision: types.TimingWaitForPeak, Reasoning: "peak ahead"}
		opp := e.Evaluate(context.Background(), safeReport(), waitRec, healthyTelemetry(), 2.00, flatForecast(2.00), settings)
		require.Equal(t, types.SellingDecisionStart, opp.Decision)
		assert.Contains(t, opp.Reasoning, "emergency price override")
	})

	t.Run("still honors drawdown caps", func(t *testing.T) {
		e, ledger := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.1})
		require.NoError(t, ledger.RecordDrawdown(context.Background(), settings.MaxSOCDropPerDay))
		opp := e.Evaluate(context.Background(), safeReport(), sellNow(), healthyTelemetry(), 2.00, flatForecast(2.00), settings)
		require.Equal(t, types.SellingDecisionWait, opp.Decision)
		assert.Contains(t, opp.Reasoning, "daily drawdown limit")
	})
}

func TestEvaluateDrawdownCapsSizing(t *testing.T) {
	e, ledger := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.1})
	settings := testSettings()

	// 25% already used today leaves 15% of the 40% daily cap
	require.NoError(t, ledger.RecordDrawdown(context.Background(), 25))
	opp := e.Evaluate(context.Background(), safeReport(), sellNow(), healthyTelemetry(), 0.80, flatForecast(0.80), settings)
	require.Equal(t, types.SellingDecisionStart, opp.Decision)
	assert.InDelta(t, 15.0, opp.SOCDropPercent, 1e-9)
}

func TestEvaluateHeadroomCapsSizing(t *testing.T) {
	e, _ := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.04})
	settings := testSettings()

	telemetry := healthyTelemetry()
	telemetry.BatterySOC = 38 // 8% above the 30% margin
	opp := e.Evaluate(context.Background(), safeReport(), sellNow(), telemetry, 0.80, flatForecast(0.80), settings)
	require.Equal(t, types.SellingDecisionStart, opp.Decision)
	assert.InDelta(t, 8.0, opp.SOCDropPercent, 1e-9)
	// small headroom is riskier
	assert.Equal(t, types.RiskLevelHigh, opp.Risk)
}

func TestEvaluateRiskAndConfidence(t *testing.T) {
	e, _ := newTestEngine(t, forecast.Fixed{HourlyKWH: 0.1})
	settings := testSettings()

	opp := e.Evaluate(context.Background(), safeReport(), sellNow(), healthyTelemetry(), 1.10, flatForecast(1.10), settings)
	require.Equal(t, types.SellingDecisionStart, opp.Decision)
	// 45% headroom and 0.9 forecast confidence
	assert.Equal(t, types.RiskLevelLow, opp.Risk)
	assert.InDelta(t, 1.0, opp.Confidence, 1e-9)
}
