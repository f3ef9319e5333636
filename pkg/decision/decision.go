// Package decision is the single authority that turns "is it safe", "is it
// profitable" and "is it timed well" into one actionable SellingOpportunity.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/forecast"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/risk"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

// Engine combines the safety report, the timing recommendation, the
// profitability gates and the drawdown caps into one verdict plus sizing.
type Engine struct {
	ledger      *risk.Ledger
	consumption forecast.ConsumptionForecaster
	now         func() time.Time
}

// New creates a decision Engine.
func New(ledger *risk.Ledger, consumption forecast.ConsumptionForecaster) *Engine {
	return &Engine{
		ledger:      ledger,
		consumption: consumption,
		now:         time.Now,
	}
}

// SetNowFunc overrides the clock. This is primarily used for testing.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
}

// Evaluate runs the decision sequence. The safety report and timing
// recommendation are produced by their owning components each cycle and
// passed in; this engine never mutates the monitor's history and only reads
// the ledger.
func (e *Engine) Evaluate(
	ctx context.Context,
	report types.SafetyReport,
	timingRec types.TimingRecommendation,
	telemetry types.Telemetry,
	currentPrice float64,
	priceForecast types.PriceForecast,
	settings types.Settings,
) types.SellingOpportunity {
	now := e.now()

	wait := func(reasoning string, safetyPassed bool) types.SellingOpportunity {
		return types.SellingOpportunity{
			Decision:           types.SellingDecisionWait,
			SafetyChecksPassed: safetyPassed,
			Risk:               types.RiskLevelLow,
			Confidence:         priceForecast.Confidence,
			Reasoning:          reasoning,
			Timestamp:          now,
		}
	}

	// 1. safety gate, never bypassed
	if report.EmergencyStopRequired {
		failed := report.FailedChecks(types.SafetyStatusEmergency)
		return wait(fmt.Sprintf("safety emergency: %s", strings.Join(failed, ", ")), false)
	}

	// 2. emergency price override skips profitability, timing and buy-back
	// analysis but never the safety gate above or the drawdown caps below
	override := currentPrice >= settings.EmergencySellPricePLNPerKWH
	if override {
		log.Ctx(ctx).InfoContext(ctx, "emergency price override active",
			slog.Float64("currentPrice", currentPrice),
			slog.Float64("threshold", settings.EmergencySellPricePLNPerKWH),
		)
	}

	if !override {
		// timing gate
		if timingRec.Decision != types.TimingSellNow {
			return wait(fmt.Sprintf("timing: %s", timingRec.Reasoning), true)
		}

		// 3. profit margin gate
		floor := settings.ProfitMarginMultiplier * settings.MinSellingPricePLNPerKWH
		if currentPrice < floor {
			return wait(fmt.Sprintf(
				"price %.3f PLN/kWh below profit floor %.3f (%.1fx of %.3f)",
				currentPrice, floor, settings.ProfitMarginMultiplier, settings.MinSellingPricePLNPerKWH,
			), true)
		}

		// 4. sell-then-buy-back risk analysis
		if reason, rejected := e.buyBackRisk(ctx, telemetry, currentPrice, priceForecast, settings); rejected {
			return wait(reason, true)
		}
	}

	// 5. drawdown caps
	maxAllowedDrop := e.ledger.MaxAllowedDrop(ctx, settings)
	if maxAllowedDrop <= 0 {
		return wait(fmt.Sprintf(
			"daily drawdown limit reached (%.1f%% of %.1f%% used)",
			e.ledger.UsedToday(ctx), settings.MaxSOCDropPerDay,
		), true)
	}

	// 6. sizing and revenue
	headroom := telemetry.BatterySOC - settings.SafetyMarginSOC
	socDrop := headroom
	if socDrop > maxAllowedDrop {
		socDrop = maxAllowedDrop
	}
	if socDrop <= 0 {
		return wait(fmt.Sprintf(
			"no SOC headroom above safety margin (%.1f%% <= %.1f%%)",
			telemetry.BatterySOC, settings.SafetyMarginSOC,
		), true)
	}

	energyKWH := socDrop * settings.BatteryCapacityKWH / 100.0
	powerW := settings.MaxExportPowerW
	durationHours := energyKWH / (powerW / 1000.0)
	revenue := energyKWH * currentPrice * settings.DischargeEfficiency

	confidence := e.confidence(headroom, currentPrice, priceForecast, settings)
	riskLevel := e.riskLevel(headroom, priceForecast.Confidence, settings)

	reasoning := fmt.Sprintf(
		"selling %.1f%% SOC (%.2f kWh) at %.3f PLN/kWh for ~%.2f PLN",
		socDrop, energyKWH, currentPrice, revenue,
	)
	if override {
		reasoning = "emergency price override: " + reasoning
	}

	return types.SellingOpportunity{
		Decision:               types.SellingDecisionStart,
		SafetyChecksPassed:     true,
		ExpectedRevenuePLN:     revenue,
		SellingPowerW:          powerW,
		EstimatedDurationHours: durationHours,
		SOCDropPercent:         socDrop,
		Risk:                   riskLevel,
		Confidence:             confidence,
		Reasoning:              reasoning,
		Timestamp:              now,
	}
}

// buyBackRisk projects the energy deficit the house will face over the
// buy-back horizon and rejects selling when buying that energy back at
// forecast prices would eat the revenue. This is a risk reducer, not a
// safety gate; it is skipped entirely under the emergency price override.
func (e *Engine) buyBackRisk(ctx context.Context, telemetry types.Telemetry, currentPrice float64, priceForecast types.PriceForecast, settings types.Settings) (string, bool) {
	deficitKWH, err := e.consumption.ForecastConsumption(ctx, settings.BuyBackHorizonHours)
	if err != nil {
		// without an estimate we cannot price the buy-back; hold rather
		// than sell blind
		log.Ctx(ctx).WarnContext(ctx, "consumption forecast unavailable", slog.Any("err", err))
		return "buy-back analysis unavailable: consumption forecast failed", true
	}
	if deficitKWH <= 0 {
		return "", false
	}

	now := e.now()
	window := priceForecast.Sorted().Window(now, now.Add(time.Duration(settings.BuyBackHorizonHours*float64(time.Hour))))
	if window.Empty() {
		return "", false
	}
	var sum float64
	for _, p := range window.Points {
		sum += p.PricePLNPerKWH
	}
	avgFuturePrice := sum / float64(len(window.Points))

	// future prices materially above the current one mean we'd sell cheap
	// and buy back expensive
	if avgFuturePrice > currentPrice*settings.BuyBackFuturePriceMarginRatio {
		return fmt.Sprintf(
			"forecast average %.3f PLN/kWh exceeds current %.3f by more than %.0f%%",
			avgFuturePrice, currentPrice, (settings.BuyBackFuturePriceMarginRatio-1)*100,
		), true
	}

	headroom := telemetry.BatterySOC - settings.SafetyMarginSOC
	sellableKWH := headroom * settings.BatteryCapacityKWH / 100.0
	if sellableKWH <= 0 {
		return "", false
	}
	revenueNow := sellableKWH * currentPrice * settings.DischargeEfficiency
	buyBackCost := deficitKWH * avgFuturePrice
	if buyBackCost <= 0 {
		return "", false
	}
	if ratio := revenueNow / buyBackCost; ratio < settings.MinBuyBackSavingsRatio {
		return fmt.Sprintf(
			"sell/buy-back ratio %.2f below minimum %.2f (revenue %.2f PLN vs buy-back %.2f PLN for %.1f kWh deficit)",
			ratio, settings.MinBuyBackSavingsRatio, revenueNow, buyBackCost, deficitKWH,
		), true
	}
	return "", false
}

// confidence rises with SOC headroom above the safety margin, with price
// level, and with forecast completeness.
func (e *Engine) confidence(headroom, currentPrice float64, priceForecast types.PriceForecast, settings types.Settings) float64 {
	c := 0.4
	if headroom > settings.MaxSOCDropPerSession {
		c += 0.2
	} else if headroom > settings.MaxSOCDropPerSession/2 {
		c += 0.1
	}
	if settings.MinSellingPricePLNPerKWH > 0 && currentPrice >= 2*settings.MinSellingPricePLNPerKWH {
		c += 0.2
	} else if currentPrice >= settings.ProfitMarginMultiplier*settings.MinSellingPricePLNPerKWH {
		c += 0.1
	}
	if !priceForecast.Empty() && priceForecast.Confidence >= 0.7 {
		c += 0.2
	}
	if c > 1 {
		c = 1
	}
	return c
}

// riskLevel is Low when SOC headroom is large and forecast confidence high,
// High when either is marginal.
func (e *Engine) riskLevel(headroom, forecastConfidence float64, settings types.Settings) types.RiskLevel {
	switch {
	case headroom >= settings.MaxSOCDropPerSession && forecastConfidence >= 0.7:
		return types.RiskLevelLow
	case headroom < settings.MaxSOCDropPerSession/2 || forecastConfidence < 0.5:
		return types.RiskLevelHigh
	default:
		return types.RiskLevelMedium
	}
}
