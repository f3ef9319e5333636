// Package timing answers "sell now or wait" for the current moment using a
// bounded forward window of the price forecast.
package timing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

// Engine decides between selling immediately, waiting for a forecast peak,
// or declaring no opportunity.
type Engine struct {
	now func() time.Time
}

// New creates a timing Engine.
func New() *Engine {
	return &Engine{now: time.Now}
}

// SetNowFunc overrides the clock. This is primarily used for testing.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
}

// Recommend evaluates the current price against the lookahead window of the
// forecast. Decision order: confidence fallback, percentile gate,
// opportunity-cost ladder. It never returns an error; a missing or
// low-confidence forecast degrades to SellNow.
func (e *Engine) Recommend(ctx context.Context, currentPrice float64, forecast types.PriceForecast, settings types.Settings) types.TimingRecommendation {
	now := e.now()

	// 1. low-confidence or empty-forecast fallback
	if forecast.Empty() || forecast.Confidence < settings.MinForecastConfidence {
		rec := types.TimingRecommendation{
			Decision:   types.TimingSellNow,
			Confidence: forecast.Confidence,
			Reasoning: fmt.Sprintf(
				"forecast unavailable or low confidence (%.2f < %.2f), selling at current price",
				forecast.Confidence, settings.MinForecastConfidence,
			),
		}
		log.Ctx(ctx).DebugContext(ctx, "timing fallback to sell now", slog.Float64("confidence", forecast.Confidence))
		return rec
	}

	if currentPrice <= 0 {
		return types.TimingRecommendation{
			Decision:   types.TimingNoOpportunity,
			Confidence: forecast.Confidence,
			Reasoning:  fmt.Sprintf("current price %.3f PLN/kWh is not positive", currentPrice),
		}
	}

	lookahead := time.Duration(settings.LookaheadHours * float64(time.Hour))
	window := forecast.Sorted().Window(now, now.Add(lookahead))

	best, hasBest := bestFuturePoint(window, now)
	var relativeIncrease, waitHours float64
	if hasBest {
		relativeIncrease = (best.PricePLNPerKWH - currentPrice) / currentPrice
		waitHours = best.TS.Sub(now).Hours()
	}

	// 2. percentile gate against the lookahead window
	percentile := window.PercentileRank(currentPrice)
	switch {
	case percentile >= settings.AggressiveSellPercentile:
		return types.TimingRecommendation{
			Decision:   types.TimingSellNow,
			Confidence: forecast.Confidence,
			Reasoning: fmt.Sprintf(
				"current price %.3f PLN/kWh is in the top %.0fth percentile (rank %.1f) of the next %.0fh",
				currentPrice, settings.AggressiveSellPercentile, percentile, settings.LookaheadHours,
			),
		}
	case percentile >= settings.StandardSellPercentile:
		// sell unless a materially better price is coming very soon
		nearTerm := forecast.Sorted().Window(now, now.Add(time.Duration(settings.NearTermHorizonHours*float64(time.Hour))))
		nearBest, hasNear := bestFuturePoint(nearTerm, now)
		materiallyBetter := hasNear && (nearBest.PricePLNPerKWH-currentPrice)/currentPrice >= settings.MediumWaitRelativeIncrease
		if !materiallyBetter {
			return types.TimingRecommendation{
				Decision:   types.TimingSellNow,
				Confidence: forecast.Confidence,
				Reasoning: fmt.Sprintf(
					"current price %.3f PLN/kWh is in the top %.0fth percentile (rank %.1f) with no materially better price within %.0fh",
					currentPrice, settings.StandardSellPercentile, percentile, settings.NearTermHorizonHours,
				),
			}
		}
	case percentile >= settings.ConditionalSellPercentile:
		// sell unless the upside is large
		if relativeIncrease < settings.HighWaitRelativeIncrease {
			return types.TimingRecommendation{
				Decision:   types.TimingSellNow,
				Confidence: forecast.Confidence,
				Reasoning: fmt.Sprintf(
					"current price %.3f PLN/kWh is in the top %.0fth percentile (rank %.1f) and upside %.0f%% is below %.0f%%",
					currentPrice, settings.ConditionalSellPercentile, percentile, relativeIncrease*100, settings.HighWaitRelativeIncrease*100,
				),
			}
		}
	}

	// 3. opportunity-cost ladder against the best future point
	if hasBest {
		switch {
		case relativeIncrease >= settings.HighWaitRelativeIncrease:
			return waitRecommendation(types.TimingWaitForPeak, best, waitHours, forecast.Confidence, fmt.Sprintf(
				"waiting %.1fh for %.3f PLN/kWh (+%.0f%% over current %.3f)",
				waitHours, best.PricePLNPerKWH, relativeIncrease*100, currentPrice,
			))
		case relativeIncrease >= settings.MediumWaitRelativeIncrease && waitHours <= settings.MediumWaitHorizonHours:
			return waitRecommendation(types.TimingWaitForPeak, best, waitHours, forecast.Confidence, fmt.Sprintf(
				"waiting %.1fh for nearby peak %.3f PLN/kWh (+%.0f%%)",
				waitHours, best.PricePLNPerKWH, relativeIncrease*100,
			))
		case relativeIncrease >= settings.LowWaitRelativeIncrease && waitHours <= settings.LowWaitHorizonHours:
			return waitRecommendation(types.TimingWaitForHigher, best, waitHours, forecast.Confidence, fmt.Sprintf(
				"slightly higher price %.3f PLN/kWh expected within %.1fh (+%.0f%%)",
				best.PricePLNPerKWH, waitHours, relativeIncrease*100,
			))
		}
	}

	if currentPrice < settings.MinSellingPricePLNPerKWH {
		return types.TimingRecommendation{
			Decision:   types.TimingNoOpportunity,
			Confidence: forecast.Confidence,
			Reasoning: fmt.Sprintf(
				"current price %.3f PLN/kWh below selling floor %.3f and no worthwhile peak ahead",
				currentPrice, settings.MinSellingPricePLNPerKWH,
			),
		}
	}

	return types.TimingRecommendation{
		Decision:   types.TimingSellNow,
		Confidence: forecast.Confidence,
		Reasoning: fmt.Sprintf(
			"no materially better price within %.0fh, selling at %.3f PLN/kWh",
			settings.LookaheadHours, currentPrice,
		),
	}
}

// bestFuturePoint returns the single maximum-price point strictly in the
// future, ties broken by earliest time.
func bestFuturePoint(window types.PriceForecast, now time.Time) (types.PricePoint, bool) {
	var best types.PricePoint
	var found bool
	for _, p := range window.Points {
		if !p.TS.After(now) {
			continue
		}
		if !found || p.PricePLNPerKWH > best.PricePLNPerKWH {
			best = p
			found = true
		}
	}
	return best, found
}

func waitRecommendation(decision types.TimingDecision, best types.PricePoint, waitHours, confidence float64, reasoning string) types.TimingRecommendation {
	return types.TimingRecommendation{
		Decision:  decision,
		WaitHours: waitHours,
		Peak: &types.PeakCandidate{
			TS:             best.TS,
			PricePLNPerKWH: best.PricePLNPerKWH,
		},
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}
