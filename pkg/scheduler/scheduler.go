// Package scheduler turns a day-ahead price forecast into a small set of
// high-value, time-separated selling sessions sized against the battery.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/google/uuid"
)

const (
	// session confidence by tier; the plan's confidence multiplies the
	// average of these by the forecast confidence
	highTierConfidence = 0.8
	lowTierConfidence  = 0.6
)

// Scheduler builds daily selling plans.
type Scheduler struct {
	newID func() string
}

// New creates a Scheduler.
func New() *Scheduler {
	return &Scheduler{
		newID: uuid.NewString,
	}
}

// SetIDFunc overrides session ID generation. This is primarily used for
// testing.
func (s *Scheduler) SetIDFunc(newID func() string) {
	s.newID = newID
}

// PlanDay transforms the forecast into a DailySellingPlan. It returns false
// when no plan can be made: the forecast is too short, no candidate clears
// the quality bar, or no battery energy is available above the safety
// margin. None of these are errors.
func (s *Scheduler) PlanDay(ctx context.Context, forecast types.PriceForecast, currentSOC float64, settings types.Settings) (types.DailySellingPlan, bool) {
	forecast = forecast.Sorted()
	if len(forecast.Points) < settings.MinForecastPoints {
		log.Ctx(ctx).DebugContext(ctx, "forecast too short for planning",
			slog.Int("points", len(forecast.Points)),
			slog.Int("required", settings.MinForecastPoints),
		)
		return types.DailySellingPlan{}, false
	}

	candidates := identifyPeaks(forecast, settings)
	candidates = classify(candidates, forecast, settings)
	selected := selectCandidates(candidates, settings)
	if len(selected) == 0 {
		log.Ctx(ctx).DebugContext(ctx, "no peak candidates above the quality bar",
			slog.Int("rawCandidates", len(candidates)),
		)
		return types.DailySellingPlan{}, false
	}

	availableKWH := (currentSOC - settings.SafetyMarginSOC) * settings.BatteryCapacityKWH / 100.0
	if availableKWH <= 0 {
		log.Ctx(ctx).DebugContext(ctx, "no battery energy available above safety margin",
			slog.Float64("currentSOC", currentSOC),
			slog.Float64("safetyMarginSOC", settings.SafetyMarginSOC),
		)
		return types.DailySellingPlan{}, false
	}

	sessions, endSOC := s.allocate(selected, availableKWH, currentSOC, settings)
	if len(sessions) == 0 {
		return types.DailySellingPlan{}, false
	}

	var totalEnergy, totalRevenue, confidenceSum float64
	for _, session := range sessions {
		totalEnergy += session.AllocatedEnergyKWH
		totalRevenue += session.ExpectedRevenuePLN
		confidenceSum += session.Confidence
	}

	plan := types.DailySellingPlan{
		PlanDate:                dayOf(forecast.Points[0].TS),
		Sessions:                sessions,
		TotalPlannedEnergyKWH:   totalEnergy,
		TotalExpectedRevenuePLN: totalRevenue,
		BatteryStartSOC:         currentSOC,
		BatteryEndSOC:           endSOC,
		Confidence:              confidenceSum / float64(len(sessions)) * forecast.Confidence,
		Reasoning: fmt.Sprintf(
			"%d sessions from %d peak candidates, %.1f kWh allocated, expected %.2f PLN",
			len(sessions), len(candidates), totalEnergy, totalRevenue,
		),
	}

	log.Ctx(ctx).InfoContext(ctx, "daily plan built",
		slog.Int("sessions", len(sessions)),
		slog.Float64("totalEnergyKWH", totalEnergy),
		slog.Float64("expectedRevenuePLN", totalRevenue),
		slog.Float64("confidence", plan.Confidence),
	)
	return plan, true
}

// identifyPeaks scans the time-sorted forecast for local maxima at or above
// the minimum peak price. When two candidates fall within the minimum
// separation, the higher-priced one survives.
func identifyPeaks(forecast types.PriceForecast, settings types.Settings) []types.PeakCandidate {
	points := forecast.Points
	var candidates []types.PeakCandidate
	minSep := time.Duration(settings.MinPeakSeparationHours * float64(time.Hour))

	for i := 1; i < len(points)-1; i++ {
		p := points[i]
		if p.PricePLNPerKWH < settings.MinPeakPricePLNPerKWH {
			continue
		}
		if p.PricePLNPerKWH <= points[i-1].PricePLNPerKWH || p.PricePLNPerKWH <= points[i+1].PricePLNPerKWH {
			continue
		}

		candidate := types.PeakCandidate{
			TS:             p.TS,
			PricePLNPerKWH: p.PricePLNPerKWH,
		}

		// enforce separation against the last accepted candidate; points
		// are sorted so earlier candidates are farther away
		if len(candidates) > 0 {
			last := &candidates[len(candidates)-1]
			if candidate.TS.Sub(last.TS) < minSep {
				if candidate.PricePLNPerKWH > last.PricePLNPerKWH {
					*last = candidate
				}
				continue
			}
		}
		candidates = append(candidates, candidate)
	}
	return candidates
}

// classify assigns percentile ranks, quality tiers and priorities to the
// candidates against the forecast's own price distribution.
func classify(candidates []types.PeakCandidate, forecast types.PriceForecast, settings types.Settings) []types.PeakCandidate {
	for i := range candidates {
		rank := forecast.PercentileRank(candidates[i].PricePLNPerKWH)
		candidates[i].PercentileRank = rank
		switch {
		case rank >= settings.ExcellentPercentile:
			candidates[i].Quality = types.PeakQualityExcellent
		case rank >= settings.GoodPercentile:
			candidates[i].Quality = types.PeakQualityGood
		case rank >= settings.ModeratePercentile:
			candidates[i].Quality = types.PeakQualityModerate
		default:
			candidates[i].Quality = types.PeakQualityPoor
		}
		candidates[i].Priority = candidates[i].Quality.Priority()
	}
	return candidates
}

// selectCandidates drops Poor candidates, optionally reserves the best
// evening peak, and fills the rest by (priority, price). MaxSessionsPerDay
// is a hard post-selection cap and the forced evening peak is de-duplicated
// explicitly.
func selectCandidates(candidates []types.PeakCandidate, settings types.Settings) []types.PeakCandidate {
	var viable []types.PeakCandidate
	for _, c := range candidates {
		if c.Quality != types.PeakQualityPoor {
			viable = append(viable, c)
		}
	}
	if len(viable) == 0 {
		return nil
	}

	sort.SliceStable(viable, func(i, j int) bool {
		if viable[i].Priority != viable[j].Priority {
			return viable[i].Priority < viable[j].Priority
		}
		return viable[i].PricePLNPerKWH > viable[j].PricePLNPerKWH
	})

	var selected []types.PeakCandidate
	if settings.ReserveEveningPeak {
		// viable is already in preference order, so the first evening
		// candidate is the best one
		for _, c := range viable {
			hour := c.TS.Hour()
			if hour >= settings.EveningStartHour && hour <= settings.EveningEndHour {
				selected = append(selected, c)
				break
			}
		}
	}

	for _, c := range viable {
		if len(selected) >= settings.MaxSessionsPerDay {
			break
		}
		if len(selected) > 0 && c.TS.Equal(selected[0].TS) && settings.ReserveEveningPeak {
			// already force-included
			continue
		}
		selected = append(selected, c)
	}
	if len(selected) > settings.MaxSessionsPerDay {
		selected = selected[:settings.MaxSessionsPerDay]
	}

	// allocate processes sessions chronologically
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].TS.Before(selected[j].TS)
	})
	return selected
}

// allocate distributes the available energy across the selected candidates
// weighted by priority, capping each session so the running SOC never
// crosses the safety margin. It returns the sessions and the final SOC.
func (s *Scheduler) allocate(selected []types.PeakCandidate, availableKWH, currentSOC float64, settings types.Settings) ([]types.SellingSession, float64) {
	var weightSum float64
	for _, c := range selected {
		weightSum += float64(4 - c.Priority)
	}
	if weightSum <= 0 {
		return nil, currentSOC
	}

	exportKW := settings.MaxExportPowerW / 1000.0
	runningSOC := currentSOC

	var sessions []types.SellingSession
	for _, c := range selected {
		weight := float64(4 - c.Priority)
		alloc := availableKWH * weight / weightSum

		// never let the running SOC breach the safety margin
		maxAlloc := (runningSOC - settings.SafetyMarginSOC) * settings.BatteryCapacityKWH / 100.0
		if alloc > maxAlloc {
			alloc = maxAlloc
		}
		if alloc <= 0 {
			// allocation exhausted by earlier sessions, drop this one
			continue
		}

		targetEndSOC := runningSOC - alloc/settings.BatteryCapacityKWH*100.0
		confidence := lowTierConfidence
		if c.Quality == types.PeakQualityExcellent || c.Quality == types.PeakQualityGood {
			confidence = highTierConfidence
		}

		sessions = append(sessions, types.SellingSession{
			ID:                   s.newID(),
			StartTime:            c.TS,
			DurationHours:        alloc / (exportKW * settings.DischargeEfficiency),
			TargetPricePLNPerKWH: c.PricePLNPerKWH,
			Quality:              c.Quality,
			AllocatedEnergyKWH:   alloc,
			TargetEndSOC:         targetEndSOC,
			ExpectedRevenuePLN:   alloc * c.PricePLNPerKWH,
			Priority:             c.Priority,
			Confidence:           confidence,
		})
		runningSOC = targetEndSOC
	}
	return sessions, runningSOC
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
