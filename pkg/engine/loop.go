package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/google/uuid"
)

// Run drives the periodic control loop: a short evaluation cycle and a
// once-per-day planning pass. Shutdown is cooperative: the in-flight cycle
// finishes (including any ledger write-through) before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	settings, err := e.LoadSettings(ctx)
	if err != nil {
		return err
	}

	interval := time.Duration(settings.EvaluationIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log.Ctx(ctx).InfoContext(ctx, "control loop starting",
		slog.Duration("evaluationInterval", interval),
		slog.Int("planningHour", settings.PlanningHour),
		slog.Bool("dryRun", settings.DryRun),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// run one cycle immediately so a restart doesn't wait a full interval
	e.cycle(ctx, interval)

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "control loop stopping")
			// use a fresh context so the final stop isn't canceled mid-write
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			err := e.stopSelling(stopCtx, "shutdown")
			cancel()
			return err
		case <-ticker.C:
			e.cycle(ctx, interval)
		}
	}
}

// cycle performs one evaluation pass: refresh snapshots, plan if due,
// evaluate, actuate.
func (e *Engine) cycle(ctx context.Context, interval time.Duration) {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()

	if settings.Pause {
		log.Ctx(ctx).DebugContext(ctx, "evaluation paused")
		return
	}

	now := e.now()
	telemetry := e.readTelemetry(ctx, interval)
	priceForecast := e.refreshForecast(ctx, now)

	if e.planningDue(now, settings) {
		if _, ok := e.PlanDay(ctx, priceForecast, telemetry.BatterySOC); !ok {
			log.Ctx(ctx).InfoContext(ctx, "no selling plan for today")
			e.mu.Lock()
			e.lastPlanDate = types.DrawdownDateKey(now)
			e.mu.Unlock()
		}
	}

	opp := e.Evaluate(ctx, telemetry, priceForecast)
	e.actuate(ctx, opp, telemetry, settings)
}

// readTelemetry fetches a fresh snapshot. A driver failure is surfaced as an
// Emergency-equivalent snapshot (non-empty error codes, invalid grid
// voltage) so the safety monitor rejects the cycle instead of the error
// being swallowed.
func (e *Engine) readTelemetry(ctx context.Context, interval time.Duration) types.Telemetry {
	telemetry, err := e.system.ReadTelemetry(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "telemetry read failed", slog.Any("err", err))
		return types.Telemetry{
			Timestamp:   e.now(),
			GridVoltage: -1,
			ErrorCodes:  []string{fmt.Sprintf("telemetry_read_failed: %v", err)},
		}
	}
	if age := e.now().Sub(telemetry.Timestamp); age > interval {
		// stale snapshots fail validation instead of blocking on fresh data
		telemetry.Stale = true
		telemetry.ErrorCodes = append(telemetry.ErrorCodes, fmt.Sprintf("telemetry_stale: %s old", age.Truncate(time.Second)))
	}
	return telemetry
}

// refreshForecast fetches today's forecast, falling back to the last good
// one with degraded confidence when the provider fails.
func (e *Engine) refreshForecast(ctx context.Context, now time.Time) types.PriceForecast {
	provider, err := e.providers.Provider(e.priceProvider)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "price provider missing", slog.Any("err", err))
		return types.PriceForecast{}
	}

	priceForecast, err := provider.GetForecast(ctx, now)
	if err != nil {
		e.mu.Lock()
		cached := e.lastForecast
		e.mu.Unlock()
		log.Ctx(ctx).WarnContext(ctx, "forecast fetch failed, using cached",
			slog.Any("err", err),
			slog.Int("cachedPoints", len(cached.Points)),
		)
		// stale forecasts are worth less
		cached.Confidence *= 0.5
		return cached
	}

	e.mu.Lock()
	e.lastForecast = priceForecast
	e.mu.Unlock()
	return priceForecast
}

// planningDue reports whether the daily planning pass should run this cycle.
func (e *Engine) planningDue(now time.Time, settings types.Settings) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Hour() >= settings.PlanningHour && e.lastPlanDate != types.DrawdownDateKey(now)
}

// actuate applies the verdict to the inverter and keeps session bookkeeping.
func (e *Engine) actuate(ctx context.Context, opp types.SellingOpportunity, telemetry types.Telemetry, settings types.Settings) {
	if settings.DryRun {
		log.Ctx(ctx).InfoContext(ctx, "dry run, skipping actuation", slog.String("decision", opp.Decision.String()))
		return
	}

	switch opp.Decision {
	case types.SellingDecisionStart:
		e.mu.Lock()
		alreadySelling := e.active != nil
		if !alreadySelling {
			e.active = &activeSession{
				id:        uuid.NewString(),
				startedAt: opp.Timestamp,
				startSOC:  telemetry.BatterySOC,
			}
		}
		// derive the per-cycle price from the opportunity sizing so the
		// completed session can report an average selling price
		if opp.SOCDropPercent > 0 && settings.DischargeEfficiency > 0 {
			energy := opp.SOCDropPercent * settings.BatteryCapacityKWH / 100.0
			e.active.priceSum += opp.ExpectedRevenuePLN / (energy * settings.DischargeEfficiency)
			e.active.cycles++
		}
		e.mu.Unlock()

		if alreadySelling {
			return
		}
		if err := e.system.SetGridExportLimit(ctx, opp.SellingPowerW); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to set export limit", slog.Any("err", err))
			e.mu.Lock()
			e.active = nil
			e.mu.Unlock()
			return
		}
		if err := e.system.SetDischargeMode(ctx, opp.SellingPowerW, settings.SafetyMarginSOC); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to start discharge", slog.Any("err", err))
			e.mu.Lock()
			e.active = nil
			e.mu.Unlock()
			return
		}
		log.Ctx(ctx).InfoContext(ctx, "selling started",
			slog.Float64("powerW", opp.SellingPowerW),
			slog.Float64("estimatedDurationHours", opp.EstimatedDurationHours),
		)
	case types.SellingDecisionWait:
		if err := e.stopSelling(ctx, opp.Reasoning); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to stop selling", slog.Any("err", err))
		}
	}
}

// stopSelling ends an active session, stops the inverter and records the
// session outcome through the ledger.
func (e *Engine) stopSelling(ctx context.Context, reason string) error {
	e.mu.Lock()
	active := e.active
	e.active = nil
	e.mu.Unlock()

	if active == nil {
		return nil
	}

	if err := e.system.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop discharge: %w", err)
	}

	endSOC := active.startSOC
	if telemetry, err := e.system.ReadTelemetry(ctx); err == nil {
		endSOC = telemetry.BatterySOC
	}

	socDrop := active.startSOC - endSOC
	if socDrop < 0 {
		socDrop = 0
	}

	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()

	now := e.now()
	energyKWH := socDrop * settings.BatteryCapacityKWH / 100.0
	session := types.CompletedSession{
		SessionID:      active.id,
		StartTime:      active.startedAt,
		EndTime:        now,
		EnergySoldKWH:  energyKWH,
		SOCDropPercent: socDrop,
	}
	if active.cycles > 0 {
		session.AvgPricePLNPerKWH = active.priceSum / float64(active.cycles)
		session.RevenuePLN = energyKWH * session.AvgPricePLNPerKWH * settings.DischargeEfficiency
	}

	log.Ctx(ctx).InfoContext(ctx, "selling stopped",
		slog.String("reason", reason),
		slog.Float64("socDrop", socDrop),
	)
	return e.CompleteSession(ctx, session)
}
