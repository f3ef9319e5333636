// Package engine wires the safety monitor, risk ledger, timing engine, peak
// scheduler and decision engine into the periodic control loop, and exposes
// the core's two public entry points: Evaluate and PlanDay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/decision"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/forecast"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/inverter"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/risk"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/safety"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/scheduler"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/timing"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// activeSession tracks an in-progress discharge between evaluation cycles.
type activeSession struct {
	id        string
	startedAt time.Time
	startSOC  float64
	priceSum  float64
	cycles    int
}

// Status is a diagnostic snapshot of the engine's latest state.
type Status struct {
	LastReport      *types.SafetyReport       `json:"lastReport,omitempty"`
	LastOpportunity *types.SellingOpportunity `json:"lastOpportunity,omitempty"`
	Plan            *types.DailySellingPlan   `json:"plan,omitempty"`
	SafetyStats     safety.Stats              `json:"safetyStats"`
	UsedToday       float64                   `json:"usedToday"`
	Selling         bool                      `json:"selling"`
}

// Engine is the decision core plus its control loop.
type Engine struct {
	db        storage.Database
	system    inverter.System
	providers *forecast.Map
	monitor   *safety.Monitor
	ledger    *risk.Ledger
	timer     *timing.Engine
	planner   *scheduler.Scheduler
	decider   *decision.Engine

	priceProvider string
	now           func() time.Time

	mu             sync.Mutex
	settings       types.Settings
	lastForecast   types.PriceForecast
	lastReport     *types.SafetyReport
	lastOpp        *types.SellingOpportunity
	plan           *types.DailySellingPlan
	lastPlanDate   string
	active         *activeSession
}

// Configured sets up the engine based on flags.
func Configured(db storage.Database, system inverter.System, providers *forecast.Map) *Engine {
	provider := lflag.String("price-provider", "pse_rce", "Price provider to use for forecasts")

	monitor := safety.NewMonitor()
	ledger := risk.NewLedger(db)

	e := &Engine{
		db:        db,
		system:    system,
		providers: providers,
		monitor:   monitor,
		ledger:    ledger,
		timer:     timing.New(),
		planner:   scheduler.New(),
		decider:   decision.New(ledger, forecast.NewHistoricalAverage(db)),
		now:       time.Now,
	}

	lflag.Do(func() {
		e.priceProvider = *provider
	})

	return e
}

// New creates an engine with explicit collaborators. This is primarily used
// for testing.
func New(db storage.Database, system inverter.System, providers *forecast.Map, consumption forecast.ConsumptionForecaster, providerName string) *Engine {
	monitor := safety.NewMonitor()
	ledger := risk.NewLedger(db)
	return &Engine{
		db:            db,
		system:        system,
		providers:     providers,
		monitor:       monitor,
		ledger:        ledger,
		timer:         timing.New(),
		planner:       scheduler.New(),
		decider:       decision.New(ledger, consumption),
		priceProvider: providerName,
		now:           time.Now,
	}
}

// Monitor returns the safety monitor for diagnostics.
func (e *Engine) Monitor() *safety.Monitor { return e.monitor }

// Ledger returns the risk ledger.
func (e *Engine) Ledger() *risk.Ledger { return e.ledger }

// FetchForecast fetches the forecast for a date from the configured price
// provider, without the control loop's cached-forecast fallback.
func (e *Engine) FetchForecast(ctx context.Context, date time.Time) (types.PriceForecast, error) {
	provider, err := e.providers.Provider(e.priceProvider)
	if err != nil {
		return types.PriceForecast{}, err
	}
	return provider.GetForecast(ctx, date)
}

// SetNowFunc overrides the clock on the engine and its components. This is
// primarily used for testing.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.now = now
	e.timer.SetNowFunc(now)
	e.ledger.SetNowFunc(now)
	e.monitor.SetNowFunc(now)
	e.decider.SetNowFunc(now)
}

// LoadSettings reads settings from storage, applying version migrations and
// persisting them back when defaults were filled in.
func (e *Engine) LoadSettings(ctx context.Context) (types.Settings, error) {
	settings, version, err := e.db.GetSettings(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return types.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	migrated, changed, err := types.MigrateSettings(settings, version)
	if err != nil {
		return types.Settings{}, fmt.Errorf("failed to migrate settings: %w", err)
	}
	if changed {
		if err := e.db.SetSettings(ctx, migrated, types.CurrentSettingsVersion); err != nil {
			return types.Settings{}, fmt.Errorf("failed to persist migrated settings: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "settings migrated",
			slog.Int("fromVersion", version),
			slog.Int("toVersion", types.CurrentSettingsVersion),
		)
	}

	e.mu.Lock()
	e.settings = migrated
	e.mu.Unlock()
	return migrated, nil
}

// Evaluate is the core's main public entry point: one full decision pass
// over a telemetry snapshot and a price forecast. The current price is the
// forecast point covering now. It always returns a well-formed opportunity.
func (e *Engine) Evaluate(ctx context.Context, telemetry types.Telemetry, priceForecast types.PriceForecast) types.SellingOpportunity {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()

	now := e.now()
	report := e.monitor.Check(ctx, telemetry, settings)

	currentPrice, ok := currentPriceFrom(priceForecast, now)
	var opp types.SellingOpportunity
	if !ok && !report.EmergencyStopRequired {
		opp = types.SellingOpportunity{
			Decision:           types.SellingDecisionWait,
			SafetyChecksPassed: true,
			Risk:               types.RiskLevelLow,
			Reasoning:          "no price available for the current hour",
			Timestamp:          now,
		}
	} else {
		timingRec := e.timer.Recommend(ctx, currentPrice, priceForecast, settings)
		opp = e.decider.Evaluate(ctx, report, timingRec, telemetry, currentPrice, priceForecast, settings)
	}

	e.mu.Lock()
	e.lastReport = &report
	e.lastOpp = &opp
	e.mu.Unlock()

	// decision history is best-effort; losing a record must not block the
	// verdict
	if err := e.db.InsertOpportunity(ctx, opp); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to record opportunity", slog.Any("err", err))
	}

	log.Ctx(ctx).InfoContext(ctx, "evaluated selling opportunity",
		slog.String("decision", opp.Decision.String()),
		slog.String("risk", opp.Risk.String()),
		slog.Float64("currentPrice", currentPrice),
		slog.String("reasoning", opp.Reasoning),
	)
	return opp
}

// PlanDay builds and persists the daily selling plan. It returns false when
// no plan could be made.
func (e *Engine) PlanDay(ctx context.Context, priceForecast types.PriceForecast, currentSOC float64) (types.DailySellingPlan, bool) {
	e.mu.Lock()
	settings := e.settings
	e.mu.Unlock()

	plan, ok := e.planner.PlanDay(ctx, priceForecast, currentSOC, settings)
	if !ok {
		return types.DailySellingPlan{}, false
	}

	if err := e.db.UpsertPlan(ctx, plan); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist plan", slog.Any("err", err))
	}

	e.mu.Lock()
	e.plan = &plan
	e.lastPlanDate = types.DrawdownDateKey(plan.PlanDate)
	e.mu.Unlock()
	return plan, true
}

// CompleteSession records a finished session: the drawdown is written
// through to the ledger before the session record is stored. A ledger
// persistence failure fails the whole call.
func (e *Engine) CompleteSession(ctx context.Context, session types.CompletedSession) error {
	if err := e.ledger.RecordDrawdown(ctx, session.SOCDropPercent); err != nil {
		return err
	}
	if err := e.db.InsertCompletedSession(ctx, session); err != nil {
		return fmt.Errorf("failed to record completed session: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "session completed",
		slog.String("sessionID", session.SessionID),
		slog.Float64("socDrop", session.SOCDropPercent),
		slog.Float64("revenuePLN", session.RevenuePLN),
	)
	return nil
}

// Status returns a diagnostic snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		LastReport:      e.lastReport,
		LastOpportunity: e.lastOpp,
		Plan:            e.plan,
		SafetyStats:     e.monitor.Stats(),
		UsedToday:       e.ledger.UsedToday(ctx),
		Selling:         e.active != nil,
	}
}

// currentPriceFrom returns the price of the forecast point covering now.
func currentPriceFrom(priceForecast types.PriceForecast, now time.Time) (float64, bool) {
	hour := now.Truncate(time.Hour)
	for _, p := range priceForecast.Points {
		if p.TS.Truncate(time.Hour).Equal(hour) {
			return p.PricePLNPerKWH, true
		}
	}
	return 0, false
}
