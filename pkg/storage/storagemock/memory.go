package storagemock

import (
	"context"
	"sync"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

// Memory is an in-memory Database for tests that exercise real persistence
// semantics (e.g. ledger restart behavior) without a database file. Writes
// copy their inputs so later mutations by the caller don't leak in.
type Memory struct {
	mu            sync.Mutex
	settings      types.Settings
	settingsVer   int
	hasSettings   bool
	drawdown      types.DailyDrawdown
	plans         map[string]types.DailySellingPlan
	sessions      []types.CompletedSession
	opportunities []types.SellingOpportunity
	consumption   map[time.Time]float64

	// FailDrawdownWrites makes SetDailyDrawdown return an error, simulating
	// a persistence failure.
	FailDrawdownWrites error
}

var _ storage.Database = (*Memory)(nil)

// NewMemory creates an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{
		drawdown:    types.DailyDrawdown{},
		plans:       map[string]types.DailySellingPlan{},
		consumption: map[time.Time]float64{},
	}
}

func (m *Memory) GetSettings(ctx context.Context) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSettings {
		return types.Settings{}, 0, storage.ErrNotFound
	}
	return m.settings, m.settingsVer, nil
}

func (m *Memory) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.settingsVer = version
	m.hasSettings = true
	return nil
}

func (m *Memory) GetDailyDrawdown(ctx context.Context) (types.DailyDrawdown, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(types.DailyDrawdown, len(m.drawdown))
	for k, v := range m.drawdown {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SetDailyDrawdown(ctx context.Context, dd types.DailyDrawdown) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDrawdownWrites != nil {
		return m.FailDrawdownWrites
	}
	out := make(types.DailyDrawdown, len(dd))
	for k, v := range dd {
		out[k] = v
	}
	m.drawdown = out
	return nil
}

func (m *Memory) UpsertPlan(ctx context.Context, plan types.DailySellingPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[types.DrawdownDateKey(plan.PlanDate)] = plan
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, date time.Time) (types.DailySellingPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[types.DrawdownDateKey(date)]
	if !ok {
		return types.DailySellingPlan{}, storage.ErrNotFound
	}
	return plan, nil
}

func (m *Memory) InsertCompletedSession(ctx context.Context, session types.CompletedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, session)
	return nil
}

func (m *Memory) GetCompletedSessions(ctx context.Context, start, end time.Time) ([]types.CompletedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CompletedSession
	for _, s := range m.sessions {
		if !s.StartTime.Before(start) && s.StartTime.Before(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) InsertOpportunity(ctx context.Context, opp types.SellingOpportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opportunities = append(m.opportunities, opp)
	return nil
}

// Opportunities returns all recorded opportunities.
func (m *Memory) Opportunities() []types.SellingOpportunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SellingOpportunity, len(m.opportunities))
	copy(out, m.opportunities)
	return out
}

func (m *Memory) UpsertConsumption(ctx context.Context, rec types.ConsumptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumption[rec.TSHourStart.UTC().Truncate(time.Hour)] = rec.HomeKWH
	return nil
}

func (m *Memory) GetConsumptionHistory(ctx context.Context, start, end time.Time) ([]types.ConsumptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ConsumptionRecord
	for ts, kwh := range m.consumption {
		if !ts.Before(start) && ts.Before(end) {
			out = append(out, types.ConsumptionRecord{TSHourStart: ts, HomeKWH: kwh})
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
