package storagemock

import (
	"context"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) GetDailyDrawdown(ctx context.Context) (types.DailyDrawdown, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.DailyDrawdown), args.Error(1)
	}
	return types.DailyDrawdown{}, nil
}

func (m *MockDatabase) SetDailyDrawdown(ctx context.Context, dd types.DailyDrawdown) error {
	args := m.Called(ctx, dd)
	return args.Error(0)
}

func (m *MockDatabase) UpsertPlan(ctx context.Context, plan types.DailySellingPlan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockDatabase) GetPlan(ctx context.Context, date time.Time) (types.DailySellingPlan, error) {
	args := m.Called(ctx, date)
	if len(args) > 0 {
		return args.Get(0).(types.DailySellingPlan), args.Error(1)
	}
	return types.DailySellingPlan{}, nil
}

func (m *MockDatabase) InsertCompletedSession(ctx context.Context, session types.CompletedSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockDatabase) GetCompletedSessions(ctx context.Context, start, end time.Time) ([]types.CompletedSession, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.CompletedSession), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) InsertOpportunity(ctx context.Context, opp types.SellingOpportunity) error {
	args := m.Called(ctx, opp)
	return args.Error(0)
}

func (m *MockDatabase) UpsertConsumption(ctx context.Context, rec types.ConsumptionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDatabase) GetConsumptionHistory(ctx context.Context, start, end time.Time) ([]types.ConsumptionRecord, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.ConsumptionRecord), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
