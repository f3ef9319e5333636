package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/levenlabs/go-lflag"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// Database defines the interface for persisting the optimiser's state. The
// risk ledger's drawdown writes are write-through: a call that returns nil
// means the mutation is durable.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Risk ledger
	GetDailyDrawdown(ctx context.Context) (types.DailyDrawdown, error)
	SetDailyDrawdown(ctx context.Context, dd types.DailyDrawdown) error

	// Plans & sessions
	UpsertPlan(ctx context.Context, plan types.DailySellingPlan) error
	GetPlan(ctx context.Context, date time.Time) (types.DailySellingPlan, error)
	InsertCompletedSession(ctx context.Context, session types.CompletedSession) error
	GetCompletedSessions(ctx context.Context, start, end time.Time) ([]types.CompletedSession, error)

	// Decision history
	InsertOpportunity(ctx context.Context, opp types.SellingOpportunity) error

	// Consumption history for the buy-back analysis
	UpsertConsumption(ctx context.Context, rec types.ConsumptionRecord) error
	GetConsumptionHistory(ctx context.Context, start, end time.Time) ([]types.ConsumptionRecord, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite, firestore)")

	var p struct{ Database }

	sq := configuredSQLite()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
