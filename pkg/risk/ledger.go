// Package risk enforces the economic drawdown caps: how much battery SOC may
// be sold per session and per calendar day. The daily ledger is persisted
// write-through so a restart cannot silently reset the cap.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/log"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/storage"
	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
)

// retention is how long daily drawdown entries are kept; older entries are
// pruned on load and on every write.
const retention = 7 * 24 * time.Hour

// Ledger tracks cumulative SOC drawdown per calendar day. It owns the
// persisted ledger exclusively; other components only append through
// RecordDrawdown.
type Ledger struct {
	mu       sync.Mutex
	db       storage.Database
	drawdown types.DailyDrawdown
	loaded   bool
	now      func() time.Time
}

// NewLedger creates a Ledger backed by the given database. The ledger is
// loaded lazily on first use.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{
		db:  db,
		now: time.Now,
	}
}

// SetNowFunc overrides the clock. This is primarily used for testing.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// load populates the in-memory ledger from storage, pruning stale entries.
// A read failure starts from an empty ledger rather than guessing.
// Callers must hold l.mu.
func (l *Ledger) load(ctx context.Context) {
	if l.loaded {
		return
	}
	dd, err := l.db.GetDailyDrawdown(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load drawdown ledger, starting empty", slog.Any("err", err))
		dd = types.DailyDrawdown{}
	}
	l.drawdown = dd.Pruned(l.now(), retention)
	l.loaded = true
}

// UsedToday returns the cumulative SOC percentage already sold today.
func (l *Ledger) UsedToday(ctx context.Context) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load(ctx)
	return l.drawdown.UsedOn(l.now())
}

// MaxAllowedDrop returns the SOC percentage still permitted to be sold right
// now: the smaller of the per-session cap and what remains of the daily cap.
// The result is never negative.
func (l *Ledger) MaxAllowedDrop(ctx context.Context, settings types.Settings) float64 {
	remaining := settings.MaxSOCDropPerDay - l.UsedToday(ctx)
	if remaining < 0 {
		remaining = 0
	}
	if settings.MaxSOCDropPerSession < remaining {
		return settings.MaxSOCDropPerSession
	}
	return remaining
}

// RecordDrawdown adds socDrop to today's cumulative total and persists the
// ledger. The in-memory increment is rolled back if the write does not
// durably complete, so a failed persistence never reports success.
func (l *Ledger) RecordDrawdown(ctx context.Context, socDrop float64) error {
	if socDrop < 0 {
		return fmt.Errorf("drawdown cannot be negative: %f", socDrop)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.load(ctx)

	now := l.now()
	key := types.DrawdownDateKey(now)

	pruned := l.drawdown.Pruned(now, retention)
	pruned[key] = l.drawdown[key] + socDrop

	if err := l.db.SetDailyDrawdown(ctx, pruned); err != nil {
		// leave the in-memory state untouched so a retry re-attempts the
		// same mutation
		return fmt.Errorf("failed to persist drawdown ledger: %w", err)
	}
	l.drawdown = pruned

	log.Ctx(ctx).InfoContext(ctx, "recorded drawdown",
		slog.String("date", key),
		slog.Float64("socDrop", socDrop),
		slog.Float64("cumulative", pruned[key]),
	)
	return nil
}
