package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RMachnik/goodwe-dynamic-price-optimiser-sub002/pkg/types"
	"github.com/levenlabs/go-lflag"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteProvider implements the Database interface using a local SQLite file.
// It is the default provider since the optimiser usually runs on the same
// box as the inverter.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

// configuredSQLite sets up the SQLite provider.
// It registers flags for configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "optimiser.db", "Path to the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return fmt.Errorf("sqlite-path is required")
	}
	return nil
}

// Init opens the database and creates the schema.
// This must be called before using the provider methods.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	// synchronous=FULL so the drawdown ledger is durable before a write
	// returns; a crash between decision and persistence must not lose the
	// daily cap accounting.
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL", s.path))
	if err != nil {
		return fmt.Errorf("failed to open sqlite db (%s): %w", s.path, err)
	}
	s.db = db
	return s.initSchema(ctx)
}

func (s *SQLiteProvider) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS drawdown (
			date TEXT PRIMARY KEY,
			soc_drop REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS plans (
			date TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			start_time DATETIME NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions(start_time);`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS consumption (
			ts_hour DATETIME PRIMARY KEY,
			home_kwh REAL NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetSettings retrieves the dynamic configuration and its version.
func (s *SQLiteProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	var version int
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT version, payload FROM settings WHERE id = 1`).Scan(&version, &payload)
	if err == sql.ErrNoRows {
		return types.Settings{}, 0, ErrNotFound
	}
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to read settings: %w", err)
	}
	var settings types.Settings
	if err := json.Unmarshal([]byte(payload), &settings); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	return settings, version, nil
}

// SetSettings stores the dynamic configuration and its version.
func (s *SQLiteProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, version, payload) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, payload = excluded.payload
	`, version, string(payload))
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// GetDailyDrawdown loads the full date-keyed drawdown ledger.
func (s *SQLiteProvider) GetDailyDrawdown(ctx context.Context) (types.DailyDrawdown, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT date, soc_drop FROM drawdown`)
	if err != nil {
		return nil, fmt.Errorf("failed to read drawdown ledger: %w", err)
	}
	defer rows.Close()

	dd := types.DailyDrawdown{}
	for rows.Next() {
		var date string
		var drop float64
		if err := rows.Scan(&date, &drop); err != nil {
			return nil, fmt.Errorf("failed to scan drawdown row: %w", err)
		}
		dd[date] = drop
	}
	return dd, rows.Err()
}

// SetDailyDrawdown replaces the drawdown ledger with the given map.
func (s *SQLiteProvider) SetDailyDrawdown(ctx context.Context, dd types.DailyDrawdown) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin drawdown tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM drawdown`); err != nil {
		return fmt.Errorf("failed to clear drawdown ledger: %w", err)
	}
	for date, drop := range dd {
		if _, err := tx.ExecContext(ctx, `INSERT INTO drawdown (date, soc_drop) VALUES (?, ?)`, date, drop); err != nil {
			return fmt.Errorf("failed to write drawdown row (%s): %w", date, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit drawdown ledger: %w", err)
	}
	return nil
}

// UpsertPlan stores the plan for its date.
func (s *SQLiteProvider) UpsertPlan(ctx context.Context, plan types.DailySellingPlan) error {
	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (date, payload) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET payload = excluded.payload
	`, types.DrawdownDateKey(plan.PlanDate), string(payload))
	if err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// GetPlan retrieves the plan for the day containing date.
func (s *SQLiteProvider) GetPlan(ctx context.Context, date time.Time) (types.DailySellingPlan, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM plans WHERE date = ?`, types.DrawdownDateKey(date)).Scan(&payload)
	if err == sql.ErrNoRows {
		return types.DailySellingPlan{}, ErrNotFound
	}
	if err != nil {
		return types.DailySellingPlan{}, fmt.Errorf("failed to read plan: %w", err)
	}
	var plan types.DailySellingPlan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return types.DailySellingPlan{}, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return plan, nil
}

// InsertCompletedSession records a finished selling session.
func (s *SQLiteProvider) InsertCompletedSession(ctx context.Context, session types.CompletedSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, start_time, payload) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET start_time = excluded.start_time, payload = excluded.payload
	`, session.SessionID, session.StartTime.UTC(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// GetCompletedSessions returns sessions with start_time in [start, end).
func (s *SQLiteProvider) GetCompletedSessions(ctx context.Context, start, end time.Time) ([]types.CompletedSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM sessions WHERE start_time >= ? AND start_time < ? ORDER BY start_time
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	defer rows.Close()

	var sessions []types.CompletedSession
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var session types.CompletedSession
		if err := json.Unmarshal([]byte(payload), &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// InsertOpportunity appends an emitted decision to the history.
func (s *SQLiteProvider) InsertOpportunity(ctx context.Context, opp types.SellingOpportunity) error {
	payload, err := json.Marshal(opp)
	if err != nil {
		return fmt.Errorf("failed to marshal opportunity: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO opportunities (ts, payload) VALUES (?, ?)`, opp.Timestamp.UTC(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to write opportunity: %w", err)
	}
	return nil
}

// UpsertConsumption stores one hour of measured consumption.
func (s *SQLiteProvider) UpsertConsumption(ctx context.Context, rec types.ConsumptionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consumption (ts_hour, home_kwh) VALUES (?, ?)
		ON CONFLICT(ts_hour) DO UPDATE SET home_kwh = excluded.home_kwh
	`, rec.TSHourStart.UTC().Truncate(time.Hour), rec.HomeKWH)
	if err != nil {
		return fmt.Errorf("failed to write consumption: %w", err)
	}
	return nil
}

// GetConsumptionHistory returns hourly consumption in [start, end).
func (s *SQLiteProvider) GetConsumptionHistory(ctx context.Context, start, end time.Time) ([]types.ConsumptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_hour, home_kwh FROM consumption WHERE ts_hour >= ? AND ts_hour < ? ORDER BY ts_hour
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to read consumption: %w", err)
	}
	defer rows.Close()

	var records []types.ConsumptionRecord
	for rows.Next() {
		var rec types.ConsumptionRecord
		if err := rows.Scan(&rec.TSHourStart, &rec.HomeKWH); err != nil {
			return nil, fmt.Errorf("failed to scan consumption row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
