/*
Package sqlite provides the SQLite-backed implementation of the report store.

PURPOSE:
  Implements reports.Store using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  report_inputs:    Raw input values submitted per (client, period), with a
                    processed flag linking to the snapshot produced for them
  client_overrides: Static per-client value overrides, applied to every run
  snapshots:        Frozen run results as JSON; never updated in place

SNAPSHOTS AS HISTORY:
  Snapshots double as the monthly historical record: MonthlyMetric reads the
  tracked metric (configured at construction, normally "hhs") back out of the
  latest snapshot for a (client, year, month). Re-running a period inserts a
  new snapshot and the latest one wins.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/reports.db", "hhs")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc, err := reports.NewService(catalog, store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - reports/store.go: Interface definitions
  - engine/history/memory.go: In-memory history for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/meridian/report-engine/engine"
	"github.com/meridian/report-engine/reports"
)

// Store implements reports.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	// metric is the variable MonthlyMetric reads from stored snapshots.
	metric string
}

// New creates a SQLite store. Use ":memory:" for an in-memory database.
// metric names the snapshot variable serving as monthly history.
func New(dbPath, metric string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, metric: metric}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Raw inputs submitted per client period
	CREATE TABLE IF NOT EXISTS report_inputs (
		client_id TEXT NOT NULL,
		period TEXT NOT NULL,        -- YYYY-MM
		period_end TEXT NOT NULL,    -- YYYY-MM-DD
		values_json TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		snapshot_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (client_id, period)
	);

	CREATE INDEX IF NOT EXISTS idx_inputs_pending
		ON report_inputs(processed) WHERE processed = FALSE;

	-- Static per-client overrides
	CREATE TABLE IF NOT EXISTS client_overrides (
		client_id TEXT NOT NULL,
		variable TEXT NOT NULL,
		value_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (client_id, variable)
	);

	-- Frozen run results; also the monthly historical record
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot path: history lookups and per-client listings
	CREATE INDEX IF NOT EXISTS idx_snapshots_client_period
		ON snapshots(client_id, year, month, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// REPORT INPUTS
// =============================================================================

// SubmitInputs stores (or replaces) the raw values for a client period and
// flags the period as pending calculation.
func (s *Store) SubmitInputs(ctx context.Context, clientID string, periodEnd time.Time, values map[string]engine.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_inputs (client_id, period, period_end, values_json, processed, snapshot_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, FALSE, NULL, ?, ?)
		ON CONFLICT(client_id, period) DO UPDATE SET
			values_json = excluded.values_json,
			period_end = excluded.period_end,
			processed = FALSE,
			snapshot_id = NULL,
			updated_at = excluded.updated_at`,
		clientID, periodKey(periodEnd), periodEnd.Format("2006-01-02"), string(data), now, now)
	if err != nil {
		return fmt.Errorf("submit inputs for %s: %w", clientID, err)
	}
	return nil
}

// RawInputs returns the submitted values for a client period.
func (s *Store) RawInputs(ctx context.Context, clientID string, periodEnd time.Time) (map[string]engine.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT values_json FROM report_inputs WHERE client_id = ? AND period = ?`,
		clientID, periodKey(periodEnd)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("inputs for %s %s: %w", clientID, periodKey(periodEnd), reports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load inputs: %w", err)
	}

	values := make(map[string]engine.Value)
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	return values, nil
}

// PendingRuns returns submitted reports awaiting calculation.
func (s *Store) PendingRuns(ctx context.Context) ([]reports.RunRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, period_end FROM report_inputs WHERE processed = FALSE ORDER BY period, client_id`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var refs []reports.RunRef
	for rows.Next() {
		var clientID, end string
		if err := rows.Scan(&clientID, &end); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		periodEnd, err := time.Parse("2006-01-02", end)
		if err != nil {
			return nil, fmt.Errorf("bad period_end %q: %w", end, err)
		}
		refs = append(refs, reports.RunRef{ClientID: clientID, PeriodEnd: periodEnd})
	}
	return refs, rows.Err()
}

// MarkProcessed links a submission to the snapshot produced for it.
func (s *Store) MarkProcessed(ctx context.Context, clientID string, periodEnd time.Time, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE report_inputs SET processed = TRUE, snapshot_id = ?, updated_at = ?
		WHERE client_id = ? AND period = ?`,
		snapshotID, time.Now().UTC().Format(time.RFC3339), clientID, periodKey(periodEnd))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("submission %s %s: %w", clientID, periodKey(periodEnd), reports.ErrNotFound)
	}
	return nil
}

// =============================================================================
// CLIENT OVERRIDES
// =============================================================================

// SetOverride stores one static override value for a client.
func (s *Store) SetOverride(ctx context.Context, clientID, variable string, v engine.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO client_overrides (client_id, variable, value_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client_id, variable) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at`,
		clientID, variable, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("set override %s.%s: %w", clientID, variable, err)
	}
	return nil
}

// DeleteOverride removes one override. Deleting an absent override is a no-op.
func (s *Store) DeleteOverride(ctx context.Context, clientID, variable string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM client_overrides WHERE client_id = ? AND variable = ?`, clientID, variable)
	if err != nil {
		return fmt.Errorf("delete override %s.%s: %w", clientID, variable, err)
	}
	return nil
}

// Overrides returns all override values for a client.
func (s *Store) Overrides(ctx context.Context, clientID string) (map[string]engine.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT variable, value_json FROM client_overrides WHERE client_id = ?`, clientID)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]engine.Value)
	for rows.Next() {
		var variable, data string
		if err := rows.Scan(&variable, &data); err != nil {
			return nil, fmt.Errorf("scan override row: %w", err)
		}
		var v engine.Value
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode override %s: %w", variable, err)
		}
		out[variable] = v
	}
	return out, rows.Err()
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// SaveSnapshot persists a frozen run result.
func (s *Store) SaveSnapshot(ctx context.Context, snap *engine.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, client_id, year, month, snapshot_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ClientID, snap.Period.Year, int(snap.Period.Month),
		string(data), snap.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Snapshot returns one snapshot by ID.
func (s *Store) Snapshot(ctx context.Context, id string) (*engine.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM snapshots WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", id, reports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// SnapshotsByClient returns a client's snapshots, newest period first.
func (s *Store) SnapshotsByClient(ctx context.Context, clientID string) ([]*engine.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_json FROM snapshots
		WHERE client_id = ?
		ORDER BY year DESC, month DESC, created_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*engine.Snapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func decodeSnapshot(data string) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// =============================================================================
// HISTORY LOOKUP - Feeds the year-to-date resolver
// =============================================================================

// MonthlyMetric returns the tracked metric from the latest snapshot of a
// (client, year, month). Second return is false when no snapshot exists or
// the metric resolved to no-data that month.
func (s *Store) MonthlyMetric(ctx context.Context, clientID string, year int, month time.Month) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_json FROM snapshots
		WHERE client_id = ? AND year = ? AND month = ?
		ORDER BY created_at DESC LIMIT 1`,
		clientID, year, int(month)).Scan(&data)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("history lookup %s %d-%02d: %w", clientID, year, int(month), err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return decimal.Zero, false, err
	}
	v, ok := snap.Values[s.metric]
	if !ok || !v.IsNumber() {
		return decimal.Zero, false, nil
	}
	return v.Num, true, nil
}

func periodKey(periodEnd time.Time) string {
	return periodEnd.Format("2006-01")
}
