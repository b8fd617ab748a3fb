/*
store.go - Persistence interface between the report service and the database

PURPOSE:
  Defines what the service needs from storage: the raw input rows submitted
  for a (client, period), per-client static overrides, generated snapshots,
  and the monthly history feeding the year-to-date resolver. Implementations
  can use SQLite or in-memory storage.

SNAPSHOTS AS HISTORY:
  Persisted snapshots double as the historical record: the YTD lookup reads
  the tracked metric back out of earlier months' snapshots. Snapshots are
  never updated in place; re-running a period writes a new snapshot and the
  latest one wins.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - memStore in service_test.go: In-memory for tests

SEE ALSO:
  - service.go: The orchestration layer using this interface
  - engine/ytd.go: The HistoryLookup contract embedded here
*/
package reports

import (
	"context"
	"errors"
	"time"

	"github.com/meridian/report-engine/engine"
)

// ErrNotFound is returned by lookups for absent rows.
var ErrNotFound = errors.New("not found")

// RunRef identifies one submitted report awaiting calculation.
type RunRef struct {
	ClientID  string
	PeriodEnd time.Time
}

// Store is the persistence surface of the report service.
type Store interface {
	// MonthlyMetric feeds the year-to-date resolver from stored snapshots.
	engine.HistoryLookup

	// SubmitInputs stores (or replaces) the raw values for a client period
	// and flags the period as pending calculation.
	SubmitInputs(ctx context.Context, clientID string, periodEnd time.Time, values map[string]engine.Value) error

	// RawInputs returns the submitted input values for a client period.
	// ErrNotFound when nothing was submitted for the period.
	RawInputs(ctx context.Context, clientID string, periodEnd time.Time) (map[string]engine.Value, error)

	// SetOverride stores one static override value for a client.
	SetOverride(ctx context.Context, clientID, variable string, v engine.Value) error

	// DeleteOverride removes one override; removing an absent one is a no-op.
	DeleteOverride(ctx context.Context, clientID, variable string) error

	// Overrides returns the client's static override values, empty map when
	// none exist.
	Overrides(ctx context.Context, clientID string) (map[string]engine.Value, error)

	// SaveSnapshot persists a frozen run result.
	SaveSnapshot(ctx context.Context, snap *engine.Snapshot) error

	// Snapshot returns one snapshot by ID. ErrNotFound when absent.
	Snapshot(ctx context.Context, id string) (*engine.Snapshot, error)

	// SnapshotsByClient returns the client's snapshots, newest period first.
	SnapshotsByClient(ctx context.Context, clientID string) ([]*engine.Snapshot, error)

	// PendingRuns returns submitted reports not yet calculated.
	PendingRuns(ctx context.Context) ([]RunRef, error)

	// MarkProcessed links a submitted report to the snapshot produced for it.
	MarkProcessed(ctx context.Context, clientID string, periodEnd time.Time, snapshotID string) error
}
