/*
service.go - Report orchestration

PURPOSE:
  Ties the catalog, the store and the engine together for one deployment.
  A Run loads the raw inputs and client overrides, executes the calculator,
  persists the frozen snapshot and marks the submission processed. The
  engine itself stays log-free; all operational logging happens here.

FAILURE MODEL:
  Storage failures and engine contract errors fail the run. Data-quality
  findings never do: a snapshot full of warnings is still persisted, and
  the caller decides whether a flagged report may be published.

SEE ALSO:
  - catalog.go: Catalog loading and validation
  - store.go: The persistence interface consumed here
*/
package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meridian/report-engine/engine"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service runs report calculations for one catalog over one store.
// Safe for concurrent use; each run owns its context.
type Service struct {
	store Store
	calc  *engine.Calculator
	log   *logrus.Logger
}

// NewService builds the calculator for the catalog and wires the store in
// as the history source. Fails on an invalid catalog (cycle, unknown
// reference, bad formula).
func NewService(cat *Catalog, store Store, log *logrus.Logger) (*Service, error) {
	if log == nil {
		log = logrus.New()
	}
	calc, err := cat.Calculator(engine.WithHistory(store))
	if err != nil {
		return nil, fmt.Errorf("build calculator: %w", err)
	}
	return &Service{store: store, calc: calc, log: log}, nil
}

// Calculator exposes the immutable calculator, mainly for the API's
// catalog introspection endpoints.
func (s *Service) Calculator() *engine.Calculator { return s.calc }

// =============================================================================
// RUN - One report calculation
// =============================================================================

// Run calculates the report for one client period and persists the result.
func (s *Service) Run(ctx context.Context, clientID string, periodEnd time.Time) (*engine.Snapshot, error) {
	started := time.Now()

	raw, err := s.store.RawInputs(ctx, clientID, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("load inputs for %s: %w", clientID, err)
	}
	overrides, err := s.store.Overrides(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load overrides for %s: %w", clientID, err)
	}

	snap, err := s.calc.Calculate(ctx, engine.RunInput{
		ClientID:  clientID,
		PeriodEnd: periodEnd,
		Raw:       raw,
		Overrides: overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("calculate %s %s: %w", clientID, periodEnd.Format("2006-01"), err)
	}

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot %s: %w", snap.ID, err)
	}
	if err := s.store.MarkProcessed(ctx, clientID, periodEnd, snap.ID); err != nil {
		return nil, fmt.Errorf("mark processed %s: %w", clientID, err)
	}

	s.log.WithFields(logrus.Fields{
		"client":   clientID,
		"period":   snap.Period.String(),
		"snapshot": snap.ID,
		"errors":   len(snap.Errors()),
		"warnings": len(snap.Warnings()),
		"took":     time.Since(started).String(),
	}).Info("report calculated")

	return snap, nil
}

// RunPending calculates every submitted report that has no snapshot yet.
// One failing run is logged and skipped; the sweep continues. Returns the
// number of successful runs.
func (s *Service) RunPending(ctx context.Context) (int, error) {
	refs, err := s.store.PendingRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending runs: %w", err)
	}

	done := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := s.Run(ctx, ref.ClientID, ref.PeriodEnd); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"client": ref.ClientID,
				"period": ref.PeriodEnd.Format("2006-01"),
			}).Error("report run failed")
			continue
		}
		done++
	}
	return done, nil
}

// =============================================================================
// READ PATHS
// =============================================================================

// Snapshot returns one persisted snapshot by ID.
func (s *Service) Snapshot(ctx context.Context, id string) (*engine.Snapshot, error) {
	return s.store.Snapshot(ctx, id)
}

// History returns the client's snapshots, newest period first.
func (s *Service) History(ctx context.Context, clientID string) ([]*engine.Snapshot, error) {
	return s.store.SnapshotsByClient(ctx, clientID)
}
