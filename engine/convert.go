/*
convert.go - Idempotent percentage conversion guard

PURPOSE:
  Percentage-typed values pass through several resolution stages in one run:
  direct input resolution, fallback application, formula evaluation and
  output formatting. Converting "25" to 0.25 at every stage compounds into
  0.0025. The guard makes conversion idempotent per variable per run: the
  first call decides the normalization, every later call is a logged no-op.

CONVERSION POLICY (first call only):
  - string ending in "%"      -> numeric magnitude / 100
  - bare numeric >= 1         -> value / 100 (un-normalized percentage)
  - bare numeric in [0, 1)    -> unchanged (already normalized)
  Fixed by policy: 1.0 means "1%" and converts to 0.01. It is NOT read as
  an already-normalized 100%.

AUDIT LOG:
  Every attempt, converted or skipped, is appended to the tracker's log with
  the call-site stage label. The log is append-only and mutex-guarded so
  sibling variables within a level could be evaluated concurrently.

LIFECYCLE:
  One tracker per CalculationContext. Created empty, discarded with the
  context, never persisted, never shared across runs. A process-wide cache
  here would reintroduce the double-conversion bug under concurrent runs.

SEE ALSO:
  - context.go: Owns the tracker
  - engine.go: Calls the guard at each resolution stage
*/
package engine

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONVERSION TRACKER - Per-run conversion state and audit log
// =============================================================================

const (
	OutcomeConverted = "converted"
	OutcomeSkipped   = "skipped"
)

// Stage labels used by the engine. Callers may pass their own.
const (
	StageResolve  = "resolve"
	StageOverride = "override"
	StageFallback = "fallback"
	StageEvaluate = "evaluate"
	StageOutput   = "output"
)

// ConversionEntry is one audit record of a conversion attempt.
type ConversionEntry struct {
	Variable string
	Stage    string
	From     Value
	To       Value
	Outcome  string
	At       time.Time
}

// ConversionTracker records which variables have been through percentage
// normalization in this run.
type ConversionTracker struct {
	mu        sync.Mutex
	converted map[string]bool
	log       []ConversionEntry
}

func NewConversionTracker() *ConversionTracker {
	return &ConversionTracker{converted: make(map[string]bool)}
}

// IsConverted reports whether the variable has already been normalized.
func (t *ConversionTracker) IsConverted(variable string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.converted[variable]
}

// Log returns a copy of the audit log in append order.
func (t *ConversionTracker) Log() []ConversionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConversionEntry, len(t.log))
	copy(out, t.log)
	return out
}

// Convert applies the percentage policy to v exactly once per variable.
// If the variable is already marked, the call is a logged no-op returning
// v unchanged. The second return reports whether a rescale happened.
func (t *ConversionTracker) Convert(variable, stage string, v Value) (Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v.IsNoData() {
		// Nothing to normalize; do not mark, a later real value still gets
		// its one conversion.
		t.append(variable, stage, v, v, OutcomeSkipped)
		return v, false
	}

	if t.converted[variable] {
		t.append(variable, stage, v, v, OutcomeSkipped)
		return v, false
	}

	out, rescaled := normalizePercentage(v)
	t.converted[variable] = true
	outcome := OutcomeSkipped
	if rescaled {
		outcome = OutcomeConverted
	}
	t.append(variable, stage, v, out, outcome)
	return out, rescaled
}

// MarkResolved marks a variable as normalized without touching the value.
// Used for formula results: a calculated percentage is already in decimal
// form, so later stages must never rescale it.
func (t *ConversionTracker) MarkResolved(variable, stage string, v Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.converted[variable] = true
	t.append(variable, stage, v, v, OutcomeSkipped)
}

func (t *ConversionTracker) append(variable, stage string, from, to Value, outcome string) {
	t.log = append(t.log, ConversionEntry{
		Variable: variable,
		Stage:    stage,
		From:     from,
		To:       to,
		Outcome:  outcome,
		At:       time.Now(),
	})
}

// normalizePercentage applies the first-call policy. The bool reports
// whether the value was actually divided by 100.
func normalizePercentage(v Value) (Value, bool) {
	hundred := decimal.NewFromInt(100)

	if v.IsText() {
		s := strings.TrimSpace(v.Text)
		if strings.HasSuffix(s, "%") {
			// ParseNumeric already divides values carrying a percent marker.
			d, err := ParseNumeric(v)
			if err != nil {
				return v, false
			}
			return Number(d), true
		}
		d, err := ParseNumeric(v)
		if err != nil {
			return v, false
		}
		v = Number(d)
	}

	if !v.IsNumber() {
		return v, false
	}
	if v.Num.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Number(v.Num.Div(hundred)), true
	}
	// Already in [0, 1): treated as normalized.
	return v, false
}
