/*
context.go - Per-run calculation context and frozen snapshot

PURPOSE:
  One CalculationContext exists per calculation run. It is mutable while the
  engine walks the dependency levels and frozen into an immutable Snapshot
  afterwards. Contexts are never shared between runs: concurrent requests
  for different clients/periods each get their own, which is what keeps the
  percentage guard's per-run state sound.

EXACTLY-ONCE CONTRACT:
  A variable is written to the context exactly once. A second write for the
  same name is a programming bug in the engine, surfaced as
  ErrDuplicateResolution, never silently tolerated.

SEE ALSO:
  - engine.go: Drives the context through a run
  - convert.go: The tracker owned by the context
*/
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// REPORT PERIOD
// =============================================================================

// ReportPeriod identifies the calendar month a report covers, derived from
// the period's end date.
type ReportPeriod struct {
	Year  int
	Month time.Month
}

func PeriodFromEndDate(end time.Time) ReportPeriod {
	return ReportPeriod{Year: end.Year(), Month: end.Month()}
}

func (p ReportPeriod) IsJanuary() bool { return p.Month == time.January }

func (p ReportPeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic codes.
const (
	DiagMissingValue      = "missing_value"
	DiagDivideByZero      = "divide_by_zero"
	DiagRuleParse         = "rule_parse"
	DiagValidationFailure = "validation_failure"
	DiagExpectedRange     = "expected_range"
	DiagHistoryQuery      = "history_query"
)

// Diagnostic is a non-fatal data-quality or configuration finding.
type Diagnostic struct {
	Variable string   `json:"variable,omitempty"`
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// =============================================================================
// CALCULATION CONTEXT
// =============================================================================

// Resolution sources recorded per variable.
const (
	SourceRaw        = "raw"
	SourceOverride   = "override"
	SourceCalculated = "calculated"
	SourceFallback   = "fallback"
	SourceYTD        = "ytd"
	SourceNoData     = "no_data"
)

// CalculationContext holds all state of one run. Owned exclusively by that
// run; mutable until frozen.
type CalculationContext struct {
	ClientID string
	Period   ReportPeriod
	Tracker  *ConversionTracker

	raw       map[string]Value
	overrides map[string]Value

	values  map[string]Value
	sources map[string]string

	ytd         *YTDMetadata
	report      ValidationReport
	diagnostics []Diagnostic

	frozen bool
}

func newContext(clientID string, period ReportPeriod, raw, overrides map[string]Value) *CalculationContext {
	return &CalculationContext{
		ClientID:  clientID,
		Period:    period,
		Tracker:   NewConversionTracker(),
		raw:       raw,
		overrides: overrides,
		values:    make(map[string]Value),
		sources:   make(map[string]string),
	}
}

// Value returns the resolved value of a variable, if resolved.
func (c *CalculationContext) Value(name string) (Value, bool) {
	v, ok := c.values[name]
	return v, ok
}

// setValue records a resolution. Exactly once per variable per run.
func (c *CalculationContext) setValue(name string, v Value, source string) error {
	if c.frozen {
		return ErrContextFrozen
	}
	if _, exists := c.values[name]; exists {
		return fmt.Errorf("%s: %w", name, ErrDuplicateResolution)
	}
	c.values[name] = v
	c.sources[name] = source
	return nil
}

func (c *CalculationContext) rawValue(name string) (Value, bool) {
	v, ok := c.raw[name]
	return v, ok
}

func (c *CalculationContext) overrideValue(name string) (Value, bool) {
	v, ok := c.overrides[name]
	return v, ok
}

func (c *CalculationContext) addDiagnostic(d Diagnostic) {
	c.diagnostics = append(c.diagnostics, d)
}

// =============================================================================
// SNAPSHOT - Immutable run result
// =============================================================================

// Snapshot is the frozen outcome of one run: resolved values, validation
// report and YTD metadata, handed back to the caller. Report rendering and
// persistence belong to collaborators.
type Snapshot struct {
	ID        string            `json:"id"`
	ClientID  string            `json:"client_id"`
	Period    ReportPeriod      `json:"period"`
	Values    map[string]Value  `json:"values"`
	Sources   map[string]string `json:"sources"`
	YTD       *YTDMetadata      `json:"ytd,omitempty"`
	Report    ValidationReport  `json:"validation"`
	Log       []ConversionEntry `json:"conversion_log"`
	Diags     []Diagnostic      `json:"diagnostics"`
	CreatedAt time.Time         `json:"created_at"`
}

// freeze seals the context and produces the snapshot. Further writes to the
// context fail with ErrContextFrozen.
func (c *CalculationContext) freeze() *Snapshot {
	c.frozen = true

	values := make(map[string]Value, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	sources := make(map[string]string, len(c.sources))
	for k, v := range c.sources {
		sources[k] = v
	}
	diags := make([]Diagnostic, len(c.diagnostics))
	copy(diags, c.diagnostics)

	return &Snapshot{
		ID:        uuid.NewString(),
		ClientID:  c.ClientID,
		Period:    c.Period,
		Values:    values,
		Sources:   sources,
		YTD:       c.ytd,
		Report:    c.report,
		Log:       c.Tracker.Log(),
		Diags:     diags,
		CreatedAt: time.Now().UTC(),
	}
}

// Errors returns the error-severity diagnostics of the snapshot.
func (s *Snapshot) Errors() []Diagnostic {
	var out []Diagnostic
	for _, d := range s.Diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Warnings returns the warning-severity diagnostics of the snapshot.
func (s *Snapshot) Warnings() []Diagnostic {
	var out []Diagnostic
	for _, d := range s.Diags {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}
