/*
errors.go - Centralized error types for the calculation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Only structural configuration problems (a cycle, an unknown reference,
  a duplicate resolution) are fatal: they abort the run with no snapshot.
  Everything else is a diagnostic carried on the snapshot so downstream
  consumers get a best-effort result for human review.

ERROR CATEGORIES:
  1. Fatal errors - Configuration/contract bugs, run aborts
  2. Data errors  - Missing values, divide-by-zero; non-fatal, sentinel value
  3. Rule errors  - Unparsable validation rules; reported, not fatal

USAGE:
  if errors.Is(err, engine.ErrCircularDependency) {
      // variable catalog is misconfigured
  }

SEE ALSO:
  - graph.go: Produces CircularDependencyError
  - context.go: Diagnostics attached to the snapshot
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCircularDependency is returned when level assignment does not
	// converge, which means the variable formulas form a cycle. Fatal.
	ErrCircularDependency = errors.New("circular dependency in variable definitions")

	// ErrUnknownReference is returned when a formula references a variable
	// name that has no definition. Fatal: the catalog is misconfigured.
	ErrUnknownReference = errors.New("formula references unknown variable")

	// ErrDuplicateResolution is returned when a variable would be written to
	// the context twice in one run. This is a programming-contract bug in
	// the engine, never a data-quality issue.
	ErrDuplicateResolution = errors.New("variable already resolved in this run")

	// ErrMissingValue indicates a variable could not be resolved. Non-fatal:
	// the variable becomes the no-data sentinel.
	ErrMissingValue = errors.New("missing value")

	// ErrDivideByZero indicates a formula divided by zero. Non-fatal: the
	// result is treated as no data, which triggers the fallback chain.
	ErrDivideByZero = errors.New("division by zero")

	// ErrNotNumeric indicates a value could not be parsed as a number.
	ErrNotNumeric = errors.New("not a numeric value")

	// ErrRuleParse indicates a validation rule string could not be parsed.
	// Non-fatal: reported as a configuration diagnostic.
	ErrRuleParse = errors.New("unparsable validation rule")

	// ErrContextFrozen is returned on any write to a context after its
	// snapshot has been taken.
	ErrContextFrozen = errors.New("calculation context is frozen")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CircularDependencyError reports the variables whose levels never settled.
type CircularDependencyError struct {
	Unsettled []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: levels did not converge for [%s]",
		strings.Join(e.Unsettled, ", "))
}

func (e *CircularDependencyError) Unwrap() error { return ErrCircularDependency }

// UnknownReferenceError reports a formula referencing an undefined name.
type UnknownReferenceError struct {
	Variable  string
	Reference string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("variable %q references unknown variable %q", e.Variable, e.Reference)
}

func (e *UnknownReferenceError) Unwrap() error { return ErrUnknownReference }

// MissingValueError reports an unresolved formula input.
type MissingValueError struct {
	Variable string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("missing required variable: %s", e.Variable)
}

func (e *MissingValueError) Unwrap() error { return ErrMissingValue }

// RuleParseError reports an unparsable rule expression.
type RuleParseError struct {
	Variable string
	Kind     RuleKind
	Rule     string
	Detail   string
}

func (e *RuleParseError) Error() string {
	return fmt.Sprintf("%s rule for %s: cannot parse %q: %s", e.Kind, e.Variable, e.Rule, e.Detail)
}

func (e *RuleParseError) Unwrap() error { return ErrRuleParse }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsFatal returns true if the error must abort the run with no snapshot.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCircularDependency) ||
		errors.Is(err, ErrUnknownReference) ||
		errors.Is(err, ErrDuplicateResolution) ||
		errors.Is(err, ErrContextFrozen)
}
