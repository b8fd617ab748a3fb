/*
Package engine provides the core report calculation engine.

PURPOSE:
  This package contains the domain-agnostic machinery for turning a set of
  raw business inputs into derived metrics: a dependency-ordered formula
  evaluator with fallback semantics, an idempotent percentage-conversion
  guard, a rule-based validation engine, and a year-to-date resolver.
  The variable catalog itself is configuration; the engine has no knowledge
  of specific variable names.

KEY CONCEPTS IN THIS FILE (types.go):
  - Value: A tagged number/text/no-data variant (all arithmetic is decimal)
  - VariableDefinition: Static per-deployment description of one variable
  - ParseNumeric: Lenient numeric parsing for currency/percent strings

DESIGN PRINCIPLES:
  1. Determinism: One run over one context, resolved in level order
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Isolation: No process-wide state; every run owns its context
  4. Auditability: Every conversion attempt is logged with its stage

USAGE:
  calc, err := engine.NewCalculator(defs, engine.WithHistory(lookup))
  snap, err := calc.Calculate(ctx, engine.RunInput{
      ClientID:  "client-42",
      PeriodEnd: time.Date(2026, time.April, 30, 0, 0, 0, 0, time.UTC),
      Raw:       inputs,
  })

SEE ALSO:
  - graph.go: Dependency graph and level assignment
  - engine.go: The Calculator orchestrating a run
  - convert.go: Percentage conversion guard
*/
package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VALUE - Tagged variant for everything flowing through a calculation
// =============================================================================

type ValueKind int

const (
	ValueNumber ValueKind = iota
	ValueText
	ValueNoData
)

// Value is the single currency of the engine. Raw inputs, fallbacks,
// formula results and final outputs are all Values. The no-data sentinel
// propagates through formulas instead of aborting a run.
type Value struct {
	Kind ValueKind
	Num  decimal.Decimal
	Text string
}

func Number(d decimal.Decimal) Value        { return Value{Kind: ValueNumber, Num: d} }
func NumberFromFloat(f float64) Value       { return Value{Kind: ValueNumber, Num: decimal.NewFromFloat(f)} }
func NumberFromInt(n int64) Value           { return Value{Kind: ValueNumber, Num: decimal.NewFromInt(n)} }
func TextValue(s string) Value              { return Value{Kind: ValueText, Text: s} }
func NoData() Value                         { return Value{Kind: ValueNoData} }

func (v Value) IsNoData() bool { return v.Kind == ValueNoData }
func (v Value) IsNumber() bool { return v.Kind == ValueNumber }
func (v Value) IsText() bool   { return v.Kind == ValueText }

// Float64 returns the numeric value as a float, for display purposes only.
// Engine arithmetic never round-trips through float64.
func (v Value) Float64() (float64, bool) {
	if v.Kind != ValueNumber {
		return 0, false
	}
	f, _ := v.Num.Float64()
	return f, true
}

func (v Value) String() string {
	switch v.Kind {
	case ValueNumber:
		return v.Num.String()
	case ValueText:
		return v.Text
	default:
		return "no data"
	}
}

// MarshalJSON encodes numbers as JSON numbers, text as strings and the
// no-data sentinel as null, which is how snapshots are persisted.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return []byte(v.Num.String()), nil
	case ValueText:
		return json.Marshal(v.Text)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*v = NoData()
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var t string
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*v = TextValue(t)
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("value %q: %w", s, err)
	}
	*v = Number(d)
	return nil
}

// MustParseDecimal is a test/config helper; invalid input yields zero.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// NUMERIC PARSING - Currency and percent aware
// =============================================================================

// ParseNumeric extracts a decimal from a Value, tolerating the formatting
// that shows up in spreadsheet-sourced data: "$1,234.56", "12%", " 42 ".
// A trailing percent marker divides by 100. No-data never parses.
func ParseNumeric(v Value) (decimal.Decimal, error) {
	switch v.Kind {
	case ValueNumber:
		return v.Num, nil
	case ValueNoData:
		return decimal.Zero, fmt.Errorf("no data: %w", ErrNotNumeric)
	}

	s := strings.TrimSpace(v.Text)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty string: %w", ErrNotNumeric)
	}

	percent := strings.HasSuffix(s, "%")
	if percent {
		s = strings.TrimSuffix(s, "%")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q: %w", v.Text, ErrNotNumeric)
	}
	if percent {
		d = d.Div(decimal.NewFromInt(100))
	}
	return d, nil
}

// =============================================================================
// VARIABLE DEFINITION - Static catalog entry, loaded once per deployment
// =============================================================================

type VariableKind string

const (
	KindInput      VariableKind = "input"
	KindCalculated VariableKind = "calculated"
)

type DataType string

const (
	TypeNumber     DataType = "number"
	TypeCurrency   DataType = "currency"
	TypePercentage DataType = "percentage"
	TypeText       DataType = "text"
)

// VariableDefinition describes one variable of the deployment's catalog.
// Input variables come from the raw data of the period; calculated variables
// carry a formula over other variable names.
type VariableDefinition struct {
	Name     string
	Kind     VariableKind
	DataType DataType

	// Formula references other variables as {name}. Empty for inputs.
	Formula string

	// Hard rule: violation means the value is structurally invalid.
	ValidationRule string

	// Soft rule: violation means the value is unusual, not invalid.
	ExpectedRule string

	// Literal used when no other resolution path produces a value.
	DefaultFallback *Value
}

func (d VariableDefinition) IsPercentage() bool { return d.DataType == TypePercentage }

var formulaRefPattern = regexp.MustCompile(`\{([^}]+)\}`)

// Dependencies returns the variable names referenced by the formula,
// in order of first appearance, without duplicates.
func (d VariableDefinition) Dependencies() []string {
	if d.Formula == "" {
		return nil
	}
	seen := make(map[string]bool)
	var deps []string
	for _, m := range formulaRefPattern.FindAllStringSubmatch(d.Formula, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		deps = append(deps, name)
	}
	return deps
}
