/*
engine.go - The Calculator: one deterministic run over one context

PURPOSE:
  Wires the pieces together. A Calculator is built once per catalog: the
  dependency graph, parsed formulas and parsed rules are all immutable from
  then on and shared safely across runs. Calculate() executes one run:

    1. Walk levels lowest first, resolving every variable exactly once
       through the fallback chain (override -> formula -> default -> no-data)
    2. Invoke the conversion guard on every percentage-typed value at every
       resolution stage (idempotent; later stages are logged no-ops)
    3. Resolve the YTD aggregate through the injected history lookup once
       its source metric has settled
    4. Run the validation engine over all final values
    5. Freeze the context into an immutable Snapshot

FAILURE MODEL:
  Only structural configuration errors abort: a cyclic catalog fails
  NewCalculator, a duplicate resolution fails Calculate. All data-quality
  problems become diagnostics on a best-effort snapshot.

SEE ALSO:
  - graph.go, formula.go, convert.go, validate.go, ytd.go
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator evaluates one variable catalog. Build once, run many times;
// all per-run state lives on the CalculationContext.
type Calculator struct {
	defs     map[string]VariableDefinition
	graph    *DependencyGraph
	formulas map[string]*Formula
	rules    *validator

	history   HistoryLookup
	ytdMetric string // source variable, e.g. "hhs"
	ytdTarget string // destination variable, e.g. "hhs_ytd"
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithHistory injects the historical lookup used by the YTD resolver.
func WithHistory(h HistoryLookup) Option {
	return func(c *Calculator) { c.history = h }
}

// WithYTD names the tracked metric and the variable receiving its
// year-to-date aggregate.
func WithYTD(metric, target string) Option {
	return func(c *Calculator) { c.ytdMetric = metric; c.ytdTarget = target }
}

// NewCalculator builds the graph and parses all formulas. Fails on a cyclic
// catalog, an unknown reference, or an unparsable formula; unparsable
// validation rules are deferred to per-run diagnostics instead.
func NewCalculator(defs []VariableDefinition, opts ...Option) (*Calculator, error) {
	byName := make(map[string]VariableDefinition, len(defs))
	for _, def := range defs {
		if _, dup := byName[def.Name]; dup {
			return nil, fmt.Errorf("duplicate variable definition %q", def.Name)
		}
		byName[def.Name] = def
	}

	c := &Calculator{defs: byName, rules: newValidator(byName)}
	for _, opt := range opts {
		opt(c)
	}

	// The YTD target carries no formula, so its edge to the source metric
	// must be injected here; formulas over the target then level correctly.
	var extra map[string][]string
	if c.ytdTarget != "" {
		if _, ok := byName[c.ytdTarget]; !ok {
			return nil, fmt.Errorf("ytd target %q is not a defined variable", c.ytdTarget)
		}
		if _, ok := byName[c.ytdMetric]; !ok {
			return nil, fmt.Errorf("ytd metric %q is not a defined variable", c.ytdMetric)
		}
		extra = map[string][]string{c.ytdTarget: {c.ytdMetric}}
	}

	graph, err := buildGraph(byName, extra)
	if err != nil {
		return nil, err
	}
	c.graph = graph

	c.formulas = make(map[string]*Formula)
	for name, def := range byName {
		if def.Formula == "" {
			continue
		}
		f, err := ParseFormula(def.Formula)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		c.formulas[name] = f
	}
	return c, nil
}

// Graph exposes the level assignment, mainly for introspection endpoints.
func (c *Calculator) Graph() *DependencyGraph { return c.graph }

// Definition returns the catalog entry for a variable.
func (c *Calculator) Definition(name string) (VariableDefinition, bool) {
	d, ok := c.defs[name]
	return d, ok
}

// Definitions returns the catalog entries sorted by name.
func (c *Calculator) Definitions() []VariableDefinition {
	out := make([]VariableDefinition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// =============================================================================
// RUN INPUT
// =============================================================================

// RunInput carries everything one calculation run needs.
type RunInput struct {
	ClientID  string
	PeriodEnd time.Time

	// Raw input values for the period, keyed by variable name.
	Raw map[string]Value

	// Client-specific static overrides. An override wins over every other
	// resolution path, still subject to percentage conversion.
	Overrides map[string]Value
}

// =============================================================================
// CALCULATE - One deterministic, synchronous run
// =============================================================================

// Calculate resolves every catalog variable for one period and returns the
// frozen snapshot. The returned error is non-nil only for contract bugs;
// data-quality findings are on the snapshot.
func (c *Calculator) Calculate(ctx context.Context, input RunInput) (*Snapshot, error) {
	cc := newContext(input.ClientID, PeriodFromEndDate(input.PeriodEnd), input.Raw, input.Overrides)

	for _, level := range c.graph.Levels {
		for _, name := range level {
			if c.ytdTarget != "" && name == c.ytdTarget {
				// Leveled after its source metric via the injected edge;
				// filled from the resolver, not the formula chain.
				if err := c.resolveYTD(ctx, cc); err != nil {
					return nil, err
				}
				continue
			}
			if err := c.resolveVariable(cc, name); err != nil {
				return nil, err
			}
		}
	}

	cc.report = c.rules.validate(cc)
	return cc.freeze(), nil
}

// resolveVariable runs the fallback chain for one variable.
func (c *Calculator) resolveVariable(cc *CalculationContext, name string) error {
	def := c.defs[name]

	// 1. Client static override wins, still percentage-guarded.
	if v, ok := cc.overrideValue(name); ok && !v.IsNoData() {
		return cc.setValue(name, c.normalize(cc, def, v, StageOverride), SourceOverride)
	}

	// 2. Formula evaluation over already-resolved values.
	if f, ok := c.formulas[name]; ok {
		result, err := c.evalFormula(cc, f)
		if err == nil {
			v := Number(result)
			if def.IsPercentage() {
				// Calculated percentages are already decimal form; mark so
				// later stages never rescale them.
				cc.Tracker.MarkResolved(name, StageEvaluate, v)
			}
			return cc.setValue(name, v, SourceCalculated)
		}
		cc.addDiagnostic(formulaDiagnostic(name, err))
		return c.applyFallback(cc, def, name)
	}

	// 3. Raw input value for input variables.
	if def.Kind == KindInput {
		if v, ok := cc.rawValue(name); ok && !v.IsNoData() {
			return cc.setValue(name, c.normalize(cc, def, v, StageResolve), SourceRaw)
		}
	}

	return c.applyFallback(cc, def, name)
}

// applyFallback resolves via the default literal or the no-data sentinel.
func (c *Calculator) applyFallback(cc *CalculationContext, def VariableDefinition, name string) error {
	if def.DefaultFallback != nil {
		return cc.setValue(name, c.normalize(cc, def, *def.DefaultFallback, StageFallback), SourceFallback)
	}
	cc.addDiagnostic(Diagnostic{
		Variable: name,
		Code:     DiagMissingValue,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("no value for %q; using no-data sentinel", name),
	})
	return cc.setValue(name, NoData(), SourceNoData)
}

// normalize coerces a value toward its declared data type, applying the
// percentage guard where flagged.
func (c *Calculator) normalize(cc *CalculationContext, def VariableDefinition, v Value, stage string) Value {
	if def.IsPercentage() {
		out, _ := cc.Tracker.Convert(def.Name, stage, v)
		return out
	}
	if def.DataType == TypeText {
		return v
	}
	// number/currency: parse spreadsheet-style strings to decimals now so
	// formulas downstream see clean numbers.
	if v.IsText() {
		if d, err := ParseNumeric(v); err == nil {
			return Number(d)
		}
	}
	return v
}

// evalFormula substitutes resolved dependency values into the formula.
// Percentage-typed dependencies pass through the guard for auditability;
// by this stage the guard is always a logged no-op.
func (c *Calculator) evalFormula(cc *CalculationContext, f *Formula) (decimal.Decimal, error) {
	return f.Eval(func(dep string) (decimal.Decimal, error) {
		v, ok := cc.Value(dep)
		if !ok || v.IsNoData() {
			return decimal.Zero, &MissingValueError{Variable: dep}
		}
		if def, ok := c.defs[dep]; ok && def.IsPercentage() {
			v, _ = cc.Tracker.Convert(dep, StageEvaluate, v)
		}
		return ParseNumeric(v)
	})
}

// resolveYTD fills the target variable once the source metric is resolved.
func (c *Calculator) resolveYTD(ctx context.Context, cc *CalculationContext) error {
	current, _ := cc.Value(c.ytdMetric)

	resolver := &YTDResolver{History: c.history}
	if c.history == nil {
		resolver.History = HistoryLookupFunc(func(context.Context, string, int, time.Month) (decimal.Decimal, bool, error) {
			return decimal.Zero, false, nil
		})
	}

	value, meta, diag := resolver.Resolve(ctx, cc.ClientID, cc.Period, current)
	cc.ytd = meta
	if diag != nil {
		cc.addDiagnostic(*diag)
	}
	if value.IsNoData() {
		cc.addDiagnostic(Diagnostic{
			Variable: c.ytdTarget,
			Code:     DiagMissingValue,
			Severity: SeverityWarning,
			Message:  meta.Reason,
		})
	}
	return cc.setValue(c.ytdTarget, value, SourceYTD)
}

func formulaDiagnostic(name string, err error) Diagnostic {
	code := DiagMissingValue
	if errors.Is(err, ErrDivideByZero) {
		code = DiagDivideByZero
	}
	return Diagnostic{
		Variable: name,
		Code:     code,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("cannot evaluate %q: %v", name, err),
	}
}
