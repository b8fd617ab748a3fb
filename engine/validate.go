/*
validate.go - Validation engine over resolved values

PURPOSE:
  Applies two independent rule classes to every resolved variable:
  hard rules (structural validity, violation is an error) and soft
  "expected" rules (typical business ranges, violation is a warning).
  Neither class ever aborts a run; downstream consumers decide whether
  a report with red flags may be published.

OUTPUT:
  A ValidationReport mapping variable name to its checks, read-only once
  produced, embedded in the run snapshot.

SEE ALSO:
  - rules.go: The predicate trees evaluated here
  - context.go: Diagnostics mirrored onto the context
*/
package engine

// =============================================================================
// VALIDATION REPORT
// =============================================================================

// RuleCheck is the outcome of one rule class for one variable.
type RuleCheck struct {
	Kind      RuleKind `json:"kind"`
	Rule      string   `json:"rule"`
	Satisfied bool     `json:"satisfied"`
	Message   string   `json:"message,omitempty"`
}

// ValidationReport maps variable name to its rule outcomes.
type ValidationReport map[string][]RuleCheck

// Failures returns the variables with an unsatisfied check of the kind.
func (r ValidationReport) Failures(kind RuleKind) []string {
	var names []string
	for name, checks := range r {
		for _, c := range checks {
			if c.Kind == kind && !c.Satisfied {
				names = append(names, name)
				break
			}
		}
	}
	return names
}

// =============================================================================
// VALIDATOR - Parsed rule sets, built once per calculator
// =============================================================================

type parsedRules struct {
	hard *Rule
	soft *Rule
}

type validator struct {
	rules map[string]parsedRules
	// Rules that failed to parse: configuration errors, reported per run.
	parseErrors []*RuleParseError
}

func newValidator(defs map[string]VariableDefinition) *validator {
	v := &validator{rules: make(map[string]parsedRules, len(defs))}
	for name, def := range defs {
		var pr parsedRules
		if def.ValidationRule != "" {
			rule, err := ParseRule(def.ValidationRule)
			if err != nil {
				v.parseErrors = append(v.parseErrors, &RuleParseError{
					Variable: name, Kind: RuleHard, Rule: def.ValidationRule, Detail: err.Error(),
				})
			} else {
				pr.hard = rule
			}
		}
		if def.ExpectedRule != "" {
			rule, err := ParseRule(def.ExpectedRule)
			if err != nil {
				v.parseErrors = append(v.parseErrors, &RuleParseError{
					Variable: name, Kind: RuleSoft, Rule: def.ExpectedRule, Detail: err.Error(),
				})
			} else {
				pr.soft = rule
			}
		}
		if pr.hard != nil || pr.soft != nil {
			v.rules[name] = pr
		}
	}
	return v
}

// validate runs both rule classes over the context's resolved values and
// attaches the report plus per-variable diagnostics.
func (v *validator) validate(cc *CalculationContext) ValidationReport {
	report := make(ValidationReport)

	for _, pe := range v.parseErrors {
		cc.addDiagnostic(Diagnostic{
			Variable: pe.Variable,
			Code:     DiagRuleParse,
			Severity: SeverityError,
			Message:  pe.Error(),
		})
	}

	for name, pr := range v.rules {
		value, ok := cc.Value(name)
		if !ok || value.IsNoData() {
			// Unresolved values already carry a missing-value diagnostic;
			// running range checks against the sentinel adds noise.
			continue
		}

		if pr.hard != nil {
			ok, msg := pr.hard.Evaluate(value)
			report[name] = append(report[name], RuleCheck{
				Kind: RuleHard, Rule: pr.hard.Raw, Satisfied: ok, Message: msg,
			})
			if !ok {
				cc.addDiagnostic(Diagnostic{
					Variable: name,
					Code:     DiagValidationFailure,
					Severity: SeverityError,
					Message:  msg,
				})
			}
		}
		if pr.soft != nil {
			ok, msg := pr.soft.Evaluate(value)
			report[name] = append(report[name], RuleCheck{
				Kind: RuleSoft, Rule: pr.soft.Raw, Satisfied: ok, Message: msg,
			})
			if !ok {
				cc.addDiagnostic(Diagnostic{
					Variable: name,
					Code:     DiagExpectedRange,
					Severity: SeverityWarning,
					Message:  msg,
				})
			}
		}
	}
	return report
}
