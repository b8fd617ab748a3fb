/*
Package reports provides the insurance-marketing deployment of the
calculation engine.

PURPOSE:
  The engine package is catalog-agnostic; this package supplies the concrete
  catalog the reporting system runs: lead and click counts, win and close
  rates, spend, product ratios, and the derived household/premium/commission
  metrics. The catalog can be loaded from YAML so account managers can tune
  formulas, rules and fallbacks without code changes, with a built-in default
  matching the production variable set.

WHY YAML?
  - Non-developers can adjust expected ranges and fallbacks
  - Version control for catalog definitions
  - One binary serves differently configured deployments

YAML SCHEMA:
  ytd:
    metric: hhs
    target: hhs_ytd
  variables:
    - name: quote_starts
      kind: input
      type: number
      validation: "integer AND >= 0"
    - name: website_hhs
      kind: calculated
      type: number
      formula: "{quote_starts} x {%won_website}"

KEY FEATURES:
  - Validates structure before the engine sees it (unknown kind/type,
    duplicate names, formula on an input)
  - Cycles and unknown references surface from calculator construction
  - Sets sensible defaults (kind input, type number)

USAGE:
  cat, err := reports.LoadCatalog("catalog.yaml")   // or reports.DefaultCatalog()
  calc, err := cat.Calculator(engine.WithHistory(store))

SEE ALSO:
  - defaults.go: The built-in production catalog
  - service.go: Orchestrates runs over a catalog
*/
package reports

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/meridian/report-engine/engine"
)

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a validated variable set plus the YTD wiring for one deployment.
type Catalog struct {
	Variables []engine.VariableDefinition

	// YTDMetric is summed across months into YTDTarget. Both empty when the
	// deployment tracks no year-to-date aggregate.
	YTDMetric string
	YTDTarget string
}

// Calculator builds the engine calculator for this catalog. The returned
// calculator is immutable and safe for concurrent runs.
func (c *Catalog) Calculator(opts ...engine.Option) (*engine.Calculator, error) {
	if c.YTDTarget != "" {
		opts = append(opts, engine.WithYTD(c.YTDMetric, c.YTDTarget))
	}
	return engine.NewCalculator(c.Variables, opts...)
}

// Names returns the variable names of the catalog in definition order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.Variables))
	for _, v := range c.Variables {
		out = append(out, v.Name)
	}
	return out
}

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

type catalogYAML struct {
	YTD       *ytdYAML       `yaml:"ytd"`
	Variables []variableYAML `yaml:"variables"`
}

type ytdYAML struct {
	Metric string `yaml:"metric"`
	Target string `yaml:"target"`
}

type variableYAML struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	Type       string   `yaml:"type"`
	Formula    string   `yaml:"formula"`
	Validation string   `yaml:"validation"`
	Expected   string   `yaml:"expected"`
	Default    *float64 `yaml:"default"`
}

// =============================================================================
// LOADING
// =============================================================================

// LoadCatalog reads and validates a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates YAML catalog bytes.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cy catalogYAML
	if err := yaml.Unmarshal(data, &cy); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(cy.Variables) == 0 {
		return nil, fmt.Errorf("catalog defines no variables")
	}

	cat := &Catalog{}
	if cy.YTD != nil {
		if cy.YTD.Metric == "" || cy.YTD.Target == "" {
			return nil, fmt.Errorf("ytd section requires both metric and target")
		}
		cat.YTDMetric = cy.YTD.Metric
		cat.YTDTarget = cy.YTD.Target
	}

	seen := make(map[string]bool, len(cy.Variables))
	for _, vy := range cy.Variables {
		def, err := vy.definition()
		if err != nil {
			return nil, err
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("variable %q defined twice", def.Name)
		}
		seen[def.Name] = true
		cat.Variables = append(cat.Variables, def)
	}

	if cat.YTDTarget != "" {
		if !seen[cat.YTDMetric] {
			return nil, fmt.Errorf("ytd metric %q is not in the catalog", cat.YTDMetric)
		}
		if !seen[cat.YTDTarget] {
			return nil, fmt.Errorf("ytd target %q is not in the catalog", cat.YTDTarget)
		}
	}
	return cat, nil
}

func (vy variableYAML) definition() (engine.VariableDefinition, error) {
	var def engine.VariableDefinition
	if vy.Name == "" {
		return def, fmt.Errorf("catalog variable without a name")
	}
	def.Name = vy.Name

	switch vy.Kind {
	case "", "input":
		def.Kind = engine.KindInput
	case "calculated":
		def.Kind = engine.KindCalculated
	default:
		return def, fmt.Errorf("variable %q: unknown kind %q", vy.Name, vy.Kind)
	}

	switch vy.Type {
	case "", "number":
		def.DataType = engine.TypeNumber
	case "currency":
		def.DataType = engine.TypeCurrency
	case "percentage":
		def.DataType = engine.TypePercentage
	case "text":
		def.DataType = engine.TypeText
	default:
		return def, fmt.Errorf("variable %q: unknown type %q", vy.Name, vy.Type)
	}

	if vy.Formula != "" && def.Kind == engine.KindInput {
		return def, fmt.Errorf("variable %q: inputs cannot carry a formula", vy.Name)
	}
	def.Formula = vy.Formula
	def.ValidationRule = vy.Validation
	def.ExpectedRule = vy.Expected

	if vy.Default != nil {
		v := engine.NumberFromFloat(*vy.Default)
		def.DefaultFallback = &v
	}
	return def, nil
}
