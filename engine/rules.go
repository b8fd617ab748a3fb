/*
rules.go - Business-rule expression parsing

PURPOSE:
  Validation rules arrive as strings like ">= 0 AND <= 1", "integer AND >= 0",
  "not_empty" or "optional". Each rule string is parsed once into a small
  predicate tree and evaluated against final values, instead of re-parsing
  or string-dispatching on every check.

GRAMMAR:
  rule    := atom ((AND | OR) atom)*
  atom    := op literal | "integer" | "not_empty" | "optional"
  op      := >= | <= | > | < | =
  AND/OR combine left to right with no further precedence; rules mixing AND
  and OR rely on that order.

NODE SHAPES:
  comparisonNode - one op/threshold check on the numeric value
  keywordNode    - integer / not_empty / optional
  conjunctionNode, disjunctionNode - left-to-right combination

SEE ALSO:
  - validate.go: Applies parsed rules and builds the ValidationReport
*/
package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RULE - Parsed predicate tree
// =============================================================================

type RuleKind string

const (
	RuleHard RuleKind = "hard"
	RuleSoft RuleKind = "soft"
)

// Rule is a parsed validation expression, safe for reuse across values.
type Rule struct {
	Raw  string
	root ruleNode
}

type ruleNode interface {
	eval(v Value) bool
}

type comparisonNode struct {
	op        string
	threshold decimal.Decimal
}

type keywordNode struct {
	keyword string
}

type conjunctionNode struct {
	left, right ruleNode
}

type disjunctionNode struct {
	left, right ruleNode
}

// ParseRule parses a rule expression into a predicate tree.
func ParseRule(raw string) (*Rule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("empty rule: %w", ErrRuleParse)
	}

	parts, joins := splitRule(s)
	var root ruleNode
	for i, part := range parts {
		atom, err := parseAtom(part)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			root = atom
			continue
		}
		switch joins[i-1] {
		case "AND":
			root = &conjunctionNode{left: root, right: atom}
		case "OR":
			root = &disjunctionNode{left: root, right: atom}
		}
	}
	return &Rule{Raw: raw, root: root}, nil
}

var ruleJoinPattern = regexp.MustCompile(`(?i)\s+(AND|OR)\s+`)

// splitRule breaks "a AND b OR c" into atoms and the joining operators.
func splitRule(s string) (parts []string, joins []string) {
	locs := ruleJoinPattern.FindAllStringSubmatchIndex(s, -1)
	prev := 0
	for _, loc := range locs {
		parts = append(parts, strings.TrimSpace(s[prev:loc[0]]))
		joins = append(joins, strings.ToUpper(s[loc[2]:loc[3]]))
		prev = loc[1]
	}
	parts = append(parts, strings.TrimSpace(s[prev:]))
	return parts, joins
}

func parseAtom(s string) (ruleNode, error) {
	switch strings.ToLower(s) {
	case "integer", "not_empty", "optional":
		return &keywordNode{keyword: strings.ToLower(s)}, nil
	}

	// Order matters: >= and <= before > and <.
	for _, op := range []string{">=", "<=", ">", "<", "="} {
		if strings.HasPrefix(s, op) {
			lit := strings.TrimSpace(strings.TrimPrefix(s, op))
			threshold, err := decimal.NewFromString(lit)
			if err != nil {
				return nil, fmt.Errorf("bad literal %q in condition %q: %w", lit, s, ErrRuleParse)
			}
			return &comparisonNode{op: op, threshold: threshold}, nil
		}
	}
	return nil, fmt.Errorf("cannot parse condition %q: %w", s, ErrRuleParse)
}

// Evaluate checks the value against the rule. The message is empty when
// the rule is satisfied.
func (r *Rule) Evaluate(v Value) (bool, string) {
	if r.root.eval(v) {
		return true, ""
	}
	return false, fmt.Sprintf("%s does not satisfy %q", v, r.Raw)
}

// =============================================================================
// NODE EVALUATION
// =============================================================================

func (n *comparisonNode) eval(v Value) bool {
	d, err := ParseNumeric(v)
	if err != nil {
		return false
	}
	switch n.op {
	case ">=":
		return d.GreaterThanOrEqual(n.threshold)
	case "<=":
		return d.LessThanOrEqual(n.threshold)
	case ">":
		return d.GreaterThan(n.threshold)
	case "<":
		return d.LessThan(n.threshold)
	case "=":
		return d.Equal(n.threshold)
	}
	return false
}

func (n *keywordNode) eval(v Value) bool {
	switch n.keyword {
	case "optional":
		return true
	case "not_empty":
		if v.IsNoData() {
			return false
		}
		return strings.TrimSpace(v.String()) != ""
	case "integer":
		d, err := ParseNumeric(v)
		if err != nil {
			return false
		}
		return d.Equal(d.Truncate(0))
	}
	return false
}

func (n *conjunctionNode) eval(v Value) bool { return n.left.eval(v) && n.right.eval(v) }
func (n *disjunctionNode) eval(v Value) bool { return n.left.eval(v) || n.right.eval(v) }
