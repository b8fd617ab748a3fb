/*
formula.go - Formula parsing and evaluation

PURPOSE:
  Parses formulas like "{quote_starts} x {%won_website}" into a token stream
  and evaluates them by substituting already-resolved dependency values.
  The grammar covers what business metrics need: +, -, *, / with
  parentheses, numeric literals, and {name} references. A literal "x"
  (either case) between terms is multiplication, matching how the formulas
  are written in the catalog.

EVALUATION CONTRACT:
  - Values come from a resolver callback; a missing or no-data dependency
    surfaces as MissingValueError so the caller can run the fallback chain.
  - Division by zero returns ErrDivideByZero instead of panicking; the
    caller treats it as "no data".
  - Arithmetic is decimal end to end, no intermediate rounding.

SEE ALSO:
  - graph.go: Uses the same {name} references for dependency edges
  - engine.go: Calls Eval during the level walk
*/
package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FORMULA - Parsed once per catalog, evaluated once per run
// =============================================================================

// Formula is a parsed arithmetic expression over variable references.
type Formula struct {
	Raw    string
	tokens []formulaToken
}

type formulaTokenKind int

const (
	tokNumber formulaTokenKind = iota
	tokRef
	tokOp
	tokLParen
	tokRParen
)

type formulaToken struct {
	kind formulaTokenKind
	num  decimal.Decimal
	name string // for tokRef
	op   byte   // for tokOp: + - * /
}

// ParseFormula tokenizes a formula string. A leading "=" is tolerated.
func ParseFormula(raw string) (*Formula, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "=")

	var tokens []formulaToken
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("formula %q: unterminated variable reference", raw)
			}
			name := strings.TrimSpace(s[i+1 : i+end])
			if name == "" {
				return nil, fmt.Errorf("formula %q: empty variable reference", raw)
			}
			tokens = append(tokens, formulaToken{kind: tokRef, name: name})
			i += end + 1
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, formulaToken{kind: tokOp, op: c})
			i++
		case c == '(':
			tokens = append(tokens, formulaToken{kind: tokLParen})
			i++
		case c == ')':
			tokens = append(tokens, formulaToken{kind: tokRParen})
			i++
		case (c == 'x' || c == 'X') && surroundedBySpace(s, i):
			// "a x b" means multiplication in catalog formulas
			tokens = append(tokens, formulaToken{kind: tokOp, op: '*'})
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			d, err := decimal.NewFromString(s[i:j])
			if err != nil {
				return nil, fmt.Errorf("formula %q: bad number %q", raw, s[i:j])
			}
			tokens = append(tokens, formulaToken{kind: tokNumber, num: d})
			i = j
		default:
			return nil, fmt.Errorf("formula %q: unexpected character %q", raw, c)
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("formula %q: empty expression", raw)
	}
	return &Formula{Raw: raw, tokens: tokens}, nil
}

func surroundedBySpace(s string, i int) bool {
	before := i == 0 || s[i-1] == ' '
	after := i+1 >= len(s) || s[i+1] == ' '
	return before && after
}

// References returns the variable names used by the formula, first-seen order.
func (f *Formula) References() []string {
	seen := make(map[string]bool)
	var refs []string
	for _, t := range f.tokens {
		if t.kind == tokRef && !seen[t.name] {
			seen[t.name] = true
			refs = append(refs, t.name)
		}
	}
	return refs
}

// Resolver supplies the value of a referenced variable during evaluation.
// Returning an error (typically MissingValueError) aborts the evaluation.
type Resolver func(name string) (decimal.Decimal, error)

// Eval evaluates the formula against resolved dependency values.
func (f *Formula) Eval(resolve Resolver) (decimal.Decimal, error) {
	p := &formulaEval{tokens: f.tokens, resolve: resolve}
	result, err := p.expr()
	if err != nil {
		return decimal.Zero, err
	}
	if p.pos != len(p.tokens) {
		return decimal.Zero, fmt.Errorf("formula %q: trailing tokens", f.Raw)
	}
	return result, nil
}

// =============================================================================
// RECURSIVE DESCENT - expr := term (('+'|'-') term)* ; term := factor (('*'|'/') factor)*
// =============================================================================

type formulaEval struct {
	tokens  []formulaToken
	pos     int
	resolve Resolver
}

func (p *formulaEval) peek() (formulaToken, bool) {
	if p.pos >= len(p.tokens) {
		return formulaToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *formulaEval) expr() (decimal.Decimal, error) {
	left, err := p.term()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != '+' && t.op != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return decimal.Zero, err
		}
		if t.op == '+' {
			left = left.Add(right)
		} else {
			left = left.Sub(right)
		}
	}
}

func (p *formulaEval) term() (decimal.Decimal, error) {
	left, err := p.factor()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOp || (t.op != '*' && t.op != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.factor()
		if err != nil {
			return decimal.Zero, err
		}
		if t.op == '*' {
			left = left.Mul(right)
		} else {
			if right.IsZero() {
				return decimal.Zero, ErrDivideByZero
			}
			left = left.Div(right)
		}
	}
}

func (p *formulaEval) factor() (decimal.Decimal, error) {
	t, ok := p.peek()
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected end of formula")
	}
	switch t.kind {
	case tokNumber:
		p.pos++
		return t.num, nil
	case tokRef:
		p.pos++
		return p.resolve(t.name)
	case tokLParen:
		p.pos++
		inner, err := p.expr()
		if err != nil {
			return decimal.Zero, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return decimal.Zero, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case tokOp:
		if t.op == '-' {
			p.pos++
			inner, err := p.factor()
			if err != nil {
				return decimal.Zero, err
			}
			return inner.Neg(), nil
		}
	}
	return decimal.Zero, fmt.Errorf("unexpected token in formula")
}
