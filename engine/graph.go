/*
graph.go - Dependency graph builder and level assignment

PURPOSE:
  Turns the variable catalog into an ordered sequence of levels. A variable's
  level is one more than the maximum level among its dependencies; raw inputs
  sit at level 0. The evaluator walks levels lowest first, so every formula
  only ever sees already-resolved values.

ALGORITHM:
  Iterative longest-path relaxation. Each pass recomputes every variable's
  level from its dependencies; a cycle-free graph settles in at most N passes
  (N = variable count). If a pass still changes anything after N rounds, the
  graph has a cycle and the build fails.

POST-CONDITION:
  Two variables on the same level must not depend on one another, directly
  or transitively. The builder asserts this after assignment; evaluation
  order within a level is then irrelevant.

SEE ALSO:
  - engine.go: Walks the levels
  - formula.go: Parses the {name} references that define edges
*/
package engine

import (
	"fmt"
	"sort"
)

// =============================================================================
// DEPENDENCY GRAPH - Levels derived from formula references
// =============================================================================

// DependencyGraph holds the level assignment for one variable catalog.
// It is immutable after Build and shared safely across runs.
type DependencyGraph struct {
	// Levels[i] contains the names resolved at level i, sorted for
	// deterministic walk order. Sibling order carries no meaning.
	Levels [][]string

	levels map[string]int
	deps   map[string][]string
}

// BuildGraph derives a level-ordered dependency graph from the catalog.
// Fails with UnknownReferenceError if a formula names an undefined
// variable and with CircularDependencyError if relaxation does not
// converge within len(defs) passes.
func BuildGraph(defs map[string]VariableDefinition) (*DependencyGraph, error) {
	return buildGraph(defs, nil)
}

// buildGraph additionally takes edges that do not come from formulas, such
// as the YTD target depending on its source metric.
func buildGraph(defs map[string]VariableDefinition, extra map[string][]string) (*DependencyGraph, error) {
	deps := make(map[string][]string, len(defs))
	for name, def := range defs {
		refs := def.Dependencies()
		refs = append(refs, extra[name]...)
		for _, ref := range refs {
			if _, ok := defs[ref]; !ok {
				return nil, &UnknownReferenceError{Variable: name, Reference: ref}
			}
		}
		deps[name] = refs
	}

	levels := make(map[string]int, len(defs))

	// Longest-path relaxation: a cycle-free graph settles within N passes.
	settled := false
	for pass := 0; pass <= len(defs); pass++ {
		changed := false
		for name, dd := range deps {
			want := 0
			for _, dep := range dd {
				if levels[dep]+1 > want {
					want = levels[dep] + 1
				}
			}
			if levels[name] != want {
				levels[name] = want
				changed = true
			}
		}
		if !changed {
			settled = true
			break
		}
	}
	if !settled {
		return nil, &CircularDependencyError{Unsettled: unsettledNames(deps, levels)}
	}

	g := &DependencyGraph{levels: levels, deps: deps}
	g.buildLevelSlices()

	if err := g.assertSiblingIndependence(); err != nil {
		return nil, err
	}
	return g, nil
}

// Level returns the assigned level of a variable.
func (g *DependencyGraph) Level(name string) (int, bool) {
	l, ok := g.levels[name]
	return l, ok
}

// DependenciesOf returns the direct dependencies of a variable.
func (g *DependencyGraph) DependenciesOf(name string) []string {
	return g.deps[name]
}

// Depth returns the number of levels.
func (g *DependencyGraph) Depth() int { return len(g.Levels) }

func (g *DependencyGraph) buildLevelSlices() {
	max := 0
	for _, l := range g.levels {
		if l > max {
			max = l
		}
	}
	g.Levels = make([][]string, max+1)
	for name, l := range g.levels {
		g.Levels[l] = append(g.Levels[l], name)
	}
	for _, names := range g.Levels {
		sort.Strings(names)
	}
}

// assertSiblingIndependence verifies the post-condition that no variable
// can reach another variable on its own level through dependency edges.
func (g *DependencyGraph) assertSiblingIndependence() error {
	reach := make(map[string]map[string]bool, len(g.deps))
	var closure func(name string) map[string]bool
	closure = func(name string) map[string]bool {
		if r, ok := reach[name]; ok {
			return r
		}
		r := make(map[string]bool)
		reach[name] = r // break self-recursion; graph is already cycle-free
		for _, dep := range g.deps[name] {
			r[dep] = true
			for t := range closure(dep) {
				r[t] = true
			}
		}
		return r
	}

	for _, names := range g.Levels {
		for _, name := range names {
			for target := range closure(name) {
				if g.levels[target] == g.levels[name] {
					return fmt.Errorf("level assignment broken: %s and %s share level %d but are dependent: %w",
						name, target, g.levels[name], ErrCircularDependency)
				}
			}
		}
	}
	return nil
}

// unsettledNames picks out variables whose level is still being pushed up,
// which after N passes can only happen inside or downstream of a cycle.
func unsettledNames(deps map[string][]string, levels map[string]int) []string {
	var names []string
	for name, dd := range deps {
		want := 0
		for _, dep := range dd {
			if levels[dep]+1 > want {
				want = levels[dep] + 1
			}
		}
		if levels[name] != want {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
