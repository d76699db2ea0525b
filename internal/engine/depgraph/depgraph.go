// Package depgraph implements the Dependency Management Phase (spec
// §4.D): building forward/reverse/backing-entity indices over a
// SensorSet's formulas, detecting cycles, computing topological
// evaluation order for a subset, and expanding a changed-entity set
// into its affected sensor closure.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
)

// Graph is the built dependency structure for one SensorSet snapshot
// (spec §3 "Dependency edge").
type Graph struct {
	set *config.SensorSet

	// forward[sensorKey] = set of sensor keys it references.
	forward map[string]map[string]bool
	// reverse[sensorKey] = set of sensor keys that reference it.
	reverse map[string]map[string]bool
	// backing[entityID] = set of sensor keys that read it directly
	// (via a formula's entity_id reference, a variable binding, or the
	// sensor's own backing entity for the `state` token).
	backing map[string]map[string]bool
	// byEntityID maps a sensor's own published entity_id back to its
	// unique_id, for cross-sensor-by-entity_id references.
	byEntityID map[string]string
}

// Build walks every sensor's formulas (main, attributes, variables,
// computed variables, and alternate branches, recursively) and
// produces the forward/reverse/backing indices (spec §4.D). It does
// not itself validate — call Validate on the result before using it to
// drive evaluation order.
func Build(set *config.SensorSet, planner *plan.Service) (*Graph, error) {
	g := &Graph{
		set:        set,
		forward:    map[string]map[string]bool{},
		reverse:    map[string]map[string]bool{},
		backing:    map[string]map[string]bool{},
		byEntityID: map[string]string{},
	}

	sensorKeys := map[string]bool{}
	for _, s := range set.Sensors {
		sensorKeys[s.UniqueID] = true
		g.byEntityID[s.EntityID] = s.UniqueID
		g.forward[s.UniqueID] = map[string]bool{}
		g.reverse[s.UniqueID] = map[string]bool{}
	}

	for _, s := range set.Sensors {
		names, err := collectFreeNames(s, set, planner)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if name == "state" {
				continue // self-reference, not a dependency (spec §4.D edge case)
			}
			if target, ok := resolveSensorKey(name, sensorKeys, g.byEntityID); ok {
				g.forward[s.UniqueID][target] = true
				if g.reverse[target] == nil {
					g.reverse[target] = map[string]bool{}
				}
				g.reverse[target][s.UniqueID] = true
				continue
			}
			// Not a sensor: treat as a backing entity read.
			entityID := name
			if g.backing[entityID] == nil {
				g.backing[entityID] = map[string]bool{}
			}
			g.backing[entityID][s.UniqueID] = true
		}
		// The sensor's own backing entity always counts as a read,
		// even if no formula names it explicitly via the `state`
		// token (spec §4.D "Backing-entity index").
		if g.backing[s.EntityID] == nil {
			g.backing[s.EntityID] = map[string]bool{}
		}
		g.backing[s.EntityID][s.UniqueID] = true
	}

	return g, nil
}

// resolveSensorKey reports whether name is a cross-sensor reference,
// either directly by unique_id or by another sensor's resolved
// entity_id (spec §3 "Cross-sensor reference").
func resolveSensorKey(name string, sensorKeys map[string]bool, byEntityID map[string]string) (string, bool) {
	if sensorKeys[name] {
		return name, true
	}
	if key, ok := byEntityID[name]; ok {
		return key, true
	}
	return "", false
}

// scope is a chain of variable name -> binding lookups with shadowing:
// a formula-local Variables map shadows the sensor's, which shadows
// the sensor set's globals (spec §3 "sensor-local variables shadow
// globals of the same name").
type scope struct {
	local  *config.VariableMap
	parent *scope
}

func (sc *scope) lookup(name string) (*config.VariableBinding, bool) {
	for s := sc; s != nil; s = s.parent {
		if b, ok := s.local.Get(name); ok {
			return b, true
		}
	}
	return nil, false
}

// collectFreeNames gathers every dependency reachable from a sensor's
// configuration: its main formula, attribute formulas, and every
// alternate branch at every level, resolving each free identifier
// against the variable scope chain in effect at the point it appears
// (spec §4.D, §9 "a single pass with a visitor that knows every place
// a reference may appear"). A name bound to an entity literal
// contributes that entity; a name bound to a computed sub-formula
// contributes nothing itself (its own free names are walked
// separately) since it is locally defined, not a dependency in its own
// right; an unbound name is a bare formula-text reference, resolved
// later against sensor keys or treated as a backing entity.
func collectFreeNames(s *config.Sensor, set *config.SensorSet, planner *plan.Service) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}

	globalScope := &scope{local: set.Global.Variables}
	sensorScope := &scope{local: s.Variables, parent: globalScope}

	var walkFormula func(f *config.FormulaSpec, sc *scope) error
	walkFormula = func(f *config.FormulaSpec, sc *scope) error {
		if f == nil {
			return nil
		}
		local := &scope{local: f.Variables, parent: sc}

		names, err := planner.ExtractDependencies(f.Expr)
		if err != nil {
			return err
		}
		for _, n := range names {
			binding, bound := local.lookup(n)
			switch {
			case !bound:
				add(n)
			case binding.Literal != nil && binding.Literal.Kind == config.LiteralEntity:
				add(binding.Literal.Raw)
			case binding.Literal != nil && binding.Literal.Kind == config.LiteralString:
				add(binding.Literal.Raw) // may itself be a cross-sensor alias; resolved by the caller
			}
		}

		for _, ve := range f.Variables.Entries() {
			if err := walkBinding(ve.Binding, local, walkFormula); err != nil {
				return err
			}
		}
		for _, key := range config.AllAlternateKeys {
			branch, ok := f.Alternates[key]
			if !ok {
				continue
			}
			if branch.Formula != nil {
				if err := walkFormula(branch.Formula, sc); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walkFormula(s.Main, sensorScope); err != nil {
		return nil, err
	}
	for _, attr := range s.Attributes {
		if err := walkFormula(attr.Formula, sensorScope); err != nil {
			return nil, err
		}
	}
	for _, ve := range s.Variables.Entries() {
		if err := walkBinding(ve.Binding, sensorScope, walkFormula); err != nil {
			return nil, err
		}
	}
	for _, ve := range set.Global.Variables.Entries() {
		if err := walkBinding(ve.Binding, globalScope, walkFormula); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func walkBinding(b *config.VariableBinding, sc *scope, walkFormula func(*config.FormulaSpec, *scope) error) error {
	if b == nil || b.Computed == nil {
		return nil
	}
	return walkFormula(b.Computed, sc)
}

// Validate runs cycle detection over the full graph (spec §4.D
// validate). It reports every cycle found, and fails (non-nil error)
// if at least one exists.
func (g *Graph) Validate() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var cycles [][]string
	var stack []string

	var keys []string
	for k := range g.forward {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		stack = append(stack, node)

		var deps []string
		for d := range g.forward[node] {
			deps = append(deps, d)
		}
		sort.Strings(deps)

		for _, dep := range deps {
			switch color[dep] {
			case white:
				visit(dep)
			case gray:
				cycle := cyclePath(stack, dep)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
	}

	for _, k := range keys {
		if color[k] == white {
			visit(k)
		}
	}

	if len(cycles) > 0 {
		return errs.CircularDependency(cycles[0]).WithDetail("all_cycles", cycles)
	}
	return nil
}

func cyclePath(stack []string, start string) []string {
	for i, s := range stack {
		if s == start {
			cycle := append([]string(nil), stack[i:]...)
			return append(cycle, start)
		}
	}
	return []string{start}
}

// ValidateCrossSensorReferences ensures every cross-sensor identifier
// referenced anywhere resolves to a known unique_id or a known
// sensor's entity_id (spec §4.D).
func (g *Graph) ValidateCrossSensorReferences() error {
	sensorKeys := map[string]bool{}
	for _, s := range g.set.Sensors {
		sensorKeys[s.UniqueID] = true
	}
	var keys []string
	for k := range g.forward {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, from := range keys {
		var deps []string
		for d := range g.forward[from] {
			deps = append(deps, d)
		}
		sort.Strings(deps)
		for _, to := range deps {
			if !sensorKeys[to] {
				return errs.SensorConfiguration(from, fmt.Sprintf("cross-sensor reference %q does not resolve to a known sensor", to))
			}
		}
	}
	return nil
}

// TopologicalOrder returns subset ordered so each sensor follows every
// dependency it has within subset (spec §4.D "dependencies outside the
// subset are assumed already current"). Deterministic: ties broken by
// sensor key.
func (g *Graph) TopologicalOrder(subset map[string]bool) ([]string, error) {
	inSubset := func(k string) bool { return subset[k] }

	indegree := map[string]int{}
	for k := range subset {
		indegree[k] = 0
	}
	for k := range subset {
		for dep := range g.forward[k] {
			if inSubset(dep) {
				indegree[k]++
			}
		}
	}

	var ready []string
	for k, deg := range indegree {
		if deg == 0 {
			ready = append(ready, k)
		}
	}
	sort.Strings(ready)

	var order []string
	remaining := map[string]int{}
	for k, v := range indegree {
		remaining[k] = v
	}

	for len(ready) > 0 {
		sort.Strings(ready)
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		var newlyReady []string
		for k := range subset {
			if k == node {
				continue
			}
			if !g.forward[k][node] {
				continue
			}
			remaining[k]--
			if remaining[k] == 0 {
				newlyReady = append(newlyReady, k)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(subset) {
		return nil, errs.New(errs.KindCircularDependency, "cycle detected within evaluation subset")
	}
	return order, nil
}

// AffectedClosure expands the set of sensors directly reading any
// entity in changedEntities to every transitively dependent sensor,
// via the reverse index (spec §4.D "affected_closure"). Deterministic.
func (g *Graph) AffectedClosure(changedEntities map[string]bool) map[string]bool {
	affected := map[string]bool{}
	var frontier []string
	for entityID := range changedEntities {
		for sensorKey := range g.backing[entityID] {
			if !affected[sensorKey] {
				affected[sensorKey] = true
				frontier = append(frontier, sensorKey)
			}
		}
	}
	for len(frontier) > 0 {
		node := frontier[0]
		frontier = frontier[1:]
		for dependent := range g.reverse[node] {
			if !affected[dependent] {
				affected[dependent] = true
				frontier = append(frontier, dependent)
			}
		}
	}
	return affected
}

// CascadeCost reports how many sensors a single change to entityID
// would force into re-evaluation — the affected closure size for a
// one-entity change (SPEC_FULL "Cache performance reporting": recovers
// `scripts/benchmark_cascading_optimization.py`'s cascading-update
// cost estimate from `original_source/`).
func (g *Graph) CascadeCost(entityID string) int {
	return len(g.AffectedClosure(map[string]bool{entityID: true}))
}

// DependenciesOf returns the sensors directly referenced by sensorKey.
func (g *Graph) DependenciesOf(sensorKey string) []string {
	var out []string
	for d := range g.forward[sensorKey] {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DependentsOf returns the sensors that directly reference sensorKey.
func (g *Graph) DependentsOf(sensorKey string) []string {
	var out []string
	for d := range g.reverse[sensorKey] {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// BackingEntitiesOf returns the entity_ids sensorKey reads directly.
func (g *Graph) BackingEntitiesOf(sensorKey string) []string {
	var out []string
	for entityID, readers := range g.backing {
		if readers[sensorKey] {
			out = append(out, entityID)
		}
	}
	sort.Strings(out)
	return out
}
