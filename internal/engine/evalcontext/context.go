// Package evalcontext implements the hierarchical variable context
// (spec §3 "Hierarchical context") used during one formula evaluation,
// the ReferenceValue record, the lazy per-cycle resolution memo, and
// the strategy-tag vocabulary shared between the binding plan and the
// resolution chain.
package evalcontext

import "sync"

// StrategyTag names one of the ordered resolution strategies (spec
// §3 "Binding plan", §4.C).
type StrategyTag string

const (
	StrategyContext      StrategyTag = "context"
	StrategyLiteral      StrategyTag = "literal"
	StrategySelfState    StrategyTag = "self_state"
	StrategyDataProvider StrategyTag = "data_provider"
	StrategyHAState      StrategyTag = "ha_state"
	StrategyCrossSensor  StrategyTag = "cross_sensor"
	StrategyAttribute    StrategyTag = "attribute"
)

// FormulaRole distinguishes the two mutually-exclusive meanings of the
// `state` token (spec §9, open question 1).
type FormulaRole int

const (
	RoleMain FormulaRole = iota
	RoleAttribute
	RoleComputed
	RoleAlternate
)

// Layer labels one frame of the hierarchical context (spec §3).
type Layer string

const (
	LayerProcess   Layer = "process"
	LayerSensorSet Layer = "sensor_set"
	LayerSensor    Layer = "sensor"
	LayerFormula   Layer = "formula"
)

// ReferenceValue pairs a resolved value with the reference (entity_id
// or sensor key) it came from, so downstream phases such as metadata
// and alternate-state handling know what was resolved, not just its
// scalar value (spec §3).
type ReferenceValue struct {
	Reference string
	Value     any
}

// Context is one frame of the stack-structured lookup used during a
// single formula evaluation. Writes to a frame never mutate its
// parent; when a frame is discarded its bindings vanish (spec §3
// invariant).
type Context struct {
	parent *Context
	layer  Layer
	values map[string]any
}

// NewRoot creates the process-level root frame.
func NewRoot() *Context {
	return &Context{layer: LayerProcess, values: make(map[string]any)}
}

// Push creates a child frame labeled layer.
func (c *Context) Push(layer Layer) *Context {
	return &Context{parent: c, layer: layer, values: make(map[string]any)}
}

// Parent returns the enclosing frame, or nil at the root.
func (c *Context) Parent() *Context { return c.parent }

// Layer reports this frame's label.
func (c *Context) Layer() Layer { return c.layer }

// Set binds name to value in this frame only.
func (c *Context) Set(name string, value any) {
	c.values[name] = value
}

// Get looks up name, walking from this frame outward to the root.
func (c *Context) Get(name string) (any, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		if v, ok := cur.values[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// GetLocal looks up name in this frame only, without traversing to
// parents. Used to check for local/global shadowing.
func (c *Context) GetLocal(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Names returns every name visible from this frame (own plus
// inherited), innermost binding winning on collision.
func (c *Context) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for cur := c; cur != nil; cur = cur.parent {
		for k := range cur.values {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	return names
}

// Placeholder is the lazy, not-yet-resolved binding for one free
// variable name, installed by the evaluator (spec §4.H step 2) before
// any AST evaluation happens. It is dereferenced through a Memo on
// first read.
type Placeholder struct {
	Name     string
	EntityID string // set when the name is itself an entity_id (e.g. attribute chains: EntityID = Parts[0])
	Strategy StrategyTag
	Role     FormulaRole
}

// memoEntry is one cached lazy-resolution outcome.
type memoEntry struct {
	value  ReferenceValue
	exists bool
	err    error
}

// Memo is the per-update-cycle memoization map for lazy placeholder
// resolution (spec §4.H step 3, §8 "lazy resolution memoization"). A
// new update cycle must use a fresh Memo.
type Memo struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

// NewMemo creates an empty Memo, scoped to one update cycle.
func NewMemo() *Memo {
	return &Memo{entries: make(map[string]*memoEntry)}
}

// GetOrResolve returns the memoized result for key, invoking resolve
// at most once per key for the lifetime of this Memo.
func (m *Memo) GetOrResolve(key string, resolve func() (ReferenceValue, bool, error)) (ReferenceValue, bool, error) {
	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		m.mu.Unlock()
		return e.value, e.exists, e.err
	}
	m.mu.Unlock()

	value, exists, err := resolve()

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e.value, e.exists, e.err
	}
	m.entries[key] = &memoEntry{value: value, exists: exists, err: err}
	return value, exists, err
}

// Len reports the number of memoized entries (diagnostics/tests).
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
