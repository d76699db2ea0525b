// Package config implements the Configuration Model (spec §4.L): the
// typed in-memory representation of a parsed sensor-set YAML document,
// plus its load-time Validate() pass. Persistence, CRUD, and YAML
// import/export mechanics belong to the storage collaborator named in
// spec §6 and are outside this package's scope; this package owns only
// the shape and the syntactic/semantic checks that gate the
// Dependency Management Phase.
package config

// AlternateKey names one of the three sentinel branches a formula may
// declare (spec §3 "Formula").
type AlternateKey string

const (
	AltUnavailable AlternateKey = "UNAVAILABLE"
	AltUnknown     AlternateKey = "UNKNOWN"
	AltNone        AlternateKey = "NONE"
)

// AllAlternateKeys lists every recognized alternate branch key, in the
// fixed evaluation-irrelevant but deterministic order used for
// iteration (e.g. validation error ordering).
var AllAlternateKeys = []AlternateKey{AltUnavailable, AltUnknown, AltNone}

// LiteralKind classifies a scalar variable binding (spec §3 "Variable
// binding").
type LiteralKind string

const (
	LiteralNumber LiteralKind = "number"
	LiteralBool   LiteralKind = "bool"
	LiteralString LiteralKind = "string"
	LiteralEntity LiteralKind = "entity_ref"
)

// Literal is a scalar variable binding: a number, boolean, or string
// constant, or an entity_id reference recognized by its
// "<domain>.<object>" shape.
type Literal struct {
	Kind   LiteralKind
	Raw    string
	Number float64
	Bool   bool
}

// VarEntry is one named binding in an ordered variable mapping.
// YAML preserves declaration order (spec §3 "Computed variables in
// declaration order"); a plain map[string]V would not.
type VarEntry struct {
	Name    string
	Binding *VariableBinding
}

// VariableMap is an ordered name -> binding mapping.
type VariableMap struct {
	entries []VarEntry
	index   map[string]int
}

// NewVariableMap creates an empty VariableMap.
func NewVariableMap() *VariableMap {
	return &VariableMap{index: make(map[string]int)}
}

// Set appends or replaces a binding, preserving first-insertion order
// on replace.
func (m *VariableMap) Set(name string, binding *VariableBinding) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[name]; ok {
		m.entries[i].Binding = binding
		return
	}
	m.index[name] = len(m.entries)
	m.entries = append(m.entries, VarEntry{Name: name, Binding: binding})
}

// Get returns the binding for name, if present.
func (m *VariableMap) Get(name string) (*VariableBinding, bool) {
	if m == nil || m.index == nil {
		return nil, false
	}
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.entries[i].Binding, true
}

// Names returns variable names in declaration order.
func (m *VariableMap) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Name
	}
	return out
}

// Entries returns the ordered (name, binding) pairs.
func (m *VariableMap) Entries() []VarEntry {
	if m == nil {
		return nil
	}
	return m.entries
}

// Len reports the number of bindings.
func (m *VariableMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// VariableBinding is one of: a scalar Literal/entity reference, or a
// computed sub-formula (spec §3 "Variable binding"). Cross-sensor
// references are not distinguished here: a bare identifier that
// happens to match another sensor's unique_id is only recognized as
// such during dependency resolution (package depgraph), because the
// config package alone cannot see the whole sensor set while parsing
// one sensor's YAML fragment in isolation (storage may load sensors
// independently). See FormulaSpec for the sub-formula shape.
type VariableBinding struct {
	Literal  *Literal
	Computed *FormulaSpec
}

// FormulaSpec is one formula: its text, its own nested variables
// (only meaningful for computed variables and alternate branches),
// and its optional alternate-state branches (spec §3 "Formula").
type FormulaSpec struct {
	ID         string
	Expr       string
	Variables  *VariableMap
	Alternates map[AlternateKey]*AlternateBranch
}

// AlternateBranch is the value used when a primary/computed formula
// yields a sentinel. It may be a bare literal, a formula string, or a
// nested formula object with its own variables (spec §6 "the
// alternate-state value may be a bare literal, a formula string, or
// an object of the same shape as a formula").
type AlternateBranch struct {
	Literal *Literal
	Formula *FormulaSpec
}

// AttributeSpec is one attribute sub-formula of a sensor (spec §3
// "attribute formulas").
type AttributeSpec struct {
	Name     string
	Formula  *FormulaSpec
	Metadata map[string]string
}

// Sensor is one user-declared synthetic sensor (spec §3 "Sensor").
type Sensor struct {
	UniqueID  string
	EntityID  string // resolved; may be derived from UniqueID if not user-specified
	Name      string
	DeviceID  string
	Main      *FormulaSpec
	Attributes []AttributeSpec // ordered
	Variables *VariableMap     // sensor-local variables, shadow globals
	Metadata  map[string]string
}

// GlobalSettings holds variables and metadata shared across every
// sensor in a sensor set (spec §3 "Global settings").
type GlobalSettings struct {
	DeviceIdentifier string
	Variables        *VariableMap
	Metadata         map[string]string
}

// SensorSet is a named collection of sensors sharing GlobalSettings;
// the unit of CRUD and YAML import/export (spec §3 "Sensor set").
type SensorSet struct {
	ID      string
	Version string
	Global  GlobalSettings
	Sensors []*Sensor // ordered as declared; CRUD/load order is preserved for deterministic diagnostics
}

// BySensorKey returns a lookup map from unique_id to *Sensor.
func (s *SensorSet) BySensorKey() map[string]*Sensor {
	out := make(map[string]*Sensor, len(s.Sensors))
	for _, sensor := range s.Sensors {
		out[sensor.UniqueID] = sensor
	}
	return out
}
