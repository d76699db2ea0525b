// Package reassign implements Cross-Sensor Reference Reassignment
// (spec §4.I): rewriting every textual occurrence of a renamed
// reference throughout a sensor set's formulas, variable bindings,
// attribute formulas, and alternate branches, recursively; and the
// self-reference-to-`state` transform for a sensor's own unique_id or
// entity_id appearing in its own attribute formulas.
package reassign

import (
	"strconv"
	"strings"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/ast"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/depgraph"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
)

// Apply rewrites every reference in set matching a key of renames to
// its mapped value, applies the self-reference rewrite to every
// sensor's attribute formulas, and validates the result (spec §4.I
// steps 1-4). It operates on and returns a deep copy; set itself is
// left untouched so a failed reassignment never corrupts the caller's
// working configuration.
func Apply(set *config.SensorSet, renames map[string]string, planner *plan.Service) (*config.SensorSet, error) {
	out := cloneSensorSet(set)
	before := countFormulas(out)

	for _, sensor := range out.Sensors {
		if err := rewriteSensor(sensor, renames); err != nil {
			return nil, err
		}
	}
	for _, ve := range out.Global.Variables.Entries() {
		if err := rewriteBinding(ve.Binding, renames); err != nil {
			return nil, err
		}
	}

	for _, sensor := range out.Sensors {
		selfMap := map[string]string{sensor.UniqueID: "state", sensor.EntityID: "state"}
		for i := range sensor.Attributes {
			if err := rewriteFormula(sensor.Attributes[i].Formula, selfMap); err != nil {
				return nil, err
			}
		}
	}

	after := countFormulas(out)
	if after != before {
		return nil, errs.New(errs.KindSensorConfiguration, "reassignment changed the formula count").
			WithDetail("before", before).WithDetail("after", after)
	}

	graph, err := depgraph.Build(out, planner)
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	if err := graph.ValidateCrossSensorReferences(); err != nil {
		return nil, err
	}

	return out, nil
}

func rewriteSensor(s *config.Sensor, renames map[string]string) error {
	if err := rewriteFormula(s.Main, renames); err != nil {
		return err
	}
	for i := range s.Attributes {
		if err := rewriteFormula(s.Attributes[i].Formula, renames); err != nil {
			return err
		}
	}
	for _, ve := range s.Variables.Entries() {
		if err := rewriteBinding(ve.Binding, renames); err != nil {
			return err
		}
	}
	return nil
}

func rewriteFormula(f *config.FormulaSpec, renames map[string]string) error {
	if f == nil {
		return nil
	}
	newText, err := rewriteText(f.Expr, renames)
	if err != nil {
		return err
	}
	f.Expr = newText

	for _, ve := range f.Variables.Entries() {
		if err := rewriteBinding(ve.Binding, renames); err != nil {
			return err
		}
	}
	for _, key := range config.AllAlternateKeys {
		branch, ok := f.Alternates[key]
		if !ok || branch == nil {
			continue
		}
		if branch.Literal != nil {
			rewriteLiteral(branch.Literal, renames)
		}
		if branch.Formula != nil {
			if err := rewriteFormula(branch.Formula, renames); err != nil {
				return err
			}
		}
	}
	return nil
}

func rewriteBinding(b *config.VariableBinding, renames map[string]string) error {
	if b == nil {
		return nil
	}
	if b.Literal != nil {
		rewriteLiteral(b.Literal, renames)
	}
	if b.Computed != nil {
		return rewriteFormula(b.Computed, renames)
	}
	return nil
}

func rewriteLiteral(l *config.Literal, renames map[string]string) {
	if l.Kind != config.LiteralEntity && l.Kind != config.LiteralString {
		return
	}
	if newRef, ok := renames[l.Raw]; ok {
		l.Raw = newRef
	}
}

// rewriteText parses text, rewrites every identifier whose longest
// matching prefix is a key of renames, and reprints the tree. A
// formula untouched by any rename is returned unmodified, byte for
// byte.
func rewriteText(text string, renames map[string]string) (string, error) {
	if len(renames) == 0 {
		return text, nil
	}
	root, err := ast.Parse(text)
	if err != nil {
		return "", errs.Wrap(errs.KindFormulaSyntax, "cannot parse formula for reassignment", err)
	}
	changed := false
	ast.Walk(root, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok {
			if renameIdent(id, renames) {
				changed = true
			}
		}
		return true
	})
	if !changed {
		return text, nil
	}
	return printNode(root), nil
}

// renameIdent rewrites id in place if any prefix of its dotted parts
// (tried longest first, so a two-part entity_id is preferred over a
// one-part sensor key when both happen to be registered) matches a
// rename key; the remaining suffix parts, if any (an attribute chain
// hanging off the renamed reference), are preserved.
func renameIdent(id *ast.Ident, renames map[string]string) bool {
	for n := len(id.Parts); n >= 1; n-- {
		prefix := strings.Join(id.Parts[:n], ".")
		if newRef, ok := renames[prefix]; ok {
			newParts := strings.Split(newRef, ".")
			id.Parts = append(append([]string(nil), newParts...), id.Parts[n:]...)
			return true
		}
	}
	return false
}

// printNode reprints an expression tree as formula text. Every binary,
// unary, and ternary node is fully parenthesized so the reprinted text
// evaluates identically regardless of the surface grammar's precedence
// rules — textual fidelity to the original formatting is not required,
// only that the rewritten reference resolves to the same value (spec
// §4.I "rewrite every reference").
func printNode(n ast.Node) string {
	switch t := n.(type) {
	case *ast.NumberLit:
		if t.Raw != "" {
			return t.Raw
		}
		return strconv.FormatFloat(t.Value, 'g', -1, 64)
	case *ast.StringLit:
		return "'" + strings.ReplaceAll(t.Value, "'", "\\'") + "'"
	case *ast.BoolLit:
		if t.Value {
			return "true"
		}
		return "false"
	case *ast.Ident:
		return strings.Join(t.Parts, ".")
	case *ast.Unary:
		if t.Op == "not" {
			return "not (" + printNode(t.X) + ")"
		}
		return "-(" + printNode(t.X) + ")"
	case *ast.Binary:
		return "(" + printNode(t.Left) + " " + t.Op + " " + printNode(t.Right) + ")"
	case *ast.Ternary:
		return "(" + printNode(t.Then) + " if " + printNode(t.Cond) + " else " + printNode(t.Else) + ")"
	case *ast.Call:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = printNode(a)
		}
		return t.Name + "(" + strings.Join(args, ", ") + ")"
	default:
		return ""
	}
}

// countFormulas counts every FormulaSpec reachable from set: each
// sensor's main and attribute formulas, every computed-variable
// formula (sensor-local, global, and nested inside alternates),
// and every alternate branch's own formula, recursively (spec §4.I
// "the number of formulas is unchanged").
func countFormulas(set *config.SensorSet) int {
	n := 0
	var walkFormula func(f *config.FormulaSpec)
	var walkBinding func(b *config.VariableBinding)

	walkFormula = func(f *config.FormulaSpec) {
		if f == nil {
			return
		}
		n++
		for _, ve := range f.Variables.Entries() {
			walkBinding(ve.Binding)
		}
		for _, key := range config.AllAlternateKeys {
			if b, ok := f.Alternates[key]; ok && b != nil && b.Formula != nil {
				walkFormula(b.Formula)
			}
		}
	}
	walkBinding = func(b *config.VariableBinding) {
		if b == nil || b.Computed == nil {
			return
		}
		walkFormula(b.Computed)
	}

	for _, s := range set.Sensors {
		walkFormula(s.Main)
		for _, a := range s.Attributes {
			walkFormula(a.Formula)
		}
		for _, ve := range s.Variables.Entries() {
			walkBinding(ve.Binding)
		}
	}
	for _, ve := range set.Global.Variables.Entries() {
		walkBinding(ve.Binding)
	}
	return n
}

// --- deep clone ---

func cloneSensorSet(set *config.SensorSet) *config.SensorSet {
	out := &config.SensorSet{ID: set.ID, Version: set.Version}
	out.Global = config.GlobalSettings{
		DeviceIdentifier: set.Global.DeviceIdentifier,
		Variables:        cloneVariableMap(set.Global.Variables),
		Metadata:         cloneStringMap(set.Global.Metadata),
	}
	out.Sensors = make([]*config.Sensor, len(set.Sensors))
	for i, s := range set.Sensors {
		out.Sensors[i] = cloneSensor(s)
	}
	return out
}

func cloneSensor(s *config.Sensor) *config.Sensor {
	out := &config.Sensor{
		UniqueID:  s.UniqueID,
		EntityID:  s.EntityID,
		Name:      s.Name,
		DeviceID:  s.DeviceID,
		Main:      cloneFormula(s.Main),
		Variables: cloneVariableMap(s.Variables),
		Metadata:  cloneStringMap(s.Metadata),
	}
	out.Attributes = make([]config.AttributeSpec, len(s.Attributes))
	for i, a := range s.Attributes {
		out.Attributes[i] = config.AttributeSpec{
			Name:     a.Name,
			Formula:  cloneFormula(a.Formula),
			Metadata: cloneStringMap(a.Metadata),
		}
	}
	return out
}

func cloneFormula(f *config.FormulaSpec) *config.FormulaSpec {
	if f == nil {
		return nil
	}
	out := &config.FormulaSpec{ID: f.ID, Expr: f.Expr, Variables: cloneVariableMap(f.Variables)}
	if f.Alternates != nil {
		out.Alternates = make(map[config.AlternateKey]*config.AlternateBranch, len(f.Alternates))
		for k, v := range f.Alternates {
			out.Alternates[k] = cloneAlternateBranch(v)
		}
	}
	return out
}

func cloneAlternateBranch(b *config.AlternateBranch) *config.AlternateBranch {
	if b == nil {
		return nil
	}
	out := &config.AlternateBranch{}
	if b.Literal != nil {
		l := *b.Literal
		out.Literal = &l
	}
	if b.Formula != nil {
		out.Formula = cloneFormula(b.Formula)
	}
	return out
}

func cloneVariableMap(m *config.VariableMap) *config.VariableMap {
	out := config.NewVariableMap()
	if m == nil {
		return out
	}
	for _, e := range m.Entries() {
		out.Set(e.Name, cloneBinding(e.Binding))
	}
	return out
}

func cloneBinding(b *config.VariableBinding) *config.VariableBinding {
	if b == nil {
		return nil
	}
	out := &config.VariableBinding{}
	if b.Literal != nil {
		l := *b.Literal
		out.Literal = &l
	}
	if b.Computed != nil {
		out.Computed = cloneFormula(b.Computed)
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
