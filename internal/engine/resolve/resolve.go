// Package resolve implements the Variable Resolution Phase (spec
// §4.C): an ordered chain of small, single-purpose strategies, each
// exposing the same two-method interface, tried in a fixed order until
// one claims the name. Per spec §9 "avoid inheritance hierarchies",
// adding a strategy means appending to the slice built in NewChain —
// never introducing a new base type.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/evalcontext"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/host"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/registry"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/value"
)

// Request describes one name that needs resolving. Base is the first
// dotted component (what the plan recorded as a free name); Chain is
// the full dotted parts (len 1 when there is no attribute access).
// Binding is the sensor/global variable binding for Base, when the
// name is backed by one; it is nil for a bare identifier referenced
// directly in formula text with no corresponding `variables:` entry
// (e.g. `sensor.a * 2`, or `base + 1` naming another sensor's
// unique_id directly).
type Request struct {
	Base      string
	Chain     []string
	Binding   *config.VariableBinding
	Role      evalcontext.FormulaRole
	SensorKey string
	// BackingEntityID is the sensor's configured backing entity, used
	// by the self-state strategy when Role is RoleMain.
	BackingEntityID string
	// MainResult is the main formula's just-computed value, used by
	// the self-state strategy when Role is RoleAttribute (spec §9 open
	// question 1).
	MainResult any
	Ctx        *evalcontext.Context
}

// Result is what a strategy (or the chain as a whole) produces for one
// Request.
type Result struct {
	Value      any
	Exists     bool
	Source     evalcontext.StrategyTag
	Reference  string // entity_id or sensor key the value came from, for ReferenceValue
	Attributes map[string]any
}

// Strategy is the uniform two-method interface every resolution
// strategy implements (spec §4.C, §9).
type Strategy interface {
	CanResolve(req Request) bool
	Resolve(ctx context.Context, req Request) (Result, error)
}

// Chain runs strategies in fixed order, returning the first match.
type Chain struct {
	strategies []Strategy
}

// Deps bundles the collaborators the default strategy set needs.
type Deps struct {
	States       host.StateReader
	DataProvider host.DataProvider
	Registry     *registry.Registry
}

// NewChain builds the default ordered strategy chain (spec §4.C
// strategies 1-7). Appending a new strategy to the returned Chain's
// internal slice is the documented way to extend the resolver — there
// is no inheritance hierarchy to subclass (spec §9).
func NewChain(d Deps) *Chain {
	return &Chain{strategies: []Strategy{
		&contextStrategy{},
		&literalStrategy{registry: d.Registry},
		&selfStateStrategy{states: d.States},
		&dataProviderStrategy{provider: d.DataProvider},
		&haStateStrategy{states: d.States},
		&crossSensorStrategy{registry: d.Registry},
	}}
}

// Resolve tries each strategy in order and returns the first match. If
// the requested name has additional dotted parts, the winning
// strategy's Attributes (when any) are navigated for the remaining
// parts (spec §4.C strategy 7, §9 open question 2 "runtime
// navigation").
func (c *Chain) Resolve(ctx context.Context, req Request) (Result, error) {
	for _, s := range c.strategies {
		if !s.CanResolve(req) {
			continue
		}
		res, err := s.Resolve(ctx, req)
		if err != nil {
			return Result{}, err
		}
		if len(req.Chain) > 1 {
			return navigateAttributes(res, req.Chain[1:])
		}
		return res, nil
	}
	return Result{Value: value.None, Exists: false, Source: evalcontext.StrategyHAState}, nil
}

// entityRef reports the entity_id a request should be resolved
// against: the variable binding's explicit entity reference, when
// Kind is LiteralEntity, or the bare base name itself when it has no
// binding and looks like "<domain>.<object>".
func entityRef(req Request) (string, bool) {
	if req.Binding != nil {
		if req.Binding.Literal != nil && req.Binding.Literal.Kind == config.LiteralEntity {
			return req.Binding.Literal.Raw, true
		}
		return "", false
	}
	if config.LooksLikeEntityRef(req.Base) {
		return req.Base, true
	}
	return "", false
}

// crossSensorKey reports the sensor unique_id a request should be
// resolved against: a variable bound to a plain string (spec §6
// "variables: { <name>: <entity_id | literal> }" — a non-entity-shaped
// string is the documented way to alias another sensor), or the bare
// base name itself when it has no binding.
func crossSensorKey(req Request) (string, bool) {
	if req.Binding != nil {
		if req.Binding.Literal != nil && req.Binding.Literal.Kind == config.LiteralString {
			return req.Binding.Literal.Raw, true
		}
		return "", false
	}
	return req.Base, true
}

// --- 1. Context ---

// contextStrategy matches a name already resolved into this
// evaluation's context frame — either an earlier computed variable in
// the same scope, or a value the evaluator staged up front.
type contextStrategy struct{}

func (contextStrategy) CanResolve(req Request) bool {
	_, ok := req.Ctx.GetLocal(req.Base)
	return ok
}

func (contextStrategy) Resolve(_ context.Context, req Request) (Result, error) {
	v, _ := req.Ctx.GetLocal(req.Base)
	return Result{Value: v, Exists: true, Source: evalcontext.StrategyContext, Reference: req.Base}, nil
}

// --- 2. Literal ---

// literalStrategy matches a variable binding that is a plain
// number/boolean constant, or a string constant that does not alias
// another sensor's unique_id (spec §4.C strategy 2).
type literalStrategy struct {
	registry *registry.Registry
}

func (l *literalStrategy) CanResolve(req Request) bool {
	if req.Binding == nil || req.Binding.Literal == nil {
		return false
	}
	lit := req.Binding.Literal
	if lit.Kind == config.LiteralEntity {
		return false
	}
	if lit.Kind == config.LiteralString && l.registry != nil {
		if _, ok := l.registry.Get(lit.Raw); ok {
			return false // alias for crossSensorStrategy instead
		}
	}
	return true
}

func (l *literalStrategy) Resolve(_ context.Context, req Request) (Result, error) {
	lit := req.Binding.Literal
	var v any
	switch lit.Kind {
	case config.LiteralNumber:
		v = lit.Number
	case config.LiteralBool:
		v = lit.Bool
	default:
		v = lit.Raw
	}
	return Result{Value: v, Exists: true, Source: evalcontext.StrategyLiteral, Reference: req.Base}, nil
}

// --- 3. Self-reference via `state` token ---

// selfStateStrategy resolves the bare `state` token. Its meaning
// depends on the evaluation's FormulaRole (spec §9 open question 1):
// in a main/computed formula it is the sensor's backing entity; in an
// attribute or alternate-of-attribute formula it is the main formula's
// already-computed result. The two interpretations never both apply to
// the same evaluation, since Role is fixed per formula.
type selfStateStrategy struct {
	states host.StateReader
}

func (s *selfStateStrategy) CanResolve(req Request) bool {
	return req.Base == "state" && req.Binding == nil
}

func (s *selfStateStrategy) Resolve(ctx context.Context, req Request) (Result, error) {
	switch req.Role {
	case evalcontext.RoleAttribute, evalcontext.RoleAlternate:
		return Result{Value: req.MainResult, Exists: true, Source: evalcontext.StrategySelfState, Reference: req.SensorKey}, nil
	default:
		if req.BackingEntityID == "" {
			return Result{Value: value.None, Exists: false, Source: evalcontext.StrategySelfState}, nil
		}
		es, ok, err := s.states.GetState(ctx, req.BackingEntityID)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, errs.MissingDependency(req.BackingEntityID)
		}
		v, err := value.ParseHostState(es.State)
		if err != nil {
			return Result{}, err
		}
		return Result{Value: v, Exists: true, Source: evalcontext.StrategySelfState,
			Reference: req.BackingEntityID, Attributes: es.Attributes}, nil
	}
}

// --- 4. Integration data provider ---

type dataProviderStrategy struct {
	provider host.DataProvider
}

func (d *dataProviderStrategy) CanResolve(req Request) bool {
	if d.provider == nil {
		return false
	}
	_, ok := entityRef(req)
	return ok
}

func (d *dataProviderStrategy) Resolve(ctx context.Context, req Request) (Result, error) {
	ref, _ := entityRef(req)
	res, err := d.provider(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	if !res.Exists {
		return Result{Value: value.None, Exists: false, Source: evalcontext.StrategyDataProvider, Reference: ref}, nil
	}
	v, err := coerceProviderValue(res.Value)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v, Exists: true, Source: evalcontext.StrategyDataProvider,
		Reference: ref, Attributes: res.Attributes}, nil
}

func coerceProviderValue(raw any) (any, error) {
	if s, ok := raw.(string); ok {
		return value.ParseHostState(s)
	}
	return raw, nil
}

// --- 5. Host state ---

// haStateStrategy is tried only once the data provider has declined
// (spec §4.C: "used when the host does not expose those entities via
// its ordinary state bus" — providers are narrower and take priority).
type haStateStrategy struct {
	states host.StateReader
}

func (h *haStateStrategy) CanResolve(req Request) bool {
	_, ok := entityRef(req)
	return ok
}

func (h *haStateStrategy) Resolve(ctx context.Context, req Request) (Result, error) {
	ref, _ := entityRef(req)
	es, ok, err := h.states.GetState(ctx, ref)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Value: value.None, Exists: false, Source: evalcontext.StrategyHAState, Reference: ref}, nil
	}
	v, err := value.ParseHostState(es.State)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindNonNumericState, "state is not numeric", err).
			WithDetail("reference", ref).WithDetail("value", es.State)
	}
	return Result{Value: v, Exists: true, Source: evalcontext.StrategyHAState,
		Reference: ref, Attributes: es.Attributes}, nil
}

// --- 6. Cross-sensor ---

type crossSensorStrategy struct {
	registry *registry.Registry
}

func (c *crossSensorStrategy) CanResolve(req Request) bool {
	if c.registry == nil {
		return false
	}
	key, ok := crossSensorKey(req)
	if !ok {
		return false
	}
	_, known := c.registry.Get(key)
	return known
}

func (c *crossSensorStrategy) Resolve(_ context.Context, req Request) (Result, error) {
	key, _ := crossSensorKey(req)
	entry, ok := c.registry.Get(key)
	if !ok || !entry.Exists {
		return Result{Value: value.None, Exists: false, Source: evalcontext.StrategyCrossSensor, Reference: key}, nil
	}
	return Result{Value: entry.Value, Exists: true, Source: evalcontext.StrategyCrossSensor, Reference: key}, nil
}

// --- 7. Attribute navigation ---

// navigateAttributes walks parts into base's Attributes map using
// jsonpath over the attributes document (spec §4.C strategy 7, §9
// "runtime attribute navigation"). A missing intermediate key yields
// None, per spec, rather than an error.
func navigateAttributes(base Result, parts []string) (Result, error) {
	if base.Attributes == nil {
		return Result{Value: value.None, Exists: true, Source: evalcontext.StrategyAttribute, Reference: base.Reference}, nil
	}
	expr := "$." + strings.Join(parts, ".")
	eval, err := jsonpath.New(expr)
	if err != nil {
		return Result{}, errs.Wrap(errs.KindFormulaSyntax, "invalid attribute path", err)
	}
	v, err := eval(context.Background(), map[string]any(base.Attributes))
	if err != nil {
		// jsonpath reports a missing key as an error; the spec treats
		// a missing intermediate key as None, not a failure.
		return Result{Value: value.None, Exists: true, Source: evalcontext.StrategyAttribute, Reference: base.Reference}, nil
	}
	return Result{Value: v, Exists: true, Source: evalcontext.StrategyAttribute, Reference: base.Reference}, nil
}

// CompareExpr evaluates a two-operand comparison (`a <op> b`) using
// gval's own type coercion rules, reused by the collection resolver's
// `attribute:`/`state:` comparison grammar (spec §4.E) so both
// packages agree on when a comparison is numeric versus lexical.
func CompareExpr(op string, a, b any) (bool, error) {
	expr := fmt.Sprintf("a %s b", gvalOp(op))
	result, err := gval.Full().Evaluate(expr, map[string]any{"a": a, "b": b})
	if err != nil {
		return false, errs.Wrap(errs.KindDataValidation, "comparison failed", err)
	}
	b2, ok := result.(bool)
	if !ok {
		return false, errs.New(errs.KindDataValidation, "comparison did not yield a boolean")
	}
	return b2, nil
}

func gvalOp(op string) string {
	if op == "=" {
		return "=="
	}
	return op
}
