// Package evaluator implements the Formula Evaluation Phase (spec
// §4.H): for one formula, it asks the compilation cache for the
// parsed plan, resolves every free name through the variable
// resolution chain, evaluates metadata() and collection-aggregate
// call sites ahead of the AST walk, interprets the expression tree
// against the resolved bindings and built-in function table, and
// finally applies the alternate-state branch if the primary result is
// a sentinel.
package evaluator

import (
	"context"
	"math"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/alternate"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/ast"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/collection"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/compile"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/evalcontext"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/funcs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/metadata"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/resolve"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/value"
)

// Deps bundles the collaborators one Evaluator consults (spec §4.H).
type Deps struct {
	Resolver    *resolve.Chain
	Metadata    *metadata.Handler
	Collections *collection.Resolver
	Compiler    *compile.Cache
}

// Evaluator runs the full per-formula evaluation pipeline.
type Evaluator struct {
	deps Deps
}

// New constructs an Evaluator.
func New(d Deps) *Evaluator {
	return &Evaluator{deps: d}
}

// Request describes one formula to evaluate (spec §4.H). Scopes lists
// the variable maps in effect outside the formula itself, innermost
// first (typically sensor-local then global); the formula's own
// Variables map is pushed in front of Scopes automatically, so a
// computed variable can shadow a sensor or global binding of the same
// name.
type Request struct {
	Formula         *config.FormulaSpec
	Role            evalcontext.FormulaRole
	SensorKey       string
	BackingEntityID string
	// MainResult is the main formula's already-computed value, visible
	// through the `state` token when Role is RoleAttribute or
	// RoleAlternate (spec §9 open question 1).
	MainResult any
	Scopes     []*config.VariableMap
	ParentCtx  *evalcontext.Context
}

// Result is one formula's final value plus every reference it read,
// for diagnostics.
type Result struct {
	Value      any
	References []evalcontext.ReferenceValue
}

// Evaluate runs the pipeline for req.Formula: free-name resolution,
// metadata/collection pre-computation, AST interpretation, then
// alternate-state substitution if the result is a sentinel (spec
// §4.G, §4.H).
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Result, error) {
	frame := req.ParentCtx.Push(evalcontext.LayerFormula)
	val, refs, err := e.evalFormula(ctx, req.Formula, frame, req.Scopes, req)
	if err != nil {
		return Result{}, err
	}
	final, err := alternate.Apply(val, req.Formula.Alternates, func(branch *config.FormulaSpec) (any, error) {
		branchReq := req
		branchReq.Role = evalcontext.RoleAlternate
		branchReq.MainResult = val
		bv, _, err := e.evalFormula(ctx, branch, frame, req.Scopes, branchReq)
		return bv, err
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Value: final, References: refs}, nil
}

// evalFormula runs one formula (main, attribute, computed-variable, or
// alternate-branch) through resolution and interpretation, without
// alternate-state handling — the caller applies that once, around the
// outermost call (spec §4.G "not recursively applied to its own
// output").
func (e *Evaluator) evalFormula(ctx context.Context, formula *config.FormulaSpec, frame *evalcontext.Context, scopes []*config.VariableMap, req Request) (any, []evalcontext.ReferenceValue, error) {
	prog, err := e.deps.Compiler.GetOrCompile(formula.Expr)
	if err != nil {
		return nil, nil, err
	}
	bp := prog.Plan

	localScopes := append([]*config.VariableMap{formula.Variables}, scopes...)

	refsByName := map[string]string{}
	var refs []evalcontext.ReferenceValue

	for _, name := range bp.FreeNames {
		binding, bound := lookupBinding(name, localScopes)

		if bound && binding.Computed != nil {
			subReq := req
			subReq.Role = evalcontext.RoleComputed
			subVal, subRefs, err := e.evalFormula(ctx, binding.Computed, frame, localScopes, subReq)
			if err != nil {
				return nil, nil, err
			}
			finalVal, err := alternate.Apply(subVal, binding.Computed.Alternates, func(branch *config.FormulaSpec) (any, error) {
				branchReq := subReq
				branchReq.Role = evalcontext.RoleAlternate
				branchReq.MainResult = subVal
				bv, _, err := e.evalFormula(ctx, branch, frame, localScopes, branchReq)
				return bv, err
			})
			if err != nil {
				return nil, nil, err
			}
			frame.Set(name, finalVal)
			refsByName[name] = name
			refs = append(refs, subRefs...)
			continue
		}

		chain := bp.AttributeChains[name]
		if chain == nil {
			chain = []string{name}
		}
		res, err := e.deps.Resolver.Resolve(ctx, resolve.Request{
			Base:            name,
			Chain:           chain,
			Binding:         binding,
			Role:            req.Role,
			SensorKey:       req.SensorKey,
			BackingEntityID: req.BackingEntityID,
			MainResult:      req.MainResult,
			Ctx:             frame,
		})
		if err != nil {
			return nil, nil, err
		}
		frame.Set(name, res.Value)
		refsByName[name] = res.Reference
		refs = append(refs, evalcontext.ReferenceValue{Reference: res.Reference, Value: res.Value})
	}

	callKeys := make(map[*ast.Call]string, len(bp.MetadataCalls)+len(bp.CollectionQueries))

	for _, mc := range bp.MetadataCalls {
		entityID, err := metadataEntityRef(mc.EntityArg, refsByName)
		if err != nil {
			return nil, nil, err
		}
		mv, err := e.deps.Metadata.Resolve(ctx, entityID, mc.Key)
		if err != nil {
			return nil, nil, err
		}
		frame.Set(mc.SyntheticKey, mv)
		callKeys[mc.Call] = mc.SyntheticKey
	}

	for _, dq := range bp.CollectionQueries {
		entityIDs, err := e.deps.Collections.ResolveEntities(ctx, dq.QueryType, dq.Pattern)
		if err != nil {
			return nil, nil, err
		}
		agg, err := e.deps.Collections.Aggregate(ctx, dq.Function, entityIDs)
		if err != nil {
			return nil, nil, err
		}
		frame.Set(dq.SyntheticKey, agg)
		callKeys[dq.Call] = dq.SyntheticKey
	}

	st := &evalState{frame: frame, callKeys: callKeys}
	result, err := st.eval(bp.Root)
	if err != nil {
		return nil, nil, err
	}
	return result, refs, nil
}

// metadataEntityRef determines the entity_id a metadata() call's first
// argument names. A string literal names it directly; an identifier
// uses the reference the free-name resolution phase resolved it
// through (spec §4.C "Reference", so `metadata(sensor_var, 'key')`
// reaches the entity the variable was bound to, not its resolved
// state value), falling back to its dotted textual form for a bare
// entity-shaped identifier that was never registered as a free name.
func metadataEntityRef(node ast.Node, refsByName map[string]string) (string, error) {
	switch t := node.(type) {
	case *ast.StringLit:
		return t.Value, nil
	case *ast.Ident:
		base, _ := plan.IdentBase(t.Parts)
		if ref, ok := refsByName[base]; ok && ref != "" {
			return ref, nil
		}
		return t.Name(), nil
	default:
		return "", errs.New(errs.KindFormulaSyntax, "metadata() entity argument must be an identifier or string literal")
	}
}

// scope resolution

func lookupBinding(name string, scopes []*config.VariableMap) (*config.VariableBinding, bool) {
	for _, m := range scopes {
		if b, ok := m.Get(name); ok {
			return b, true
		}
	}
	return nil, false
}

// evalState interprets one formula's AST against its already-resolved
// frame, splicing in the pre-computed metadata/collection results by
// AST node identity (spec §9 "metadata before AST evaluation").
type evalState struct {
	frame    *evalcontext.Context
	callKeys map[*ast.Call]string
}

func (s *evalState) eval(n ast.Node) (any, error) {
	switch t := n.(type) {
	case *ast.NumberLit:
		return t.Value, nil
	case *ast.StringLit:
		return t.Value, nil
	case *ast.BoolLit:
		return t.Value, nil
	case *ast.Ident:
		base, _ := plan.IdentBase(t.Parts)
		v, ok := s.frame.Get(base)
		if !ok {
			return value.None, nil
		}
		return v, nil
	case *ast.Unary:
		return s.evalUnary(t)
	case *ast.Binary:
		return s.evalBinary(t)
	case *ast.Ternary:
		cond, err := s.eval(t.Cond)
		if err != nil {
			return nil, err
		}
		if value.ToBool(cond) {
			return s.eval(t.Then)
		}
		return s.eval(t.Else)
	case *ast.Call:
		return s.evalCall(t)
	default:
		return nil, errs.New(errs.KindFormulaSyntax, "unrecognized expression node")
	}
}

func (s *evalState) evalUnary(t *ast.Unary) (any, error) {
	x, err := s.eval(t.X)
	if err != nil {
		return nil, err
	}
	switch t.Op {
	case "not":
		return !value.ToBool(x), nil
	case "-":
		f, ok := value.ToFloat(x)
		if !ok {
			return nil, errs.DataValidation("-", "operand is not numeric")
		}
		return -f, nil
	default:
		return nil, errs.New(errs.KindFormulaSyntax, "unrecognized unary operator "+t.Op)
	}
}

func (s *evalState) evalBinary(t *ast.Binary) (any, error) {
	switch t.Op {
	case "and":
		left, err := s.eval(t.Left)
		if err != nil {
			return nil, err
		}
		if !value.ToBool(left) {
			return false, nil
		}
		right, err := s.eval(t.Right)
		if err != nil {
			return nil, err
		}
		return value.ToBool(right), nil
	case "or":
		left, err := s.eval(t.Left)
		if err != nil {
			return nil, err
		}
		if value.ToBool(left) {
			return true, nil
		}
		right, err := s.eval(t.Right)
		if err != nil {
			return nil, err
		}
		return value.ToBool(right), nil
	}

	left, err := s.eval(t.Left)
	if err != nil {
		return nil, err
	}
	right, err := s.eval(t.Right)
	if err != nil {
		return nil, err
	}

	switch t.Op {
	case "==", "!=", "<", "<=", ">", ">=":
		return resolve.CompareExpr(t.Op, left, right)
	case "+":
		if _, lok := left.(string); lok {
			return value.ToDisplayString(left) + value.ToDisplayString(right), nil
		}
		if _, rok := right.(string); rok {
			if _, lnum := value.ToFloat(left); !lnum {
				return value.ToDisplayString(left) + value.ToDisplayString(right), nil
			}
		}
		lf, lok := value.ToFloat(left)
		rf, rok := value.ToFloat(right)
		if lok && rok {
			return lf + rf, nil
		}
		return value.ToDisplayString(left) + value.ToDisplayString(right), nil
	case "-", "*", "/", "%", "**":
		lf, lok := value.ToFloat(left)
		rf, rok := value.ToFloat(right)
		if !lok || !rok {
			return nil, errs.DataValidation(t.Op, "operand is not numeric")
		}
		switch t.Op {
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return value.Unavailable, nil
			}
			return lf / rf, nil
		case "%":
			if rf == 0 {
				return value.Unavailable, nil
			}
			return math.Mod(lf, rf), nil
		default: // **
			return math.Pow(lf, rf), nil
		}
	default:
		return nil, errs.New(errs.KindFormulaSyntax, "unrecognized binary operator "+t.Op)
	}
}

func (s *evalState) evalCall(t *ast.Call) (any, error) {
	if key, ok := s.callKeys[t]; ok {
		v, _ := s.frame.Get(key)
		return v, nil
	}
	fn, ok := funcs.Table[t.Name]
	if !ok {
		return nil, errs.New(errs.KindFormulaSyntax, "unrecognized function "+t.Name)
	}
	args := make([]any, len(t.Args))
	for i, a := range t.Args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(args)
}

