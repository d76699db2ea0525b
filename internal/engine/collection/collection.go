// Package collection implements the Collection Resolver (spec §4.E):
// expanding a pattern query (`regex:`, `device_class:`, `area:`,
// `label:`, `attribute:`, `state:`) against the host's entity
// inventory, applying OR-composition across clauses, and reducing the
// matched entities' numeric states with an aggregation function.
package collection

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/host"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/resolve"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/value"
)

// queryPrefixes mirrors package plan's recognized set, used here to
// detect an embedded type override inside an OR clause (spec §4.E
// "regex:<pattern>|device_class:<class>"-style composition).
var queryPrefixes = []string{"regex:", "device_class:", "area:", "label:", "attribute:", "state:"}

// Deps bundles the host collaborators the resolver consults.
type Deps struct {
	States host.StateReader
	Areas  host.EntityAreaResolver
	Labels host.EntityLabelResolver
	Device host.DeviceLookup
	// ScanRate throttles inventory scans (one token per call to
	// ResolveEntities), guarding against a pathological regex query starving
	// an update cycle (spec §5 "Timeouts"). Defaults to 10/s, burst 20.
	ScanRate rate.Limit
	Burst    int
}

// Resolver expands pattern queries and aggregates the results.
type Resolver struct {
	deps    Deps
	limiter *rate.Limiter

	mu            sync.Mutex
	regexCache    map[string]*regexp.Regexp
}

// New constructs a Resolver.
func New(d Deps) *Resolver {
	if d.ScanRate <= 0 {
		d.ScanRate = 10
	}
	if d.Burst <= 0 {
		d.Burst = 20
	}
	return &Resolver{
		deps:       d,
		limiter:    rate.NewLimiter(d.ScanRate, d.Burst),
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// clause is one OR-composed condition, after resolving any embedded
// type override (spec §4.E "OR-composition").
type clause struct {
	queryType string
	value     string
}

// splitClauses expands "a|b|c" into individual clauses, letting any
// clause that itself starts with a recognized "type:" prefix override
// the enclosing query's type (spec §8 scenario 5:
// `device_class:power|device_class:energy`); a clause without a
// prefix inherits the enclosing type (spec §4.E:
// `state:>100|=on`).
func splitClauses(defaultType, pattern string) []clause {
	parts := strings.Split(pattern, "|")
	clauses := make([]clause, 0, len(parts))
	for _, p := range parts {
		qtype, val := defaultType, p
		for _, prefix := range queryPrefixes {
			if strings.HasPrefix(p, prefix) {
				qtype = strings.TrimSuffix(prefix, ":")
				val = strings.TrimPrefix(p, prefix)
				break
			}
		}
		clauses = append(clauses, clause{queryType: qtype, value: val})
	}
	return clauses
}

// ResolveEntities expands queryType:pattern to the union of matching
// entity_ids (spec §4.E "Collection union"). The returned order is
// deterministic (sorted) so downstream aggregation and tests are
// reproducible.
func (r *Resolver) ResolveEntities(ctx context.Context, queryType, pattern string) ([]string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	all, err := r.deps.States.ListEntities(ctx)
	if err != nil {
		return nil, err
	}

	matched := map[string]bool{}
	for _, c := range splitClauses(queryType, pattern) {
		ids, err := r.matchClause(ctx, c, all)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			matched[id] = true
		}
	}

	out := make([]string, 0, len(matched))
	for id := range matched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Resolver) matchClause(ctx context.Context, c clause, universe []string) ([]string, error) {
	switch c.queryType {
	case "regex":
		return r.matchRegex(c.value, universe)
	case "device_class":
		return r.matchAttributeEquals(ctx, "device_class", c.value, universe)
	case "area":
		return r.matchArea(ctx, c.value, universe)
	case "label":
		return r.matchLabel(ctx, c.value, universe)
	case "attribute":
		return r.matchAttributeExpr(ctx, c.value, universe)
	case "state":
		return r.matchStateExpr(ctx, c.value, universe)
	default:
		return nil, errs.New(errs.KindFormulaSyntax, "unrecognized collection query type "+c.queryType)
	}
}

// matchRegex uses re.search (unanchored) semantics, matching Go's
// regexp.MatchString default behavior (spec SPEC_FULL expansion note:
// "confirmed by tests/unit/test_regex_patterns.py").
func (r *Resolver) matchRegex(pattern string, universe []string) ([]string, error) {
	re, err := r.compileRegex(pattern)
	if err != nil {
		return nil, errs.Wrap(errs.KindFormulaSyntax, "invalid regex pattern", err)
	}
	var out []string
	for _, id := range universe {
		if re.MatchString(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *Resolver) compileRegex(pattern string) (*regexp.Regexp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if re, ok := r.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.regexCache[pattern] = re
	return re, nil
}

func (r *Resolver) matchAttributeEquals(ctx context.Context, key, want string, universe []string) ([]string, error) {
	var out []string
	for _, id := range universe {
		es, ok, err := r.deps.States.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if v, ok := es.Attributes[key]; ok {
			if value.ToDisplayString(v) == want {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (r *Resolver) matchArea(ctx context.Context, areaName string, universe []string) ([]string, error) {
	if r.deps.Areas == nil {
		return nil, nil
	}
	var out []string
	for _, id := range universe {
		area, ok := r.deps.Areas.EntityArea(ctx, id)
		if !ok && r.deps.Device != nil {
			if es, exists, err := r.deps.States.GetState(ctx, id); err == nil && exists {
				if deviceID, ok := es.Attributes["device_id"].(string); ok {
					if dev, found, err := r.deps.Device(ctx, deviceID); err == nil && found {
						area, ok = dev.AreaID, dev.AreaID != ""
					}
				}
			}
		}
		if ok && area == areaName {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *Resolver) matchLabel(ctx context.Context, label string, universe []string) ([]string, error) {
	if r.deps.Labels == nil {
		return nil, nil
	}
	var out []string
	for _, id := range universe {
		labels, err := r.deps.Labels.EntityLabels(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			if l == label {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

func (r *Resolver) matchAttributeExpr(ctx context.Context, expr string, universe []string) ([]string, error) {
	key, op, want, err := parseComparisonExpr(expr)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range universe {
		es, ok, err := r.deps.States.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, ok := es.Attributes[key]
		if !ok {
			continue
		}
		match, err := compare(op, v, want)
		if err != nil {
			continue
		}
		if match {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *Resolver) matchStateExpr(ctx context.Context, expr string, universe []string) ([]string, error) {
	op, want, err := parseStateComparisonExpr(expr)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range universe {
		es, ok, err := r.deps.States.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		stateVal, _ := value.ParseHostState(es.State)
		match, err := compare(op, stateVal, want)
		if err != nil {
			continue
		}
		if match {
			out = append(out, id)
		}
	}
	return out, nil
}

var comparisonOps = []string{"!=", "<=", ">=", "=", "<", ">"}

// parseComparisonExpr splits "key<op>value" (spec §4.E
// "attribute:<expr>"), trying two-character operators before
// single-character ones so "<=" isn't split as "<" + "=value".
func parseComparisonExpr(expr string) (key, op, want string, err error) {
	for _, candidate := range comparisonOps {
		if idx := strings.Index(expr, candidate); idx > 0 {
			return expr[:idx], candidate, expr[idx+len(candidate):], nil
		}
	}
	return "", "", "", errs.New(errs.KindFormulaSyntax, "malformed attribute comparison: "+expr)
}

// parseStateComparisonExpr splits "<op>value" (spec §4.E
// "state:<expr>" — there is no key, just state vs a value).
func parseStateComparisonExpr(expr string) (op, want string, err error) {
	for _, candidate := range comparisonOps {
		if strings.HasPrefix(expr, candidate) {
			return candidate, strings.TrimPrefix(expr, candidate), nil
		}
	}
	return "", "", errs.New(errs.KindFormulaSyntax, "malformed state comparison: "+expr)
}

// compare evaluates a.<op>.want, numerically if both sides parse as
// numbers, otherwise as string/boolean (spec §4.E), delegating to
// package resolve's gval-backed comparator so the two packages agree.
func compare(op string, a any, wantRaw string) (bool, error) {
	want, ok := value.ToFloat(wantRaw)
	if af, aok := value.ToFloat(a); aok && ok {
		return resolve.CompareExpr(op, af, want)
	}
	return resolve.CompareExpr(op, value.ToDisplayString(a), wantRaw)
}

// Aggregate applies fn to the numeric states of entities (spec §4.E).
// Non-numeric states are skipped. An empty match set returns the
// additive identity for sum/count, an empty list for select, and None
// for avg/min/max/std/var (propagating as an alternate-state trigger
// upstream).
func (r *Resolver) Aggregate(ctx context.Context, fn string, entityIDs []string) (any, error) {
	var nums []float64
	for _, id := range entityIDs {
		es, ok, err := r.deps.States.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if f, ok := value.ToFloat(es.State); ok {
			nums = append(nums, f)
		}
	}
	return aggregate(fn, nums)
}

func aggregate(fn string, nums []float64) (any, error) {
	switch fn {
	case "sum":
		var s float64
		for _, n := range nums {
			s += n
		}
		return s, nil
	case "count":
		return float64(len(nums)), nil
	case "select":
		out := make([]any, len(nums))
		for i, n := range nums {
			out[i] = n
		}
		return out, nil
	case "avg", "min", "max", "std", "var":
		if len(nums) == 0 {
			return value.None, nil
		}
		switch fn {
		case "avg":
			return meanOf(nums), nil
		case "min":
			m := nums[0]
			for _, n := range nums[1:] {
				if n < m {
					m = n
				}
			}
			return m, nil
		case "max":
			m := nums[0]
			for _, n := range nums[1:] {
				if n > m {
					m = n
				}
			}
			return m, nil
		case "std":
			return sqrtVariance(nums), nil
		default: // var
			return variance(nums), nil
		}
	default:
		return nil, errs.New(errs.KindFormulaSyntax, "unrecognized aggregation function "+fn)
	}
}

func meanOf(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := meanOf(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return sq / float64(len(xs)-1)
}

func sqrtVariance(xs []float64) float64 {
	v := variance(xs)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
