// Package plan implements the Formula AST Service (spec §4.A): it
// parses a formula's text once, caches the result by the exact text,
// and walks the tree to extract the information the rest of the
// engine needs without re-parsing: free variable names, metadata call
// sites, and collection query literals.
package plan

import (
	"fmt"
	"strings"
	"sync"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/ast"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
)

// MetadataCall records one `metadata(entity_expr, 'key')` call site.
// Call identifies the exact AST node so the evaluator can splice its
// pre-computed result back in by node identity rather than by a
// traversal-order index (spec §9 "metadata before AST evaluation").
type MetadataCall struct {
	Call         *ast.Call
	EntityArg    ast.Node
	Key          string
	SyntheticKey string
}

// DynamicQuery records one collection-function call whose first
// argument is a recognized pattern-string literal.
type DynamicQuery struct {
	Call         *ast.Call
	Function     string // sum|avg|count|min|max|std|var|select
	QueryType    string // regex|device_class|area|label|attribute|state
	Pattern      string // the text after the "type:" prefix
	SyntheticKey string
}

// collectionFunctions is the closed set of aggregate functions that
// can be applied to a pattern-string query (spec §4.A, §6).
var collectionFunctions = map[string]bool{
	"sum": true, "avg": true, "count": true, "min": true, "max": true,
	"std": true, "var": true, "select": true,
}

// queryPrefixes is the closed set of recognized pattern prefixes.
var queryPrefixes = []string{"regex:", "device_class:", "area:", "label:", "attribute:", "state:"}

// BindingPlan is the immutable, text-cached analysis of one formula.
// It is shared by reference across update cycles (spec §9).
type BindingPlan struct {
	Text              string
	Root              ast.Node
	FreeNames         []string // base identifiers needing external resolution, in first-appearance order
	AttributeChains   map[string][]string // base name -> [base, ...attribute parts], for names with an attribute chain beyond the base
	HasMetadata       bool
	HasCollections    bool
	MetadataCalls     []MetadataCall
	CollectionQueries []DynamicQuery
	PureNumeric       bool // no metadata/collection calls and no string/bool literals anywhere in the formula
}

// Service builds and caches BindingPlans by exact formula text.
type Service struct {
	mu    sync.RWMutex
	plans map[string]*BindingPlan
}

// NewService constructs an empty plan Service.
func NewService() *Service {
	return &Service{plans: make(map[string]*BindingPlan)}
}

// GetOrBuildPlan returns the cached BindingPlan for text, building and
// memoizing it on first use. It corresponds to spec §4.A's
// get_or_build_plan operation.
func (s *Service) GetOrBuildPlan(text string) (*BindingPlan, error) {
	s.mu.RLock()
	if bp, ok := s.plans[text]; ok {
		s.mu.RUnlock()
		return bp, nil
	}
	s.mu.RUnlock()

	bp, err := build(text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.plans[text]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.plans[text] = bp
	s.mu.Unlock()
	return bp, nil
}

// ExtractDependencies returns the subset of free identifiers that
// must be resolved externally (spec §4.A operation 2).
func (s *Service) ExtractDependencies(text string) ([]string, error) {
	bp, err := s.GetOrBuildPlan(text)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(bp.FreeNames))
	copy(out, bp.FreeNames)
	return out, nil
}

// ExtractDynamicQueries returns the collection queries found in text
// (spec §4.A operation 3).
func (s *Service) ExtractDynamicQueries(text string) ([]DynamicQuery, error) {
	bp, err := s.GetOrBuildPlan(text)
	if err != nil {
		return nil, err
	}
	out := make([]DynamicQuery, len(bp.CollectionQueries))
	copy(out, bp.CollectionQueries)
	return out, nil
}

// Clear drops all cached plans. Clearing is correctness-neutral: the
// next GetOrBuildPlan simply re-parses (spec §4.B "correctness-neutral").
func (s *Service) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = make(map[string]*BindingPlan)
}

// Len reports the number of cached plans.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans)
}

// IdentBase determines the free-name key a dotted identifier resolves
// under and whatever dotted parts remain beyond it: the joined
// "<domain>.<object>" when the identifier's first two parts form a
// recognized entity reference (so `sensor.power_a` resolves as one
// unit against host state, spec §4.C strategy 5), or the bare first
// part otherwise (a plain variable name or cross-sensor key). The
// remaining parts, if any, are an attribute chain to navigate after
// the base resolves (spec §4.C strategy 7).
func IdentBase(parts []string) (base string, rest []string) {
	if len(parts) >= 2 {
		joined := parts[0] + "." + parts[1]
		if config.LooksLikeEntityRef(joined) {
			return joined, parts[2:]
		}
	}
	return parts[0], parts[1:]
}

func build(text string) (*BindingPlan, error) {
	root, err := ast.Parse(text)
	if err != nil {
		var synErr *ast.SyntaxError
		if se, ok := err.(*ast.SyntaxError); ok {
			synErr = se
			return nil, errs.FormulaSyntax(synErr.Msg, synErr.Line, synErr.Column)
		}
		return nil, errs.FormulaSyntax(err.Error(), 0, 0)
	}

	bp := &BindingPlan{
		Text:            text,
		Root:            root,
		AttributeChains: make(map[string][]string),
		PureNumeric:     true,
	}

	seen := make(map[string]bool)
	metadataSeq := 0
	collectionSeq := 0

	addFreeName := func(id *ast.Ident) {
		base, rest := IdentBase(id.Parts)
		if !seen[base] {
			seen[base] = true
			bp.FreeNames = append(bp.FreeNames, base)
		}
		if len(rest) > 0 {
			bp.AttributeChains[base] = append([]string{base}, rest...)
		}
	}

	var walkErr error
	ast.Walk(root, func(n ast.Node) bool {
		switch t := n.(type) {
		case *ast.Ident:
			addFreeName(t)
		case *ast.StringLit:
			bp.PureNumeric = false
		case *ast.BoolLit:
			bp.PureNumeric = false
		case *ast.Call:
			if t.Name == "metadata" {
				bp.HasMetadata = true
				bp.PureNumeric = false
				if len(t.Args) != 2 {
					walkErr = errs.FormulaSyntax("metadata() requires exactly 2 arguments", 0, 0)
					return false
				}
				keyLit, ok := t.Args[1].(*ast.StringLit)
				if !ok {
					walkErr = errs.FormulaSyntax("metadata() second argument must be a string literal", 0, 0)
					return false
				}
				key := fmt.Sprintf("_metadata_%d", metadataSeq)
				metadataSeq++
				bp.MetadataCalls = append(bp.MetadataCalls, MetadataCall{
					Call: t, EntityArg: t.Args[0], Key: keyLit.Value, SyntheticKey: key,
				})
				// Still walk the entity argument for free-name extraction.
				ast.Walk(t.Args[0], func(inner ast.Node) bool {
					if id, ok := inner.(*ast.Ident); ok {
						addFreeName(id)
					}
					return true
				})
				return false
			}
			if collectionFunctions[t.Name] && len(t.Args) >= 1 {
				if strLit, ok := t.Args[0].(*ast.StringLit); ok {
					if qtype, pattern, ok := splitQuery(strLit.Value); ok {
						bp.HasCollections = true
						bp.PureNumeric = false
						key := fmt.Sprintf("_collection_%d", collectionSeq)
						collectionSeq++
						bp.CollectionQueries = append(bp.CollectionQueries, DynamicQuery{
							Call: t, Function: t.Name, QueryType: qtype, Pattern: pattern, SyntheticKey: key,
						})
						return false
					}
				}
			}
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return bp, nil
}

// splitQuery recognizes a "type:pattern" collection-query literal. It
// does not split on the internal OR-composition ("|") — that is the
// collection resolver's concern (spec §4.E).
func splitQuery(lit string) (qtype, pattern string, ok bool) {
	for _, prefix := range queryPrefixes {
		if strings.HasPrefix(lit, prefix) {
			return strings.TrimSuffix(prefix, ":"), strings.TrimPrefix(lit, prefix), true
		}
	}
	return "", "", false
}
