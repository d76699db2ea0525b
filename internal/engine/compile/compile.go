// Package compile implements the Compilation Cache (spec §4.B): an LRU
// mapping formula text to a compiled evaluator — the parsed AST paired
// with the interpreter that walks it — plus hit/miss/entry statistics
// and a numeric fast-path flag. The cache is correctness-neutral
// (clearing it never changes a result, spec §4.B); it exists purely to
// amortize the parse+analyze cost across update cycles.
package compile

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/plan"
)

// Program is the compiled form of one formula: its AST plus the
// synthetic-key lookup tables the interpreter consults for metadata
// and collection-query call sites (spec §9 "metadata before AST
// evaluation"). A Program carries no per-evaluation mutable state — it
// is evaluated by passing fresh resolver closures on each call (spec §9
// "evaluators should be cloned or reconstructed per evaluation"),
// making it safe to share across concurrent evaluations of the same
// formula text.
type Program struct {
	Plan        *plan.BindingPlan
	PureNumeric bool
}

// NewProgram compiles a BindingPlan into a Program. Compilation today is
// just a thin wrapper — the interpreter in package evaluator walks
// bp.Root directly — but the indirection keeps
// the cache's key type stable if a future optimization pass wants to
// lower the AST further.
func NewProgram(bp *plan.BindingPlan) *Program {
	return &Program{Plan: bp, PureNumeric: bp.PureNumeric}
}

// Stats reports the cache's hit/miss/entry counters (spec §4.B).
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// HitRate returns Hits / (Hits + Misses), or 0 when the cache has never
// been consulted.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is an LRU of formula text -> *Program. Whether a cached formula
// is pure-numeric is recorded on each Program's PureNumeric flag; the
// Cache keeps no separate numeric set.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, *Program]
	hits    atomic.Int64
	misses  atomic.Int64
	planner *plan.Service
}

// DefaultSize is the LRU capacity used when the host does not
// configure one explicitly.
const DefaultSize = 512

// NewCache constructs a Cache backed by planner for parse/analysis and
// sized to hold size compiled formulas.
func NewCache(planner *plan.Service, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[string, *Program](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l, planner: planner}, nil
}

// GetOrCompile returns the cached Program for text, compiling (and
// memoizing) it on a miss. A parse/analysis failure is never cached —
// the formula's syntax error is returned every time until the
// configuration is fixed.
func (c *Cache) GetOrCompile(text string) (*Program, error) {
	c.mu.Lock()
	if prog, ok := c.lru.Get(text); ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return prog, nil
	}
	c.mu.Unlock()

	bp, err := c.planner.GetOrBuildPlan(text)
	if err != nil {
		c.misses.Add(1)
		return nil, err
	}
	prog := NewProgram(bp)

	c.mu.Lock()
	c.lru.Add(text, prog)
	c.mu.Unlock()
	c.misses.Add(1)
	return prog, nil
}

// Clear empties the cache. Per spec §4.B this never changes a result —
// the next GetOrCompile simply re-derives the Program from the
// (separately cached) BindingPlan.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Report returns the current hit/miss/entry statistics (spec
// SPEC_FULL "Cache performance reporting").
func (c *Cache) Report() Stats {
	c.mu.Lock()
	n := c.lru.Len()
	c.mu.Unlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}
