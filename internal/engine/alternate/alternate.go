// Package alternate implements the Alternate-State Handler (spec
// §4.G): when a formula's primary evaluation yields a sentinel
// (unavailable/unknown/none), the matching alternate branch — if the
// sensor declared one — is evaluated in the same context and its
// result replaces the primary. Boolean false and numeric 0 are never
// sentinels and never trigger this path (spec §4.G, §7).
package alternate

import (
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/config"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/value"
)

// BranchFor maps a value.Sentinel to the config.AlternateKey that
// would handle it.
func BranchFor(s value.Sentinel) config.AlternateKey {
	switch s {
	case value.Unavailable:
		return config.AltUnavailable
	case value.Unknown:
		return config.AltUnknown
	default:
		return config.AltNone
	}
}

// Evaluator evaluates one alternate branch's formula. The evaluator
// package (H) supplies this as a closure bound to the same context
// frame the primary formula ran in, so a branch may reference the
// primary's variables (spec §4.G "in the same context").
type Evaluator func(branch *config.FormulaSpec) (any, error)

// Apply implements the resolution policy of spec §4.G: if primary is
// not a sentinel, it passes through unchanged (this also covers
// boolean false and numeric 0, which are never sentinels). If primary
// is a sentinel and the sensor declares a matching branch, the branch
// is evaluated; its own alternates are not recursively re-applied to
// its output (spec: "not recursively applied to its own output"), and
// a branch literal short-circuits evaluation entirely. If the branch
// itself errors or there is no matching branch, the raw sentinel is
// returned unchanged.
func Apply(primary any, branches map[config.AlternateKey]*config.AlternateBranch, evalBranch Evaluator) (any, error) {
	sentinel, ok := value.IsSentinel(primary)
	if !ok {
		return primary, nil
	}
	branch, ok := branches[BranchFor(sentinel)]
	if !ok || branch == nil {
		return sentinel, nil
	}
	if branch.Literal != nil {
		return literalValue(branch.Literal), nil
	}
	result, err := evalBranch(branch.Formula)
	if err != nil {
		// A failing branch still yields the raw sentinel, per spec
		// §4.G ("if a branch evaluation also fails, the result is the
		// raw sentinel") rather than propagating the branch's error.
		return sentinel, nil
	}
	return result, nil
}

func literalValue(l *config.Literal) any {
	switch l.Kind {
	case config.LiteralNumber:
		return l.Number
	case config.LiteralBool:
		return l.Bool
	default:
		return l.Raw
	}
}
