// Package value defines the dynamically-typed scalar representation
// shared by every evaluation-facing package (resolve, metadata,
// funcs, alternate, evaluator): formula values are plain `any`
// carrying one of float64, string, bool, time.Time, time.Duration, or
// a Sentinel. Centralizing the conversions here keeps "is this
// falsy", "is this numeric", and "is this a sentinel" consistent
// everywhere the spec's invariants (§4.G, §7) must hold.
package value

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentinel is one of the three non-numeric, non-boolean states a
// dependency may resolve to (spec glossary "Sentinel state").
type Sentinel string

const (
	Unavailable Sentinel = "unavailable"
	Unknown     Sentinel = "unknown"
	None        Sentinel = "none"
)

// sentinelTokens maps a host state's raw text to its Sentinel, case
// and whitespace insensitive.
var sentinelTokens = map[string]Sentinel{
	"unavailable": Unavailable,
	"unknown":     Unknown,
	"none":        None,
	"null":        None,
	"":            None,
}

// ParseSentinel reports whether raw is a recognized sentinel state
// token.
func ParseSentinel(raw string) (Sentinel, bool) {
	s, ok := sentinelTokens[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// IsSentinel reports whether v is a Sentinel value. The nil Go value
// (produced internally, e.g. by a missing attribute lookup, never a
// formula result) is reported as None.
func IsSentinel(v any) (Sentinel, bool) {
	if s, ok := v.(Sentinel); ok {
		return s, true
	}
	if v == nil {
		return None, true
	}
	return "", false
}

// boolTokens maps recognized boolean-ish state text (including a few
// common localized equivalents, spec §4.C strategy 5) to 1.0/0.0.
var boolTokens = map[string]float64{
	"on": 1.0, "off": 0.0,
	"true": 1.0, "false": 0.0,
	"yes": 1.0, "no": 0.0,
	"oui": 1.0, "non": 0.0, // fr
	"ja": 1.0, "nein": 0.0, // de
	"si": 1.0, // es (its "no" is the English entry above)
	"open": 1.0, "closed": 0.0,
	"home": 1.0, "away": 0.0,
	"locked": 1.0, "unlocked": 0.0,
	"active": 1.0, "inactive": 0.0,
}

// BoolToken reports the numeric value of a recognized boolean state
// token.
func BoolToken(raw string) (float64, bool) {
	v, ok := boolTokens[strings.ToLower(strings.TrimSpace(raw))]
	return v, ok
}

// ParseHostState converts a raw host state string into a formula
// value: a sentinel, a boolean token's numeric equivalent, or a
// parsed float. Any other text is returned unchanged as a string value
// (usable, e.g., as a `state` comparison target); the returned error
// is always nil.
func ParseHostState(raw string) (any, error) {
	if sentinel, ok := ParseSentinel(raw); ok {
		return sentinel, nil
	}
	if f, ok := BoolToken(raw); ok {
		return f, nil
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return f, nil
	}
	return raw, nil
}

// ToFloat coerces v to a number, if possible.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
		if f, ok := BoolToken(t); ok {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// ToBool reports v's Python-style truthiness: 0, "", false, a
// sentinel, and nil are falsy; everything else is truthy. This is
// distinct from the "0/false are not sentinels" invariant (spec
// §4.G) — that invariant governs alternate-state triggering, not
// boolean-operator truthiness.
func ToBool(v any) bool {
	if _, ok := IsSentinel(v); ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case time.Duration:
		return t != 0
	default:
		return true
	}
}

// ToDisplayString renders v for string concatenation and function
// arguments expecting text.
func ToDisplayString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case time.Time:
		return t.Format(time.RFC3339)
	case time.Duration:
		return t.String()
	case Sentinel:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Equal reports whether a and b are the "same value" for `==`/`!=`,
// coercing numerically when both sides parse as numbers.
func Equal(a, b any) bool {
	if af, aok := ToFloat(a); aok {
		if bf, bok := ToFloat(b); bok {
			return af == bf
		}
	}
	if as, ok := a.(Sentinel); ok {
		if bs, ok := b.(Sentinel); ok {
			return as == bs
		}
	}
	return ToDisplayString(a) == ToDisplayString(b)
}
