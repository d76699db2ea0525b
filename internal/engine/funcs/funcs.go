// Package funcs implements the closed set of built-in functions the
// formula surface grammar exposes (spec §6 "Built-in functions"): math,
// string, date/time, and duration operations. `metadata()` and the
// collection aggregates applied to a pattern-string literal are
// special-cased by the plan/evaluator/collection packages before AST
// evaluation ever reaches this table (spec §9 "metadata before AST
// evaluation"); the entries here are the plain, already-resolved-value
// forms of the same names (e.g. `sum(a, b, c)` over numeric arguments,
// as distinct from `sum("device_class:power")`).
package funcs

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/errs"
	"github.com/LegoTypes/ha-synthetic-sensors-sub004/internal/engine/value"
)

// Func is one built-in function implementation.
type Func func(args []any) (any, error)

// Table is the closed, case-sensitive name -> Func mapping (spec §6).
// It is built once and shared read-only across every evaluation.
var Table = buildTable()

// Names reports every recognized built-in function name, for the
// binding plan's free-identifier filter (package plan) and for
// diagnostics.
func Names() []string {
	names := make([]string, 0, len(Table))
	for n := range Table {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func buildTable() map[string]Func {
	t := map[string]Func{}
	addMath(t)
	addStrings(t)
	addDateTime(t)
	addDuration(t)
	return t
}

func numArgs(name string, args []any) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, ok := value.ToFloat(a)
		if !ok {
			return nil, errs.DataValidation(name, fmt.Sprintf("argument %d is not numeric", i))
		}
		out[i] = f
	}
	return out, nil
}

func arity(name string, args []any, n int) error {
	if len(args) != n {
		return errs.DataValidation(name, fmt.Sprintf("expects %d argument(s), got %d", n, len(args)))
	}
	return nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleVariance is Bessel-corrected (n-1 denominator), matching the
// collection resolver's `var`/`std` aggregators (spec §4.E).
func sampleVariance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return sq / float64(len(xs)-1)
}

func addMath(t map[string]Func) {
	t["abs"] = func(args []any) (any, error) {
		if err := arity("abs", args, 1); err != nil {
			return nil, err
		}
		xs, err := numArgs("abs", args)
		if err != nil {
			return nil, err
		}
		return math.Abs(xs[0]), nil
	}
	t["min"] = func(args []any) (any, error) {
		xs, err := numArgs("min", args)
		if err != nil || len(xs) == 0 {
			if err != nil {
				return nil, err
			}
			return nil, errs.DataValidation("min", "expects at least one argument")
		}
		m := xs[0]
		for _, x := range xs[1:] {
			if x < m {
				m = x
			}
		}
		return m, nil
	}
	t["max"] = func(args []any) (any, error) {
		xs, err := numArgs("max", args)
		if err != nil || len(xs) == 0 {
			if err != nil {
				return nil, err
			}
			return nil, errs.DataValidation("max", "expects at least one argument")
		}
		m := xs[0]
		for _, x := range xs[1:] {
			if x > m {
				m = x
			}
		}
		return m, nil
	}
	t["round"] = func(args []any) (any, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, errs.DataValidation("round", "expects 1 or 2 arguments")
		}
		xs, err := numArgs("round", args)
		if err != nil {
			return nil, err
		}
		digits := 0.0
		if len(xs) == 2 {
			digits = xs[1]
		}
		mult := math.Pow(10, digits)
		return math.Round(xs[0]*mult) / mult, nil
	}
	t["ceil"] = unaryMath("ceil", math.Ceil)
	t["floor"] = unaryMath("floor", math.Floor)
	t["sqrt"] = unaryMath("sqrt", math.Sqrt)
	t["sin"] = unaryMath("sin", math.Sin)
	t["cos"] = unaryMath("cos", math.Cos)
	t["tan"] = unaryMath("tan", math.Tan)
	t["log"] = unaryMath("log", math.Log)
	t["exp"] = unaryMath("exp", math.Exp)
	t["pow"] = func(args []any) (any, error) {
		if err := arity("pow", args, 2); err != nil {
			return nil, err
		}
		xs, err := numArgs("pow", args)
		if err != nil {
			return nil, err
		}
		return math.Pow(xs[0], xs[1]), nil
	}
	t["sum"] = func(args []any) (any, error) {
		xs, err := numArgs("sum", args)
		if err != nil {
			return nil, err
		}
		var s float64
		for _, x := range xs {
			s += x
		}
		return s, nil
	}
	t["avg"] = reduceMean("avg")
	t["mean"] = reduceMean("mean")
	t["median"] = func(args []any) (any, error) {
		xs, err := numArgs("median", args)
		if err != nil {
			return nil, err
		}
		if len(xs) == 0 {
			return nil, errs.DataValidation("median", "expects at least one argument")
		}
		sorted := append([]float64(nil), xs...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid], nil
		}
		return (sorted[mid-1] + sorted[mid]) / 2, nil
	}
	t["std"] = func(args []any) (any, error) {
		xs, err := numArgs("std", args)
		if err != nil {
			return nil, err
		}
		return math.Sqrt(sampleVariance(xs)), nil
	}
	t["var"] = func(args []any) (any, error) {
		xs, err := numArgs("var", args)
		if err != nil {
			return nil, err
		}
		return sampleVariance(xs), nil
	}
	t["count"] = func(args []any) (any, error) {
		return float64(len(args)), nil
	}
}

func unaryMath(name string, fn func(float64) float64) Func {
	return func(args []any) (any, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		xs, err := numArgs(name, args)
		if err != nil {
			return nil, err
		}
		return fn(xs[0]), nil
	}
}

func reduceMean(name string) Func {
	return func(args []any) (any, error) {
		xs, err := numArgs(name, args)
		if err != nil {
			return nil, err
		}
		if len(xs) == 0 {
			return nil, errs.DataValidation(name, "expects at least one argument")
		}
		return mean(xs), nil
	}
}

func strArg(name string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", errs.DataValidation(name, "missing string argument")
	}
	return value.ToDisplayString(args[i]), nil
}

func addStrings(t map[string]Func) {
	t["contains"] = func(args []any) (any, error) {
		if err := arity("contains", args, 2); err != nil {
			return nil, err
		}
		s, _ := strArg("contains", args, 0)
		sub, _ := strArg("contains", args, 1)
		return strings.Contains(s, sub), nil
	}
	t["startswith"] = func(args []any) (any, error) {
		if err := arity("startswith", args, 2); err != nil {
			return nil, err
		}
		s, _ := strArg("startswith", args, 0)
		sub, _ := strArg("startswith", args, 1)
		return strings.HasPrefix(s, sub), nil
	}
	t["endswith"] = func(args []any) (any, error) {
		if err := arity("endswith", args, 2); err != nil {
			return nil, err
		}
		s, _ := strArg("endswith", args, 0)
		sub, _ := strArg("endswith", args, 1)
		return strings.HasSuffix(s, sub), nil
	}
	t["length"] = func(args []any) (any, error) {
		if err := arity("length", args, 1); err != nil {
			return nil, err
		}
		s, _ := strArg("length", args, 0)
		return float64(len([]rune(s))), nil
	}
	t["replace"] = func(args []any) (any, error) {
		if err := arity("replace", args, 3); err != nil {
			return nil, err
		}
		s, _ := strArg("replace", args, 0)
		old, _ := strArg("replace", args, 1)
		newS, _ := strArg("replace", args, 2)
		return strings.Replace(s, old, newS, 1), nil
	}
	t["replace_all"] = func(args []any) (any, error) {
		if err := arity("replace_all", args, 3); err != nil {
			return nil, err
		}
		s, _ := strArg("replace_all", args, 0)
		old, _ := strArg("replace_all", args, 1)
		newS, _ := strArg("replace_all", args, 2)
		return strings.ReplaceAll(s, old, newS), nil
	}
	t["split"] = func(args []any) (any, error) {
		if err := arity("split", args, 2); err != nil {
			return nil, err
		}
		s, _ := strArg("split", args, 0)
		sep, _ := strArg("split", args, 1)
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	}
	t["join"] = func(args []any) (any, error) {
		if len(args) < 1 {
			return nil, errs.DataValidation("join", "expects a separator and items")
		}
		sep, _ := strArg("join", args, 0)
		parts := make([]string, 0, len(args)-1)
		for _, a := range args[1:] {
			if list, ok := a.([]any); ok {
				for _, item := range list {
					parts = append(parts, value.ToDisplayString(item))
				}
				continue
			}
			parts = append(parts, value.ToDisplayString(a))
		}
		return strings.Join(parts, sep), nil
	}
	t["lower"] = unaryString("lower", strings.ToLower)
	t["upper"] = unaryString("upper", strings.ToUpper)
	t["trim"] = unaryString("trim", strings.TrimSpace)
	t["pad_left"] = func(args []any) (any, error) {
		return pad(args, true)
	}
	t["pad_right"] = func(args []any) (any, error) {
		return pad(args, false)
	}
	t["center"] = func(args []any) (any, error) {
		if len(args) < 2 || len(args) > 3 {
			return nil, errs.DataValidation("center", "expects 2 or 3 arguments")
		}
		s, _ := strArg("center", args, 0)
		width, ok := value.ToFloat(args[1])
		if !ok {
			return nil, errs.DataValidation("center", "width must be numeric")
		}
		fill := " "
		if len(args) == 3 {
			fill, _ = strArg("center", args, 2)
		}
		return centerPad(s, int(width), fill), nil
	}
	t["isalpha"] = unaryPredicate("isalpha", func(s string) bool {
		return allRunes(s, func(r rune) bool { return isAlphaRune(r) })
	})
	t["isdigit"] = unaryPredicate("isdigit", func(s string) bool {
		return allRunes(s, isDigitRune)
	})
	t["isnumeric"] = unaryPredicate("isnumeric", func(s string) bool {
		return allRunes(s, isDigitRune)
	})
	t["isalnum"] = unaryPredicate("isalnum", func(s string) bool {
		return allRunes(s, func(r rune) bool { return isAlphaRune(r) || isDigitRune(r) })
	})
}

func unaryString(name string, fn func(string) string) Func {
	return func(args []any) (any, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		s, _ := strArg(name, args, 0)
		return fn(s), nil
	}
}

func unaryPredicate(name string, fn func(string) bool) Func {
	return func(args []any) (any, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		s, _ := strArg(name, args, 0)
		if s == "" {
			return false, nil
		}
		return fn(s), nil
	}
}

func allRunes(s string, fn func(rune) bool) bool {
	for _, r := range s {
		if !fn(r) {
			return false
		}
	}
	return true
}

func isAlphaRune(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func isDigitRune(r rune) bool { return r >= '0' && r <= '9' }

func pad(args []any, left bool) (any, error) {
	name := "pad_right"
	if left {
		name = "pad_left"
	}
	if len(args) < 2 || len(args) > 3 {
		return nil, errs.DataValidation(name, "expects 2 or 3 arguments")
	}
	s, _ := strArg(name, args, 0)
	width, ok := value.ToFloat(args[1])
	if !ok {
		return nil, errs.DataValidation(name, "width must be numeric")
	}
	fill := " "
	if len(args) == 3 {
		fill, _ = strArg(name, args, 2)
	}
	need := int(width) - len([]rune(s))
	if need <= 0 || fill == "" {
		return s, nil
	}
	padding := strings.Repeat(fill, (need/len([]rune(fill)))+1)
	padding = string([]rune(padding)[:need])
	if left {
		return padding + s, nil
	}
	return s + padding, nil
}

func centerPad(s string, width int, fill string) string {
	if fill == "" {
		fill = " "
	}
	need := width - len([]rune(s))
	if need <= 0 {
		return s
	}
	leftN := need / 2
	rightN := need - leftN
	mk := func(n int) string {
		if n <= 0 {
			return ""
		}
		rep := strings.Repeat(fill, (n/len([]rune(fill)))+1)
		return string([]rune(rep)[:n])
	}
	return mk(leftN) + s + mk(rightN)
}

func addDateTime(t map[string]Func) {
	t["now"] = func(args []any) (any, error) { return time.Now(), nil }
	t["today"] = func(args []any) (any, error) { return startOfDay(time.Now()), nil }
	t["yesterday"] = func(args []any) (any, error) { return startOfDay(time.Now().AddDate(0, 0, -1)), nil }
	t["tomorrow"] = func(args []any) (any, error) { return startOfDay(time.Now().AddDate(0, 0, 1)), nil }
	t["utc_now"] = func(args []any) (any, error) { return time.Now().UTC(), nil }
	t["utc_today"] = func(args []any) (any, error) { return startOfDay(time.Now().UTC()), nil }
	t["utc_yesterday"] = func(args []any) (any, error) {
		return startOfDay(time.Now().UTC().AddDate(0, 0, -1)), nil
	}
	t["date"] = func(args []any) (any, error) {
		if err := arity("date", args, 1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			if tm, ok := args[0].(time.Time); ok {
				return startOfDay(tm), nil
			}
			return nil, errs.DataValidation("date", "argument must be a string or datetime")
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
			if tm, err := time.Parse(layout, s); err == nil {
				return tm, nil
			}
		}
		return nil, errs.DataValidation("date", fmt.Sprintf("cannot parse %q as a date", s))
	}
	t["format_date"] = func(args []any) (any, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, errs.DataValidation("format_date", "expects 1 or 2 arguments")
		}
		tm, ok := args[0].(time.Time)
		if !ok {
			return nil, errs.DataValidation("format_date", "first argument must be a datetime")
		}
		layout := "2006-01-02"
		if len(args) == 2 {
			if raw, ok := args[1].(string); ok {
				layout = goLayoutFromStrftime(raw)
			}
		}
		return tm.Format(layout), nil
	}
	t["format_friendly"] = func(args []any) (any, error) {
		if err := arity("format_friendly", args, 1); err != nil {
			return nil, err
		}
		tm, ok := args[0].(time.Time)
		if !ok {
			return nil, errs.DataValidation("format_friendly", "argument must be a datetime")
		}
		now := time.Now()
		d := now.Sub(tm)
		switch {
		case d < 0:
			return tm.Format("Jan 2, 2006 3:04 PM"), nil
		case d < time.Minute:
			return "just now", nil
		case d < time.Hour:
			return fmt.Sprintf("%d minutes ago", int(d.Minutes())), nil
		case d < 24*time.Hour:
			return fmt.Sprintf("%d hours ago", int(d.Hours())), nil
		default:
			return fmt.Sprintf("%d days ago", int(d.Hours()/24)), nil
		}
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// goLayoutFromStrftime recognizes a handful of common strftime-style
// directives (%Y, %m, %d, %H, %M, %S) and falls back to treating the
// input as an already-Go-style layout otherwise.
func goLayoutFromStrftime(raw string) string {
	if !strings.Contains(raw, "%") {
		return raw
	}
	repl := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
		"%B", "January", "%b", "Jan", "%A", "Monday", "%a", "Mon",
	)
	return repl.Replace(raw)
}

func addDuration(t map[string]Func) {
	t["seconds"] = durationCtor("seconds", time.Second)
	t["minutes"] = durationCtor("minutes", time.Minute)
	t["hours"] = durationCtor("hours", time.Hour)
	t["days"] = durationCtor("days", 24*time.Hour)
	t["weeks"] = durationCtor("weeks", 7*24*time.Hour)
	t["months"] = durationCtor("months", 30*24*time.Hour)

	t["seconds_between"] = durationBetween("seconds_between", time.Second)
	t["minutes_between"] = durationBetween("minutes_between", time.Minute)
	t["hours_between"] = durationBetween("hours_between", time.Hour)
	t["days_between"] = durationBetween("days_between", 24*time.Hour)
}

func durationCtor(name string, unit time.Duration) Func {
	return func(args []any) (any, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		xs, err := numArgs(name, args)
		if err != nil {
			return nil, err
		}
		return time.Duration(xs[0] * float64(unit)), nil
	}
}

// durationBetween returns the signed difference `b - a` (second arg
// minus first, matching the §8 scenario 4 usage
// `minutes_between(metadata(...,'last_changed'), now())`, where the
// result is how long ago the first timestamp was relative to the
// second) expressed as a count of unit.
func durationBetween(name string, unit time.Duration) Func {
	return func(args []any) (any, error) {
		if err := arity(name, args, 2); err != nil {
			return nil, err
		}
		a, aok := args[0].(time.Time)
		b, bok := args[1].(time.Time)
		if !aok || !bok {
			return nil, errs.DataValidation(name, "both arguments must be datetimes")
		}
		return b.Sub(a).Seconds() / unit.Seconds(), nil
	}
}
