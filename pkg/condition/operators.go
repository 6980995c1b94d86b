package condition

import (
	"cmp"
	"strconv"
	"strings"
)

// Canonical operator names.
const (
	OpExists       = "exists"
	OpNotExists    = "not_exists"
	OpEq           = "eq"
	OpNeq          = "neq"
	OpContains     = "contains"
	OpNotContains  = "not_contains"
	OpStartsWith   = "starts_with"
	OpEndsWith     = "ends_with"
	OpEqIgnoreCase = "eq_ignore_case"
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpRegex        = "regex"
	OpGt           = "gt"
	OpGte          = "gte"
	OpLt           = "lt"
	OpLte          = "lte"
)

// operatorAliases maps every accepted spelling (lower-cased) to its canonical name.
var operatorAliases = map[string]string{
	"exists":         OpExists,
	"notexists":      OpNotExists,
	"not_exists":     OpNotExists,
	"eq":             OpEq,
	"equals":         OpEq,
	"neq":            OpNeq,
	"not_equals":     OpNeq,
	"notequals":      OpNeq,
	"contains":       OpContains,
	"not_contains":   OpNotContains,
	"notcontains":    OpNotContains,
	"starts_with":    OpStartsWith,
	"startswith":     OpStartsWith,
	"ends_with":      OpEndsWith,
	"endswith":       OpEndsWith,
	"eq_ignore_case": OpEqIgnoreCase,
	"eqignorecase":   OpEqIgnoreCase,
	"in":             OpIn,
	"not_in":         OpNotIn,
	"notin":          OpNotIn,
	"regex":          OpRegex,
	"matches":        OpRegex,
	"gt":             OpGt,
	"gte":            OpGte,
	"ge":             OpGte,
	"lt":             OpLt,
	"lte":            OpLte,
	"le":             OpLte,
}

// CanonicalOperator returns the canonical name for an operator spelling.
// Matching is case-insensitive ("startsWith" == "starts_with").
func CanonicalOperator(op string) (string, bool) {
	canonical, ok := operatorAliases[strings.ToLower(strings.TrimSpace(op))]
	return canonical, ok
}

// IsKnownOperator reports whether op is accepted by the evaluator.
func IsKnownOperator(op string) bool {
	_, ok := CanonicalOperator(op)
	return ok
}

// applyString evaluates a value-comparing operator. expected is nil when the
// rule carries no operand: positive operators then fail, negated ones pass.
func (e *Evaluator) applyString(op, actual string, expected *string) bool {
	if expected == nil {
		switch op {
		case OpNeq, OpNotContains, OpNotIn:
			return true
		default:
			return false
		}
	}
	want := *expected

	switch op {
	case OpEq:
		return actual == want
	case OpNeq:
		return actual != want
	case OpContains:
		return strings.Contains(actual, want)
	case OpNotContains:
		return !strings.Contains(actual, want)
	case OpStartsWith:
		return strings.HasPrefix(actual, want)
	case OpEndsWith:
		return strings.HasSuffix(actual, want)
	case OpEqIgnoreCase:
		return strings.EqualFold(actual, want)
	case OpIn:
		return inList(actual, want)
	case OpNotIn:
		return !inList(actual, want)
	case OpRegex:
		return e.matchRegex(actual, want)
	case OpGt:
		return compareValues(actual, want) > 0
	case OpGte:
		return compareValues(actual, want) >= 0
	case OpLt:
		return compareValues(actual, want) < 0
	case OpLte:
		return compareValues(actual, want) <= 0
	}
	return false
}

// inList checks membership in a comma-separated list. Items are trimmed;
// trailing empty items are dropped before trimming.
func inList(actual, list string) bool {
	items := strings.Split(list, ",")
	for len(items) > 0 && items[len(items)-1] == "" {
		items = items[:len(items)-1]
	}
	for _, item := range items {
		if strings.TrimSpace(item) == actual {
			return true
		}
	}
	return false
}

// compareValues compares both operands as floats. If either does not parse,
// it falls back to a lexicographic comparison of the raw strings.
func compareValues(actual, expected string) int {
	a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	b, errB := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if errA != nil || errB != nil {
		return strings.Compare(actual, expected)
	}
	return cmp.Compare(a, b)
}
