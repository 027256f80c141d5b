package workflows

import (
	"strconv"
	"strings"
)

// comparison operators, two-char forms first so ">=" wins over ">".
var operators = []string{"==", "!=", ">=", "<=", ">", "<"}

// EvalCondition interpolates the condition string against the execution
// context and evaluates it as a single binary comparison "left OP right".
// Numeric operators coerce both operands with ParseFloat; an operand
// that fails coercion makes the condition false. "=="/"!=" compare as
// trimmed, quote-stripped strings.
//
// Compound boolean expressions are not supported: "a >= 7 && a < 30"
// splits at the first ">=" and the right operand "7 && a < 30" fails
// numeric coercion, so the whole condition is false.
func EvalCondition(condition string, ec *ExecContext) bool {
	resolved := interpolateString(condition, ec)

	op, idx := findOperator(resolved)
	if op == "" {
		// No operator: a bare value is true when non-empty and not "false".
		v := strings.TrimSpace(resolved)
		return v != "" && v != "false" && v != "0"
	}

	left := strings.TrimSpace(resolved[:idx])
	right := strings.TrimSpace(resolved[idx+len(op):])

	switch op {
	case "==", "!=":
		l := stripQuotes(left)
		r := stripQuotes(right)
		if op == "==" {
			return l == r
		}
		return l != r
	default:
		l, lerr := strconv.ParseFloat(left, 64)
		r, rerr := strconv.ParseFloat(right, 64)
		if lerr != nil || rerr != nil {
			return false
		}
		switch op {
		case ">":
			return l > r
		case "<":
			return l < r
		case ">=":
			return l >= r
		case "<=":
			return l <= r
		}
	}
	return false
}

// findOperator returns the first comparison operator in s and its index.
func findOperator(s string) (string, int) {
	best := ""
	bestIdx := -1
	for _, op := range operators {
		idx := strings.Index(s, op)
		if idx < 0 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx || (idx == bestIdx && len(op) > len(best)) {
			best = op
			bestIdx = idx
		}
	}
	return best, bestIdx
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
