// Package policy implements the deterministic rule evaluator: a closed
// eleven-operator condition algebra, a specificity lattice over matching
// rules, and a fail-secure default.
package policy

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/warden-labs/warden/pkg/contracts"
)

// maxRegexLength bounds the operand of the matches operator.
const maxRegexLength = 200

// EvaluateCondition is a pure boolean function over (condition, parameters).
//
// A missing or empty condition evaluates to true; the guard is specificity,
// not emptiness. A non-empty condition with an absent parameter map is
// false. Unknown operators are false. Operators within one parameter and
// parameters within one condition are conjunctive.
func EvaluateCondition(cond contracts.Condition, params map[string]any) bool {
	if len(cond) == 0 {
		return true
	}
	if params == nil {
		return false
	}
	for param, ops := range cond {
		value, present := params[param]
		for op, operand := range ops {
			if !evalOperator(op, operand, value, present) {
				return false
			}
		}
	}
	return true
}

// evalOperator applies a single operator. Every failure mode collapses to
// false, never to an error.
func evalOperator(op string, operand, value any, present bool) bool {
	if !present {
		return false
	}
	switch op {
	case contracts.OpEquals:
		return equalValues(value, operand)
	case contracts.OpNotEquals:
		return !equalValues(value, operand)
	case contracts.OpStartsWith:
		s, v, ok := stringPair(operand, value)
		return ok && strings.HasPrefix(v, s)
	case contracts.OpEndsWith:
		s, v, ok := stringPair(operand, value)
		return ok && strings.HasSuffix(v, s)
	case contracts.OpContains:
		s, v, ok := stringPair(operand, value)
		return ok && strings.Contains(v, s)
	case contracts.OpGT:
		a, b, ok := numericPair(value, operand)
		return ok && a > b
	case contracts.OpLT:
		a, b, ok := numericPair(value, operand)
		return ok && a < b
	case contracts.OpGTE:
		a, b, ok := numericPair(value, operand)
		return ok && a >= b
	case contracts.OpLTE:
		a, b, ok := numericPair(value, operand)
		return ok && a <= b
	case contracts.OpIn:
		return evalIn(operand, value)
	case contracts.OpMatches:
		return evalMatches(operand, value)
	default:
		return false
	}
}

func stringPair(operand, value any) (string, string, bool) {
	s, ok1 := operand.(string)
	v, ok2 := value.(string)
	return s, v, ok1 && ok2
}

func numericPair(value, operand any) (float64, float64, bool) {
	a, ok1 := toFloat(value)
	b, ok2 := toFloat(operand)
	return a, b, ok1 && ok2
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// equalValues is strict equality with numeric widening, so a policy
// authored with 42 matches a parameter decoded as 42.0.
func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func evalIn(operand, value any) bool {
	rv := reflect.ValueOf(operand)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if equalValues(value, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func evalMatches(operand, value any) bool {
	pattern, ok := operand.(string)
	if !ok {
		return false
	}
	v, ok := value.(string)
	if !ok {
		return false
	}
	if !SafePattern(pattern) {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(v)
}

// SafePattern rejects regex operands that are too long or exhibit
// catastrophic-backtracking shapes such as (a+)+, (x+x+)+y, (.*)*b and
// ([a-z]+)*. Rejection yields false at evaluation time, never an error.
func SafePattern(pattern string) bool {
	if len(pattern) > maxRegexLength {
		return false
	}
	return !hasNestedQuantifier(pattern)
}

// hasNestedQuantifier detects a quantified group whose body itself
// contains an unescaped quantifier.
func hasNestedQuantifier(pattern string) bool {
	type group struct{ quantified bool }
	var stack []group
	inClass := false
	escaped := false

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '(':
			if !inClass {
				stack = append(stack, group{})
			}
		case ')':
			if inClass || len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.quantified && i+1 < len(pattern) {
				switch pattern[i+1] {
				case '*', '+', '{':
					return true
				}
			}
			// A quantified inner group also taints the enclosing group.
			if top.quantified && len(stack) > 0 {
				stack[len(stack)-1].quantified = true
			}
		case '*', '+':
			if !inClass && len(stack) > 0 {
				stack[len(stack)-1].quantified = true
			}
		case '{':
			if !inClass && len(stack) > 0 {
				stack[len(stack)-1].quantified = true
			}
		}
	}
	return false
}
