package journey

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

// ConditionLogic combines the field conditions of a Condition.
type ConditionLogic string

// Condition logics.
const (
	LogicAnd ConditionLogic = "and"
	LogicOr  ConditionLogic = "or"
)

// Operator compares a resolved field value against a literal.
type Operator string

// Condition operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpExists      Operator = "exists"
)

// FieldCondition compares one dotted-path field of the execution data bag
// against a literal value. A missing or unresolvable field never errors;
// the single condition simply fails (except under OpExists, which it
// fails by definition).
type FieldCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Condition is a flat boolean expression over field conditions. An empty
// Conditions list evaluates to true: no constraint means pass.
type Condition struct {
	Logic      ConditionLogic   `json:"logic,omitempty"`
	Conditions []FieldCondition `json:"conditions,omitempty"`
}

// LookupField resolves a dotted path ("steps.enrich.score") against the
// data bag. The second return reports whether the path resolved.
func LookupField(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	val, err := jsonpath.JsonPathLookup(data, "$."+path)
	if err != nil {
		return nil, false
	}
	return val, true
}

// EvaluateCondition evaluates a condition tree against the data bag.
// A nil condition or an empty condition list passes.
func EvaluateCondition(cond *Condition, data map[string]any) bool {
	if cond == nil || len(cond.Conditions) == 0 {
		return true
	}

	logic := cond.Logic
	if logic == "" {
		logic = LogicAnd
	}

	for _, fc := range cond.Conditions {
		ok := evaluateFieldCondition(fc, data)
		if logic == LogicAnd && !ok {
			return false
		}
		if logic == LogicOr && ok {
			return true
		}
	}
	return logic == LogicAnd
}

func evaluateFieldCondition(fc FieldCondition, data map[string]any) bool {
	val, found := LookupField(data, fc.Field)

	if fc.Operator == OpExists {
		return found
	}
	if !found {
		return false
	}

	switch fc.Operator {
	case OpEquals:
		return looselyEqual(val, fc.Value)
	case OpNotEquals:
		return !looselyEqual(val, fc.Value)
	case OpGreaterThan:
		a, aok := toFloat(val)
		b, bok := toFloat(fc.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(val)
		b, bok := toFloat(fc.Value)
		return aok && bok && a < b
	case OpContains:
		return contains(val, fc.Value)
	default:
		return false
	}
}

// looselyEqual compares numerics by value (an int 5 equals a JSON-decoded
// float64 5) and everything else structurally.
func looselyEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
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
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if looselyEqual(item, needle) {
				return true
			}
		}
	case map[string]any:
		key := fmt.Sprintf("%v", needle)
		_, ok := h[key]
		return ok
	}
	return false
}

// exprToken matches ${dotted.path} substitution tokens. Template
// substitution only: no arithmetic, no function calls.
var exprToken = regexp.MustCompile(`\$\{([^}]+)\}`)

// EvaluateExpression substitutes every ${field.path} token in template
// with the stringified value resolved from the data bag. Unresolved
// tokens become the empty string.
func EvaluateExpression(template string, data map[string]any) string {
	return exprToken.ReplaceAllStringFunc(template, func(token string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "${"), "}")
		val, ok := LookupField(data, strings.TrimSpace(path))
		if !ok || val == nil {
			return ""
		}
		return fmt.Sprintf("%v", val)
	})
}

// EvaluateExpressions walks obj, substituting tokens in every string leaf
// (including inside nested maps and slices). Non-string leaves pass
// through unchanged. The input is not mutated.
func EvaluateExpressions(obj map[string]any, data map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = evaluateValue(v, data)
	}
	return out
}

func evaluateValue(v any, data map[string]any) any {
	switch t := v.(type) {
	case string:
		return EvaluateExpression(t, data)
	case map[string]any:
		return EvaluateExpressions(t, data)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = evaluateValue(item, data)
		}
		return out
	default:
		return v
	}
}
