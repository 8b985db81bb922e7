package models

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Evaluate applies the condition to the field looked up in inputs.
// A missing field never matches.
func (c *ConditionConfig) Evaluate(inputs map[string]any) bool {
	actual, ok := LookupField(inputs, c.Field)
	if !ok {
		return false
	}

	switch c.ConditionType {
	case ConditionEquals:
		return looseEqual(actual, c.Value)
	case ConditionNotEquals:
		return !looseEqual(actual, c.Value)
	case ConditionContains:
		return contains(actual, c.Value)
	case ConditionGreaterThan:
		cmp, ok := compareNumbers(actual, c.Value)

		return ok && cmp > 0
	case ConditionLessThan:
		cmp, ok := compareNumbers(actual, c.Value)

		return ok && cmp < 0
	case ConditionTruthy:
		return Truthy(actual)
	default:
		return false
	}
}

// LookupField resolves a dotted path ("a.b.c") through nested maps.
func LookupField(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	if value, ok := data[path]; ok {
		return value, true
	}

	var current any = data

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Truthy converts an arbitrary value into a boolean.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return false
		}

		if b, err := strconv.ParseBool(trimmed); err == nil {
			return b
		}

		return true
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.Array:
			return rv.Len() > 0
		default:
			return true
		}
	}
}

// ToFloat converts numeric values and numeric strings.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func looseEqual(actual, expected any) bool {
	if reflect.DeepEqual(actual, expected) {
		return true
	}

	a, aok := ToFloat(actual)
	e, eok := ToFloat(expected)

	if aok && eok {
		return a == e
	}

	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func contains(actual, expected any) bool {
	switch v := actual.(type) {
	case string:
		return strings.Contains(v, fmt.Sprint(expected))
	case []any:
		for _, item := range v {
			if looseEqual(item, expected) {
				return true
			}
		}

		return false
	case map[string]any:
		_, ok := v[fmt.Sprint(expected)]

		return ok
	default:
		return false
	}
}

func compareNumbers(actual, expected any) (int, bool) {
	a, aok := ToFloat(actual)
	e, eok := ToFloat(expected)

	if !aok || !eok {
		return 0, false
	}

	switch {
	case a > e:
		return 1, true
	case a < e:
		return -1, true
	default:
		return 0, true
	}
}
