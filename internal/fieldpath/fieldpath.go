// Package fieldpath resolves dot-separated paths into nested map payloads.
// A literal key match takes precedence over traversal, so payloads that carry
// flattened keys ("si_data.total_amount") resolve the same as nested ones.
package fieldpath

import (
	"encoding/json"
	"strings"
)

// Lookup resolves path against data. Returns the value and whether it exists.
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}

	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
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

// Exists reports whether path resolves to any value.
func Exists(data map[string]interface{}, path string) bool {
	_, ok := Lookup(data, path)
	return ok
}

// AsFloat coerces a resolved value into a float64 for range comparisons.
func AsFloat(v interface{}) (float64, bool) {
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
	default:
		return 0, false
	}
}

// Equal compares two payload values, treating numerics of different Go types
// as equal when their float64 projections match. Maps and slices compare by
// canonical JSON form; interface equality on them would panic.
func Equal(a, b interface{}) bool {
	if af, ok := AsFloat(a); ok {
		if bf, ok := AsFloat(b); ok {
			return af == bf
		}
		return false
	}
	if isComposite(a) || isComposite(b) {
		ra, errA := json.Marshal(a)
		rb, errB := json.Marshal(b)
		if errA != nil || errB != nil {
			return false
		}
		return string(ra) == string(rb)
	}
	return a == b
}

func isComposite(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return true
	}
	return false
}
