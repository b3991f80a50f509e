// internal/scenegraph/document.go
package scenegraph

import "sort"

// Document values are plain JSON trees: map[string]any for objects, []any for
// arrays, string, float64 (or int when built in code), bool and nil for leaves.
// Keeping the representation schemaless lets unknown scene sections pass
// through untouched.

// CopyDocument returns a deep copy of a scene document.
func CopyDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue returns a deep copy of any JSON-compatible value.
// Scalars are returned as-is, containers are cloned recursively.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CopyValue(item)
		}
		return out
	default:
		return t
	}
}

// EqualValues reports deep equality between two JSON-compatible values.
// Numbers compare by magnitude, so int 50 equals float64 50. JSON decoding
// produces float64 while documents built in code often carry int.
func EqualValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if an, ok := numberOf(a); ok {
		bn, bok := numberOf(b)
		return bok && an == bn
	}

	switch at := a.(type) {
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, ok := bt[k]
			if !ok || !EqualValues(av, bv) {
				return false
			}
		}
		return true
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !EqualValues(at[i], bt[i]) {
				return false
			}
		}
		return true
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	default:
		return a == b
	}
}

// numberOf converts any numeric value to float64. Bools are not numbers.
func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// sortedKeys returns the keys of a map in sorted order for deterministic
// traversal.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// unionKeys returns the sorted union of both maps' keys.
func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
