package model

import (
	"fmt"
	"sort"
)

// Attributes is a free-form attribute map for a record, merged form, or
// registry bundle. Values are scalars or, when sources disagree, ordered
// lists of the distinct observed values.
type Attributes map[string]any

// Clone returns a shallow copy (list values are copied one level deep).
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		if list, ok := v.([]any); ok {
			out[k] = append([]any(nil), list...)
			continue
		}
		out[k] = v
	}
	return out
}

// IsEmptyValue reports whether v counts as absent for fill-only merging.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// Add records an observed value for key. Agreement is a no-op; a
// disagreement turns the value into an ordered list of the distinct
// observed values, never an arbitrarily chosen single one.
func (a Attributes) Add(key string, value any) {
	if IsEmptyValue(value) {
		return
	}
	existing, ok := a[key]
	if !ok || IsEmptyValue(existing) {
		a[key] = value
		return
	}

	list, isList := existing.([]any)
	if !isList {
		if equalValue(existing, value) {
			return
		}
		list = []any{existing}
	}
	for _, v := range list {
		if equalValue(v, value) {
			return
		}
	}
	a[key] = append(list, value)
}

// FillFrom copies src values into a for keys a currently holds no value
// for. Existing values are never overwritten. Returns the number of keys
// populated. Applying the same source twice is a no-op the second time.
func (a Attributes) FillFrom(src Attributes) int {
	added := 0
	for k, v := range src {
		if IsEmptyValue(v) {
			continue
		}
		if existing, ok := a[k]; ok && !IsEmptyValue(existing) {
			continue
		}
		a[k] = v
		added++
	}
	return added
}

// SortedKeys returns the attribute keys in lexicographic order.
func (a Attributes) SortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
