// Package session holds the conversation-scoped key/value state shared by
// every loop and stage of one run.
package session

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// State is a string-keyed mapping of JSON-compatible values.
//
// Values are strings, numbers, booleans, nested map[string]any and []any.
// A nil State reads as empty; writes require a non-nil map.
type State map[string]any

// New returns an empty, writable state.
func New() State {
	return State{}
}

// Get returns the raw value stored under key.
func (s State) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s[key]
	return v, ok
}

// String returns the value under key when it is a string.
func (s State) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Bool reports whether the value under key is exactly boolean true.
func (s State) Bool(key string) bool {
	v, _ := s.Get(key)
	b, ok := v.(bool)
	return ok && b
}

func (s State) Set(key string, value any) {
	s[key] = value
}

func (s State) Delete(key string) {
	delete(s, key)
}

// Merge copies every top-level key of fragment into s, overwriting existing
// values. Nested maps are replaced, not merged.
func (s State) Merge(fragment map[string]any) {
	for key, value := range fragment {
		s[key] = cloneValue(value)
	}
}

// Keys returns the keys in sorted order.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// Clone returns a deep copy. Nested maps and slices are copied so the clone
// can be mutated without affecting the source.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for key, value := range s {
		out[key] = cloneValue(value)
	}
	return out
}

// Decode unmarshals the value under key into dst through a JSON round trip.
// It reports false when the key is absent.
func (s State) Decode(key string, dst any) (bool, error) {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return false, nil
	}
	if str, isString := v.(string); isString {
		trimmed := strings.TrimSpace(str)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			return true, json.Unmarshal([]byte(trimmed), dst)
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return true, err
	}
	return true, json.Unmarshal(raw, dst)
}

// Encode stores value under key in its JSON-compatible form.
func (s State) Encode(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	s[key] = decoded
	return nil
}

// IsEmpty reports whether value counts as absent for completion checks:
// nil, a blank string, false, numeric zero, or an empty map or slice.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case bool:
		return !v
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return reflect.ValueOf(v).IsZero()
	case json.Number:
		return v == "" || v == "0"
	case map[string]any:
		return len(v) == 0
	case State:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	default:
		return false
	}
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, nested := range v {
			out[key] = cloneValue(nested)
		}
		return out
	case State:
		return v.Clone()
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = cloneValue(v[i])
		}
		return out
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}
