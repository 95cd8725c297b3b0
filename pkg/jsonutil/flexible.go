package jsonutil

import (
	"encoding/json"
	"fmt"
)

// StringField extracts a string-ish field from a decoded JSON object. The
// vendor returns numbers or booleans where callers expect strings
// (formatted-value annotations and OutBag payloads are not consistently
// typed across orgs).
func StringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return ""
	}
}

// DecodeNested parses a string field that itself contains JSON (the vendor's
// InBag/OutBag convention double-encodes action payloads).
func DecodeNested(s string) (map[string]any, error) {
	if s == "" {
		return nil, fmt.Errorf("empty nested payload")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode nested payload: %w", err)
	}
	return out, nil
}
