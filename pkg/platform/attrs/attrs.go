// Package attrs reads values back out of slog-style key/value attribute lists.
package attrs

import "fmt"

// ExtractString returns the value following key in a flat key/value list, or
// "" when the key is absent. Non-string values are formatted with %v.
func ExtractString(attributes []any, key string) string {
	for i := 0; i+1 < len(attributes); i += 2 {
		k, ok := attributes[i].(string)
		if !ok || k != key {
			continue
		}
		switch v := attributes[i+1].(type) {
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// ToMap flattens the list into a string map, skipping malformed pairs and
// the keys in exclude.
func ToMap(attributes []any, exclude ...string) map[string]string {
	skip := make(map[string]struct{}, len(exclude))
	for _, k := range exclude {
		skip[k] = struct{}{}
	}
	out := make(map[string]string, len(attributes)/2)
	for i := 0; i+1 < len(attributes); i += 2 {
		k, ok := attributes[i].(string)
		if !ok {
			continue
		}
		if _, excluded := skip[k]; excluded {
			continue
		}
		out[k] = ExtractString(attributes[i:i+2], k)
	}
	return out
}
