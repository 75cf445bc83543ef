package models

import "strings"

// WindowKey identifies one sliding window. Identifier segments are escaped so
// a caller-controlled identifier containing ':' cannot alias another key.
func WindowKey(action Action, identifier string) string {
	return sanitizeKeySegment(action.Key()) + ":" + sanitizeKeySegment(identifier)
}

// sanitizeKeySegment escapes '_' to '__' and then ':' to '_c'. The order makes
// the mapping injective.
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
