package common

import "strings"

// HasAny reports whether s contains any of the substrings, ignoring case.
func HasAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// NormalizeName trims and collapses inner whitespace of a user supplied name.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
