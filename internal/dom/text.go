package dom

import "strings"

// Normalize collapses every whitespace run to one space and trims the edges.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContainsNormalized reports whether want appears in got once both are normalized.
func ContainsNormalized(got, want string) bool {
	return strings.Contains(Normalize(got), Normalize(want))
}
