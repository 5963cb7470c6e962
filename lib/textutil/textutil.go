package textutil

import (
	"strings"
)

// NormalizeName folds case and drops all whitespace so that names which only
// differ in spacing or capitalization compare equal.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "")
}

// MatchName reports whether name contains any of the matchers once both are
// normalized.
func MatchName(name string, matchers ...string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		m = NormalizeName(m)
		if m != "" && strings.Contains(name, m) {
			return true
		}
	}
	return false
}
