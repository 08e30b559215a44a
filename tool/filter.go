package tool

import "strings"

// Match reports whether a fully qualified name matches a single allow-list
// pattern. Matching is case-insensitive. A pattern is either an exact name,
// "*" for everything, "prefix*", or "*suffix".
func Match(pattern, fq string) bool {
	pattern = strings.ToLower(pattern)
	fq = strings.ToLower(fq)

	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(fq, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(fq, strings.TrimPrefix(pattern, "*"))
	default:
		return pattern == fq
	}
}

// MatchAny reports whether a fully qualified name matches any pattern in the
// allow-list. An empty list allows everything.
func MatchAny(patterns []string, fq string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if Match(p, fq) {
			return true
		}
	}
	return false
}
