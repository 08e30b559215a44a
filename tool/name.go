package tool

import (
	"fmt"
	"strings"
)

const (
	// Prefix marks a fully qualified tool name.
	Prefix = "tool"
	// Separator joins the prefix, provider, and tool segments.
	Separator = "__"
	// MaxNameLength caps encoded names at what model gateways accept for
	// function names.
	MaxNameLength = 64
)

// Encode builds the fully qualified name the model sees for a provider's tool.
// Both segments are normalized so the result only contains alphanumerics and
// underscores. Names longer than MaxNameLength are truncated, which can
// collide for pathologically long tool names; registration detects and logs
// such collisions.
func Encode(provider, name string) string {
	fq := Prefix + Separator + normalize(provider) + Separator + normalize(name)
	if len(fq) > MaxNameLength {
		fq = fq[:MaxNameLength]
	}
	return fq
}

// Decode splits a fully qualified name back into its provider and tool
// segments. The segments come back normalized, not as originally registered;
// routing must match against normalized names.
func Decode(fq string) (provider, name string, err error) {
	if !strings.HasPrefix(fq, Prefix+Separator) {
		return "", "", fmt.Errorf("tool name %q does not start with %q", fq, Prefix+Separator)
	}
	rest := strings.TrimPrefix(fq, Prefix+Separator)
	parts := strings.SplitN(rest, Separator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("tool name %q does not have provider and tool segments", fq)
	}
	return parts[0], parts[1], nil
}

// normalize collapses every run of non-alphanumeric characters into a single
// underscore and trims leading and trailing underscores.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := true
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
