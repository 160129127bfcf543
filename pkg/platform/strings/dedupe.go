// Package strings normalizes user-supplied string lists such as network
// names and disclosed attribute names.
package strings

import "strings"

// DedupeAndTrim trims every element and drops blanks and repeats, keeping
// first-seen order.
func DedupeAndTrim(values []string) []string {
	return normalize(values, strings.TrimSpace)
}

// DedupeAndTrimLower is DedupeAndTrim with case folding, for identifiers
// compared case-insensitively.
func DedupeAndTrimLower(values []string) []string {
	return normalize(values, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func normalize(values []string, clean func(string) string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = clean(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
