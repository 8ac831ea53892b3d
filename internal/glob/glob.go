// Package glob implements the plain backtracking "*"/"?" matcher used by
// the transfer engine's exclude list (spec.md §4.8, §8 property 8). It is
// deliberately narrower than path/filepath.Match: no bracket classes, no
// path-separator awareness — "*" matches any run of bytes including "/".
package glob

// Match reports whether pattern matches s under classic backtracking
// semantics: "*" matches zero or more bytes, "?" matches exactly one byte,
// any other byte must match literally.
func Match(pattern, s string) bool {
	return match(pattern, s)
}

func match(pattern, s string) bool {
	var pi, si int
	var starIdx = -1
	var starSi int

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			starIdx = pi
			starSi = si
			pi++
		case starIdx != -1:
			pi = starIdx + 1
			starSi++
			si = starSi
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}

	return pi == len(pattern)
}

// MatchAny reports whether path matches any of the given exclude patterns.
func MatchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if Match(p, path) {
			return true
		}
	}
	return false
}
