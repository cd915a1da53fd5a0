package policy

import (
	"regexp"
	"strings"
	"sync"
)

// Pattern sandbox limits. The heuristics below reject pattern shapes known
// to explode on backtracking engines. Go's regexp runs in linear time, so
// the checks here are defense in depth against patterns copied to other
// evaluation surfaces, not a correctness requirement.
const (
	maxPatternLen = 200
	maxInputLen   = 10000
)

var (
	// Quantified group immediately followed by another quantifier, e.g.
	// (a+)+ or (a*){2,}.
	nestedQuantifier = regexp.MustCompile(`\([^)]*[+*][^)]*\)[+*{]`)
	// Lookaround assertions; unsupported by RE2 and a backtracking hazard.
	lookaround = regexp.MustCompile(`\(\?[=!<]`)

	patternCache sync.Map // pattern string -> *regexp.Regexp
)

// safePattern rejects patterns that are oversized or structurally dangerous.
func safePattern(pattern string) bool {
	if len(pattern) > maxPatternLen {
		return false
	}
	if lookaround.MatchString(pattern) {
		return false
	}
	if nestedQuantifier.MatchString(pattern) {
		return false
	}
	// Multiple unbounded wildcards compound badly.
	if strings.Count(pattern, ".*")+strings.Count(pattern, ".+") > 1 {
		return false
	}
	return true
}

// matchPattern tests s against pattern under the sandbox limits. Unsafe or
// uncompilable patterns never match.
func matchPattern(pattern, s string) bool {
	if !safePattern(pattern) {
		return false
	}
	if len(s) > maxInputLen {
		s = s[:maxInputLen]
	}

	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(s)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	patternCache.Store(pattern, re)
	return re.MatchString(s)
}
