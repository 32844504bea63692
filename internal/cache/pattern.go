package cache

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher selects cache keys for bulk invalidation.
type Matcher interface {
	Match(key string) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(key string) bool

func (f MatcherFunc) Match(key string) bool { return f(key) }

// Exact matches a single key.
func Exact(key string) Matcher {
	return MatcherFunc(func(k string) bool { return k == key })
}

// Substring matches keys containing s.
func Substring(s string) Matcher {
	return MatcherFunc(func(k string) bool { return strings.Contains(k, s) })
}

// Prefix matches keys starting with p.
func Prefix(p string) Matcher {
	return MatcherFunc(func(k string) bool { return strings.HasPrefix(k, p) })
}

// Regexp matches keys against re.
func Regexp(re *regexp.Regexp) Matcher {
	return MatcherFunc(re.MatchString)
}

// Compile builds a regular-expression matcher from expr.
func Compile(expr string) (Matcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cache pattern %q: %w", expr, err)
	}
	return Regexp(re), nil
}
