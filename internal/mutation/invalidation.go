package mutation

import (
	"github.com/taxdesk/taxdesk-cli/internal/cache"
)

// Invalidation names cache entries to drop after a successful mutation.
type Invalidation struct {
	kind  kind
	value string
}

type kind int

const (
	kindKey kind = iota
	kindSubstring
	kindPrefix
	kindRegexp
)

// Key invalidates one exact cache key.
func Key(k string) Invalidation { return Invalidation{kind: kindKey, value: k} }

// Pattern invalidates every key containing substr.
func Pattern(substr string) Invalidation { return Invalidation{kind: kindSubstring, value: substr} }

// Prefix invalidates every key starting with p.
func Prefix(p string) Invalidation { return Invalidation{kind: kindPrefix, value: p} }

// Regexp invalidates every key matching the regular expression expr.
func Regexp(expr string) Invalidation { return Invalidation{kind: kindRegexp, value: expr} }

// Keys is shorthand for several exact keys.
func Keys(keys ...string) []Invalidation {
	out := make([]Invalidation, 0, len(keys))
	for _, k := range keys {
		out = append(out, Key(k))
	}
	return out
}

// Patterns is shorthand for several substring patterns.
func Patterns(substrs ...string) []Invalidation {
	out := make([]Invalidation, 0, len(substrs))
	for _, s := range substrs {
		out = append(out, Pattern(s))
	}
	return out
}

func (inv Invalidation) String() string {
	switch inv.kind {
	case kindSubstring:
		return "pattern:" + inv.value
	case kindPrefix:
		return "prefix:" + inv.value
	case kindRegexp:
		return "regexp:" + inv.value
	default:
		return "key:" + inv.value
	}
}

// apply removes the matching entries from c and returns how many went.
func (inv Invalidation) apply(c *cache.Cache) (int, error) {
	switch inv.kind {
	case kindKey:
		if c.Delete(inv.value) {
			return 1, nil
		}
		return 0, nil
	case kindSubstring:
		return c.DeletePattern(cache.Substring(inv.value)), nil
	case kindPrefix:
		return c.DeletePattern(cache.Prefix(inv.value)), nil
	default:
		m, err := cache.Compile(inv.value)
		if err != nil {
			return 0, err
		}
		return c.DeletePattern(m), nil
	}
}
