// Package filter drives a server-side filtered, paginated listing: it holds
// the filter state, turns it into a query string, and refetches on change.
package filter

import (
	"net/url"
	"strconv"
	"strings"
)

// Defaults for a fresh listing.
const (
	DefaultPage      = 1
	DefaultLimit     = 50
	DefaultSortBy    = "createdAt"
	DefaultSortOrder = "desc"
)

// Filters is the filter state of the users listing.
type Filters struct {
	Search     string `json:"search,omitempty"`
	Role       string `json:"role,omitempty"`
	Status     string `json:"status,omitempty"`
	Department string `json:"department,omitempty"`
	Tier       string `json:"tier,omitempty"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	SortBy     string `json:"sortBy,omitempty"`
	SortOrder  string `json:"sortOrder,omitempty"`
}

// Defaults returns the initial filter state.
func Defaults() Filters {
	return Filters{
		Page:      DefaultPage,
		Limit:     DefaultLimit,
		SortBy:    DefaultSortBy,
		SortOrder: DefaultSortOrder,
	}
}

// withDefaults fills unset paging and sort fields.
func (f Filters) withDefaults() Filters {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.SortBy == "" {
		f.SortBy = DefaultSortBy
	}
	if f.SortOrder == "" {
		f.SortOrder = DefaultSortOrder
	}
	return f
}

// sameExceptPage reports whether f and g differ only in Page.
func (f Filters) sameExceptPage(g Filters) bool {
	f.Page, g.Page = 0, 0
	return f == g
}

// IsSentinel reports whether v means "no filter".
func IsSentinel(v string) bool {
	return v == "ALL" || v == "all"
}

// Query builds the query parameters. Empty values and the ALL sentinel are
// omitted, as are non-positive page and limit.
func (f Filters) Query() url.Values {
	q := url.Values{}
	set := func(key, value string) {
		value = strings.TrimSpace(value)
		if value == "" || IsSentinel(value) {
			return
		}
		q.Set(key, value)
	}
	set("search", f.Search)
	set("role", f.Role)
	set("status", f.Status)
	set("department", f.Department)
	set("tier", f.Tier)
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	set("sortBy", f.SortBy)
	set("sortOrder", f.SortOrder)
	return q
}

// Encode returns the encoded query string without a leading "?".
func (f Filters) Encode() string {
	return f.Query().Encode()
}
