package filter

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestQueryOmitsSentinelAndEmpty(t *testing.T) {
	f := Filters{Role: "ALL", Status: "ACTIVE", Page: 1}

	want := url.Values{
		"status": {"ACTIVE"},
		"page":   {"1"},
	}
	if diff := cmp.Diff(want, f.Query()); diff != "" {
		t.Errorf("Query() mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryLowercaseSentinel(t *testing.T) {
	q := Filters{Role: "all", Tier: "all", Department: "  "}.Query()
	assert.Empty(t, q)
}

func TestQueryDefaults(t *testing.T) {
	want := url.Values{
		"page":      {"1"},
		"limit":     {"50"},
		"sortBy":    {"createdAt"},
		"sortOrder": {"desc"},
	}
	if diff := cmp.Diff(want, Defaults().Query()); diff != "" {
		t.Errorf("Query() mismatch (-want +got):\n%s", diff)
	}
}

func TestQueryAllFields(t *testing.T) {
	f := Filters{
		Search:     "ada lovelace",
		Role:       "ADMIN",
		Status:     "ACTIVE",
		Department: "Audit",
		Tier:       "GOLD",
		Page:       4,
		Limit:      25,
		SortBy:     "name",
		SortOrder:  "asc",
	}
	assert.Equal(t,
		"department=Audit&limit=25&page=4&role=ADMIN&search=ada+lovelace&sortBy=name&sortOrder=asc&status=ACTIVE&tier=GOLD",
		f.Encode())
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel("ALL"))
	assert.True(t, IsSentinel("all"))
	assert.False(t, IsSentinel("All"))
	assert.False(t, IsSentinel("ACTIVE"))
}

func TestWithDefaults(t *testing.T) {
	got := Filters{Search: "x", Page: -2}.withDefaults()
	want := Defaults()
	want.Search = "x"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("withDefaults mismatch (-want +got):\n%s", diff)
	}
}
