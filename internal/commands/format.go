package commands

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/taxdesk/taxdesk-cli/internal/filter"
)

// printer formats counts with thousands separators.
var printer = message.NewPrinter(language.English)

// pageSummary describes the position of the loaded page:
// "Showing 51-100 of 1,234 users (page 2 of 25)".
func pageSummary(st filter.State) string {
	n := len(st.Users)
	p := st.Pagination
	if p == nil {
		return printer.Sprintf("%d users", n)
	}
	if n == 0 {
		return printer.Sprintf("No users on page %d of %d (%d total)", p.Page, max(p.Pages, 1), p.Total)
	}
	first := (p.Page-1)*p.Limit + 1
	last := first + n - 1
	return printer.Sprintf("Showing %d-%d of %d users (page %d of %d)", first, last, p.Total, p.Page, p.Pages)
}

// tickLine is the progress line printed by users watch.
func tickLine(t watchTick) string {
	source := "fetched"
	switch {
	case t.CacheHit:
		source = "cached"
	case t.Requests == 0:
		source = "joined"
	}
	return printer.Sprintf("#%d  %d users  %s  %d requests  %s", t.Tick, t.Users, source, t.Requests, t.Elapsed)
}

// watchSummary totals a users watch session.
func watchSummary(ticks []watchTick) string {
	var requests, hits int
	for _, t := range ticks {
		requests += t.Requests
		if t.CacheHit {
			hits++
		}
	}
	return printer.Sprintf("%d refreshes, %d requests, %d served from cache", len(ticks), requests, hits)
}
