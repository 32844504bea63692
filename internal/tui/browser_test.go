package tui

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk-cli/internal/fetch"
	"github.com/taxdesk/taxdesk-cli/internal/filter"
	"github.com/taxdesk/taxdesk-cli/internal/output"
)

// listing serves `pages` pages of one user each and records queries.
type listing struct {
	mu      sync.Mutex
	pages   int
	status  int
	queries []url.Values
}

func (l *listing) Do(_ context.Context, raw string, _ fetch.Options) fetch.Result {
	u, _ := url.Parse(raw)
	q := u.Query()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, q)
	if l.status != 0 {
		return fetch.Result{Status: l.status, Error: "unavailable", Err: output.ErrHTTP(l.status, "unavailable")}
	}
	page := q.Get("page")
	body := `{"users":[{"id":"u` + page + `","name":"User ` + page + `","email":"u` + page + `@example.com","role":"STAFF"}],` +
		`"pagination":{"page":` + page + `,"limit":50,"total":` + strconv.Itoa(l.pages*50) + `,"pages":` + strconv.Itoa(l.pages) + `}}`
	return fetch.Result{OK: true, Status: http.StatusOK, Data: []byte(body)}
}

func (l *listing) last() url.Values {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries[len(l.queries)-1]
}

func newTestBrowser(t *testing.T, l *listing) browserModel {
	t.Helper()
	hook := filter.NewHook(l, "http://admin.test/api/admin/users", filter.Defaults())
	m := newBrowserModel(context.Background(), hook, NewStylesWithTheme(NoColorTheme()))
	return exec(t, m, m.run(hook.Refresh))
}

// exec runs cmd synchronously and feeds its message back into the model.
func exec(t *testing.T, m browserModel, cmd tea.Cmd) browserModel {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(browserModel)
}

func press(t *testing.T, m browserModel, key string) (browserModel, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	next, cmd := m.Update(msg)
	return next.(browserModel), cmd
}

func TestBrowserInitialLoad(t *testing.T) {
	m := newTestBrowser(t, &listing{pages: 3})

	assert.False(t, m.loading)
	require.Len(t, m.table.Rows(), 1)
	assert.Equal(t, "User 1", m.table.Rows()[0][0])
	assert.Contains(t, m.View(), "page 1 of 3 · 150 users")
}

func TestBrowserPaging(t *testing.T) {
	l := &listing{pages: 2}
	m := newTestBrowser(t, l)

	m, cmd := press(t, m, "n")
	assert.True(t, m.loading)
	m = exec(t, m, cmd)
	assert.Equal(t, "2", l.last().Get("page"))
	assert.Equal(t, "User 2", m.table.Rows()[0][0])

	_, cmd = press(t, m, "n")
	assert.Nil(t, cmd, "no page after the last")

	m, cmd = press(t, m, "p")
	m = exec(t, m, cmd)
	assert.Equal(t, "1", l.last().Get("page"))

	_, cmd = press(t, m, "p")
	assert.Nil(t, cmd, "no page before the first")
}

func TestBrowserCyclesRoleAndResetsPage(t *testing.T) {
	l := &listing{pages: 3}
	m := newTestBrowser(t, l)
	m, cmd := press(t, m, "n")
	m = exec(t, m, cmd)

	m, cmd = press(t, m, "r")
	m = exec(t, m, cmd)

	assert.Equal(t, "ADMIN", l.last().Get("role"))
	assert.Equal(t, "1", l.last().Get("page"))
	assert.Contains(t, m.View(), "role ADMIN")
}

func TestBrowserStatusCycleSkipsSentinelInQuery(t *testing.T) {
	l := &listing{pages: 1}
	m := newTestBrowser(t, l)

	for range 4 {
		var cmd tea.Cmd
		m, cmd = press(t, m, "s")
		m = exec(t, m, cmd)
	}
	assert.Equal(t, "PENDING", l.last().Get("status"))

	m, cmd := press(t, m, "s")
	_ = exec(t, m, cmd)
	assert.False(t, l.last().Has("status"), "ALL is never sent")
}

func TestBrowserSearch(t *testing.T) {
	l := &listing{pages: 1}
	m := newTestBrowser(t, l)

	m, _ = press(t, m, "/")
	require.True(t, m.searching)
	m, _ = press(t, m, "ada")
	m, cmd := press(t, m, "enter")
	assert.False(t, m.searching)
	m = exec(t, m, cmd)

	assert.Equal(t, "ada", l.last().Get("search"))
	assert.Contains(t, m.View(), `search "ada"`)
}

func TestBrowserSearchEscapeRestores(t *testing.T) {
	l := &listing{pages: 1}
	m := newTestBrowser(t, l)
	calls := len(l.queries)

	m, _ = press(t, m, "/")
	m, _ = press(t, m, "zzz")
	m, cmd := press(t, m, "esc")

	assert.Nil(t, cmd)
	assert.False(t, m.searching)
	assert.Empty(t, m.search.Value())
	assert.Len(t, l.queries, calls)
}

func TestBrowserShowsErrorAndKeepsRows(t *testing.T) {
	l := &listing{pages: 2}
	m := newTestBrowser(t, l)

	l.mu.Lock()
	l.status = http.StatusBadGateway
	l.mu.Unlock()

	m, cmd := press(t, m, "n")
	m = exec(t, m, cmd)

	require.Error(t, m.err)
	assert.Contains(t, m.View(), "unavailable")
	assert.Equal(t, "User 1", m.table.Rows()[0][0], "previous page stays visible")
}

func TestBrowserIgnoresSupersededLoads(t *testing.T) {
	m := newTestBrowser(t, &listing{pages: 1})
	m.loading = true

	next, cmd := m.Update(loadedMsg{err: output.ErrCanceled(nil)})
	assert.Nil(t, cmd)
	assert.True(t, next.(browserModel).loading)
	assert.NoError(t, next.(browserModel).err)
}

func TestBrowserQuit(t *testing.T) {
	m := newTestBrowser(t, &listing{pages: 1})

	m, cmd := press(t, m, "q")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
}

func TestNextValue(t *testing.T) {
	values := []string{"ALL", "A", "B"}
	assert.Equal(t, "A", nextValue(values, ""))
	assert.Equal(t, "A", nextValue(values, "ALL"))
	assert.Equal(t, "B", nextValue(values, "a"))
	assert.Equal(t, "ALL", nextValue(values, "B"))
	assert.Equal(t, "ALL", nextValue(values, "unknown"))
}
