package filter

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taxdesk/taxdesk-cli/internal/fetch"
	"github.com/taxdesk/taxdesk-cli/internal/models"
	"github.com/taxdesk/taxdesk-cli/internal/output"
)

// Fetcher issues one HTTP request. *fetch.Client implements it.
type Fetcher interface {
	Do(ctx context.Context, url string, opts fetch.Options) fetch.Result
}

// State is a snapshot of the listing.
type State struct {
	Filters    Filters
	Users      []models.User
	Pagination *models.Pagination
	Loading    bool
	Err        error
}

// HasNextPage reports whether a page follows the current one.
func (s State) HasNextPage() bool {
	return s.Pagination != nil && s.Pagination.Page < s.Pagination.Pages
}

// HasPreviousPage reports whether a page precedes the current one.
func (s State) HasPreviousPage() bool {
	return s.Pagination != nil && s.Pagination.Page > 1
}

// Hook owns the filter state of one listing and refetches it on every
// change. Loads started before the latest one are canceled and their
// responses discarded.
type Hook struct {
	fetcher  Fetcher
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	filters    Filters
	users      []models.User
	pagination *models.Pagination
	loading    bool
	err        error
	gen        uint64
	cancel     context.CancelFunc
}

// Option configures a Hook.
type Option func(*Hook)

// WithTimeout bounds each load.
func WithTimeout(d time.Duration) Option {
	return func(h *Hook) { h.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hook) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHook creates a hook over endpoint starting from initial. Nothing is
// fetched until Refresh or a setter is called.
func NewHook(f Fetcher, endpoint string, initial Filters, opts ...Option) *Hook {
	h := &Hook{
		fetcher:  f,
		endpoint: endpoint,
		logger:   zap.NewNop(),
		filters:  initial.withDefaults(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Filters returns the current filter state.
func (h *Hook) Filters() Filters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.filters
}

// State returns a snapshot of the listing.
func (h *Hook) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return State{
		Filters:    h.filters,
		Users:      slices.Clone(h.users),
		Pagination: clonePagination(h.pagination),
		Loading:    h.loading,
		Err:        h.err,
	}
}

// HasNextPage reports whether a page follows the current one.
func (h *Hook) HasNextPage() bool { return h.State().HasNextPage() }

// HasPreviousPage reports whether a page precedes the current one.
func (h *Hook) HasPreviousPage() bool { return h.State().HasPreviousPage() }

// SetFilters replaces the filter state and reloads. The page resets to 1
// unless f carries an explicit page; zero limit and sort fields take their
// defaults.
func (h *Hook) SetFilters(ctx context.Context, f Filters) error {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	return h.apply(ctx, f.withDefaults())
}

// Update edits the current filter state in place and reloads. Changing any
// field other than Page resets the page to 1.
func (h *Hook) Update(ctx context.Context, edit func(*Filters)) error {
	cur := h.Filters()
	next := cur
	edit(&next)
	next = next.withDefaults()
	if !next.sameExceptPage(cur) {
		next.Page = DefaultPage
	}
	return h.apply(ctx, next)
}

// SetPage moves to page n, clamped to at least 1, and reloads.
func (h *Hook) SetPage(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	f := h.Filters()
	f.Page = n
	return h.apply(ctx, f)
}

// NextPage advances one page if there is one.
func (h *Hook) NextPage(ctx context.Context) error {
	st := h.State()
	if !st.HasNextPage() {
		return nil
	}
	return h.SetPage(ctx, st.Filters.Page+1)
}

// PreviousPage goes back one page if there is one.
func (h *Hook) PreviousPage(ctx context.Context) error {
	st := h.State()
	if !st.HasPreviousPage() {
		return nil
	}
	return h.SetPage(ctx, st.Filters.Page-1)
}

// Refresh reloads the current filter state.
func (h *Hook) Refresh(ctx context.Context) error {
	return h.apply(ctx, h.Filters())
}

// URL returns the request URL for the current filter state.
func (h *Hook) URL() string {
	return h.urlFor(h.Filters())
}

func (h *Hook) urlFor(f Filters) string {
	if q := f.Encode(); q != "" {
		return h.endpoint + "?" + q
	}
	return h.endpoint
}

func (h *Hook) apply(ctx context.Context, f Filters) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.gen++
	gen := h.gen
	h.filters = f
	h.loading = true
	h.cancel = cancel
	h.mu.Unlock()

	res := h.fetcher.Do(ctx, h.urlFor(f), fetch.Options{Method: http.MethodGet, Timeout: h.timeout})

	var page models.UsersPage
	var err error
	if res.OK {
		if decodeErr := res.Decode(&page); decodeErr != nil {
			h.logger.Warn("users page not decodable", zap.Error(decodeErr))
		}
		if page.Users == nil {
			page.Users = []models.User{}
		}
	} else {
		err = res.Err
		if err == nil {
			err = output.ErrAPI(res.Status, res.Error)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		h.logger.Debug("discarding stale page", zap.Uint64("gen", gen), zap.Uint64("latest", h.gen))
		return output.ErrCanceled(nil)
	}
	h.loading = false
	h.cancel = nil
	if err != nil {
		h.err = err
		return err
	}
	h.err = nil
	h.users = page.Users
	h.pagination = page.Pagination
	return nil
}

func clonePagination(p *models.Pagination) *models.Pagination {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
