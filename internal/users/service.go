// Package users serves paged user listings from the admin API with a short
// TTL cache, request coalescing, retry with backoff, and abort-previous
// semantics.
package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/taxdesk/taxdesk-cli/internal/cache"
	"github.com/taxdesk/taxdesk-cli/internal/clock"
	"github.com/taxdesk/taxdesk-cli/internal/fetch"
	"github.com/taxdesk/taxdesk-cli/internal/models"
	"github.com/taxdesk/taxdesk-cli/internal/output"
	"github.com/taxdesk/taxdesk-cli/internal/resilience"
)

const (
	// KeyPrefix starts every cache key the service writes.
	KeyPrefix = "users:"

	DefaultCacheTTL       = 30 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
	DefaultLimit          = 50
)

// Fetcher issues one HTTP request. *fetch.Client implements it.
type Fetcher interface {
	Do(ctx context.Context, url string, opts fetch.Options) fetch.Result
}

// CacheKey returns the cache key for a page of the listing.
func CacheKey(page, limit int) string {
	return fmt.Sprintf("%spage=%d:limit=%d", KeyPrefix, page, limit)
}

// flight is one logical fetch shared by every caller that joined it.
type flight struct {
	key     string
	token   string
	page    int
	limit   int
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Service fetches user pages.
type Service struct {
	fetcher        Fetcher
	cache          *cache.Cache
	endpoint       string
	clock          clock.Clock
	logger         *zap.Logger
	hooks          fetch.Hooks
	policy         resilience.Policy
	cooldown       *resilience.Cooldown
	ttl            time.Duration
	attemptTimeout time.Duration

	group   singleflight.Group
	mu      sync.Mutex
	current *flight
	gen     uint64
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for backoff sleeps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHooks installs retry and cache observers.
func WithHooks(h fetch.Hooks) Option {
	return func(s *Service) {
		if h != nil {
			s.hooks = h
		}
	}
}

// WithPolicy overrides the retry policy.
func WithPolicy(p resilience.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithCooldown enables the cross-process rate-limit cooldown.
func WithCooldown(c *resilience.Cooldown) Option {
	return func(s *Service) { s.cooldown = c }
}

// WithCacheTTL sets how long fetched pages stay cached.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithAttemptTimeout bounds each individual request.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

// New creates a Service reading from endpoint, the absolute URL of the
// users collection.
func New(f Fetcher, c *cache.Cache, endpoint string, opts ...Option) *Service {
	s := &Service{
		fetcher:        f,
		cache:          c,
		endpoint:       endpoint,
		clock:          clock.New(),
		logger:         zap.NewNop(),
		hooks:          fetch.NoopHooks{},
		policy:         resilience.DefaultPolicy(),
		ttl:            DefaultCacheTTL,
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchUsers returns one page of users.
//
// A cached page is returned without touching the network. A call for the
// page already being fetched joins that request, even while the rate-limit
// cooldown is armed. Any other call cancels the pending request and starts a
// new one; callers of the superseded request receive a canceled error.
func (s *Service) FetchUsers(ctx context.Context, page, limit int) ([]models.User, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	key := CacheKey(page, limit)

	if v, ok := s.cache.Get(key); ok {
		if users, ok := v.([]models.User); ok {
			s.hooks.OnCacheLookup(key, true)
			return slices.Clone(users), nil
		}
	}
	s.hooks.OnCacheLookup(key, false)

	s.mu.Lock()
	f := s.current
	if f == nil || f.key != key {
		// Joining an in-flight request is free; only a new request waits
		// out the cooldown.
		if wait := s.cooldown.Remaining(); wait > 0 {
			s.mu.Unlock()
			return nil, output.ErrRateLimit(int(math.Ceil(wait.Seconds())))
		}
		if f != nil {
			s.logger.Debug("superseding pending fetch", zap.String("key", f.key), zap.String("by", key))
			f.cancel()
		}
		s.gen++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			key:    key,
			token:  fmt.Sprintf("%s#%d", key, s.gen),
			page:   page,
			limit:  limit,
			ctx:    fctx,
			cancel: cancel,
		}
		s.current = f
	}
	f.waiters++
	// The flight stays registered in the group until run returns, and run
	// clears s.current under s.mu first, so a flight seen here is joinable.
	ch := s.group.DoChan(f.token, func() (any, error) { return s.run(f) })
	s.mu.Unlock()

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return slices.Clone(r.Val.([]models.User)), nil
	case <-ctx.Done():
		s.leave(f)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, output.ErrTimeout(ctx.Err())
		}
		return nil, output.ErrCanceled(ctx.Err())
	}
}

// leave drops a caller that stopped waiting. The last one out cancels.
func (s *Service) leave(f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.current == f {
		s.current = nil
	}
}

// InvalidateCache drops every page the service cached and returns how many
// entries were removed.
func (s *Service) InvalidateCache() int {
	return s.cache.DeletePattern(cache.Prefix(KeyPrefix))
}

// Abort cancels the pending fetch, if any.
func (s *Service) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.logger.Debug("aborting fetch", zap.String("key", s.current.key))
	s.current.cancel()
	s.current = nil
}

func (s *Service) finish(f *flight) {
	s.mu.Lock()
	if s.current == f {
		s.current = nil
	}
	s.mu.Unlock()
	f.cancel()
}

// run is the attempt loop of one flight.
func (s *Service) run(f *flight) (any, error) {
	defer s.finish(f)

	target := s.pageURL(f.page, f.limit)
	for attempt := 0; ; attempt++ {
		res := s.fetcher.Do(f.ctx, target, fetch.Options{
			Method:  http.MethodGet,
			Timeout: s.attemptTimeout,
			Attempt: attempt,
		})

		outcome := resilience.Classify(res.Status, res.Err)
		if outcome != resilience.Success && f.ctx.Err() != nil {
			outcome = resilience.Canceled
		}

		switch outcome {
		case resilience.Success:
			users := s.parseUsers(f.key, res.Data)
			s.cache.Set(f.key, users, s.ttl)
			return users, nil
		case resilience.Canceled:
			s.logger.Debug("fetch canceled", zap.String("key", f.key), zap.Int("attempt", attempt))
			return nil, output.ErrCanceled(causeOf(f.ctx, res))
		}

		err := errorFor(res)
		next := s.policy.Next(outcome, attempt)
		if !next.Retry {
			if outcome == resilience.RateLimited {
				if armErr := s.cooldown.Arm(s.policy.CooldownDuration()); armErr != nil {
					s.logger.Debug("cooldown not persisted", zap.Error(armErr))
				}
			}
			s.logger.Warn("fetch users failed",
				zap.String("key", f.key),
				zap.Int("attempts", attempt+1),
				zap.Stringer("outcome", outcome),
				zap.Error(err),
			)
			return nil, err
		}

		s.hooks.OnRetry(f.ctx, fetch.RequestInfo{Method: http.MethodGet, URL: target, Attempt: attempt}, attempt+1, next.Delay, err)
		s.logger.Debug("retrying fetch",
			zap.String("key", f.key),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", next.Delay),
			zap.Stringer("outcome", outcome),
		)
		if !clock.Sleep(s.clock, next.Delay, f.ctx.Done()) {
			return nil, output.ErrCanceled(f.ctx.Err())
		}
	}
}

func (s *Service) pageURL(page, limit int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return s.endpoint + "?" + q.Encode()
}

// parseUsers extracts the users array. A missing or malformed payload
// yields an empty, non-nil list.
func (s *Service) parseUsers(key string, data json.RawMessage) []models.User {
	var body struct {
		Users []models.User `json:"users"`
	}
	if len(data) == 0 {
		return []models.User{}
	}
	if err := json.Unmarshal(data, &body); err != nil {
		s.logger.Warn("users page not decodable", zap.String("key", key), zap.Error(err))
		return []models.User{}
	}
	if body.Users == nil {
		return []models.User{}
	}
	return body.Users
}

func errorFor(res fetch.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return output.ErrAPI(res.Status, res.Error)
}

func causeOf(ctx context.Context, res fetch.Result) error {
	if res.Err != nil {
		return res.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}
