// Package mutation submits create/update/delete requests and invalidates
// the cached listings they affect.
package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taxdesk/taxdesk-cli/internal/cache"
	"github.com/taxdesk/taxdesk-cli/internal/fetch"
	"github.com/taxdesk/taxdesk-cli/internal/output"
)

// Fetcher issues one HTTP request. *fetch.Client implements it.
type Fetcher interface {
	Do(ctx context.Context, url string, opts fetch.Options) fetch.Result
}

// Request is one mutation.
type Request struct {
	Method  string
	URL     string
	Body    any
	Headers http.Header
	Timeout time.Duration
	// Raw sends Body as is. It must then be []byte, string or io.Reader.
	Raw bool
	// Invalidate lists the cache entries dropped after success.
	Invalidate []Invalidation
}

// Result is the outcome of a mutation.
type Result struct {
	OK     bool
	Status int
	Data   json.RawMessage
	Error  string
	Err    error
}

// Decode unmarshals Data into v.
func (r Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no JSON payload")
	}
	return json.Unmarshal(r.Data, v)
}

// Helper submits mutations.
type Helper struct {
	fetcher Fetcher
	cache   *cache.Cache
	logger  *zap.Logger
	saving  atomic.Int32
}

// Option configures a Helper.
type Option func(*Helper)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Helper) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Helper. c may be nil, in which case nothing is invalidated.
func New(f Fetcher, c *cache.Cache, opts ...Option) *Helper {
	h := &Helper{fetcher: f, cache: c, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Saving reports whether any submission is in flight.
func (h *Helper) Saving() bool {
	return h.saving.Load() > 0
}

var allowedMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Submit sends req and, on success, drops its invalidations from the cache.
// Failures are reported in the Result, never as a panic.
func (h *Helper) Submit(ctx context.Context, req Request) Result {
	method := strings.ToUpper(req.Method)
	if !allowedMethods[method] {
		return failed(output.ErrUsage(fmt.Sprintf("unsupported mutation method %q", req.Method)))
	}

	body, err := encodeBody(req.Body, req.Raw)
	if err != nil {
		return failed(output.ErrUsage(err.Error()))
	}

	h.saving.Add(1)
	defer h.saving.Add(-1)

	res := h.fetcher.Do(ctx, req.URL, fetch.Options{
		Method:  method,
		Body:    body,
		Headers: req.Headers,
		Timeout: req.Timeout,
	})
	if !res.OK {
		return Result{Status: res.Status, Data: res.Data, Error: res.Error, Err: res.Err}
	}

	h.invalidate(req.Invalidate)
	return Result{OK: true, Status: res.Status, Data: res.Data}
}

func (h *Helper) invalidate(invs []Invalidation) {
	if h.cache == nil {
		return
	}
	for _, inv := range invs {
		n, err := inv.apply(h.cache)
		if err != nil {
			h.logger.Warn("cache invalidation skipped", zap.Stringer("target", inv), zap.Error(err))
			continue
		}
		h.logger.Debug("cache invalidated", zap.Stringer("target", inv), zap.Int("removed", n))
	}
}

func encodeBody(body any, raw bool) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if !raw {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		return data, nil
	}
	switch b := body.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case io.Reader:
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(b); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("raw body must be []byte, string or io.Reader, got %T", body)
	}
}

func failed(err *output.Error) Result {
	return Result{Error: err.Message, Err: err}
}
