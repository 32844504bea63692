// Package fetch issues single HTTP requests with a deadline and normalizes
// every outcome (success, HTTP error, timeout, network failure) into one
// Result shape. It never retries; callers own their retry policy.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taxdesk/taxdesk-cli/internal/output"
	"github.com/taxdesk/taxdesk-cli/internal/version"
)

// DefaultTimeout applies when Options.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Messages reported in Result.Error for client-side failures.
const (
	MsgTimedOut = "Request timed out"
	MsgCanceled = "Request canceled"
)

// Options controls a single request.
type Options struct {
	Method  string // default GET
	Body    []byte
	Headers http.Header
	Timeout time.Duration
	// Raw skips JSON decoding; Data stays nil and Body holds the payload.
	Raw bool
	// Attempt is reported to hooks when the caller retries.
	Attempt int
}

// Result is the outcome of one request. Status is 0 for failures that never
// produced an HTTP response.
type Result struct {
	OK       bool
	Status   int
	Data     json.RawMessage // nil when absent or not valid JSON
	Body     []byte
	Header   http.Header
	Error    string
	Err      error // structured cause, *output.Error when set
	Duration time.Duration
}

// Decode unmarshals Data into v.
func (r Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("response has no JSON payload")
	}
	return json.Unmarshal(r.Data, v)
}

// Client performs requests against the admin API.
type Client struct {
	httpClient *http.Client
	headers    http.Header
	hooks      Hooks
	logger     *zap.Logger
	newID      func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if value != "" {
			c.headers.Set(key, value)
		}
	}
}

// WithBearerToken authenticates every request.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithTenant scopes every request to a tenant.
func WithTenant(id string) Option {
	return WithHeader("X-Tenant-ID", id)
}

// WithHooks installs request observers.
func WithHooks(h Hooks) Option {
	return func(c *Client) {
		if h != nil {
			c.hooks = h
		}
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: make(http.Header),
		hooks:   NoopHooks{},
		logger:  zap.NewNop(),
		newID:   uuid.NewString,
	}
	c.headers.Set("User-Agent", version.UserAgent())
	c.headers.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hooks returns the installed request observers.
func (c *Client) Hooks() Hooks { return c.hooks }

// Get is shorthand for a GET with default options.
func (c *Client) Get(ctx context.Context, url string) Result {
	return c.Do(ctx, url, Options{})
}

// Do issues exactly one request and always returns a Result.
func (c *Client) Do(ctx context.Context, url string, opts Options) Result {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info := RequestInfo{Method: method, URL: url, RequestID: c.newID(), Attempt: opts.Attempt}
	reqCtx = c.hooks.OnRequestStart(reqCtx, info)
	start := time.Now()

	res := c.do(reqCtx, ctx, info, opts)
	res.Duration = time.Since(start)

	c.hooks.OnRequestEnd(reqCtx, info, RequestResult{
		StatusCode: res.Status,
		Duration:   res.Duration,
		Err:        res.Err,
	})
	c.logger.Debug("http request",
		zap.String("method", method),
		zap.String("url", url),
		zap.String("request_id", info.RequestID),
		zap.Int("status", res.Status),
		zap.Duration("duration", res.Duration),
		zap.String("error", res.Error),
	)
	return res
}

func (c *Client) do(reqCtx, parent context.Context, info RequestInfo, opts Options) Result {
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, info.Method, info.URL, body)
	if err != nil {
		return failure(output.ErrUsage(fmt.Sprintf("invalid request: %v", err)), err.Error())
	}
	for k, vs := range c.headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range opts.Headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	if opts.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", info.RequestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportFailure(reqCtx, parent, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(reqCtx, parent, err)
	}

	res := Result{Status: resp.StatusCode, Header: resp.Header, Body: payload}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(payload)
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		res.Error = msg
		res.Err = output.ErrHTTP(resp.StatusCode, msg)
		if resp.StatusCode == http.StatusTooManyRequests {
			res.Err = output.ErrRateLimit(retryAfterSeconds(resp.Header.Get("Retry-After")))
		}
		return res
	}

	res.OK = true
	if !opts.Raw && json.Valid(payload) {
		res.Data = payload
	}
	return res
}

func failure(err *output.Error, msg string) Result {
	return Result{Status: 0, Error: msg, Err: err}
}

// transportFailure classifies a failure that produced no usable response.
func transportFailure(reqCtx, parent context.Context, err error) Result {
	switch {
	case parent.Err() != nil && errors.Is(parent.Err(), context.Canceled):
		return failure(output.ErrCanceled(err), MsgCanceled)
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return failure(output.ErrTimeout(err), MsgTimedOut)
	case errors.Is(err, context.Canceled):
		return failure(output.ErrCanceled(err), MsgCanceled)
	default:
		return failure(output.ErrNetwork(err), err.Error())
	}
}

// serverMessage extracts a human-readable error from a JSON error body.
func serverMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// retryAfterSeconds parses a delta-seconds Retry-After value; HTTP dates and
// garbage yield 0.
func retryAfterSeconds(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
