package fetch

import (
	"context"
	"time"
)

// RequestInfo describes an outgoing request.
type RequestInfo struct {
	Method    string
	URL       string
	RequestID string
	Attempt   int
}

// RequestResult describes how a request ended.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	FromCache  bool
	Err        error
}

// Hooks observe the request lifecycle. Implementations must be safe for
// concurrent use and must not block.
type Hooks interface {
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
	OnRetry(ctx context.Context, info RequestInfo, attempt int, delay time.Duration, err error)
	OnCacheLookup(key string, hit bool)
}

// NoopHooks ignores every event.
type NoopHooks struct{}

func (NoopHooks) OnRequestStart(ctx context.Context, _ RequestInfo) context.Context { return ctx }
func (NoopHooks) OnRequestEnd(context.Context, RequestInfo, RequestResult)          {}
func (NoopHooks) OnRetry(context.Context, RequestInfo, int, time.Duration, error)   {}
func (NoopHooks) OnCacheLookup(string, bool)                                        {}
