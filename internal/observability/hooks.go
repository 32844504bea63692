package observability

import (
	"context"
	"sync"
	"time"

	"github.com/taxdesk/taxdesk-cli/internal/fetch"
)

// Verify CLIHooks implements fetch.Hooks at compile time.
var _ fetch.Hooks = (*CLIHooks)(nil)

// CLIHooks feeds request events to the collector and trace writer.
// Verbosity levels:
//   - 0: collect stats only
//   - 1: trace retries and cache lookups
//   - 2: also trace every HTTP request
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates hooks at level. A nil collector or writer is skipped.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{level: level, collector: collector, writer: writer}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) snapshot() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

func (h *CLIHooks) OnRequestStart(ctx context.Context, info fetch.RequestInfo) context.Context {
	level, _, writer := h.snapshot()
	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}
	return ctx
}

func (h *CLIHooks) OnRequestEnd(_ context.Context, info fetch.RequestInfo, result fetch.RequestResult) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRequest(info, result)
	}
	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(info, result)
	}
}

func (h *CLIHooks) OnRetry(_ context.Context, info fetch.RequestInfo, attempt int, delay time.Duration, err error) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRetry()
	}
	if level >= 1 && writer != nil {
		writer.WriteRetry(info, attempt, delay, err)
	}
}

func (h *CLIHooks) OnCacheLookup(key string, hit bool) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordCacheLookup(hit)
	}
	if level >= 1 && writer != nil {
		writer.WriteCacheLookup(key, hit)
	}
}
