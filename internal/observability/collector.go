// Package observability collects request metrics and writes request traces
// and structured logs for a CLI session.
package observability

import (
	"sync"
	"time"

	"github.com/taxdesk/taxdesk-cli/internal/fetch"
	"github.com/taxdesk/taxdesk-cli/internal/output"
)

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime      time.Time
	EndTime        time.Time
	TotalRequests  int
	FailedRequests int
	Canceled       int
	CacheHits      int
	CacheMisses    int
	TotalRetries   int
	TotalLatency   time.Duration
}

// AverageLatency is the mean request duration, zero without requests.
func (m SessionMetrics) AverageLatency() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.TotalRequests)
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use and keeps counters only.
type SessionCollector struct {
	mu sync.Mutex

	startTime      time.Time
	totalRequests  int
	failedRequests int
	canceled       int
	cacheHits      int
	cacheMisses    int
	totalRetries   int
	totalLatency   time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{startTime: time.Now()}
}

// RecordRequest records one completed HTTP request.
func (c *SessionCollector) RecordRequest(_ fetch.RequestInfo, result fetch.RequestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += result.Duration
	switch {
	case output.IsCanceled(result.Err):
		c.canceled++
	case result.Err != nil:
		c.failedRequests++
	}
}

// RecordCacheLookup records a response cache lookup.
func (c *SessionCollector) RecordCacheLookup(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
}

// RecordRetry records a retry event.
func (c *SessionCollector) RecordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:      c.startTime,
		EndTime:        time.Now(),
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		Canceled:       c.canceled,
		CacheHits:      c.cacheHits,
		CacheMisses:    c.cacheMisses,
		TotalRetries:   c.totalRetries,
		TotalLatency:   c.totalLatency,
	}
}

// Stats returns the summary in the shape rendered under meta.stats.
func (c *SessionCollector) Stats() map[string]any {
	m := c.Summary()
	return map[string]any{
		"requests":     m.TotalRequests,
		"failed":       m.FailedRequests,
		"canceled":     m.Canceled,
		"cache_hits":   m.CacheHits,
		"cache_misses": m.CacheMisses,
		"retries":      m.TotalRetries,
		"avg_latency":  m.AverageLatency().Round(time.Millisecond).String(),
		"elapsed":      m.EndTime.Sub(m.StartTime).Round(time.Millisecond).String(),
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.canceled = 0
	c.cacheHits = 0
	c.cacheMisses = 0
	c.totalRetries = 0
	c.totalLatency = 0
}
