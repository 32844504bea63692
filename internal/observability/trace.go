package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/taxdesk/taxdesk-cli/internal/fetch"
)

// sensitiveParams are query parameter names scrubbed from trace output.
var sensitiveParams = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"password":      true,
	"secret":        true,
	"client_secret": true,
}

// TraceWriter outputs human-readable trace lines with timestamps relative to
// session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a TraceWriter on stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a TraceWriter on w.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{writer: w, startTime: time.Now()}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteRequestStart writes: [0.234s]   -> GET /api/admin/users?page=1
func (t *TraceWriter) WriteRequestStart(info fetch.RequestInfo) {
	t.printf("  -> %s %s", info.Method, scrubURL(info.URL))
}

// WriteRequestEnd writes: [0.234s]   <- 200 (45ms)
func (t *TraceWriter) WriteRequestEnd(_ fetch.RequestInfo, result fetch.RequestResult) {
	switch {
	case result.StatusCode == 0 && result.Err != nil:
		t.printf("  <- ERROR: %v", result.Err)
	case result.FromCache:
		t.printf("  <- %d (cached)", result.StatusCode)
	default:
		t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
	}
}

// WriteRetry writes: [0.234s]   RETRY #2 in 2s: Rate limited
func (t *TraceWriter) WriteRetry(_ fetch.RequestInfo, attempt int, delay time.Duration, err error) {
	t.printf("  RETRY #%d in %s: %v", attempt, delay, err)
}

// WriteCacheLookup writes: [0.234s] cache hit users:page=1:limit=50
func (t *TraceWriter) WriteCacheLookup(key string, hit bool) {
	verdict := "miss"
	if hit {
		verdict = "hit"
	}
	t.printf("cache %s %s", verdict, key)
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters. Unparseable URLs are not
// echoed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}
	if !modified {
		return rawURL
	}
	u.RawQuery = query.Encode()
	return u.String()
}
