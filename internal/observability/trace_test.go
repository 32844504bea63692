package observability

import (
	"bytes"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/taxdesk/taxdesk-cli/internal/fetch"
)

func TestTraceLineFormat(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)
	w.WriteRequestStart(fetch.RequestInfo{Method: "POST", URL: "http://x/api/admin/users"})

	assert.Regexp(t, regexp.MustCompile(`^\[\d+\.\d{3}s\]   -> POST http://x/api/admin/users\n$`), buf.String())
}

func TestTraceRequestEndVariants(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRequestEnd(fetch.RequestInfo{}, fetch.RequestResult{Err: errors.New("Request timed out")})
	w.WriteRequestEnd(fetch.RequestInfo{}, fetch.RequestResult{StatusCode: 200, FromCache: true})
	w.WriteRequestEnd(fetch.RequestInfo{}, fetch.RequestResult{StatusCode: 404, Duration: 12 * time.Millisecond, Err: errors.New("gone")})

	out := buf.String()
	assert.Contains(t, out, "<- ERROR: Request timed out")
	assert.Contains(t, out, "<- 200 (cached)")
	assert.Contains(t, out, "<- 404 (12ms)")
}

func TestScrubURL(t *testing.T) {
	assert.Equal(t, "http://x/a?page=1", scrubURL("http://x/a?page=1"))
	assert.Equal(t, "http://x/a?page=1&token=%5BREDACTED%5D", scrubURL("http://x/a?page=1&token=abc"))
	assert.Equal(t, "http://x/a?API_KEY=%5BREDACTED%5D", scrubURL("http://x/a?API_KEY=abc"))
	assert.Equal(t, "[unparseable URL]", scrubURL("http://x/%zz"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	quiet := NewLogger(0, &buf)
	quiet.Debug("hidden")
	quiet.Warn("shown", zap.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	loud := NewLogger(1, &buf)
	loud.Debug("retrying fetch", zap.Int("attempt", 2))
	assert.Contains(t, buf.String(), "retrying fetch")
	assert.Contains(t, buf.String(), "taxdesk")

	assert.NotPanics(t, func() { NewLogger(1, nil).Info("x") })
}
