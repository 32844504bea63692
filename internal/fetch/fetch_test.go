package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk-cli/internal/output"
)

func TestDoSuccessJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"users":[{"id":"u1"}]}`)
	}))
	defer srv.Close()

	res := New().Do(context.Background(), srv.URL+"/api/admin/users", Options{})

	require.True(t, res.OK, res.Error)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.JSONEq(t, `{"users":[{"id":"u1"}]}`, string(res.Data))
	assert.Nil(t, res.Err)

	var body struct {
		Users []struct{ ID string } `json:"users"`
	}
	require.NoError(t, res.Decode(&body))
	assert.Equal(t, "u1", body.Users[0].ID)
}

func TestDoNonJSONBodyIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>ok</html>")
	}))
	defer srv.Close()

	res := New().Get(context.Background(), srv.URL)

	assert.True(t, res.OK)
	assert.Nil(t, res.Data)
	assert.Equal(t, "<html>ok</html>", string(res.Body))
	assert.Error(t, res.Decode(&struct{}{}))
}

func TestDoEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := New().Do(context.Background(), srv.URL, Options{Method: http.MethodDelete})

	assert.True(t, res.OK)
	assert.Equal(t, http.StatusNoContent, res.Status)
	assert.Nil(t, res.Data)
}

func TestDoRawSkipsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"a":1}`)
	}))
	defer srv.Close()

	res := New().Do(context.Background(), srv.URL, Options{Raw: true})

	assert.True(t, res.OK)
	assert.Nil(t, res.Data)
	assert.Equal(t, `{"a":1}`, string(res.Body))
}

func TestDoHTTPErrorUsesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"Email already in use"}`)
	}))
	defer srv.Close()

	res := New().Get(context.Background(), srv.URL)

	assert.False(t, res.OK)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
	assert.Equal(t, "Email already in use", res.Error)
	e := output.AsError(res.Err)
	assert.Equal(t, output.CodeAPI, e.Code)
	assert.False(t, e.Retryable)
}

func TestDoHTTPErrorFieldFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"Tenant mismatch"}`)
	}))
	defer srv.Close()

	res := New().Get(context.Background(), srv.URL)

	assert.Equal(t, "Tenant mismatch", res.Error)
	assert.Equal(t, output.CodeForbidden, output.AsError(res.Err).Code)
}

func TestDoHTTPErrorGenericMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer srv.Close()

	res := New().Get(context.Background(), srv.URL)

	assert.False(t, res.OK)
	assert.Equal(t, 502, res.Status)
	assert.Equal(t, "HTTP 502", res.Error)
	assert.True(t, output.AsError(res.Err).Retryable)
}

func TestDoTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	res := New().Do(context.Background(), srv.URL, Options{Timeout: 30 * time.Millisecond})

	assert.False(t, res.OK)
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, MsgTimedOut, res.Error)
	assert.Equal(t, output.CodeNetwork, output.AsError(res.Err).Code)
	assert.Equal(t, int32(1), hits.Load(), "no retry inside Do")
}

func TestDoCanceledByCaller(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res := New().Do(ctx, srv.URL, Options{})

	assert.False(t, res.OK)
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, MsgCanceled, res.Error)
	assert.True(t, output.IsCanceled(res.Err))
}

func TestDoNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := New().Get(context.Background(), url)

	assert.False(t, res.OK)
	assert.Equal(t, 0, res.Status)
	assert.NotEmpty(t, res.Error)
	assert.NotEqual(t, MsgTimedOut, res.Error)
	assert.Equal(t, output.CodeNetwork, output.AsError(res.Err).Code)
}

func TestDoSendsHeaders(t *testing.T) {
	var got http.Header
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := New(WithBearerToken("secret"), WithTenant("tenant-42"))
	res := c.Do(context.Background(), srv.URL, Options{
		Method:  http.MethodPost,
		Body:    []byte(`{"name":"Ada"}`),
		Headers: http.Header{"X-Extra": []string{"1"}},
	})

	require.True(t, res.OK)
	assert.Equal(t, "Bearer secret", got.Get("Authorization"))
	assert.Equal(t, "tenant-42", got.Get("X-Tenant-ID"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "1", got.Get("X-Extra"))
	assert.NotEmpty(t, got.Get("X-Request-ID"))
	assert.Contains(t, got.Get("User-Agent"), "taxdesk-cli/")
	assert.Equal(t, `{"name":"Ada"}`, body)
}

func TestDoEmptyOptionsSkipHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	New(WithBearerToken(""), WithTenant("")).Get(context.Background(), srv.URL)

	assert.Empty(t, got.Get("Authorization"))
	assert.Empty(t, got.Get("X-Tenant-ID"))
}

type recordingHooks struct {
	NoopHooks
	mu     sync.Mutex
	starts []RequestInfo
	ends   []RequestResult
}

func (h *recordingHooks) OnRequestStart(ctx context.Context, info RequestInfo) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, info)
	return ctx
}

func (h *recordingHooks) OnRequestEnd(_ context.Context, _ RequestInfo, res RequestResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, res)
}

func TestDoInvokesHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	hooks := &recordingHooks{}
	New(WithHooks(hooks)).Do(context.Background(), srv.URL, Options{Attempt: 2})

	require.Len(t, hooks.starts, 1)
	require.Len(t, hooks.ends, 1)
	assert.Equal(t, http.MethodGet, hooks.starts[0].Method)
	assert.Equal(t, 2, hooks.starts[0].Attempt)
	assert.Equal(t, http.StatusTeapot, hooks.ends[0].StatusCode)
	assert.Error(t, hooks.ends[0].Err)
}

func TestDoInvalidURL(t *testing.T) {
	res := New().Get(context.Background(), "://bad")
	assert.False(t, res.OK)
	assert.Equal(t, 0, res.Status)
	assert.Equal(t, output.CodeUsage, output.AsError(res.Err).Code)
}

func TestDoRateLimitedReadsRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := New().Get(context.Background(), srv.URL)

	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	e := output.AsError(res.Err)
	assert.Equal(t, output.CodeRateLimit, e.Code)
	assert.Equal(t, "Try again in 7 seconds", e.Hint)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 3, retryAfterSeconds(" 3 "))
	assert.Equal(t, 0, retryAfterSeconds("Wed, 21 Oct 2026 07:28:00 GMT"))
	assert.Equal(t, 0, retryAfterSeconds("-4"))
}
