package mutation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/taxdesk/taxdesk-cli/internal/cache"
	"github.com/taxdesk/taxdesk-cli/internal/fetch"
	"github.com/taxdesk/taxdesk-cli/internal/output"
)

func seeded() *cache.Cache {
	c := cache.New()
	for _, k := range []string{"users:page=1:limit=50", "users:page=2:limit=50", "tenants:page=1", "reports:2026"} {
		c.Set(k, k, time.Minute)
	}
	return c
}

func TestSubmitPostsJSONAndInvalidates(t *testing.T) {
	var gotMethod, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"user":{"id":"u7"}}`)
	}))
	defer srv.Close()

	c := seeded()
	h := New(fetch.New(), c)

	res := h.Submit(context.Background(), Request{
		Method:     "post",
		URL:        srv.URL + "/api/admin/users",
		Body:       map[string]string{"name": "Ada"},
		Invalidate: []Invalidation{Prefix("users:")},
	})

	require.True(t, res.OK, res.Error)
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.JSONEq(t, `{"name":"Ada"}`, gotBody)
	assert.Equal(t, []string{"reports:2026", "tenants:page=1"}, c.Keys())

	var body struct {
		User struct{ ID string } `json:"user"`
	}
	require.NoError(t, res.Decode(&body))
	assert.Equal(t, "u7", body.User.ID)
	assert.False(t, h.Saving())
}

func TestSubmitFailureKeepsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"message":"Email already in use"}`)
	}))
	defer srv.Close()

	c := seeded()
	h := New(fetch.New(), c)

	res := h.Submit(context.Background(), Request{
		Method:     http.MethodPost,
		URL:        srv.URL,
		Body:       map[string]string{"email": "dup@example.com"},
		Invalidate: Patterns("users"),
	})

	assert.False(t, res.OK)
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Equal(t, "Email already in use", res.Error)
	assert.Equal(t, 4, c.Len())
	assert.False(t, h.Saving())
}

func TestSubmitRejectsReadMethods(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	h := New(fetch.New(), nil)
	for _, m := range []string{"GET", "HEAD", ""} {
		res := h.Submit(context.Background(), Request{Method: m, URL: srv.URL})
		assert.False(t, res.OK, m)
		assert.Equal(t, 0, res.Status)
		assert.Equal(t, output.CodeUsage, output.AsError(res.Err).Code)
	}
	assert.Zero(t, hits.Load())
}

func TestSubmitRawBodies(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = append(got, string(b))
	}))
	defer srv.Close()

	h := New(fetch.New(), nil)
	ctx := context.Background()
	for _, body := range []any{[]byte("a=1"), "b=2", strings.NewReader("c=3")} {
		res := h.Submit(ctx, Request{
			Method:  http.MethodPut,
			URL:     srv.URL,
			Body:    body,
			Raw:     true,
			Headers: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		})
		require.True(t, res.OK, res.Error)
	}
	assert.Equal(t, []string{"a=1", "b=2", "c=3"}, got)

	res := h.Submit(ctx, Request{Method: http.MethodPut, URL: srv.URL, Body: 42, Raw: true})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "got int")
}

func TestSubmitUnencodableBody(t *testing.T) {
	h := New(fetch.New(), nil)
	res := h.Submit(context.Background(), Request{Method: http.MethodPost, URL: "http://unused", Body: make(chan int)})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "encode body")
}

func TestMalformedRegexpIsLoggedAndSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.DebugLevel)
	c := seeded()
	h := New(fetch.New(), c, WithLogger(zap.New(core)))

	res := h.Submit(context.Background(), Request{
		Method: http.MethodDelete,
		URL:    srv.URL + "/api/admin/users/u1",
		Invalidate: []Invalidation{
			Regexp("users:(page"),
			Regexp(`^tenants:`),
			Key("reports:2026"),
		},
	})

	require.True(t, res.OK)
	assert.Equal(t, []string{"users:page=1:limit=50", "users:page=2:limit=50"}, c.Keys())
	assert.Equal(t, 1, logs.FilterMessage("cache invalidation skipped").Len())
	assert.Equal(t, 2, logs.FilterMessage("cache invalidated").Len())
}

func TestSavingWhileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	defer srv.Close()

	h := New(fetch.New(), nil)
	assert.False(t, h.Saving())

	done := make(chan Result, 1)
	go func() {
		done <- h.Submit(context.Background(), Request{Method: http.MethodPatch, URL: srv.URL, Body: map[string]string{}})
	}()

	<-started
	assert.True(t, h.Saving())
	close(release)
	<-done
	assert.False(t, h.Saving())
}

func TestSavingClearsAfterError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	h := New(fetch.New(), nil)
	res := h.Submit(context.Background(), Request{Method: http.MethodPost, URL: url})
	assert.False(t, res.OK)
	assert.Equal(t, 0, res.Status)
	assert.False(t, h.Saving())
}

func TestInvalidationString(t *testing.T) {
	assert.Equal(t, "key:a", Key("a").String())
	assert.Equal(t, "pattern:b", Pattern("b").String())
	assert.Equal(t, "prefix:c", Prefix("c").String())
	assert.Equal(t, "regexp:d", Regexp("d").String())
	assert.Len(t, Keys("x", "y"), 2)
}
