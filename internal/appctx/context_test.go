package appctx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxdesk/taxdesk-cli/internal/config"
	"github.com/taxdesk/taxdesk-cli/internal/filter"
	"github.com/taxdesk/taxdesk-cli/internal/mutation"
	"github.com/taxdesk/taxdesk-cli/internal/output"
	"github.com/taxdesk/taxdesk-cli/internal/users"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.CacheDir = t.TempDir()
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, flags GlobalFlags) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := NewApp(cfg, flags, WithStdout(&stdout), WithStderr(&stderr))
	t.Cleanup(app.Close)
	return app, &stdout, &stderr
}

func TestNewAppWiresComponents(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t, "http://api.test/"), GlobalFlags{})

	assert.NotNil(t, app.Client)
	assert.NotNil(t, app.Cache)
	assert.NotNil(t, app.Users)
	assert.NotNil(t, app.Mutations)
	assert.NotNil(t, app.Cooldown)
	assert.NotNil(t, app.Output)
	assert.NotNil(t, app.Logger)
	assert.NotNil(t, app.Collector)
	assert.NotNil(t, app.Hooks)

	assert.Equal(t, "http://api.test/api/admin/users", app.UsersURL())
	assert.Equal(t, "http://api.test/api/admin/users/u%2F1", app.UserURL("u/1"))
}

func TestWithAppAndFromContext(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t, "http://api.test"), GlobalFlags{})

	ctx := WithApp(context.Background(), app)
	assert.Same(t, app, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}

func TestFormatPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		flags  GlobalFlags
		format string
		want   output.Format
	}{
		{"config default", GlobalFlags{}, "auto", output.FormatAuto},
		{"config json", GlobalFlags{}, "json", output.FormatJSON},
		{"json flag", GlobalFlags{JSON: true}, "styled", output.FormatJSON},
		{"quiet beats json", GlobalFlags{JSON: true, Quiet: true}, "", output.FormatQuiet},
		{"ids only", GlobalFlags{IDsOnly: true}, "", output.FormatIDs},
		{"count", GlobalFlags{Count: true}, "", output.FormatCount},
		{"styled", GlobalFlags{Styled: true}, "json", output.FormatStyled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http://api.test")
			cfg.Format = tt.format
			app, _, _ := newTestApp(t, cfg, tt.flags)
			assert.Equal(t, tt.want, app.Output.Format())
		})
	}
}

func TestVerboseLevelTakesMaximum(t *testing.T) {
	cfg := testConfig(t, "http://api.test")
	two := 2
	cfg.Verbose = &two

	app, _, _ := newTestApp(t, cfg, GlobalFlags{Verbose: 1})
	assert.Equal(t, 2, app.Hooks.Level())

	app, _, _ = newTestApp(t, testConfig(t, "http://api.test"), GlobalFlags{Verbose: 1})
	assert.Equal(t, 1, app.Hooks.Level())
}

func TestOKIncludesStats(t *testing.T) {
	app, stdout, _ := newTestApp(t, testConfig(t, "http://api.test"), GlobalFlags{JSON: true, Stats: true})

	require.NoError(t, app.OK(map[string]any{"id": "u1"}))

	var resp output.Response
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
	stats, ok := resp.Meta["stats"].(map[string]any)
	require.True(t, ok, "meta.stats missing: %s", stdout.String())
	assert.Contains(t, stats, "requests")
	assert.Contains(t, stats, "cache_hits")
}

func TestOKWithoutStats(t *testing.T) {
	app, stdout, _ := newTestApp(t, testConfig(t, "http://api.test"), GlobalFlags{JSON: true})

	require.NoError(t, app.OK([]string{"a"}))
	assert.NotContains(t, stdout.String(), "stats")
}

func TestErrPrintsStatsLine(t *testing.T) {
	app, stdout, stderr := newTestApp(t, testConfig(t, "http://api.test"), GlobalFlags{JSON: true, Stats: true})

	require.NoError(t, app.Err(output.ErrNotFound("user", "u9")))

	assert.Contains(t, stdout.String(), `"code": "not_found"`)
	assert.Contains(t, stderr.String(), "Stats: ")
}

func TestErrSkipsStatsInQuietMode(t *testing.T) {
	app, _, stderr := newTestApp(t, testConfig(t, "http://api.test"), GlobalFlags{Quiet: true, Stats: true})

	require.NoError(t, app.Err(output.ErrUsage("bad")))
	assert.NotContains(t, stderr.String(), "Stats:")
}

func TestIsInteractiveFalseForBuffers(t *testing.T) {
	app, _, _ := newTestApp(t, testConfig(t, "http://api.test"), GlobalFlags{})
	assert.False(t, app.IsInteractive())
}

func TestServicesShareCacheAndHeaders(t *testing.T) {
	var hits atomic.Int32
	var tenant, auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		tenant.Store(r.Header.Get("X-Tenant-ID"))
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"users":[{"id":"u1","name":"Ada"}],"pagination":{"page":1,"limit":50,"total":1,"pages":1}}`))
		default:
			_, _ = w.Write([]byte(`{"id":"u2"}`))
		}
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Token = "secret-token"
	cfg.TenantID = "acme"
	app, _, _ := newTestApp(t, cfg, GlobalFlags{})
	ctx := context.Background()

	list, err := app.Users.FetchUsers(ctx, 1, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "acme", tenant.Load())
	assert.Equal(t, "Bearer secret-token", auth.Load())

	_, err = app.Users.FetchUsers(ctx, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second call served from cache")
	assert.Equal(t, 1, app.Collector.Summary().CacheHits)

	res := app.Mutations.Submit(ctx, mutation.Request{
		Method:     http.MethodPost,
		URL:        app.UsersURL(),
		Body:       map[string]string{"name": "Grace"},
		Invalidate: []mutation.Invalidation{mutation.Prefix(users.KeyPrefix)},
	})
	require.True(t, res.OK, res.Error)
	assert.Zero(t, app.Cache.Len(), "mutation drops cached pages")

	hook := app.NewFilterHook(filter.Defaults())
	require.NoError(t, hook.Refresh(ctx))
	assert.Len(t, hook.State().Users, 1)
}
