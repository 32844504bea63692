// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"go.uber.org/zap"

	"github.com/taxdesk/taxdesk-cli/internal/cache"
	"github.com/taxdesk/taxdesk-cli/internal/clock"
	"github.com/taxdesk/taxdesk-cli/internal/config"
	"github.com/taxdesk/taxdesk-cli/internal/fetch"
	"github.com/taxdesk/taxdesk-cli/internal/filter"
	"github.com/taxdesk/taxdesk-cli/internal/mutation"
	"github.com/taxdesk/taxdesk-cli/internal/observability"
	"github.com/taxdesk/taxdesk-cli/internal/output"
	"github.com/taxdesk/taxdesk-cli/internal/resilience"
	"github.com/taxdesk/taxdesk-cli/internal/users"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// UsersPath is the admin listing endpoint relative to the base URL.
const UsersPath = "/api/admin/users"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config

	// Data access
	Client    *fetch.Client
	Cache     *cache.Cache
	Users     *users.Service
	Mutations *mutation.Helper
	Cooldown  *resilience.Cooldown

	Output *output.Writer
	Logger *zap.Logger

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	stdout     io.Writer
	stderr     io.Writer
	clock      clock.Clock
	httpClient *http.Client
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON    bool
	Quiet   bool
	Styled  bool // Force ANSI styled output (even when piped)
	IDsOnly bool
	Count   bool

	// Connection flags
	Host     string
	Tenant   string
	Timeout  time.Duration
	CacheDir string
	EnvFile  string

	// Behavior flags
	Verbose int
	Stats   bool
}

// Overrides converts the connection flags into config overrides.
func (f GlobalFlags) Overrides() config.FlagOverrides {
	return config.FlagOverrides{
		Host:     f.Host,
		Tenant:   f.Tenant,
		Timeout:  f.Timeout,
		CacheDir: f.CacheDir,
		EnvFile:  f.EnvFile,
	}
}

// MachineOutput reports whether a flag selects programmatic output.
func (f GlobalFlags) MachineOutput() bool {
	return f.JSON || f.Quiet || f.IDsOnly || f.Count
}

// Option customizes App construction.
type Option func(*App)

// WithStdout redirects command output.
func WithStdout(w io.Writer) Option {
	return func(a *App) { a.stdout = w }
}

// WithStderr redirects logs, traces and stats.
func WithStderr(w io.Writer) Option {
	return func(a *App) { a.stderr = w }
}

// WithClock sets the clock used for cache expiry and backoff.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithHTTPClient replaces the transport of the fetch client.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// NewApp wires every component from cfg and flags.
func NewApp(cfg *config.Config, flags GlobalFlags, opts ...Option) *App {
	a := &App{
		Config:    cfg,
		Flags:     flags,
		Collector: observability.NewSessionCollector(),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(a)
	}

	level := a.verboseLevel()
	a.Logger = observability.NewLogger(level, a.stderr)
	a.Hooks = observability.NewCLIHooks(level, a.Collector, observability.NewTraceWriterTo(a.stderr))

	clientOpts := []fetch.Option{
		fetch.WithBearerToken(cfg.Token),
		fetch.WithTenant(cfg.TenantID),
		fetch.WithHooks(a.Hooks),
		fetch.WithLogger(a.Logger.Named("fetch")),
	}
	if a.httpClient != nil {
		clientOpts = append(clientOpts, fetch.WithHTTPClient(a.httpClient))
	}
	a.Client = fetch.New(clientOpts...)

	a.Cache = cache.New(cache.WithClock(a.clock))
	a.Cooldown = resilience.NewCooldown(
		resilience.NewStore(filepath.Join(cfg.CacheDir, resilience.DefaultDirName)),
		a.clock,
	)
	userOpts := []users.Option{
		users.WithClock(a.clock),
		users.WithLogger(a.Logger.Named("users")),
		users.WithHooks(a.Hooks),
		users.WithCooldown(a.Cooldown),
		users.WithCacheTTL(cfg.CacheTTL),
	}
	// Listing attempts keep their own default unless a timeout was configured.
	if cfg.Source("request_timeout") != string(config.SourceDefault) {
		userOpts = append(userOpts, users.WithAttemptTimeout(cfg.RequestTimeout))
	}
	a.Users = users.New(a.Client, a.Cache, a.UsersURL(), userOpts...)
	a.Mutations = mutation.New(a.Client, a.Cache, mutation.WithLogger(a.Logger.Named("mutation")))
	a.Output = output.New(output.Options{Format: a.format(), Writer: a.stdout})
	return a
}

// verboseLevel is the larger of -v and the config/env verbosity.
func (a *App) verboseLevel() int {
	level := a.Flags.Verbose
	if a.Config != nil && a.Config.Verbose != nil && *a.Config.Verbose > level {
		level = *a.Config.Verbose
	}
	return level
}

// format picks the output format. Flags win over the configured format.
func (a *App) format() output.Format {
	switch {
	case a.Flags.Quiet:
		return output.FormatQuiet
	case a.Flags.IDsOnly:
		return output.FormatIDs
	case a.Flags.Count:
		return output.FormatCount
	case a.Flags.JSON:
		return output.FormatJSON
	case a.Flags.Styled:
		return output.FormatStyled
	}
	if a.Config != nil {
		return output.ParseFormat(a.Config.Format)
	}
	return output.FormatAuto
}

// UsersURL is the absolute users endpoint.
func (a *App) UsersURL() string {
	return strings.TrimRight(a.Config.BaseURL, "/") + UsersPath
}

// UserURL is the endpoint of a single user.
func (a *App) UserURL(id string) string {
	return a.UsersURL() + "/" + url.PathEscape(id)
}

// NewFilterHook creates a filtered listing over the users endpoint.
func (a *App) NewFilterHook(initial filter.Filters) *filter.Hook {
	return filter.NewHook(a.Client, a.UsersURL(), initial,
		filter.WithTimeout(a.Config.RequestTimeout),
		filter.WithLogger(a.Logger.Named("filter")),
	)
}

// Stdout is where command output goes.
func (a *App) Stdout() io.Writer { return a.stdout }

// Stderr is where logs, traces and stats go.
func (a *App) Stderr() io.Writer { return a.stderr }

// Clock is the session clock.
func (a *App) Clock() clock.Clock { return a.clock }

// OK outputs a success response, automatically including stats if --stats flag is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		opts = append(opts, output.WithMeta("stats", a.Collector.Stats()))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats flag is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}
	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		stats := a.Collector.Summary()
		a.printStats(&stats)
	}
	return nil
}

// Close aborts pending fetches and flushes the logger.
func (a *App) Close() {
	if a.Users != nil {
		a.Users.Abort()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
func (a *App) isMachineOutput() bool {
	if a.Flags.Quiet || a.Flags.IDsOnly || a.Flags.Count {
		return true
	}
	return a.Config != nil && a.Config.Format == "quiet"
}

// printStats outputs a compact stats line to stderr.
func (a *App) printStats(stats *observability.SessionMetrics) {
	var parts []string

	duration := stats.EndTime.Sub(stats.StartTime)
	if duration < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", duration.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", duration.Seconds()))
	}
	if n := stats.TotalRequests; n > 0 {
		parts = append(parts, plural(n, "request", "requests"))
	}
	if stats.CacheHits > 0 {
		parts = append(parts, fmt.Sprintf("%d cached", stats.CacheHits))
	}
	if n := stats.TotalRetries; n > 0 {
		parts = append(parts, plural(n, "retry", "retries"))
	}
	if stats.FailedRequests > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", stats.FailedRequests))
	}
	fmt.Fprintf(a.stderr, "\nStats: %s\n", strings.Join(parts, " | "))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}

// IsInteractive returns true if the terminal supports interactive TUI.
func (a *App) IsInteractive() bool {
	if a.Flags.MachineOutput() {
		return false
	}
	f, ok := a.stdout.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	if ctx == nil {
		return nil
	}
	app, _ := ctx.Value(appKey).(*App)
	return app
}
