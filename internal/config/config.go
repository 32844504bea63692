// Package config provides layered configuration loading.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the resolved configuration.
type Config struct {
	// API settings
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`
	TenantID string `yaml:"tenant_id"`

	// Request and cache behavior
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	PageSize       int           `yaml:"page_size"`
	CacheDir       string        `yaml:"cache_dir"`

	// Output settings
	Format  string `yaml:"format"`
	Verbose *int   `yaml:"verbose,omitempty"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `yaml:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceLocal   Source = "local"
	SourceDotenv  Source = "dotenv"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Defaults.
const (
	DefaultBaseURL        = "http://localhost:3000"
	DefaultRequestTimeout = 15 * time.Second
	DefaultCacheTTL       = 30 * time.Second
	DefaultPageSize       = 50
	MaxPageSize           = 500
)

// FlagOverrides holds command-line flag values. Zero values are ignored.
type FlagOverrides struct {
	Host     string
	Tenant   string
	Timeout  time.Duration
	CacheDir string
	Format   string
	EnvFile  string
}

// warnOut receives warnings about skipped config values.
var warnOut io.Writer = os.Stderr

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BaseURL:        DefaultBaseURL,
		RequestTimeout: DefaultRequestTimeout,
		CacheTTL:       DefaultCacheTTL,
		PageSize:       DefaultPageSize,
		CacheDir:       DefaultCacheDir(),
		Format:         "auto",
		Sources:        make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > .env > local > global > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	loadFromFile(cfg, globalConfigPath(), SourceGlobal)
	for _, path := range localConfigPaths() {
		loadFromFile(cfg, path, SourceLocal)
	}

	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := LoadDotenv(cfg, envFile); err != nil {
		return nil, err
	}
	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return // File doesn't exist, skip
	}

	var fileCfg map[string]any
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(warnOut, "warning: skipping malformed config at %s: %v\n", path, err)
		return
	}

	// Authority keys decide where the bearer token goes. A config file
	// checked into a working directory must not redirect it.
	untrusted := source == SourceLocal

	for _, key := range []string{"base_url", "token"} {
		v, ok := fileCfg[key].(string)
		if !ok || v == "" {
			continue
		}
		if untrusted {
			fmt.Fprintf(warnOut, "warning: ignoring %s from %s config at %s (authority keys are not trusted from local config)\n", key, source, path)
			continue
		}
		if key == "base_url" {
			cfg.BaseURL = NormalizeBaseURL(v)
		} else {
			cfg.Token = v
		}
		cfg.Sources[key] = string(source)
	}

	if v := getStringOrNumber(fileCfg, "tenant_id"); v != "" {
		cfg.TenantID = v
		cfg.Sources["tenant_id"] = string(source)
	}
	if v, ok := fileCfg["cache_dir"].(string); ok && v != "" {
		cfg.CacheDir = v
		cfg.Sources["cache_dir"] = string(source)
	}
	if v, ok := fileCfg["format"].(string); ok && v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(source)
	}
	if d, ok := fileDuration(fileCfg, "request_timeout", path); ok {
		cfg.RequestTimeout = d
		cfg.Sources["request_timeout"] = string(source)
	}
	if d, ok := fileDuration(fileCfg, "cache_ttl", path); ok {
		cfg.CacheTTL = d
		cfg.Sources["cache_ttl"] = string(source)
	}
	if v, ok := fileCfg["page_size"].(int); ok && v > 0 {
		cfg.PageSize = v
		cfg.Sources["page_size"] = string(source)
	}
	if v, ok := fileCfg["verbose"].(int); ok && v >= 0 && v <= 2 {
		cfg.Verbose = &v
		cfg.Sources["verbose"] = string(source)
	}
}

// fileDuration reads a duration written as "15s" or as whole seconds.
func fileDuration(m map[string]any, key, path string) (time.Duration, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	var d time.Duration
	var err error
	switch val := v.(type) {
	case int:
		d = time.Duration(val) * time.Second
	case string:
		d, err = ParseDuration(val)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil || d <= 0 {
		fmt.Fprintf(warnOut, "warning: ignoring %s %v in %s\n", key, v, path)
		return 0, false
	}
	return d, true
}

// ParseDuration accepts Go durations ("1m30s") and bare integers, read as
// seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// LoadDotenv applies TAXDESK_* values from a dotenv file. A missing file is
// not an error. Values here lose to the real environment.
func LoadDotenv(cfg *Config, path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	applyEnv(cfg, func(key string) string { return values[key] }, SourceDotenv)
	return nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	applyEnv(cfg, os.Getenv, SourceEnv)
}

func applyEnv(cfg *Config, getenv func(string) string, source Source) {
	if v := getenv("TAXDESK_BASE_URL"); v != "" {
		cfg.BaseURL = NormalizeBaseURL(v)
		cfg.Sources["base_url"] = string(source)
	}
	if v := getenv("TAXDESK_TOKEN"); v != "" {
		cfg.Token = v
		cfg.Sources["token"] = string(source)
	}
	if v := getenv("TAXDESK_TENANT_ID"); v != "" {
		cfg.TenantID = v
		cfg.Sources["tenant_id"] = string(source)
	}
	if v := getenv("TAXDESK_TIMEOUT"); v != "" {
		if d, err := ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
			cfg.Sources["request_timeout"] = string(source)
		}
	}
	if v := getenv("TAXDESK_CACHE_TTL"); v != "" {
		if d, err := ParseDuration(v); err == nil && d > 0 {
			cfg.CacheTTL = d
			cfg.Sources["cache_ttl"] = string(source)
		}
	}
	if v := getenv("TAXDESK_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PageSize = n
			cfg.Sources["page_size"] = string(source)
		}
	}
	if v := getenv("TAXDESK_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
		cfg.Sources["cache_dir"] = string(source)
	}
	if v := getenv("TAXDESK_FORMAT"); v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(source)
	}
	if v := getenv("TAXDESK_DEBUG"); v != "" {
		if n, ok := parseEnvVerbose(v); ok {
			cfg.Verbose = &n
			cfg.Sources["verbose"] = string(source)
		}
	}
}

// parseEnvVerbose maps TAXDESK_DEBUG to a verbosity level.
// "true"/"1" is 1, "2" is 2, "false"/"0" is 0. Anything else is ignored.
func parseEnvVerbose(v string) (int, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1":
		return 1, true
	case "2":
		return 2, true
	case "false", "0":
		return 0, true
	default:
		return 0, false
	}
}

// getStringOrNumber extracts a value that may be either a string or number.
func getStringOrNumber(m map[string]any, key string) string {
	switch val := m[key].(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.Host != "" {
		cfg.BaseURL = NormalizeHost(o.Host)
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if o.Tenant != "" {
		cfg.TenantID = o.Tenant
		cfg.Sources["tenant_id"] = string(SourceFlag)
	}
	if o.Timeout > 0 {
		cfg.RequestTimeout = o.Timeout
		cfg.Sources["request_timeout"] = string(SourceFlag)
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
		cfg.Sources["cache_dir"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
}

// Source returns where key was set, "default" when never overridden.
func (cfg *Config) Source(key string) string {
	if s, ok := cfg.Sources[key]; ok {
		return s
	}
	return string(SourceDefault)
}

// Validate reports settings that make the client unusable.
func (cfg *Config) Validate() error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("base_url is not set")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return fmt.Errorf("base_url %q must start with http:// or https://", cfg.BaseURL)
	}
	if cfg.PageSize < 1 || cfg.PageSize > MaxPageSize {
		return fmt.Errorf("page_size %d out of range 1..%d", cfg.PageSize, MaxPageSize)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// Redacted returns the settings for display with the token masked.
func (cfg *Config) Redacted() map[string]any {
	token := ""
	if cfg.Token != "" {
		token = "********"
		if len(cfg.Token) > 8 {
			token = cfg.Token[:4] + "…" + cfg.Token[len(cfg.Token)-2:]
		}
	}
	verbose := 0
	if cfg.Verbose != nil {
		verbose = *cfg.Verbose
	}
	return map[string]any{
		"base_url":        cfg.BaseURL,
		"token":           token,
		"tenant_id":       cfg.TenantID,
		"request_timeout": cfg.RequestTimeout.String(),
		"cache_ttl":       cfg.CacheTTL.String(),
		"page_size":       cfg.PageSize,
		"cache_dir":       cfg.CacheDir,
		"format":          cfg.Format,
		"verbose":         verbose,
	}
}

// Keys lists every setting in display order.
var Keys = []string{
	"base_url", "token", "tenant_id", "request_timeout", "cache_ttl",
	"page_size", "cache_dir", "format", "verbose",
}

// Path helpers

// DefaultCacheDir returns $XDG_CACHE_HOME/taxdesk or ~/.cache/taxdesk.
func DefaultCacheDir() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "taxdesk")
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "taxdesk")
}

func globalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.yaml")
}

// localConfigPaths returns .taxdesk/config.yaml paths from the trust
// boundary down to the working directory, so closer files override.
//
// Inside a git repository the boundary is the repository root; outside
// one only the working directory itself is read.
func localConfigPaths() []string {
	dir, err := os.Getwd()
	if err != nil {
		return nil
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	boundary := repoRoot(dir)
	if boundary == "" {
		boundary = dir
	}

	var paths []string
	for {
		p := filepath.Join(dir, ".taxdesk", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
		parent := filepath.Dir(dir)
		if parent == dir || dir == boundary {
			break
		}
		dir = parent
	}

	for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
		paths[i], paths[j] = paths[j], paths[i]
	}
	return paths
}

// repoRoot walks up from dir looking for .git without leaving $HOME.
func repoRoot(dir string) string {
	home, _ := os.UserHomeDir()
	if resolved, err := filepath.EvalSymlinks(home); err == nil {
		home = resolved
	}
	if home != "" && !isInsideDir(dir, home) {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir || (home != "" && dir == home) {
			return ""
		}
		dir = parent
	}
}

// isInsideDir reports whether child is the same as or a subdirectory of parent.
func isInsideDir(child, parent string) bool {
	if child == parent {
		return true
	}
	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(child, prefix)
}
