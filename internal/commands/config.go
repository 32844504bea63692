package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taxdesk/taxdesk-cli/internal/appctx"
	"github.com/taxdesk/taxdesk-cli/internal/config"
	"github.com/taxdesk/taxdesk-cli/internal/output"
)

// localConfigPath is the per-project config file, relative to the working
// directory.
var localConfigPath = filepath.Join(".taxdesk", "config.yaml")

// authorityKeys may only be set in the global config.
var authorityKeys = []string{"base_url", "token"}

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage taxdesk configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > .env > local > global > defaults

Config locations:
  - Global: ~/.config/taxdesk/config.yaml
  - Local:  .taxdesk/config.yaml (base_url and token are ignored here)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
	)
	return cmd
}

// configEntry is one row of config show.
type configEntry struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Source string `json:"source"`
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information. The token is masked.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app := appctx.FromContext(cmd.Context())

	values := app.Config.Redacted()
	entries := make([]configEntry, 0, len(config.Keys))
	for _, key := range config.Keys {
		entries = append(entries, configEntry{
			Key:    key,
			Value:  values[key],
			Source: app.Config.Source(key),
		})
	}
	return app.OK(entries, output.WithSummary("Effective configuration"))
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize local config file",
		Long:  "Create a local .taxdesk/config.yaml file in the current directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			if _, err := os.Stat(localConfigPath); err == nil {
				return app.OK(map[string]any{
					"exists": true,
					"path":   localConfigPath,
				}, output.WithSummary("Config file already exists: "+localConfigPath))
			}
			if err := os.MkdirAll(filepath.Dir(localConfigPath), 0o700); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := atomicWriteFile(localConfigPath, []byte("{}\n")); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}
			return app.OK(map[string]any{
				"created": true,
				"path":    localConfigPath,
			}, output.WithSummary("Created: "+localConfigPath))
		},
	}
}

// configPathFor returns the file a set/unset targets.
func configPathFor(global bool) (path, scope string) {
	if global {
		return filepath.Join(config.GlobalConfigDir(), "config.yaml"), "global"
	}
	return localConfigPath, "local"
}

// readConfigFile loads path as a generic map; a missing or invalid file
// starts empty.
func readConfigFile(path string) map[string]any {
	data := make(map[string]any)
	if raw, err := os.ReadFile(path); err == nil { //nolint:gosec // G304: Path is from trusted config location
		_ = yaml.Unmarshal(raw, &data)
	}
	return data
}

func writeConfigFile(path string, data map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomicWriteFile(path, raw); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// parseConfigValue validates value for key and returns its YAML form.
func parseConfigValue(key, value string) (any, error) {
	switch key {
	case "request_timeout", "cache_ttl":
		d, err := config.ParseDuration(value)
		if err != nil || d <= 0 {
			return nil, output.ErrUsage(fmt.Sprintf("%s must be a positive duration (e.g. 15s)", key))
		}
		return d.String(), nil
	case "page_size":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > config.MaxPageSize {
			return nil, output.ErrUsage(fmt.Sprintf("page_size must be 1..%d", config.MaxPageSize))
		}
		return n, nil
	case "verbose":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 2 {
			return nil, output.ErrUsage("verbose must be 0, 1, or 2")
		}
		return n, nil
	case "format":
		if !slices.Contains([]string{"auto", "json", "styled", "quiet", "ids", "count"}, value) {
			return nil, output.ErrUsage("format must be auto, json, styled, quiet, ids or count")
		}
		return value, nil
	case "base_url":
		return config.NormalizeHost(value), nil
	default:
		return value, nil
	}
}

func newConfigSetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the local or global config file.

Valid keys: ` + strings.Join(config.Keys, ", ") + `
base_url and token can only be set with --global.
Put -- before a value that starts with a dash:
  taxdesk config set request_timeout -- -1s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			key, value := args[0], args[1]

			if !slices.Contains(config.Keys, key) {
				return output.ErrUsage(fmt.Sprintf("Invalid config key %q. Valid keys: %s", key, strings.Join(config.Keys, ", ")))
			}
			if !global && slices.Contains(authorityKeys, key) {
				return output.ErrUsageHint(key+" cannot be set in local config", "Use --global")
			}
			parsed, err := parseConfigValue(key, value)
			if err != nil {
				return err
			}

			path, scope := configPathFor(global)
			data := readConfigFile(path)
			data[key] = parsed
			if err := writeConfigFile(path, data); err != nil {
				return err
			}

			shown := fmt.Sprint(parsed)
			if key == "token" {
				shown = "********"
			}
			return app.OK(map[string]any{
				"key":    key,
				"value":  shown,
				"scope":  scope,
				"path":   path,
				"status": "set",
			}, output.WithSummary(fmt.Sprintf("Set %s = %s (%s)", key, shown, scope)))
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Set in global config (~/.config/taxdesk/)")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return output.ErrUsageHint(err.Error(), "Put -- before values starting with a dash")
	})
	return cmd
}

func newConfigUnsetCmd() *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			key := args[0]

			path, scope := configPathFor(global)
			data := readConfigFile(path)
			if _, ok := data[key]; !ok {
				return app.OK(map[string]any{
					"key":    key,
					"scope":  scope,
					"status": "not_set",
				}, output.WithSummary(fmt.Sprintf("%s is not set in %s config", key, scope)))
			}
			delete(data, key)
			if err := writeConfigFile(path, data); err != nil {
				return err
			}
			return app.OK(map[string]any{
				"key":    key,
				"scope":  scope,
				"path":   path,
				"status": "unset",
			}, output.WithSummary(fmt.Sprintf("Unset %s (%s)", key, scope)))
		},
	}

	cmd.Flags().BoolVar(&global, "global", false, "Unset from global config")
	return cmd
}

// atomicWriteFile writes data to a file atomically using temp+rename.
// Files are always created with 0600 permissions (owner read/write only).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Windows: rename fails when the destination exists.
	if err := os.Rename(tmpPath, path); err != nil && runtime.GOOS == "windows" {
		_ = os.Remove(path)
		return os.Rename(tmpPath, path)
	} else { //nolint:revive // two-branch rename pattern
		return err
	}
}
