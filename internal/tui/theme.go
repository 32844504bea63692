// Package tui provides the interactive user browser and confirmation
// prompts.
package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

// Theme defines the color palette for the TUI.
type Theme struct {
	Primary    lipgloss.AdaptiveColor
	Secondary  lipgloss.AdaptiveColor
	Success    lipgloss.AdaptiveColor
	Warning    lipgloss.AdaptiveColor
	Error      lipgloss.AdaptiveColor
	Muted      lipgloss.AdaptiveColor
	Foreground lipgloss.AdaptiveColor
	Border     lipgloss.AdaptiveColor
}

// DefaultTheme returns the default taxdesk theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:    lipgloss.AdaptiveColor{Light: "#0b6e4f", Dark: "#5fd3a6"},
		Secondary:  lipgloss.AdaptiveColor{Light: "#5f6368", Dark: "#9aa0a6"},
		Success:    lipgloss.AdaptiveColor{Light: "#1e8e3e", Dark: "#81c995"},
		Warning:    lipgloss.AdaptiveColor{Light: "#f9ab00", Dark: "#fdd663"},
		Error:      lipgloss.AdaptiveColor{Light: "#d93025", Dark: "#f28b82"},
		Muted:      lipgloss.AdaptiveColor{Light: "#80868b", Dark: "#6e7681"},
		Foreground: lipgloss.AdaptiveColor{Light: "#202124", Dark: "#e8eaed"},
		Border:     lipgloss.AdaptiveColor{Light: "#dadce0", Dark: "#3c4043"},
	}
}

// NoColorTheme returns a theme with empty colors. Lipgloss renders empty
// colors as plain text.
func NoColorTheme() Theme {
	return Theme{}
}

// ResolveTheme picks the palette:
//  1. NO_COLOR set: no colors
//  2. TAXDESK_THEME: path to a colors.yaml file
//  3. ~/.config/taxdesk/theme.yaml
//  4. the default theme
func ResolveTheme() Theme {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return NoColorTheme()
	}
	if path := os.Getenv("TAXDESK_THEME"); path != "" {
		if theme, err := LoadThemeFromFile(path); err == nil {
			return theme
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if theme, err := LoadThemeFromFile(filepath.Join(home, ".config", "taxdesk", "theme.yaml")); err == nil {
			return theme
		}
	}
	return DefaultTheme()
}

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// themeFile is the on-disk palette. Unset or invalid colors keep the
// default.
type themeFile struct {
	Primary    string `yaml:"primary"`
	Secondary  string `yaml:"secondary"`
	Success    string `yaml:"success"`
	Warning    string `yaml:"warning"`
	Error      string `yaml:"error"`
	Muted      string `yaml:"muted"`
	Foreground string `yaml:"foreground"`
	Border     string `yaml:"border"`
}

// LoadThemeFromFile reads a YAML palette on top of the default theme.
func LoadThemeFromFile(path string) (Theme, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path from trusted config
	if err != nil {
		return Theme{}, err
	}
	var tf themeFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return Theme{}, fmt.Errorf("parse theme %s: %w", path, err)
	}

	theme := DefaultTheme()
	set := func(dst *lipgloss.AdaptiveColor, hex string) {
		if hexColor.MatchString(hex) {
			*dst = lipgloss.AdaptiveColor{Light: hex, Dark: hex}
		}
	}
	set(&theme.Primary, tf.Primary)
	set(&theme.Secondary, tf.Secondary)
	set(&theme.Success, tf.Success)
	set(&theme.Warning, tf.Warning)
	set(&theme.Error, tf.Error)
	set(&theme.Muted, tf.Muted)
	set(&theme.Foreground, tf.Foreground)
	set(&theme.Border, tf.Border)
	return theme, nil
}
