package tui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Styles holds the styled components for the TUI.
type Styles struct {
	theme Theme

	Title   lipgloss.Style
	Muted   lipgloss.Style
	Body    lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Key     lipgloss.Style
	Chip    lipgloss.Style
	Table   table.Styles
}

// NewStyles creates styles from the resolved theme.
func NewStyles() *Styles {
	return NewStylesWithTheme(ResolveTheme())
}

// NewStylesWithTheme creates styles with a custom theme.
func NewStylesWithTheme(theme Theme) *Styles {
	s := &Styles{theme: theme}

	s.Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.Primary)

	s.Muted = lipgloss.NewStyle().
		Foreground(theme.Muted)

	s.Body = lipgloss.NewStyle().
		Foreground(theme.Foreground)

	s.Error = lipgloss.NewStyle().
		Foreground(theme.Error).
		Bold(true)

	s.Warning = lipgloss.NewStyle().
		Foreground(theme.Warning)

	s.Key = lipgloss.NewStyle().
		Foreground(theme.Primary).
		Bold(true)

	s.Chip = lipgloss.NewStyle().
		Foreground(theme.Secondary).
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(theme.Border).
		PaddingLeft(1).
		MarginRight(1)

	s.Table = table.DefaultStyles()
	s.Table.Header = s.Table.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.Border).
		BorderBottom(true).
		Bold(true)
	s.Table.Selected = s.Table.Selected.
		Foreground(lipgloss.Color("#ffffff")).
		Background(theme.Primary).
		Bold(false)

	return s
}

// Theme returns the current theme.
func (s *Styles) Theme() Theme {
	return s.theme
}

// RenderKeyHelp renders "key action" pairs for the help line.
func (s *Styles) RenderKeyHelp(pairs ...[2]string) string {
	out := ""
	for i, p := range pairs {
		if i > 0 {
			out += s.Muted.Render("  ")
		}
		out += s.Key.Render(p[0]) + " " + s.Muted.Render(p[1])
	}
	return out
}
