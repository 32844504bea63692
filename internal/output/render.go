package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/term"
)

// Palette colors (ANSI 256).
const (
	colorPrimary = lipgloss.Color("39")
	colorMuted   = lipgloss.Color("245")
	colorError   = lipgloss.Color("203")
	colorText    = lipgloss.Color("252")
)

// Renderer handles styled terminal output.
type Renderer struct {
	width  int
	styled bool

	Summary   lipgloss.Style
	Muted     lipgloss.Style
	Data      lipgloss.Style
	Error     lipgloss.Style
	Hint      lipgloss.Style
	Header    lipgloss.Style
	Cell      lipgloss.Style
	CellMuted lipgloss.Style
}

// NewRenderer creates a renderer. Styling is enabled when writing to a TTY
// or when forceStyled is true, unless NO_COLOR is set.
func NewRenderer(w io.Writer, forceStyled bool) *Renderer {
	width, tty := terminalInfo(w)
	styled := (tty || forceStyled) && os.Getenv("NO_COLOR") == ""

	r := &Renderer{width: width, styled: styled}
	if !styled {
		return r
	}

	r.Summary = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	r.Muted = lipgloss.NewStyle().Foreground(colorMuted)
	r.Data = lipgloss.NewStyle().Foreground(colorText)
	r.Error = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	r.Hint = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
	r.Header = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	r.Cell = lipgloss.NewStyle().Foreground(colorText)
	r.CellMuted = lipgloss.NewStyle().Foreground(colorMuted)
	return r
}

// terminalInfo returns the terminal width and whether the writer is a TTY.
func terminalInfo(w io.Writer) (width int, tty bool) {
	width = 100
	f, ok := w.(*os.File)
	if !ok {
		return width, false
	}
	if cols, _, err := term.GetSize(f.Fd()); err == nil && cols >= 40 {
		width = cols
	}
	return width, term.IsTerminal(f.Fd())
}

// isTTY checks if the writer is a terminal.
func isTTY(w io.Writer) bool {
	_, tty := terminalInfo(w)
	return tty
}

// RenderResponse renders a success response to the writer.
func (r *Renderer) RenderResponse(w io.Writer, resp *Response) error {
	var b strings.Builder

	if resp.Summary != "" {
		b.WriteString(r.Summary.Render(resp.Summary))
		b.WriteString("\n\n")
	}

	r.renderData(&b, normalizeData(resp.Data))

	if stats, ok := resp.Meta["stats"].(map[string]any); ok {
		b.WriteString("\n")
		r.renderStats(&b, stats)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderError renders an error response to the writer.
func (r *Renderer) RenderError(w io.Writer, resp *ErrorResponse) error {
	var b strings.Builder

	b.WriteString(r.Error.Render("Error: " + resp.Error))
	b.WriteString("\n")
	if resp.Hint != "" {
		b.WriteString(r.Hint.Render("Hint: " + resp.Hint))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *Renderer) renderData(b *strings.Builder, data any) {
	switch d := data.(type) {
	case []map[string]any:
		if len(d) == 0 {
			b.WriteString(r.Muted.Render("(no results)"))
			b.WriteString("\n")
			return
		}
		r.renderTable(b, d)
	case map[string]any:
		r.renderObject(b, d)
	case nil:
		b.WriteString(r.Muted.Render("(no data)"))
		b.WriteString("\n")
	default:
		b.WriteString(r.Data.Render(fmt.Sprintf("%v", data)))
		b.WriteString("\n")
	}
}

// Column order for user tables; unknown keys sort after these.
var columnPriority = map[string]int{
	"id":          1,
	"name":        2,
	"email":       3,
	"role":        4,
	"status":      5,
	"department":  6,
	"tier":        7,
	"createdAt":   8,
	"lastLoginAt": 9,
}

var mutedColumns = map[string]bool{
	"id":          true,
	"createdAt":   true,
	"lastLoginAt": true,
}

func (r *Renderer) renderTable(b *strings.Builder, data []map[string]any) {
	columns := detectColumns(data)
	if len(columns) == 0 {
		return
	}
	columns = r.fitColumns(columns, data)

	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.Header
			}
			if col < len(columns) && mutedColumns[columns[col]] {
				return r.CellMuted
			}
			return r.Cell
		})

	headers := make([]string, len(columns))
	for i, key := range columns {
		headers[i] = formatHeader(key)
	}
	t.Headers(headers...)

	for _, item := range data {
		row := make([]string, len(columns))
		for i, key := range columns {
			row[i] = formatCell(item[key])
		}
		t.Row(row...)
	}

	b.WriteString(t.Render())
	b.WriteString("\n")
}

// detectColumns collects scalar keys from every row in priority order.
func detectColumns(data []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range data {
		for key, val := range row {
			if seen[key] {
				continue
			}
			switch val.(type) {
			case map[string]any, []any:
				continue
			}
			seen[key] = true
			cols = append(cols, key)
		}
	}
	sort.SliceStable(cols, func(i, j int) bool {
		pi, pj := priorityOf(cols[i]), priorityOf(cols[j])
		if pi != pj {
			return pi < pj
		}
		return cols[i] < cols[j]
	})
	return cols
}

func priorityOf(key string) int {
	if p, ok := columnPriority[key]; ok {
		return p
	}
	return 100
}

// fitColumns drops trailing low-priority columns until the table fits.
func (r *Renderer) fitColumns(cols []string, data []map[string]any) []string {
	widths := make([]int, len(cols))
	for i, key := range cols {
		widths[i] = len(formatHeader(key))
		for _, row := range data {
			if n := len(formatCell(row[key])); n > widths[i] {
				widths[i] = n
			}
		}
	}
	for len(cols) > 2 {
		total := 0
		for _, w := range widths[:len(cols)] {
			total += w + 2
		}
		if total <= r.width {
			break
		}
		cols = cols[:len(cols)-1]
	}
	return cols
}

func (r *Renderer) renderObject(b *strings.Builder, data map[string]any) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		pi, pj := priorityOf(keys[i]), priorityOf(keys[j])
		if pi != pj {
			return pi < pj
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		fmt.Fprintf(b, "%s  %s\n", r.Muted.Render(fmt.Sprintf("%-12s", formatHeader(k))), r.Data.Render(formatCell(data[k])))
	}
}

func (r *Renderer) renderStats(b *strings.Builder, stats map[string]any) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, stats[k]))
	}
	b.WriteString(r.Muted.Render(strings.Join(parts, "  ")))
	b.WriteString("\n")
}

// formatHeader turns camelCase keys into upper-case headers.
func formatHeader(key string) string {
	var b strings.Builder
	for i, c := range key {
		if i > 0 && c >= 'A' && c <= 'Z' {
			b.WriteByte(' ')
		}
		b.WriteRune(c)
	}
	return strings.ToUpper(b.String())
}

func formatCell(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.Format("2006-01-02")
		}
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	case bool:
		if v {
			return "yes"
		}
		return "no"
	default:
		return fmt.Sprintf("%v", v)
	}
}
