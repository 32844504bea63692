package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/taxdesk/taxdesk-cli/internal/filter"
	"github.com/taxdesk/taxdesk-cli/internal/models"
	"github.com/taxdesk/taxdesk-cli/internal/output"
)

var counts = message.NewPrinter(language.English)

var browserColumns = []table.Column{
	{Title: "Name", Width: 22},
	{Title: "Email", Width: 30},
	{Title: "Role", Width: 11},
	{Title: "Status", Width: 10},
	{Title: "Department", Width: 14},
	{Title: "Tier", Width: 8},
	{Title: "Created", Width: 10},
}

// chromeLines is the height taken by everything but the table.
const chromeLines = 5

// loadedMsg reports the end of a filter operation.
type loadedMsg struct {
	err error
}

// browserModel is the bubbletea model for users browse.
type browserModel struct {
	ctx    context.Context
	hook   *filter.Hook
	styles *Styles

	table     table.Model
	search    textinput.Model
	spinner   spinner.Model
	searching bool
	loading   bool
	err       error
	quitting  bool
}

func newBrowserModel(ctx context.Context, hook *filter.Hook, styles *Styles) browserModel {
	t := table.New(
		table.WithColumns(browserColumns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	t.SetStyles(styles.Table)

	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "name or email"
	ti.Width = 40
	ti.SetValue(hook.Filters().Search)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.theme.Primary)

	return browserModel{
		ctx:     ctx,
		hook:    hook,
		styles:  styles,
		table:   t,
		search:  ti,
		spinner: s,
		loading: true,
	}
}

// run performs op against the hook off the UI loop.
func (m browserModel) run(op func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return loadedMsg{err: op(ctx)}
	}
}

func (m browserModel) Init() tea.Cmd {
	return tea.Batch(m.run(m.hook.Refresh), m.spinner.Tick)
}

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.table.SetHeight(max(msg.Height-chromeLines, 3))
		return m, nil

	case loadedMsg:
		if output.IsCanceled(msg.err) {
			// Superseded by a newer operation, which will report.
			return m, nil
		}
		m.loading = m.hook.State().Loading
		m.err = msg.err
		m.table.SetRows(userRows(m.hook.State().Users))
		m.table.SetCursor(0)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m browserModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searching = false
		m.search.Blur()
		q := strings.TrimSpace(m.search.Value())
		return m.start(func(ctx context.Context) error {
			return m.hook.Update(ctx, func(f *filter.Filters) { f.Search = q })
		})
	case "esc":
		m.searching = false
		m.search.Blur()
		m.search.SetValue(m.hook.Filters().Search)
		return m, nil
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m browserModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "n", "right":
		if !m.hook.HasNextPage() {
			return m, nil
		}
		return m.start(m.hook.NextPage)
	case "p", "left":
		if !m.hook.HasPreviousPage() {
			return m, nil
		}
		return m.start(m.hook.PreviousPage)
	case "/":
		m.searching = true
		return m, m.search.Focus()
	case "r":
		role := nextValue(models.Roles, m.hook.Filters().Role)
		return m.start(func(ctx context.Context) error {
			return m.hook.Update(ctx, func(f *filter.Filters) { f.Role = role })
		})
	case "s":
		status := nextValue(models.Statuses, m.hook.Filters().Status)
		return m.start(func(ctx context.Context) error {
			return m.hook.Update(ctx, func(f *filter.Filters) { f.Status = status })
		})
	case "ctrl+r":
		return m.start(m.hook.Refresh)
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m browserModel) start(op func(context.Context) error) (tea.Model, tea.Cmd) {
	m.loading = true
	return m, m.run(op)
}

// nextValue cycles through values; an unset current counts as the first.
func nextValue(values []string, current string) string {
	if current == "" {
		current = values[0]
	}
	i := slices.Index(values, strings.ToUpper(current))
	return values[(i+1)%len(values)]
}

func userRows(users []models.User) []table.Row {
	rows := make([]table.Row, 0, len(users))
	for _, u := range users {
		created := ""
		if !u.CreatedAt.IsZero() {
			created = u.CreatedAt.Format("2006-01-02")
		}
		rows = append(rows, table.Row{u.Name, u.Email, u.Role, u.Status, u.Department, u.Tier, created})
	}
	return rows
}

func (m browserModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Users"))
	b.WriteString("  ")
	b.WriteString(m.filterChips())
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	if m.searching {
		b.WriteString(m.search.View())
	} else {
		b.WriteString(m.styles.RenderKeyHelp(
			[2]string{"n/p", "page"},
			[2]string{"/", "search"},
			[2]string{"r", "role"},
			[2]string{"s", "status"},
			[2]string{"q", "quit"},
		))
	}
	b.WriteString("\n")
	return b.String()
}

func (m browserModel) filterChips() string {
	f := m.hook.Filters()
	chip := func(label, v string) string {
		if v == "" {
			v = "ALL"
		}
		return m.styles.Chip.Render(label + " " + v)
	}
	out := chip("role", f.Role) + chip("status", f.Status)
	if f.Search != "" {
		out += m.styles.Chip.Render(fmt.Sprintf("search %q", f.Search))
	}
	return out
}

func (m browserModel) statusLine() string {
	st := m.hook.State()
	var line string
	if p := st.Pagination; p != nil {
		line = counts.Sprintf("page %d of %d · %d users", p.Page, max(p.Pages, 1), p.Total)
	} else {
		line = counts.Sprintf("page %d · %d users", st.Filters.Page, len(st.Users))
	}
	line = m.styles.Muted.Render(line)
	switch {
	case m.loading:
		line += "  " + m.spinner.View() + m.styles.Muted.Render(" loading")
	case m.err != nil:
		line += "  " + m.styles.Error.Render(output.AsError(m.err).Error())
	}
	return line
}

// Browse runs the interactive browser over hook until the user quits or
// ctx is canceled.
func Browse(ctx context.Context, hook *filter.Hook) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newBrowserModel(ctx, hook, NewStyles())
	_, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
			return output.ErrCanceled(err)
		}
		return err
	}
	return nil
}
