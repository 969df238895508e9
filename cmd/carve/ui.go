// # cmd/carve/ui.go
package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	cycleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type moduleRow struct {
	name  string
	file  string
	shell bool
}

type item struct {
	title, desc string
	isShell     bool
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type model struct {
	list        list.Model
	workspace   string
	entry       string
	warnings    []string
	lastErr     string
	lastUpdate  time.Time
	moduleCount int
	crateCount  int
	fileCount   int
}

type updateMsg struct {
	entry       string
	modules     []moduleRow
	warnings    []string
	moduleCount int
	crateCount  int
	fileCount   int
	err         string
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v-4)
	case updateMsg:
		m.lastErr = msg.err
		m.lastUpdate = time.Now()
		// A failed run keeps the previous closure on screen.
		if msg.err == "" {
			m.entry = msg.entry
			m.warnings = msg.warnings
			m.moduleCount = msg.moduleCount
			m.crateCount = msg.crateCount
			m.fileCount = msg.fileCount

			items := []list.Item{}
			for _, w := range m.warnings {
				items = append(items, item{
					title: "Cycle Warning",
					desc:  w,
				})
			}
			for _, row := range msg.modules {
				title := row.name
				if row.shell {
					title += " (shell)"
				}
				items = append(items, item{
					title:   title,
					desc:    row.file,
					isShell: row.shell,
				})
			}
			m.list.SetItems(items)
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) View() string {
	status := statusStyle.Render(fmt.Sprintf("Last run: %v | %d modules | %d crates | %d files",
		m.lastUpdate.Format("15:04:05"), m.moduleCount, m.crateCount, m.fileCount))

	var summary string
	switch {
	case m.lastErr != "":
		summary = failureStyle.Render(fmt.Sprintf("✗ %s", m.lastErr))
	case len(m.warnings) > 0:
		summary = cycleStyle.Render(fmt.Sprintf("⚠️  %d Retained Cycles", len(m.warnings)))
	default:
		summary = successStyle.Render("✅ Closure Clean")
	}

	entry := m.entry
	if entry == "" {
		entry = "-"
	}
	header := fmt.Sprintf("%s\n%s\n%s | %s\n",
		titleStyle("Carve Extraction Monitor"),
		statusStyle.Render(fmt.Sprintf("Workspace: %s | Entry: %s", m.workspace, entry)),
		status, summary)
	return docStyle.Render(header + "\n" + m.list.View())
}

func initialModel(workspace string) model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Retained Modules"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)

	return model{
		list:       l,
		workspace:  workspace,
		lastUpdate: time.Now(),
	}
}
