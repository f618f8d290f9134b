// package ui renders the live job monitor in the terminal.
package ui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lucky-verma/music-discovery/internal/history"
	"github.com/lucky-verma/music-discovery/internal/models"
)

const refreshInterval = 500 * time.Millisecond

// JobController is the slice of the scheduler the monitor drives.
type JobController interface {
	Jobs() []models.Job
	Cancel(jobID string) error
	Retry(jobID string) (*models.Job, error)
}

// StatsSource supplies the dashboard counters.
type StatsSource interface {
	Stats() (history.Stats, error)
}

// keyMap defines the key bindings for the monitor.
type keyMap struct {
	up     key.Binding
	down   key.Binding
	cancel key.Binding
	retry  key.Binding
	quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		cancel: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cancel job"),
		),
		retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry job"),
		),
		quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.up, k.down, k.cancel, k.retry, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.up, k.down}, {k.cancel, k.retry, k.quit}}
}

type tickMsg time.Time

// Model is the monitor's bubbletea state.
type Model struct {
	controller JobController
	stats      StatsSource

	jobs    []models.Job
	summary history.Stats
	cursor  int
	width   int
	height  int
	status  string
	help    help.Model
	keys    keyMap
}

// NewModel creates a monitor over the running scheduler.
func NewModel(controller JobController, stats StatsSource) *Model {
	return &Model{
		controller: controller,
		stats:      stats,
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

// Init starts the refresh ticker.
func (m *Model) Init() tea.Cmd {
	m.refresh()
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.up):
			if m.cursor > 0 {
				m.cursor--
			}

		case key.Matches(msg, m.keys.down):
			if m.cursor < len(m.jobs)-1 {
				m.cursor++
			}

		case key.Matches(msg, m.keys.cancel):
			if job, ok := m.selected(); ok {
				if err := m.controller.Cancel(job.ID); err != nil {
					m.status = fmt.Sprintf("cancel: %v", err)
				} else {
					m.status = "cancelling " + shortID(job.ID)
				}
			}

		case key.Matches(msg, m.keys.retry):
			if job, ok := m.selected(); ok {
				fresh, err := m.controller.Retry(job.ID)
				if err != nil {
					m.status = fmt.Sprintf("retry: %v", err)
				} else {
					m.status = "requeued as " + shortID(fresh.ID)
				}
			}
		}
	}
	return m, nil
}

func (m *Model) refresh() {
	jobs := m.controller.Jobs()
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	m.jobs = jobs
	if m.cursor >= len(jobs) {
		m.cursor = max(0, len(jobs)-1)
	}
	if m.stats != nil {
		if s, err := m.stats.Stats(); err == nil {
			m.summary = s
		}
	}
}

func (m *Model) selected() (models.Job, bool) {
	if m.cursor < 0 || m.cursor >= len(m.jobs) {
		return models.Job{}, false
	}
	return m.jobs[m.cursor], true
}

// View renders the dashboard.
func (m *Model) View() string {
	out := styles.title.Render("Download Queue") + "\n"
	out += m.renderSummary() + "\n\n"

	if len(m.jobs) == 0 {
		out += styles.dim.Render("no jobs yet") + "\n"
	}

	visible := m.jobs
	maxRows := m.height - 8
	if maxRows > 0 && len(visible) > maxRows {
		visible = visible[:maxRows]
	}
	for i, job := range visible {
		out += m.renderJob(i, job) + "\n"
	}

	if m.status != "" {
		out += "\n" + styles.warn.Render(m.status)
	}
	return out + "\n" + m.help.ShortHelpView(m.keys.ShortHelp())
}

func (m *Model) renderSummary() string {
	return styles.help.Render(fmt.Sprintf(
		"active %d · failed %d · done %d/%d (%.0f%%) · today %d",
		m.summary.ActiveJobs,
		m.summary.FailedJobs,
		m.summary.Succeeded,
		m.summary.TotalDownloads,
		m.summary.SuccessRate,
		m.summary.TodayDownloads,
	))
}

func (m *Model) renderJob(i int, job models.Job) string {
	marker := "  "
	if i == m.cursor {
		marker = "> "
	}

	label := job.Meta.Title
	if label == "" {
		label = job.SourceRef
	}
	line := fmt.Sprintf("%s%s %-10s a%d  %s", marker, stateBadge(job.State), job.Kind, job.Attempt, truncate(label, m.width-30))
	if job.Error != "" && job.State == models.StateFailed {
		line += "  " + styles.err.Render(truncate(job.Error, 40))
	}
	return line
}

func stateBadge(state models.JobState) string {
	switch state {
	case models.StateSucceeded:
		return styles.ok.Render("✓")
	case models.StateFailed:
		return styles.err.Render("✗")
	case models.StateRunning:
		return styles.warn.Render("▶")
	case models.StateRetrying:
		return styles.warn.Render("↻")
	default:
		return styles.dim.Render("·")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
