package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashleyhindle/fuel/internal/consume"
)

// Fetch produces the snapshot for one refresh. Watch mode does not care
// whether it came over IPC or straight from the store.
type Fetch func() (*consume.Snapshot, error)

const refreshEvery = time.Second

// Model is the watch-mode bubbletea model: spinner while waiting, board
// once a snapshot arrives, re-poll once a second.
type Model struct {
	fetch    Fetch
	spin     spinner.Model
	snap     *consume.Snapshot
	err      error
	quitting bool
}

// New creates a watch model around a snapshot source.
func New(fetch Fetch) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(clrHighlight)
	return Model{fetch: fetch, spin: sp}
}

type snapshotMsg struct {
	snap *consume.Snapshot
	err  error
}

type refreshTickMsg struct{}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		snap, err := m.fetch()
		return snapshotMsg{snap: snap, err: err}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshEvery, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}

	case snapshotMsg:
		m.snap, m.err = msg.snap, msg.err
		return m, scheduleRefresh()

	case refreshTickMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.snap == nil && m.err == nil {
		return m.spin.View() + " loading board...\n"
	}
	if m.err != nil {
		return blockedHeadStyle.Render("board unavailable: ") + m.err.Error() + "\n" +
			dimStyle.Render("retrying... press q to quit") + "\n"
	}
	return RenderBoard(m.snap) + dimStyle.Render("q quit · r refresh") + "\n"
}
