// Package monitor is a terminal dashboard following a tick server and a
// shared-memory sample channel.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ranlab/rtcore/shmchan"
)

const refreshInterval = 500 * time.Millisecond

var (
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("green")).
		Bold(true)

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red"))

	metricStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// Snapshot is what the dashboard shows at one refresh.
type Snapshot struct {
	// TickSource describes where ticks come from, empty when not followed.
	TickSource    string
	TickConnected bool
	Ticks         uint64

	// Channel is nil when no channel is watched.
	Channel    *shmchan.Info
	ChannelErr error
}

// Provider returns the current state. It is called on every refresh.
type Provider func() Snapshot

// DashboardModel is the bubbletea model of the monitor.
type DashboardModel struct {
	provider Provider
	table    table.Model
	width    int
	height   int
	lastSync time.Time

	prev   Snapshot
	prevAt time.Time
	rows   []table.Row

	view *renderCache
}

// NewDashboard creates a new dashboard model
func NewDashboard(provider Provider) DashboardModel {
	columns := []table.Column{
		{Title: "Metric", Width: 22},
		{Title: "Value", Width: 24},
		{Title: "Details", Width: 44},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return DashboardModel{
		provider: provider,
		table:    t,
		view:     newRenderCache(),
	}
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m DashboardModel) Init() tea.Cmd {
	return tickCmd()
}

func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.refresh(time.Time(msg))
		return m, tickCmd()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	}

	m.table, cmd = m.table.Update(msg)
	m.view.invalidate()
	return m, cmd
}

func (m *DashboardModel) refresh(now time.Time) {
	snap := m.provider()
	m.rows = buildRows(m.prev, snap, now.Sub(m.prevAt), !m.prevAt.IsZero())
	m.table.SetRows(m.rows)
	m.prev = snap
	m.prevAt = now
	m.lastSync = now
	m.view.invalidate()
}

// buildRows renders a snapshot. Rates are derived from the previous snapshot
// taken dt earlier when havePrev is set.
func buildRows(prev, snap Snapshot, dt time.Duration, havePrev bool) []table.Row {
	var rows []table.Row

	if snap.TickSource != "" {
		rows = append(rows,
			table.Row{"Tick Server", connState(snap.TickConnected), snap.TickSource},
			table.Row{"Ticks", metricStyle.Render(fmt.Sprintf("%d", snap.Ticks)), "Ticks received since start"},
		)
		if havePrev && dt > 0 && snap.Ticks >= prev.Ticks {
			rate := float64(snap.Ticks-prev.Ticks) / dt.Seconds()
			rows = append(rows, table.Row{"Tick Rate", fmt.Sprintf("%.1f/s", rate), "1000/s is realtime"})
		}
	}

	switch {
	case snap.ChannelErr != nil:
		rows = append(rows, table.Row{"Channel", downStyle.Render("unavailable"), snap.ChannelErr.Error()})
	case snap.Channel != nil:
		ch := snap.Channel
		rows = append(rows,
			table.Row{"Channel", ch.Name, ch.Path},
			table.Row{"Peer", connState(ch.Connected), "Consumer attached to the segment"},
			table.Row{"Channel Clock", metricStyle.Render(fmt.Sprintf("%d", ch.Timestamp)), "Samples since creation"},
			table.Row{"Antennas", fmt.Sprintf("%d tx / %d rx", ch.TxAntennas, ch.RxAntennas), "Producer point of view"},
			table.Row{"Ring Capacity", fmt.Sprintf("%d", ch.Capacity), "Samples per antenna"},
		)
		if havePrev && dt > 0 && prev.Channel != nil && ch.Timestamp >= prev.Channel.Timestamp {
			rate := float64(ch.Timestamp-prev.Channel.Timestamp) / dt.Seconds()
			rows = append(rows, table.Row{"Sample Rate", fmt.Sprintf("%.3f Msps", rate/1e6), "Observed clock speed"})
		}
	}
	return rows
}

func connState(up bool) string {
	if up {
		return upStyle.Render("connected")
	}
	return downStyle.Render("disconnected")
}

func (m DashboardModel) View() string {
	return m.view.get(m.width, m.height, m.render)
}

func (m DashboardModel) render() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("rtcore monitor"))
	b.WriteString("\n\n")

	b.WriteString(baseStyle.Render(m.table.View()))
	b.WriteString("\n\n")

	footer := labelStyle.Render(fmt.Sprintf(
		"Last sync: %s | Press 'q' to quit",
		m.lastSync.Format("15:04:05"),
	))
	b.WriteString(footer)

	return b.String()
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, provider Provider) error {
	p := tea.NewProgram(NewDashboard(provider), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}
