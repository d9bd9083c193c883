package monitor

import (
	"errors"
	"regexp"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ranlab/rtcore/shmchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansi.ReplaceAllString(s, "")
}

func findRow(t *testing.T, m DashboardModel, metric string) []string {
	t.Helper()
	for _, r := range m.rows {
		if r[0] == metric {
			return r
		}
	}
	t.Fatalf("no %q row in %v", metric, m.rows)
	return nil
}

func TestDashboardRates(t *testing.T) {
	snaps := []Snapshot{
		{TickSource: "127.0.0.1:7374", TickConnected: true, Ticks: 100,
			Channel: &shmchan.Info{Name: "ch", Timestamp: 1000000, Capacity: 64, TxAntennas: 1, RxAntennas: 1}},
		{TickSource: "127.0.0.1:7374", TickConnected: true, Ticks: 600,
			Channel: &shmchan.Info{Name: "ch", Timestamp: 16360000, Capacity: 64, TxAntennas: 1, RxAntennas: 1, Connected: true}},
	}
	i := 0
	m := NewDashboard(func() Snapshot {
		s := snaps[i]
		i++
		return s
	})

	start := time.Unix(1000, 0)
	next, cmd := m.Update(tickMsg(start))
	require.NotNil(t, cmd)
	m = next.(DashboardModel)
	assert.Equal(t, "100", stripANSI(findRow(t, m, "Ticks")[1]))
	for _, r := range m.rows {
		assert.NotEqual(t, "Tick Rate", r[0], "no rate without a previous sample")
	}

	next, _ = m.Update(tickMsg(start.Add(500 * time.Millisecond)))
	m = next.(DashboardModel)
	assert.Equal(t, "1000.0/s", findRow(t, m, "Tick Rate")[1])
	assert.Equal(t, "30.720 Msps", findRow(t, m, "Sample Rate")[1])
	assert.Equal(t, "connected", stripANSI(findRow(t, m, "Peer")[1]))
	assert.Contains(t, m.View(), "rtcore monitor")
}

func TestDashboardChannelError(t *testing.T) {
	m := NewDashboard(func() Snapshot {
		return Snapshot{ChannelErr: errors.New("no such segment")}
	})
	next, _ := m.Update(tickMsg(time.Now()))
	m = next.(DashboardModel)
	row := findRow(t, m, "Channel")
	assert.Equal(t, "no such segment", row[2])
}

func TestDashboardQuit(t *testing.T) {
	m := NewDashboard(func() Snapshot { return Snapshot{} })
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestDashboardViewCache(t *testing.T) {
	m := NewDashboard(func() Snapshot { return Snapshot{TickSource: "x", Ticks: 1} })
	next, _ := m.Update(tickMsg(time.Now()))
	m = next.(DashboardModel)

	first := m.View()
	assert.Equal(t, first, m.View())
	assert.Equal(t, 1, m.view.renderings)

	next, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(DashboardModel)
	m.View()
	assert.Equal(t, 2, m.view.renderings, "resize renders again")

	next, _ = m.Update(tickMsg(time.Now()))
	m = next.(DashboardModel)
	m.View()
	assert.Equal(t, 3, m.view.renderings, "refresh renders again")
}
