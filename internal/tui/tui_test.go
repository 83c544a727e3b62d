package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/require"
)

func sized(w, h int) Model {
	m, _ := NewModel().Update(tea.WindowSizeMsg{Width: w, Height: h})
	return m.(Model)
}

func TestViewBeforeSize(t *testing.T) {
	require.Equal(t, "Loading...", NewModel().View())
}

func TestViewRendersPoolState(t *testing.T) {
	m := sized(100, 30)
	next, _ := m.Update(UpdateMsg{
		Pool: PoolInfo{Height: 250, Round: 2, RoundCount: 10, RoundLength: 100, LastClosed: 1,
			CurrentCap: "10", PoolBalance: "35", FundBalance: "5"},
		Rounds: []RoundRow{{Index: 1, Total: "20", Cap: "10", OverCap: true, RefundPct: 50}},
		Events: []EventRow{{Seq: 1, Kind: "contributed", User: "alice", Amount: "20", Round: 1, Height: 120}},
	})
	view := next.(Model).View()

	require.Contains(t, view, "height=250 round=2/10")
	require.Contains(t, view, "current cap: 10")
	require.Contains(t, view, "fund balance: 5")
	require.Contains(t, view, " 50.00%")
	require.Contains(t, view, "alice")
	require.NotContains(t, view, "ENDED")
}

func TestViewShowsEnded(t *testing.T) {
	m := sized(80, 20)
	next, _ := m.Update(UpdateMsg{Pool: PoolInfo{Ended: true, LastClosed: 9}})
	require.Contains(t, next.(Model).View(), "ENDED")
}

func TestQuitKeys(t *testing.T) {
	_, cmd := sized(80, 20).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}

func TestFormatInfoLineKeepsWidth(t *testing.T) {
	line := formatInfoLine(strings.Repeat("x", 200), 40)
	require.Equal(t, 40, runewidth.StringWidth(line))
}
