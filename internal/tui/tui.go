package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	endedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	overStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	mutedStyle = lipgloss.NewStyle().Faint(true)
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

func truncateToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncateToWidth(text, width-2), width-2) + "│"
}

// PoolInfo is the header section: where the chain is and what the pool looks
// like at that height. Amounts arrive pre-formatted.
type PoolInfo struct {
	Height      int64
	Round       uint64
	RoundCount  uint64
	RoundLength uint64
	Ended       bool
	LastClosed  int64
	CurrentCap  string
	PoolBalance string
	FundBalance string
}

// RoundRow is one line of the rounds table.
type RoundRow struct {
	Index     uint64
	Total     string
	Cap       string
	OverCap   bool
	RefundPct float64 // share of each contribution refunded, 0-100
}

// EventRow is one line of the event log.
type EventRow struct {
	Seq    uint64
	Kind   string
	User   string
	Amount string
	Round  uint64
	Height int64
}

// UpdateMsg replaces the whole dashboard state.
type UpdateMsg struct {
	Pool   PoolInfo
	Rounds []RoundRow
	Events []EventRow
}

// Model holds the TUI state
type Model struct {
	pool   PoolInfo
	rounds []RoundRow
	events []EventRow
	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel() Model {
	return Model{pool: PoolInfo{LastClosed: -1}}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		m.pool = msg.Pool
		m.rounds = msg.Rounds
		m.events = msg.Events
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderRounds(), m.renderEvents())
}

func (m Model) renderHeader() string {
	p := m.pool
	colWidth := (m.width - 4) / 2
	rightWidth := m.width - colWidth - 3

	status := "open"
	if p.Ended {
		status = "ENDED"
	}
	lastClosed := "none"
	if p.LastClosed >= 0 {
		lastClosed = fmt.Sprintf("%d", p.LastClosed)
	}

	left := []string{
		"burn pile",
		fmt.Sprintf("height=%d round=%d/%d", p.Height, p.Round, p.RoundCount),
		fmt.Sprintf("round length: %d blocks", p.RoundLength),
		fmt.Sprintf("status: %s  last closed: %s", status, lastClosed),
	}
	right := []string{
		fmt.Sprintf("current cap: %s", p.CurrentCap),
		fmt.Sprintf("pool balance: %s", p.PoolBalance),
		fmt.Sprintf("fund balance: %s", p.FundBalance),
		"",
	}

	var rows []string
	for i := range left {
		l := padToWidth(truncateToWidth(left[i], colWidth-2), colWidth-2)
		r := padToWidth(truncateToWidth(right[i], rightWidth-2), rightWidth-2)
		row := fmt.Sprintf("│ %s │ %s │", l, r)
		switch {
		case i == 0:
			row = titleStyle.Render(row)
		case i == 3 && p.Ended:
			row = endedStyle.Render(row)
		}
		rows = append(rows, row)
	}

	top := fmt.Sprintf("┌%s┬%s┐", strings.Repeat("─", colWidth), strings.Repeat("─", rightWidth))
	sep := fmt.Sprintf("├%s┴%s┤", strings.Repeat("─", colWidth), strings.Repeat("─", rightWidth))
	return top + "\n" + strings.Join(rows, "\n") + "\n" + sep
}

// renderRounds shows the most recent rounds, newest first, using about half
// the remaining height.
func (m Model) renderRounds() string {
	available := (m.height - 6) / 2
	if available <= 2 {
		return ""
	}
	lines := []string{mutedStyle.Render(formatInfoLine("round      total          cap            refunded", m.width))}
	for i, r := range m.rounds {
		if i >= available-1 {
			break
		}
		line := formatInfoLine(fmt.Sprintf("%-10d %-14s %-14s %6.2f%%", r.Index, r.Total, r.Cap, r.RefundPct), m.width)
		if r.OverCap {
			line = overStyle.Render(line)
		}
		lines = append(lines, line)
	}
	if len(m.rounds) == 0 {
		lines = append(lines, formatInfoLine("no contributions yet", m.width))
	}
	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width)
}

func (m Model) renderEvents() string {
	available := m.height - 6 - (m.height-6)/2 - 2
	if available <= 0 {
		return ""
	}
	var lines []string
	for i, ev := range m.events {
		if i >= available {
			break
		}
		line := fmt.Sprintf("#%-5d h=%-8d %-11s %-16s %s (round %d)",
			ev.Seq, ev.Height, ev.Kind, ev.User, ev.Amount, ev.Round)
		lines = append(lines, formatInfoLine(line, m.width))
	}
	if len(lines) == 0 {
		lines = append(lines, formatInfoLine("no events yet", m.width))
	}
	bottom := "└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width) + "\n" +
		formatInfoLine("Seq, Height, Kind, Account, Amount", m.width) + "\n" + bottom
}

// Run starts the TUI program
func Run(updateCh <-chan interface{}) error {
	m := NewModel()
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Start goroutine to receive updates
	go func() {
		for data := range updateCh {
			if upd, ok := data.(UpdateMsg); ok {
				p.Send(upd)
			}
		}
		// Channel closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
