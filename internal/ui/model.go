// internal/ui/model.go
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/toxi-relay/internal/ui/style"
)

const fetchTimeout = 5 * time.Second

type snapshotMsg Snapshot

type errMsg struct{ err error }

type tickMsg time.Time

// Model is the bubbletea model of the status viewer.
type Model struct {
	client   *Client
	interval time.Duration

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	table   table.Model
	styles  style.Styles

	snap    *Snapshot
	err     error
	loading bool
	width   int
}

func NewModel(client *Client, interval time.Duration) Model {
	palette := style.DefaultPalette()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(palette.Secondary)

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "Symbol", Width: 10},
			{Title: "Token", Width: 14},
			{Title: "Size", Width: 8},
			{Title: "Held", Width: 8},
			{Title: "Status", Width: 8},
		}),
		table.WithHeight(6),
	)

	return Model{
		client:   client,
		interval: interval,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		spinner:  sp,
		table:    tbl,
		styles:   style.NewStyles(palette),
		loading:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, m.fetch()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
		return m, nil

	case snapshotMsg:
		snap := Snapshot(msg)
		m.snap = &snap
		m.err = nil
		m.loading = false
		m.table.SetRows(positionRows(snap.Positions))
		return m, m.tick()

	case errMsg:
		m.err = msg.err
		m.loading = false
		return m, m.tick()

	case tickMsg:
		m.loading = true
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	title := m.styles.Title.Render("Toxi Relay")
	if m.loading {
		title += " " + m.spinner.View()
	}
	b.WriteString(title + "\n\n")

	if m.err != nil {
		b.WriteString(m.styles.Negative.Render("error: "+m.err.Error()) + "\n\n")
	}

	if m.snap == nil {
		b.WriteString(m.styles.Muted.Render("waiting for the first update...") + "\n")
	} else {
		b.WriteString(m.statusPanel(m.snap.Status) + "\n")
		b.WriteString(m.statsPanel(m.snap.Stats) + "\n")
		if len(m.snap.Positions) == 0 {
			b.WriteString(m.styles.Muted.Render("no open positions") + "\n")
		} else {
			b.WriteString(m.table.View() + "\n")
		}
	}

	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}

func (m Model) statusPanel(s Status) string {
	state := m.styles.Warning.Render(s.State)
	if s.Authenticated {
		state = m.styles.Positive.Render(s.State)
	}
	rows := []string{
		m.row("Auth", state),
		m.row("Trading", onOff(m.styles, s.Running)),
		m.row("Peer", onOff(m.styles, s.PeerConnected)),
	}
	if s.Balance != nil {
		rows = append(rows, m.row("Balance", m.styles.Value.Render(firstLine(s.Balance.Text))))
	}
	return m.styles.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) statsPanel(s Stats) string {
	profit := m.styles.Value.Render(fmt.Sprintf("%.4f SOL", s.TotalProfit))
	if s.TotalProfit > 0 {
		profit = m.styles.Positive.Render(fmt.Sprintf("+%.4f SOL", s.TotalProfit))
	}
	rows := []string{
		m.row("Total profit", profit),
		m.row("Win rate", m.styles.Value.Render(fmt.Sprintf("%d%% (%dW / %dL)", s.WinRate, s.Wins, s.Losses))),
		m.row("Open positions", m.styles.Value.Render(fmt.Sprintf("%d (%.2f SOL)", s.ActivePositions, s.TotalInvested))),
		m.row("Uptime", m.styles.Value.Render((time.Duration(s.Uptime) * time.Second).String())),
	}
	return m.styles.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, m.styles.Label.Render(label), value)
}

func (m Model) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := client.Snapshot(ctx)
		if err != nil {
			return errMsg{err: err}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func positionRows(positions []Position) []table.Row {
	rows := make([]table.Row, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, table.Row{
			p.Symbol,
			shorten(p.Token),
			fmt.Sprintf("%.3f", p.Size),
			p.Duration,
			p.Status,
		})
	}
	return rows
}

func onOff(s style.Styles, on bool) string {
	if on {
		return s.Positive.Render("online")
	}
	return s.Muted.Render("offline")
}

func shorten(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:5] + "..." + token[len(token)-4:]
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
