package overlay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-overlay/monitor/internal/client"
	"github.com/agent-overlay/monitor/internal/session"
)

// Feed delivers snapshots as Bubble Tea messages. *client.WSClient
// implements it.
type Feed interface {
	Listen(ctx context.Context) tea.Cmd
	ReadLoop() tea.Cmd
	Close()
}

// Controller performs operator actions. *client.HTTPClient implements it.
type Controller interface {
	EndSession(ctx context.Context, sessionID string) error
	ClearSessions(ctx context.Context) error
}

// actionDoneMsg reports the outcome of an operator action.
type actionDoneMsg struct {
	what string
	err  error
}

type Model struct {
	feed Feed
	ctl  Controller
	ctx  context.Context

	cancel context.CancelFunc
	keys   KeyMap
	help   help.Model

	sessions []session.SessionView
	cursor   int

	connected bool
	lastErr   string
	now       func() time.Time

	width  int
	height int
}

func New(feed Feed, ctl Controller) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		feed:   feed,
		ctl:    ctl,
		ctx:    ctx,
		cancel: cancel,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		now:    time.Now,
		width:  80,
		height: 24,
	}
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	return m.feed.Listen(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.lastErr = ""
		return m, m.feed.ReadLoop()

	case client.WSDisconnectedMsg:
		m.connected = false
		if m.ctx.Err() != nil {
			return m, nil
		}
		if msg.Err != nil {
			m.lastErr = msg.Err.Error()
		}
		return m, m.feed.Listen(m.ctx)

	case client.SnapshotMsg:
		m.setSessions(msg.Sessions)
		return m, m.feed.ReadLoop()

	case actionDoneMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.what, msg.err)
		} else {
			m.lastErr = ""
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		m.feed.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.sessions)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.End):
		if m.cursor >= len(m.sessions) {
			return m, nil
		}
		id := m.sessions[m.cursor].SessionID
		ctx, ctl := m.ctx, m.ctl
		return m, func() tea.Msg {
			return actionDoneMsg{what: "end " + id, err: ctl.EndSession(ctx, id)}
		}

	case key.Matches(msg, m.keys.ClearAll):
		ctx, ctl := m.ctx, m.ctl
		return m, func() tea.Msg {
			return actionDoneMsg{what: "clear", err: ctl.ClearSessions(ctx)}
		}

	case key.Matches(msg, m.keys.Refresh):
		m.feed.Close()
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	return m, nil
}

// setSessions replaces the list, keeping the cursor on the same session
// when it is still present.
func (m *Model) setSessions(views []session.SessionView) {
	var selected string
	if m.cursor < len(m.sessions) {
		selected = m.sessions[m.cursor].SessionID
	}
	m.sessions = views
	m.cursor = 0
	for i, v := range views {
		if v.SessionID == selected {
			m.cursor = i
			break
		}
	}
}

// Selected returns the session under the cursor.
func (m Model) Selected() (session.SessionView, bool) {
	if m.cursor < len(m.sessions) {
		return m.sessions[m.cursor], true
	}
	return session.SessionView{}, false
}

func (m Model) View() string {
	innerWidth := max(m.width-6, 20)

	var rows []string
	for i, s := range m.sessions {
		rows = append(rows, m.renderSession(s, i == m.cursor, innerWidth))
	}
	if len(rows) == 0 {
		rows = append(rows, StyleDimmed.Render("No active sessions."))
	}

	count := fmt.Sprintf("%d session", len(m.sessions))
	if len(m.sessions) != 1 {
		count += "s"
	}
	if attention := m.attentionCount(); attention > 0 {
		count = fmt.Sprintf("%d need you · %s", attention, count)
	}
	titleLeft := StyleTitle.Render("Agent Monitor")
	if !m.connected {
		titleLeft += StyleError.Render(" (disconnected)")
	}
	titleRight := StyleTitle.Render(count)
	pad := max(innerWidth-lipgloss.Width(titleLeft)-lipgloss.Width(titleRight), 1)
	title := titleLeft + strings.Repeat(" ", pad) + titleRight

	sections := []string{title, "", strings.Join(rows, "\n"), ""}
	if m.lastErr != "" {
		sections = append(sections, StyleError.Render(m.lastErr))
	}
	h := m.help
	h.Width = innerWidth
	sections = append(sections, h.View(m.keys))

	// Width counts the horizontal padding, so add it back to leave
	// innerWidth columns for content.
	pw := StyleBorder.GetHorizontalPadding()
	return StyleBorder.Width(innerWidth + pw).Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) attentionCount() int {
	n := 0
	for _, s := range m.sessions {
		if s.Status.NeedsAttention() {
			n++
		}
	}
	return n
}

// renderSession renders one session as three lines: title, status with
// sub-agents, and project path with age.
func (m Model) renderSession(s session.SessionView, selected bool, width int) string {
	cursor := "  "
	titleStyle := StyleSessionTitle
	if selected {
		cursor = StyleCursor.Render("▶ ")
		titleStyle = StyleSessionActive
	}
	title := cursor + StatusDot(s.Status) + " " + titleStyle.Render(s.ProjectName)

	status := "     " + StyleDimmed.Render(StatusLabel(s.Status))
	if agents := agentSummary(s); agents != "" {
		status += StyleDimmed.Render(" · " + agents)
	}

	where := s.ProjectPath
	if where == "" {
		where = s.SessionID
	}
	meta := "     " + StyleDimmed.Render(where+" · "+timeAgo(m.now().Sub(s.UpdatedAt)))

	lines := []string{title, status, meta}
	if !selected {
		return strings.Join(lines, "\n")
	}
	for i, line := range lines {
		lines[i] = StyleSelected.Render(line + strings.Repeat(" ", max(0, width-lipgloss.Width(line))))
	}
	return strings.Join(lines, "\n")
}

// agentSummary lists sub-agents other than main, e.g. "2 agents: 1 working, 1 done".
func agentSummary(s session.SessionView) string {
	var subs int
	for _, a := range s.Agents {
		if a.AgentName != session.DefaultAgentName {
			subs++
		}
	}
	if subs == 0 {
		return ""
	}

	counts := s.AgentCounts()
	statuses := make([]session.Status, 0, len(counts))
	for st := range counts {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })

	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		parts = append(parts, fmt.Sprintf("%d %s", counts[st], strings.ToLower(shortLabel(st))))
	}
	noun := "agents"
	if len(s.Agents) == 1 {
		noun = "agent"
	}
	return fmt.Sprintf("%d %s: %s", len(s.Agents), noun, strings.Join(parts, ", "))
}

func shortLabel(st session.Status) string {
	switch st {
	case session.Active:
		return "working"
	case session.WaitingInput:
		return "waiting"
	case session.NeedsPermission:
		return "blocked"
	case session.Completed:
		return "done"
	default:
		return "idle"
	}
}

func timeAgo(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < 10*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
