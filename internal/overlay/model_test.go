package overlay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-overlay/monitor/internal/client"
	"github.com/agent-overlay/monitor/internal/session"
)

type fakeFeed struct {
	listens int
	reads   int
	closed  int
}

func (f *fakeFeed) Listen(context.Context) tea.Cmd {
	f.listens++
	return func() tea.Msg { return client.WSConnectedMsg{} }
}

func (f *fakeFeed) ReadLoop() tea.Cmd {
	f.reads++
	return func() tea.Msg { return nil }
}

func (f *fakeFeed) Close() { f.closed++ }

type fakeController struct {
	mu      sync.Mutex
	ended   []string
	cleared int
	err     error
}

func (c *fakeController) EndSession(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, id)
	return c.err
}

func (c *fakeController) ClearSessions(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
	return c.err
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testViews(now time.Time) []session.SessionView {
	return []session.SessionView{
		{
			Session: session.Session{SessionID: "s1", ProjectName: "api", ProjectPath: "/src/api", Status: session.WaitingInput, UpdatedAt: now.Add(-2 * time.Minute)},
			Agents: []session.Agent{
				{AgentName: "main", Status: session.WaitingInput},
				{AgentName: "worker", Status: session.Completed},
			},
		},
		{
			Session: session.Session{SessionID: "s2", ProjectName: "web", Status: session.Active, UpdatedAt: now},
			Agents:  []session.Agent{{AgentName: "main", Status: session.Active}},
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestConnectStartsReading(t *testing.T) {
	feed := &fakeFeed{}
	m := New(feed, &fakeController{})

	msg := m.Init()()
	if _, ok := msg.(client.WSConnectedMsg); !ok {
		t.Fatalf("Init() produced %T, want WSConnectedMsg", msg)
	}
	m, cmd := update(t, m, msg)
	if !m.connected || cmd == nil || feed.reads != 1 {
		t.Errorf("connected=%v reads=%d, want connected and one ReadLoop", m.connected, feed.reads)
	}
}

func TestDisconnectReconnects(t *testing.T) {
	feed := &fakeFeed{}
	m := New(feed, &fakeController{})
	m.connected = true

	m, cmd := update(t, m, client.WSDisconnectedMsg{Err: errors.New("eof")})
	if m.connected {
		t.Error("expected disconnected")
	}
	if cmd == nil || feed.listens != 1 {
		t.Errorf("expected a reconnect, listens=%d", feed.listens)
	}
	if !strings.Contains(m.View(), "disconnected") {
		t.Error("view should flag the disconnect")
	}
}

func TestSnapshotKeepsSelection(t *testing.T) {
	now := time.Now()
	m := New(&fakeFeed{}, &fakeController{})
	m, _ = update(t, m, client.SnapshotMsg{Sessions: testViews(now)})
	m, _ = update(t, m, keyMsg("j"))

	if sel, _ := m.Selected(); sel.SessionID != "s2" {
		t.Fatalf("selected %q, want s2", sel.SessionID)
	}

	// s2 moves to the top; the cursor follows it.
	views := testViews(now)
	views[0], views[1] = views[1], views[0]
	m, _ = update(t, m, client.SnapshotMsg{Sessions: views})
	if sel, _ := m.Selected(); sel.SessionID != "s2" || m.cursor != 0 {
		t.Errorf("selected %q at %d, want s2 at 0", sel.SessionID, m.cursor)
	}

	m, _ = update(t, m, client.SnapshotMsg{Sessions: nil})
	if _, ok := m.Selected(); ok {
		t.Error("no selection expected for an empty list")
	}
}

func TestCursorBounds(t *testing.T) {
	m := New(&fakeFeed{}, &fakeController{})
	m, _ = update(t, m, client.SnapshotMsg{Sessions: testViews(time.Now())})

	m, _ = update(t, m, keyMsg("k"))
	if m.cursor != 0 {
		t.Errorf("cursor = %d after up at top", m.cursor)
	}
	for range 5 {
		m, _ = update(t, m, keyMsg("j"))
	}
	if m.cursor != 1 {
		t.Errorf("cursor = %d after repeated down, want 1", m.cursor)
	}
}

func TestEndSelectedSession(t *testing.T) {
	ctl := &fakeController{}
	m := New(&fakeFeed{}, ctl)
	m, _ = update(t, m, client.SnapshotMsg{Sessions: testViews(time.Now())})

	m, cmd := update(t, m, keyMsg("d"))
	if cmd == nil {
		t.Fatal("expected an end command")
	}
	m, _ = update(t, m, cmd())
	if len(ctl.ended) != 1 || ctl.ended[0] != "s1" {
		t.Errorf("ended = %v, want [s1]", ctl.ended)
	}
	if m.lastErr != "" {
		t.Errorf("unexpected error %q", m.lastErr)
	}
}

func TestClearAllShowsError(t *testing.T) {
	ctl := &fakeController{err: errors.New("connection refused")}
	m := New(&fakeFeed{}, ctl)

	m, cmd := update(t, m, keyMsg("C"))
	if cmd == nil {
		t.Fatal("expected a clear command")
	}
	m, _ = update(t, m, cmd())
	if ctl.cleared != 1 {
		t.Errorf("cleared = %d, want 1", ctl.cleared)
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("view should show the failed action")
	}
}

func TestEndWithNoSessionsIsNoop(t *testing.T) {
	m := New(&fakeFeed{}, &fakeController{})
	if _, cmd := update(t, m, keyMsg("d")); cmd != nil {
		t.Error("expected no command without sessions")
	}
}

func TestQuitClosesFeed(t *testing.T) {
	feed := &fakeFeed{}
	m := New(feed, &fakeController{})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if feed.closed != 1 {
		t.Errorf("feed closed %d times, want 1", feed.closed)
	}

	// A disconnect after quitting must not reconnect.
	_, cmd = update(t, m, client.WSDisconnectedMsg{})
	if cmd != nil || feed.listens != 0 {
		t.Error("reconnect attempted after quit")
	}
}

func TestViewRendersSessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := New(&fakeFeed{}, &fakeController{})
	m.now = func() time.Time { return now }
	m.connected = true
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m, _ = update(t, m, client.SnapshotMsg{Sessions: testViews(now)})

	view := m.View()
	for _, want := range []string{
		"Agent Monitor",
		"1 need you · 2 sessions",
		"api",
		"Waiting for input",
		"2 agents: 1 waiting, 1 done",
		"/src/api · 2m ago",
		"web",
		"Working...",
		"s2 · just now",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "disconnected") {
		t.Error("connected view should not show disconnected")
	}
}

func TestViewEmpty(t *testing.T) {
	m := New(&fakeFeed{}, &fakeController{})
	m.connected = true
	if !strings.Contains(m.View(), "No active sessions.") {
		t.Errorf("empty view:\n%s", m.View())
	}
	if !strings.Contains(m.View(), "0 sessions") {
		t.Error("expected 0 sessions count")
	}
}

func TestTimeAgo(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "just now"},
		{5 * time.Second, "just now"},
		{42 * time.Second, "42s ago"},
		{3 * time.Minute, "3m ago"},
		{5 * time.Hour, "5h ago"},
		{50 * time.Hour, "2d ago"},
	}
	for _, tt := range tests {
		if got := timeAgo(tt.d); got != tt.want {
			t.Errorf("timeAgo(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestHeaderStaysOnOneLine(t *testing.T) {
	now := time.Now()
	for _, width := range []int{50, 80, 120} {
		m := New(&fakeFeed{}, &fakeController{})
		m.connected = true
		m, _ = update(t, m, tea.WindowSizeMsg{Width: width, Height: 30})
		m, _ = update(t, m, client.SnapshotMsg{Sessions: testViews(now)})

		lines := strings.Split(m.View(), "\n")
		var header string
		for _, line := range lines {
			if strings.Contains(line, "Agent Monitor") {
				header = line
				break
			}
		}
		if !strings.Contains(header, "1 need you · 2 sessions") {
			t.Errorf("width %d: header wrapped: %q", width, header)
		}
		for i, line := range lines {
			if w := lipgloss.Width(line); w != lipgloss.Width(lines[0]) {
				t.Errorf("width %d: line %d is %d wide, want %d", width, i, w, lipgloss.Width(lines[0]))
			}
		}
	}
}
