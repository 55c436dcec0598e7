package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/agent-overlay/monitor/internal/hub"
	"github.com/agent-overlay/monitor/internal/session"
	"github.com/agent-overlay/monitor/internal/store"
	"github.com/agent-overlay/monitor/internal/tracker"
	"github.com/agent-overlay/monitor/internal/ws"
)

func newTestServer(t *testing.T) *httptest.Server {
	srv, _ := newTestServerWithHub(t)
	return srv
}

func newTestServerWithHub(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{Path: filepath.Join(t.TempDir(), "sessions.db")})
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	entry := logrus.NewEntry(logger)
	h := hub.New(hub.DefaultCapacity)
	srv := httptest.NewServer(ws.NewServer(tracker.New(st, h, entry), "test", entry).Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
		st.Close()
	})
	return srv, h
}

func TestWSURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://127.0.0.1:9147", "ws://127.0.0.1:9147/ws"},
		{"https://monitor.local/", "wss://monitor.local/ws"},
		{"ws://host:1", "ws://host:1/ws"},
	}
	for _, tt := range tests {
		if got := WSURL(tt.in); got != tt.want {
			t.Errorf("WSURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHTTPClientRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c := NewHTTPClient(srv.URL + "/")
	ctx := context.Background()

	require.NoError(t, c.SendEvent(ctx, session.HookEvent{EventType: "tool_use", SessionID: "a b", ProjectName: "web"}))
	require.NoError(t, c.SendEvent(ctx, session.HookEvent{EventType: "tool_use", SessionID: "c"}))

	views, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)

	require.NoError(t, c.EndSession(ctx, "a b"))
	views, err = c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "c", views[0].SessionID)

	require.NoError(t, c.ClearSessions(ctx))
	views, err = c.ListSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, views)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", health["status"])
}

func TestHTTPClientSurfacesServerError(t *testing.T) {
	srv := newTestServer(t)
	c := NewHTTPClient(srv.URL)

	err := c.SendEvent(context.Background(), session.HookEvent{EventType: "tool_use"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
	require.Contains(t, err.Error(), "session_id")
}

func TestWSClientReceivesSnapshots(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsc := NewWSClient(WSURL(srv.URL))
	defer wsc.Close()

	require.IsType(t, WSConnectedMsg{}, wsc.Listen(ctx)())

	msg := wsc.ReadLoop()()
	snap, ok := msg.(SnapshotMsg)
	require.True(t, ok, "got %T", msg)
	require.Empty(t, snap.Sessions)

	require.NoError(t, NewHTTPClient(srv.URL).SendEvent(ctx, session.HookEvent{EventType: session.EventNeedsPermission, SessionID: "s1"}))

	msg = wsc.ReadLoop()()
	snap, ok = msg.(SnapshotMsg)
	require.True(t, ok, "got %T", msg)
	require.Len(t, snap.Sessions, 1)
	require.Equal(t, session.NeedsPermission, snap.Sessions[0].Status)
}

func TestWSClientDisconnect(t *testing.T) {
	srv, h := newTestServerWithHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsc := NewWSClient(WSURL(srv.URL))
	require.IsType(t, WSConnectedMsg{}, wsc.Listen(ctx)())
	wsc.ReadLoop()()

	// Closing the hub makes the server hang up on every observer.
	h.Close()
	msg := wsc.ReadLoop()()
	require.IsType(t, WSDisconnectedMsg{}, msg)

	require.IsType(t, WSDisconnectedMsg{}, wsc.ReadLoop()(), "no connection after drop")
}

func TestWSClientListenGivesUpOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wsc := NewWSClient("ws://127.0.0.1:1/ws")
	msg := wsc.Listen(ctx)()
	require.IsType(t, WSDisconnectedMsg{}, msg)
}
