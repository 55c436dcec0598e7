package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/agent-overlay/monitor/internal/session"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WSClient manages the WebSocket connection to the monitor server.
type WSClient struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client that connects to the given WebSocket URL.
func NewWSClient(url string) *WSClient {
	return &WSClient{url: url}
}

// WSURL derives the /ws endpoint from an http(s) base URL.
func WSURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// --- Bubble Tea messages ---

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// SnapshotMsg delivers the full active-session list.
type SnapshotMsg struct{ Sessions []session.SessionView }

// Listen returns a Bubble Tea command that connects, retrying with
// exponential backoff until it succeeds or ctx is done.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err == nil {
				c.attach(ctx, conn)
				return WSConnectedMsg{}
			}
			select {
			case <-ctx.Done():
				return WSDisconnectedMsg{Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
		}
	}
}

func (c *WSClient) attach(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	pingCtx, cancel := context.WithCancel(ctx)
	c.conn = conn
	c.pingCtx = cancel
	go c.pingLoop(pingCtx, conn)
}

// ReadLoop returns a Bubble Tea command that yields the next snapshot. It
// should be re-issued after every SnapshotMsg.
func (c *WSClient) ReadLoop() tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: errors.New("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.drop(conn)
				return WSDisconnectedMsg{Err: err}
			}
			var views []session.SessionView
			if err := json.Unmarshal(data, &views); err != nil {
				continue
			}
			return SnapshotMsg{Sessions: views}
		}
	}
}

func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.pingCtx != nil {
			c.pingCtx()
			c.pingCtx = nil
		}
	}
	c.mu.Unlock()
	conn.Close()
}

// Close drops the current connection, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn)
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
