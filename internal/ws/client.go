package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/agent-overlay/monitor/internal/hub"
	"github.com/agent-overlay/monitor/internal/tracker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// client is one WebSocket observer. The write pump owns data frames; pings
// go through WriteControl, which may run concurrently with it.
type client struct {
	conn   *websocket.Conn
	sub    *tracker.Subscription
	logger *logrus.Entry
}

func newClient(conn *websocket.Conn, sub *tracker.Subscription, logger *logrus.Entry) *client {
	return &client{conn: conn, sub: sub, logger: logger}
}

// run blocks until the peer disconnects, a write fails or ctx is done.
func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()
	defer c.sub.Close()

	go func() {
		c.readPump()
		cancel()
	}()
	go c.pingLoop(ctx)

	c.writePump(ctx)
}

func (c *client) writePump(ctx context.Context) {
	for {
		msg, err := c.sub.Next(ctx)
		if err != nil {
			if errors.Is(err, hub.ErrClosed) {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
			}
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.WithError(err).Debug("WebSocket write failed")
			return
		}
	}
}

// readPump discards inbound frames; it exists to process control frames and
// notice disconnects.
func (c *client) readPump() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
