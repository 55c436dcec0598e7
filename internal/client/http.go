package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agent-overlay/monitor/internal/session"
)

// HTTPClient makes REST calls to the monitor server.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:9147").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendEvent posts a hook event to /api/events.
func (c *HTTPClient) SendEvent(ctx context.Context, ev session.HookEvent) error {
	return c.do(ctx, http.MethodPost, "/api/events", ev, nil)
}

// ListSessions fetches the active sessions.
func (c *HTTPClient) ListSessions(ctx context.Context) ([]session.SessionView, error) {
	var out []session.SessionView
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EndSession sends DELETE /api/sessions/{id}.
func (c *HTTPClient) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// ClearSessions sends DELETE /api/sessions.
func (c *HTTPClient) ClearSessions(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions", nil, nil)
}

// Health fetches /health as a loose map.
func (c *HTTPClient) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(method, path, resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
}
