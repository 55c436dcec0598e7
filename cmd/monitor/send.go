package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agent-overlay/monitor/internal/client"
	"github.com/agent-overlay/monitor/internal/session"
)

type sendOptions struct {
	url         string
	eventType   string
	sessionID   string
	projectPath string
	projectName string
	agentName   string
	message     string
	needsInput  bool
}

func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Post a hook event to the server",
		Long: `Reads a hook event as JSON from stdin and posts it to the server.
Flags set fields directly and override the JSON.

  echo '{"event_type":"stop","session_id":"abc"}' | monitor send
  monitor send --type notification --session abc --needs-input`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev, err := opts.event(cmd.InOrStdin(), cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return client.NewHTTPClient(opts.url).SendEvent(ctx, ev)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", defaultServerURL, "Server base URL")
	f.StringVar(&opts.eventType, "type", "", "Event type")
	f.StringVar(&opts.sessionID, "session", "", "Session id")
	f.StringVar(&opts.projectPath, "project-path", "", "Project path")
	f.StringVar(&opts.projectName, "project", "", "Project name")
	f.StringVar(&opts.agentName, "agent", "", "Agent name")
	f.StringVar(&opts.message, "message", "", "Message")
	f.BoolVar(&opts.needsInput, "needs-input", false, "Mark a notification as waiting for input")

	return cmd
}

// event builds the hook event from stdin, unless stdin is a terminal, and
// the flags that were set.
func (o *sendOptions) event(stdin io.Reader, cmd *cobra.Command) (session.HookEvent, error) {
	var ev session.HookEvent
	if !isInteractive(stdin) {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return ev, fmt.Errorf("read stdin: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev); err != nil {
				return ev, fmt.Errorf("decode event: %w", err)
			}
		}
	}

	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("type", &ev.EventType, o.eventType)
	set("session", &ev.SessionID, o.sessionID)
	set("project-path", &ev.ProjectPath, o.projectPath)
	set("project", &ev.ProjectName, o.projectName)
	set("agent", &ev.AgentName, o.agentName)
	set("message", &ev.Message, o.message)
	if cmd.Flags().Changed("needs-input") {
		ev.NeedsInput = o.needsInput
	}

	return ev, ev.Validate()
}

func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
