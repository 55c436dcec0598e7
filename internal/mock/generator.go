package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agent-overlay/monitor/internal/session"
)

// Submitter accepts hook events. *tracker.Tracker implements it.
type Submitter interface {
	SubmitEvent(ctx context.Context, ev session.HookEvent) error
}

type step struct {
	eventType  string
	agent      string
	needsInput bool
	tool       string
	message    string
}

type mockSession struct {
	id          string
	projectName string
	projectPath string
	script      []step
	pos         int
	run         int
}

func (m *mockSession) sessionID() string {
	if m.run == 0 {
		return m.id
	}
	return fmt.Sprintf("%s-%d", m.id, m.run)
}

func (m *mockSession) event(s step) session.HookEvent {
	ev := session.HookEvent{
		EventType:   s.eventType,
		SessionID:   m.sessionID(),
		ProjectPath: m.projectPath,
		ProjectName: m.projectName,
		AgentName:   s.agent,
		NeedsInput:  s.needsInput,
		ToolName:    s.tool,
		Message:     s.message,
	}
	if s.agent != "" && s.agent != session.DefaultAgentName {
		ev.ParentSessionID = ev.SessionID
	}
	return ev
}

func tool(name string) step {
	return step{eventType: "pre_tool_use", tool: name}
}

func subTool(agent, name string) step {
	return step{eventType: "pre_tool_use", agent: agent, tool: name}
}

// defaultSessions covers every transition: plain activity, sub-agents,
// input and permission prompts, a stop that must not clear a prompt, and
// session end.
func defaultSessions() []*mockSession {
	return []*mockSession{
		{
			id: "mock-refactor", projectName: "myproject", projectPath: "/home/user/myproject",
			script: []step{
				tool("Read"), tool("Grep"), tool("Edit"),
				subTool("researcher", "Glob"), subTool("researcher", "Read"),
				tool("Bash"),
				{eventType: session.EventSubagentStop, agent: "researcher"},
				tool("Write"),
				{eventType: session.EventStop},
				{eventType: "user_prompt_submit"},
				tool("Edit"),
				{eventType: session.EventStop},
				{eventType: session.EventSessionEnd},
			},
		},
		{
			id: "mock-tests", projectName: "webapp", projectPath: "/home/user/webapp",
			script: []step{
				tool("Read"), tool("Bash"),
				{eventType: session.EventNeedsPermission, tool: "Bash", message: "Allow rm -rf build/?"},
				{eventType: session.EventStop},
				tool("Bash"), tool("Bash"),
				{eventType: session.EventStop},
				{eventType: session.EventSessionEnd},
			},
		},
		{
			id: "mock-debug", projectName: "api-server", projectPath: "/home/user/api-server",
			script: []step{
				tool("Grep"), tool("Read"),
				{eventType: session.EventNotification, needsInput: true, message: "Which endpoint is failing?"},
				{eventType: session.EventStop},
				{eventType: session.EventNotification, needsInput: true, message: "Still waiting"},
				{eventType: "user_prompt_submit"},
				tool("Read"), tool("Edit"),
				{eventType: session.EventStop},
				{eventType: session.EventSessionEnd},
			},
		},
		{
			id: "mock-review", projectName: "library", projectPath: "/home/user/library",
			script: []step{
				tool("Read"),
				subTool("explorer", "Glob"), subTool("reviewer", "Read"),
				subTool("explorer", "Grep"), subTool("reviewer", "LSP"),
				{eventType: session.EventSubagentStop, agent: "explorer"},
				{eventType: session.EventSubagentStop, agent: "reviewer"},
				tool("Write"),
				{eventType: session.EventStop},
				{eventType: session.EventSessionEnd},
			},
		},
	}
}

// MockGenerator replays scripted hook events for a few fake sessions so the
// server and overlay can be exercised without real agents.
type MockGenerator struct {
	submitter Submitter
	interval  time.Duration
	logger    *logrus.Entry
	sessions  []*mockSession
	tick      int
}

func NewGenerator(submitter Submitter, interval time.Duration, logger *logrus.Entry) *MockGenerator {
	if interval <= 0 {
		interval = time.Second
	}
	return &MockGenerator{
		submitter: submitter,
		interval:  interval,
		logger:    logger,
		sessions:  defaultSessions(),
	}
}

// Start runs the generator in the background until ctx is done.
func (g *MockGenerator) Start(ctx context.Context) {
	go g.run(ctx)
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	g.logger.WithField("sessions", len(g.sessions)).Info("Mock generator started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step(ctx)
		}
	}
}

// Step emits the next event of every session whose turn it is. Sessions
// are staggered so they do not move in lockstep. A finished script starts
// over under a new session id.
func (g *MockGenerator) Step(ctx context.Context) {
	g.tick++
	for i, ms := range g.sessions {
		// Session i joins at tick i+1 and then advances every (i%2)+1 ticks.
		if g.tick <= i || (g.tick-i)%((i%2)+1) != 0 {
			continue
		}
		ev := ms.event(ms.script[ms.pos])
		if err := g.submitter.SubmitEvent(ctx, ev); err != nil {
			g.logger.WithError(err).WithField("session_id", ev.SessionID).Warn("Mock event rejected")
		}
		ms.pos++
		if ms.pos == len(ms.script) {
			ms.pos = 0
			ms.run++
		}
	}
}
