package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Hook event types with dedicated handling. Every other type is treated as
// activity on the session.
const (
	EventStop            = "stop"
	EventSessionEnd      = "session_end"
	EventNotification    = "notification"
	EventNeedsPermission = "needs_permission"
	EventSubagentStop    = "subagent_stop"
)

const (
	// DefaultAgentName is used when a hook event does not name its agent.
	DefaultAgentName = "main"
	// UnknownProjectName is stored when a hook event carries no project name.
	UnknownProjectName = "unknown"
)

// ErrInvalidEvent is returned for hook events missing a required field.
var ErrInvalidEvent = errors.New("invalid hook event")

// HookEvent is the loosely structured notification posted by agent hooks.
type HookEvent struct {
	EventType       string `json:"event_type"`
	SessionID       string `json:"session_id"`
	ProjectPath     string `json:"project_path,omitempty"`
	ProjectName     string `json:"project_name,omitempty"`
	AgentName       string `json:"agent_name,omitempty"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
	NeedsInput      bool   `json:"needs_input,omitempty"`
	ToolName        string `json:"tool_name,omitempty"`
	TranscriptPath  string `json:"transcript_path,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Validate rejects events that cannot be attributed to a session.
func (e HookEvent) Validate() error {
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidEvent)
	}
	return nil
}

// Agent returns the agent name, falling back to DefaultAgentName.
func (e HookEvent) Agent() string {
	if e.AgentName == "" {
		return DefaultAgentName
	}
	return e.AgentName
}

// Project returns the project path and display name, with the name
// falling back to UnknownProjectName.
func (e HookEvent) Project() (path, name string) {
	name = e.ProjectName
	if name == "" {
		name = UnknownProjectName
	}
	return e.ProjectPath, name
}

// Parent returns the parent session id, or nil when none was given.
func (e HookEvent) Parent() *string {
	if e.ParentSessionID == "" {
		return nil
	}
	p := e.ParentSessionID
	return &p
}

type eventPayload struct {
	NeedsInput     bool    `json:"needs_input"`
	ToolName       *string `json:"tool_name"`
	TranscriptPath *string `json:"transcript_path"`
	Message        *string `json:"message"`
}

// Payload is the opaque blob recorded in the event log for this event.
func (e HookEvent) Payload() []byte {
	data, err := json.Marshal(eventPayload{
		NeedsInput:     e.NeedsInput,
		ToolName:       optional(e.ToolName),
		TranscriptPath: optional(e.TranscriptPath),
		Message:        optional(e.Message),
	})
	if err != nil {
		return EmptyPayload
	}
	return data
}

// EmptyPayload is logged for stop and session_end events.
var EmptyPayload = []byte("{}")

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Event is an append-only audit log entry. It is never used to rebuild
// status.
type Event struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	AgentName *string         `json:"agent_name"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}
