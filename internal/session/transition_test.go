package session

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		event HookEvent
		want  Transition
	}{
		{
			name:  "stop is guarded on active",
			event: HookEvent{EventType: EventStop},
			want:  Transition{Kind: WriteGuarded, From: Active, Session: Idle, Agent: Idle},
		},
		{
			name:  "session_end completes",
			event: HookEvent{EventType: EventSessionEnd},
			want:  Transition{Kind: WriteComplete, Session: Completed, Agent: Completed},
		},
		{
			name:  "notification needing input",
			event: HookEvent{EventType: EventNotification, NeedsInput: true},
			want:  Transition{Kind: WriteUpsert, Session: WaitingInput, Agent: WaitingInput},
		},
		{
			name:  "plain notification is activity",
			event: HookEvent{EventType: EventNotification},
			want:  Transition{Kind: WriteUpsert, Session: Active, Agent: Active},
		},
		{
			name:  "needs_permission",
			event: HookEvent{EventType: EventNeedsPermission},
			want:  Transition{Kind: WriteUpsert, Session: NeedsPermission, Agent: NeedsPermission},
		},
		{
			name:  "subagent_stop completes only the agent",
			event: HookEvent{EventType: EventSubagentStop, AgentName: "worker"},
			want:  Transition{Kind: WriteUpsert, Session: Active, Agent: Completed},
		},
		{
			name:  "tool_use falls through",
			event: HookEvent{EventType: "tool_use"},
			want:  Transition{Kind: WriteUpsert, Session: Active, Agent: Active},
		},
		{
			name:  "needs_input ignored outside notification",
			event: HookEvent{EventType: "pre_tool_use", NeedsInput: true},
			want:  Transition{Kind: WriteUpsert, Session: Active, Agent: Active},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.event); got != tt.want {
				t.Errorf("Resolve(%+v) = %+v, want %+v", tt.event, got, tt.want)
			}
		})
	}
}

// TestResolveOnlyStopIsGuarded checks that for arbitrary event types the
// guarded path is taken if and only if the event is a stop, and that no
// event other than session_end drives the session to completed.
func TestResolveOnlyStopIsGuarded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	eventType := gen.OneGenOf(
		gen.OneConstOf(EventStop, EventSessionEnd, EventNotification, EventNeedsPermission, EventSubagentStop),
		gen.AlphaString(),
	)

	properties.Property("guarded iff stop", prop.ForAll(
		func(typ string, needsInput bool) bool {
			tr := Resolve(HookEvent{EventType: typ, SessionID: "s", NeedsInput: needsInput})
			return (tr.Kind == WriteGuarded) == (typ == EventStop)
		},
		eventType, gen.Bool(),
	))

	properties.Property("only session_end completes a session", prop.ForAll(
		func(typ string, needsInput bool) bool {
			tr := Resolve(HookEvent{EventType: typ, SessionID: "s", NeedsInput: needsInput})
			return (tr.Session == Completed) == (typ == EventSessionEnd)
		},
		eventType, gen.Bool(),
	))

	properties.Property("stop never targets completed", prop.ForAll(
		func(needsInput bool) bool {
			tr := Resolve(HookEvent{EventType: EventStop, SessionID: "s", NeedsInput: needsInput})
			return tr.Session == Idle && tr.Agent == Idle && tr.From == Active
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
