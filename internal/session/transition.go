package session

// WriteKind selects how a transition is applied to the store.
type WriteKind int

const (
	// WriteUpsert creates or overwrites the session and agent rows.
	WriteUpsert WriteKind = iota
	// WriteGuarded moves rows to the target status only if they are
	// currently in From.
	WriteGuarded
	// WriteComplete marks the session and all its agents completed.
	WriteComplete
)

var writeKindNames = map[WriteKind]string{
	WriteUpsert:   "upsert",
	WriteGuarded:  "guarded",
	WriteComplete: "complete",
}

func (k WriteKind) String() string {
	if s, ok := writeKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Transition is the status change a hook event asks for.
type Transition struct {
	Kind    WriteKind
	From    Status // only meaningful for WriteGuarded
	Session Status
	Agent   Status
}

// Resolve maps a hook event to its transition.
//
// stop is the only guarded transition: a session waiting on input or
// permission must stay visible until the user acts on it, so stop may
// only move active rows to idle. Everything else overwrites.
func Resolve(ev HookEvent) Transition {
	switch {
	case ev.EventType == EventStop:
		return Transition{Kind: WriteGuarded, From: Active, Session: Idle, Agent: Idle}
	case ev.EventType == EventSessionEnd:
		return Transition{Kind: WriteComplete, Session: Completed, Agent: Completed}
	case ev.EventType == EventNotification && ev.NeedsInput:
		return Transition{Kind: WriteUpsert, Session: WaitingInput, Agent: WaitingInput}
	case ev.EventType == EventNeedsPermission:
		return Transition{Kind: WriteUpsert, Session: NeedsPermission, Agent: NeedsPermission}
	case ev.EventType == EventSubagentStop:
		// The sub-agent is done; its parent keeps running.
		return Transition{Kind: WriteUpsert, Session: Active, Agent: Completed}
	default:
		return Transition{Kind: WriteUpsert, Session: Active, Agent: Active}
	}
}
