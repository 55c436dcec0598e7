package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state shared by sessions and their agents. The two
// may hold different values at the same moment.
type Status int

const (
	Active Status = iota
	Idle
	WaitingInput
	NeedsPermission
	Completed
)

var statusNames = map[Status]string{
	Active:          "active",
	Idle:            "idle",
	WaitingInput:    "waiting_input",
	NeedsPermission: "needs_permission",
	Completed:       "completed",
}

var statusFromName = map[string]Status{
	"active":           Active,
	"idle":             Idle,
	"waiting_input":    WaitingInput,
	"needs_permission": NeedsPermission,
	"completed":        Completed,
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus maps a stored status name back to its Status.
func ParseStatus(name string) (Status, error) {
	if s, ok := statusFromName[name]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether the status is final. Terminal rows are only
// ever removed by the retention sweep.
func (s Status) IsTerminal() bool {
	return s == Completed
}

// NeedsAttention reports whether the status is waiting on the user.
func (s Status) NeedsAttention() bool {
	return s == WaitingInput || s == NeedsPermission
}

// Session is one tracked unit of work, keyed by the producer's SessionID.
// ID is the internal row identifier.
type Session struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ProjectName string    `json:"project_name"`
	ProjectPath string    `json:"project_path"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Agent is one named actor within a session. (SessionID, AgentName) is
// unique.
type Agent struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	AgentName       string    `json:"agent_name"`
	ParentSessionID *string   `json:"parent_session_id"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SessionView is a session together with its agents, ordered by creation.
// A slice of these, newest session first, is the snapshot pushed to
// observers.
type SessionView struct {
	Session
	Agents []Agent `json:"agents"`
}

// AgentCounts returns how many agents of the view are in each status.
func (v SessionView) AgentCounts() map[Status]int {
	counts := make(map[Status]int, len(v.Agents))
	for _, a := range v.Agents {
		counts[a.Status]++
	}
	return counts
}
