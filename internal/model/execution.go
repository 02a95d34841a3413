package model

import (
	"encoding/json"
	"time"
)

// Mode tells the controller how a work unit exchanges messages with its worker.
type Mode string

// Execution modes.
const (
	ModeOneShot Mode = "one_shot"
	ModeStream  Mode = "stream"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeOneShot || m == ModeStream
}

// State is the lifecycle state of a delegated execution.
type State string

// Execution states.
const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// validTransitions maps each state to the set of states it may transition to.
// Terminal states have no entry.
var validTransitions = map[State]map[State]bool{
	StateCreated: {
		StateRunning:   true,
		StateFailed:    true,
		StateCancelled: true,
	},
	StateRunning: {
		StateCompleted: true,
		StateFailed:    true,
		StateTimedOut:  true,
		StateCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one state to another is allowed.
func ValidTransition(from, to State) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// WorkUnit describes the work to run in a worker context. Task names a handler
// registered on the worker side; Args and Context must be JSON-encodable since
// they are copied across the isolation boundary.
type WorkUnit struct {
	Task         string              `json:"task"`
	Mode         Mode                `json:"mode"`
	Args         []any               `json:"args,omitempty"`
	Context      map[string]any      `json:"context,omitempty"`
	Capabilities map[string][]string `json:"capabilities,omitempty"`
}

// Event types recorded for an execution.
const (
	EventStep = "step"
	EventLog  = "log"
)

// Event is a single step value or log line emitted while an execution runs.
type Event struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Seq         int       `json:"seq"`
	Type        string    `json:"type"`
	Data        string    `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
}

// Execution is the journal record of one delegation call.
type Execution struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Mode       Mode            `json:"mode"`
	Boundary   string          `json:"boundary"`
	State      State           `json:"state"`
	Args       json.RawMessage `json:"args,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	Steps      int             `json:"steps"`
	TimeoutMS  *int            `json:"timeout_ms,omitempty"`
	DurationMS *int            `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
