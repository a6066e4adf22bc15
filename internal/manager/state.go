package manager

import (
	"vert/internal/conversion"
)

// State is a task's lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Startable reports whether StartTask accepts a task in this state.
func (s State) Startable() bool {
	return s == StateCreated || s.Terminal()
}

func stateFor(status conversion.Status) State {
	switch status {
	case conversion.StatusDone:
		return StateCompleted
	case conversion.StatusCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// Snapshot is a consistent view of one task.
type Snapshot struct {
	Task    conversion.Task `json:"task"`
	State   State           `json:"state"`
	Message string          `json:"message,omitempty"`
}
