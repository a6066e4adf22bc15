package manager

import (
	"vert/internal/conversion"
)

// Recorder observes task lifecycle events. Calls are serialized and arrive
// in the order the registry changed.
type Recorder interface {
	TaskAdded(task conversion.Task)
	StateChanged(task conversion.Task, state State, message string)
	TaskRemoved(task conversion.Task)
	Cleared()
}

type eventKind int

const (
	eventAdded eventKind = iota
	eventState
	eventRemoved
	eventCleared
)

type event struct {
	kind    eventKind
	task    conversion.Task
	state   State
	message string
}

// publishLocked hands lifecycle events to the recorders. It must be called
// with m.mu held and releases it; the notify lock is taken first so events
// reach recorders in mutation order.
func (m *Manager) publishLocked(events ...event) {
	if len(m.recorders) == 0 || len(events) == 0 {
		m.mu.Unlock()
		return
	}
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	for _, ev := range events {
		for _, r := range m.recorders {
			switch ev.kind {
			case eventAdded:
				r.TaskAdded(ev.task)
			case eventState:
				r.StateChanged(ev.task, ev.state, ev.message)
			case eventRemoved:
				r.TaskRemoved(ev.task)
			case eventCleared:
				r.Cleared()
			}
		}
	}
}
