package manager

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"vert/internal/conversion"
	"vert/internal/logging"
	"vert/internal/media"
)

const (
	DefaultChannelCapacity = 32
	DefaultCancelGrace     = 5 * time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.NewComponentLogger(logger, "manager")
	}
}

// WithRecorders registers lifecycle observers.
func WithRecorders(recorders ...Recorder) Option {
	return func(m *Manager) {
		for _, r := range recorders {
			if r != nil {
				m.recorders = append(m.recorders, r)
			}
		}
	}
}

// WithChannelCapacity sets the buffer of the progress channels handed out by
// StartTask.
func WithChannelCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithCancelGrace bounds how long a cancel waits for a task's stream to
// close before it stops delivering to an unread channel.
func WithCancelGrace(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.cancelGrace = d
		}
	}
}

type entry struct {
	task    conversion.Task
	state   State
	message string
}

// snapshot copies the entry; callers never share the stored options.
func (e *entry) snapshot() Snapshot {
	return Snapshot{Task: e.task.Clone(), State: e.state, Message: e.message}
}

// execution is the handle of one running task.
type execution struct {
	cancel context.CancelFunc
	// cancelled is set, under the manager lock, when the manager stops the
	// run; the outward terminal is then always cancelled.
	cancelled bool
	// announced is set once recorders have seen the running state.
	announced bool
	finished  chan struct{}
	abandoned chan struct{}
	abandon   sync.Once
}

// Manager is the task registry. The zero value is not usable; call New.
type Manager struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	registry    *conversion.Registry
	logger      *slog.Logger
	recorders   []Recorder
	capacity    int
	cancelGrace time.Duration

	tasks    map[string]*entry
	byKind   map[media.Kind]map[string]struct{}
	handles  map[string]*execution
	channels map[string]chan conversion.ProgressUpdate
}

// New returns a manager dispatching to the converters in registry.
func New(registry *conversion.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry:    registry,
		logger:      logging.NewComponentLogger(nil, "manager"),
		capacity:    DefaultChannelCapacity,
		cancelGrace: DefaultCancelGrace,
		tasks:       make(map[string]*entry),
		byKind:      make(map[media.Kind]map[string]struct{}),
		handles:     make(map[string]*execution),
		channels:    make(map[string]chan conversion.ProgressUpdate),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Registry returns the converters the manager dispatches to.
func (m *Manager) Registry() *conversion.Registry {
	return m.registry
}

// AddTask validates and stores a copy of task in the created state. An empty
// id is replaced with a new time-ordered id, which is returned.
func (m *Manager) AddTask(task conversion.Task) (string, error) {
	task = task.Clone()
	if task.ID == "" {
		task.ID = conversion.NewTaskID()
	}
	if err := task.Validate(); err != nil {
		return "", err
	}
	if _, ok := m.registry.ForKind(task.Kind); !ok {
		return "", conversion.Wrap(conversion.ErrValidation, "add task",
			fmt.Sprintf("no converter for %s", task.Kind), nil)
	}

	m.mu.Lock()
	if _, exists := m.tasks[task.ID]; exists {
		m.mu.Unlock()
		return "", conversion.Wrap(conversion.ErrValidation, "add task",
			fmt.Sprintf("task %s already exists", task.ID), nil)
	}
	m.tasks[task.ID] = &entry{task: task, state: StateCreated}
	ids := m.byKind[task.Kind]
	if ids == nil {
		ids = make(map[string]struct{})
		m.byKind[task.Kind] = ids
	}
	ids[task.ID] = struct{}{}
	m.publishLocked(event{kind: eventAdded, task: task})

	m.logger.Info("task added",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldMediaKind, string(task.Kind)),
		logging.String("input", task.InputPath),
		logging.String("output", task.OutputPath),
	)
	return task.ID, nil
}

// GetTask returns the task stored under id.
func (m *Manager) GetTask(id string) (conversion.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return conversion.Task{}, false
	}
	return e.task.Clone(), true
}

// Snapshot returns the task with its state and last status message.
func (m *Manager) Snapshot(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// State returns the lifecycle state of id.
func (m *Manager) State(id string) (State, bool) {
	snap, ok := m.Snapshot(id)
	return snap.State, ok
}

// ListTasks returns tasks of kind (all kinds when empty) ordered by id, after
// skipping offset tasks and keeping at most limit. limit <= 0 keeps all.
func (m *Manager) ListTasks(kind media.Kind, offset, limit int) []conversion.Task {
	snaps := m.ListSnapshots(kind, offset, limit)
	out := make([]conversion.Task, len(snaps))
	for i, s := range snaps {
		out[i] = s.Task
	}
	return out
}

// ListSnapshots is ListTasks with states.
func (m *Manager) ListSnapshots(kind media.Kind, offset, limit int) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.idsLocked(kind)
	slices.Sort(ids)
	offset = max(offset, 0)
	if offset >= len(ids) {
		return []Snapshot{}
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.tasks[id].snapshot())
	}
	return out
}

// CountTasks returns the number of tasks of kind, or of all kinds when empty.
func (m *Manager) CountTasks(kind media.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == "" {
		return len(m.tasks)
	}
	return len(m.byKind[kind])
}

func (m *Manager) idsLocked(kind media.Kind) []string {
	if kind != "" {
		ids := make([]string, 0, len(m.byKind[kind]))
		for id := range m.byKind[kind] {
			ids = append(ids, id)
		}
		return ids
	}
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	return ids
}

// StartTask launches the task's conversion and returns its progress stream.
// The stream ends with exactly one terminal update and is then closed. The
// run is detached from ctx's cancellation; stop it with CancelTask.
//
// A task can be started when created or after a previous run ended.
func (m *Manager) StartTask(ctx context.Context, id string) (<-chan conversion.ProgressUpdate, error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, conversion.Wrap(conversion.ErrNotFound, "start task", id, nil)
	}
	if e.state == StateRunning {
		m.mu.Unlock()
		return nil, fmt.Errorf("start task %s: %w", id, conversion.ErrAlreadyRunning)
	}
	if !e.state.Startable() {
		m.mu.Unlock()
		return nil, conversion.Wrap(conversion.ErrState, "start task", fmt.Sprintf("%s is %s", id, e.state), nil)
	}
	converter, ok := m.registry.ForKind(e.task.Kind)
	if !ok {
		m.mu.Unlock()
		return nil, conversion.Wrap(conversion.ErrValidation, "start task", fmt.Sprintf("no converter for %s", e.task.Kind), nil)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	exec := &execution{
		cancel:    cancel,
		finished:  make(chan struct{}),
		abandoned: make(chan struct{}),
	}
	out := make(chan conversion.ProgressUpdate, m.capacity)
	prevState, prevMessage := e.state, e.message
	task := e.task
	m.handles[id] = exec
	m.channels[id] = out
	e.state, e.message = StateRunning, ""
	m.mu.Unlock()

	stream, err := converter.Convert(runCtx, task)
	if err != nil {
		cancel()
		m.mu.Lock()
		if m.handles[id] == exec {
			m.retireLocked(id)
			if cur, ok := m.tasks[id]; ok {
				cur.state, cur.message = prevState, prevMessage
			}
		}
		m.mu.Unlock()
		close(exec.finished)
		m.logger.Warn("task failed to start",
			logging.String(logging.FieldTaskID, id),
			logging.Error(err),
			logging.String(logging.FieldEventType, "task_start_failed"),
			logging.String(logging.FieldErrorHint, "check the task paths and that the converter's tool is installed"),
		)
		return nil, err
	}

	m.mu.Lock()
	if m.handles[id] == exec {
		exec.announced = true
		m.publishLocked(event{kind: eventState, task: task, state: StateRunning})
		m.logger.Info("task started",
			logging.String(logging.FieldTaskID, id),
			logging.String(logging.FieldMediaKind, string(task.Kind)),
			logging.String("converter", converter.Name()),
		)
	} else {
		// Cancelled or removed while the converter was starting; the running
		// event went out with the cancellation.
		m.mu.Unlock()
	}

	go m.forward(id, exec, stream, out)
	return out, nil
}

// forward relays the converter stream to the caller's channel. It records
// the outcome before delivering the terminal update, so a consumer that sees
// the terminal also sees the final state.
func (m *Manager) forward(id string, exec *execution, stream <-chan conversion.ProgressUpdate, out chan<- conversion.ProgressUpdate) {
	defer close(exec.finished)
	defer close(out)
	defer exec.cancel()

	delivering := true
	deliver := func(update conversion.ProgressUpdate) {
		if !delivering {
			return
		}
		select {
		case out <- update:
		case <-exec.abandoned:
			delivering = false
		}
	}

	var (
		seenTerminal bool
		lastPct      float64
	)
	for update := range stream {
		if seenTerminal {
			continue
		}
		if update.Terminal() {
			seenTerminal = true
			update = m.finish(id, exec, update)
		}
		lastPct = update.Percentage
		deliver(update)
	}
	if !seenTerminal {
		deliver(m.finish(id, exec, conversion.NewFailed(id, lastPct, "conversion ended without an outcome")))
	}
}

// finish retires the execution if it is still current and records the
// terminal state.
func (m *Manager) finish(id string, exec *execution, terminal conversion.ProgressUpdate) conversion.ProgressUpdate {
	m.mu.Lock()
	if exec.cancelled && terminal.Status != conversion.StatusCancelled {
		terminal = conversion.NewCancelled(id, terminal.Percentage, "conversion cancelled")
	}
	if m.handles[id] != exec {
		m.mu.Unlock()
		return terminal
	}
	m.retireLocked(id)
	e := m.tasks[id]
	state := stateFor(terminal.Status)
	e.state, e.message = state, terminal.StatusMessage
	task := e.task
	m.publishLocked(event{kind: eventState, task: task, state: state, message: terminal.StatusMessage})

	attrs := []logging.Attr{
		logging.String(logging.FieldTaskID, id),
		logging.String(logging.FieldMediaKind, string(task.Kind)),
		logging.String("state", string(state)),
	}
	if state == StateFailed {
		logging.WarnWithContext(m.logger, "task failed", "task_failed",
			append(attrs,
				logging.String("reason", terminal.StatusMessage),
				logging.String(logging.FieldErrorHint, "inspect the tool diagnostics on the progress stream"),
				logging.String(logging.FieldImpact, "output may be missing or partial"),
			)...,
		)
	} else {
		m.logger.Info("task finished", logging.Args(attrs...)...)
	}
	return terminal
}

// CancelTask stops a running task. The task stays registered in the
// cancelled state.
func (m *Manager) CancelTask(id string) error {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return conversion.Wrap(conversion.ErrNotFound, "cancel task", id, nil)
	}
	if e.state != StateRunning {
		m.mu.Unlock()
		return fmt.Errorf("cancel task %s: %w", id, conversion.ErrNotRunning)
	}
	exec := m.handles[id]
	m.retireLocked(id)
	e.state, e.message = StateCancelled, "conversion cancelled"
	task := e.task
	if exec != nil {
		exec.cancelled = true
	}
	m.publishLocked(append(pendingRunningLocked(exec, task),
		event{kind: eventState, task: task, state: StateCancelled, message: e.message})...)

	m.logger.Info("task cancelled", logging.String(logging.FieldTaskID, id))
	m.stop(id, exec)
	return nil
}

// RemoveTask deletes a task. A running task is cancelled first.
func (m *Manager) RemoveTask(id string) error {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return conversion.Wrap(conversion.ErrNotFound, "remove task", id, nil)
	}
	exec := m.handles[id]
	if exec != nil {
		exec.cancelled = true
	}
	m.retireLocked(id)
	delete(m.tasks, id)
	if ids := m.byKind[e.task.Kind]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byKind, e.task.Kind)
		}
	}
	events := pendingRunningLocked(exec, e.task)
	if exec != nil {
		events = append(events, event{kind: eventState, task: e.task, state: StateCancelled, message: "conversion cancelled"})
	}
	m.publishLocked(append(events, event{kind: eventRemoved, task: e.task})...)

	m.logger.Info("task removed",
		logging.String(logging.FieldTaskID, id),
		logging.Bool("was_running", exec != nil),
	)
	m.stop(id, exec)
	return nil
}

// Clear cancels every running task and forgets all tasks.
func (m *Manager) Clear() {
	m.mu.Lock()
	running := make(map[string]*execution, len(m.handles))
	for id, exec := range m.handles {
		exec.cancelled = true
		running[id] = exec
	}
	count := len(m.tasks)
	m.tasks = make(map[string]*entry)
	m.byKind = make(map[media.Kind]map[string]struct{})
	m.handles = make(map[string]*execution)
	m.channels = make(map[string]chan conversion.ProgressUpdate)
	m.publishLocked(event{kind: eventCleared})

	m.logger.Info("tasks cleared",
		logging.Int("tasks", count),
		logging.Int("cancelled", len(running)),
	)
	var wg sync.WaitGroup
	for id, exec := range running {
		wg.Go(func() { m.stop(id, exec) })
	}
	wg.Wait()
}

// Running reports how many tasks are running.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// pendingRunningLocked returns the running event for an execution whose
// converter is still starting, so recorders never see a task leave the
// running state without entering it.
func pendingRunningLocked(exec *execution, task conversion.Task) []event {
	if exec == nil || exec.announced {
		return nil
	}
	exec.announced = true
	return []event{{kind: eventState, task: task, state: StateRunning}}
}

func (m *Manager) retireLocked(id string) {
	delete(m.handles, id)
	delete(m.channels, id)
}

// stop kills the execution and waits for its stream to close. When the
// caller's channel is not being read, delivery is abandoned after the grace
// period so the pipeline can drain.
func (m *Manager) stop(id string, exec *execution) {
	if exec == nil {
		return
	}
	exec.cancel()

	timer := time.NewTimer(m.cancelGrace)
	defer timer.Stop()
	select {
	case <-exec.finished:
		return
	case <-timer.C:
	}

	exec.abandon.Do(func() { close(exec.abandoned) })
	timer.Reset(m.cancelGrace)
	select {
	case <-exec.finished:
		m.logger.Debug("progress delivery abandoned after cancel",
			logging.String(logging.FieldTaskID, id),
		)
	case <-timer.C:
		logging.WarnWithContext(m.logger, "task did not stop within grace period", "cancel_timeout",
			logging.String(logging.FieldTaskID, id),
			logging.Duration("grace", 2*m.cancelGrace),
			logging.String(logging.FieldErrorHint, "the encoder may be stuck in uninterruptible I/O"),
			logging.String(logging.FieldImpact, "the task's stream may close late"),
		)
	}
}
