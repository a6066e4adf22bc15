package manager_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"vert/internal/conversion"
	"vert/internal/converters"
	"vert/internal/manager"
	"vert/internal/media"
	"vert/internal/testsupport"
)

type runFunc func(ctx context.Context, task conversion.Task, ch chan<- conversion.ProgressUpdate)

// fakeConverter runs a scripted stream in place of an encoder.
type fakeConverter struct {
	conversion.FormatSupport
	kind media.Kind
	run  runFunc
	err  error
	// entered and gate, when set, hold Convert until the test releases it.
	entered chan struct{}
	gate    chan struct{}

	mu     sync.Mutex
	starts int
}

func newFake(kind media.Kind, run runFunc) *fakeConverter {
	formats := media.FormatsOf(kind)
	return &fakeConverter{
		FormatSupport: conversion.FormatSupport{Inputs: formats, Outputs: formats},
		kind:          kind,
		run:           run,
	}
}

func (f *fakeConverter) Name() string          { return "fake " + string(f.kind) }
func (f *fakeConverter) MediaKind() media.Kind { return f.kind }

func (f *fakeConverter) Convert(ctx context.Context, task conversion.Task) (<-chan conversion.ProgressUpdate, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
	ch := make(chan conversion.ProgressUpdate, 4)
	go func() {
		defer close(ch)
		f.run(ctx, task, ch)
	}()
	return ch, nil
}

func (f *fakeConverter) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// untilCancelled reports progress and then waits for ctx before sending the
// cancelled terminal.
func untilCancelled(ctx context.Context, task conversion.Task, ch chan<- conversion.ProgressUpdate) {
	ch <- conversion.NewProgress(task.ID, 10, "working", nil)
	<-ctx.Done()
	ch <- conversion.NewCancelled(task.ID, 10, "")
}

func completes(_ context.Context, task conversion.Task, ch chan<- conversion.ProgressUpdate) {
	ch <- conversion.NewProgress(task.ID, 50, "", nil)
	ch <- conversion.NewDone(task.ID)
}

func newManager(t *testing.T, convs []conversion.Converter, opts ...manager.Option) *manager.Manager {
	t.Helper()
	registry, err := conversion.NewRegistry(convs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return manager.New(registry, append([]manager.Option{manager.WithCancelGrace(500 * time.Millisecond)}, opts...)...)
}

func videoTask(id string) conversion.Task {
	return conversion.Task{
		ID:           id,
		Kind:         media.KindVideo,
		InputPath:    "/in/" + id + ".mp4",
		OutputPath:   "/out/" + id + ".webm",
		TargetFormat: media.FormatWebM,
	}
}

func audioTask(id string) conversion.Task {
	return conversion.Task{
		ID:           id,
		Kind:         media.KindAudio,
		InputPath:    "/in/" + id + ".wav",
		OutputPath:   "/out/" + id + ".mp3",
		TargetFormat: media.FormatMP3,
	}
}

func collect(t *testing.T, ch <-chan conversion.ProgressUpdate) []conversion.ProgressUpdate {
	t.Helper()
	var updates []conversion.ProgressUpdate
	timeout := time.After(10 * time.Second)
	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return updates
			}
			updates = append(updates, update)
		case <-timeout:
			t.Fatalf("stream not closed; got %d updates", len(updates))
		}
	}
}

func lastTerminal(t *testing.T, updates []conversion.ProgressUpdate) conversion.ProgressUpdate {
	t.Helper()
	if len(updates) == 0 {
		t.Fatal("no updates")
	}
	for i, update := range updates[:len(updates)-1] {
		if update.Terminal() {
			t.Fatalf("terminal update at %d before the end: %+v", i, update)
		}
	}
	last := updates[len(updates)-1]
	if !last.Terminal() {
		t.Fatalf("last update is not terminal: %+v", last)
	}
	return last
}

func mustAdd(t *testing.T, m *manager.Manager, task conversion.Task) string {
	t.Helper()
	id, err := m.AddTask(task)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	return id
}

func TestAddTaskAssignsIDAndValidates(t *testing.T) {
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, completes)})

	task := videoTask("")
	id := mustAdd(t, m, task)
	if id == "" {
		t.Fatal("expected generated id")
	}
	got, ok := m.GetTask(id)
	if !ok || got.ID != id {
		t.Fatalf("GetTask(%s) = %+v, %v", id, got, ok)
	}
	if state, _ := m.State(id); state != manager.StateCreated {
		t.Fatalf("expected created, got %s", state)
	}

	bad := videoTask("bad")
	bad.Options = conversion.ImageOptions{}
	if _, err := m.AddTask(bad); !errors.Is(err, conversion.ErrValidation) {
		t.Fatalf("expected validation error for mismatched options, got %v", err)
	}
	if _, err := m.AddTask(audioTask("a1")); !errors.Is(err, conversion.ErrValidation) {
		t.Fatalf("expected validation error without an audio converter, got %v", err)
	}
	dup := videoTask(id)
	if _, err := m.AddTask(dup); !errors.Is(err, conversion.ErrValidation) {
		t.Fatalf("expected duplicate id rejection, got %v", err)
	}
	if m.CountTasks("") != 1 {
		t.Fatalf("expected one task, got %d", m.CountTasks(""))
	}
}

func TestListAndCountByKind(t *testing.T) {
	m := newManager(t, []conversion.Converter{
		newFake(media.KindVideo, completes),
		newFake(media.KindAudio, completes),
	})
	for _, id := range []string{"v3", "v1", "v2"} {
		mustAdd(t, m, videoTask(id))
	}
	for _, id := range []string{"a2", "a1"} {
		mustAdd(t, m, audioTask(id))
	}

	videos := m.ListTasks(media.KindVideo, 0, 0)
	ids := make([]string, len(videos))
	for i, task := range videos {
		if task.Kind != media.KindVideo {
			t.Fatalf("video listing returned %s task", task.Kind)
		}
		ids[i] = task.ID
	}
	if !slices.Equal(ids, []string{"v1", "v2", "v3"}) {
		t.Fatalf("unexpected video order %v", ids)
	}

	page := m.ListTasks("", 1, 2)
	if len(page) != 2 || page[0].ID != "a2" || page[1].ID != "v1" {
		t.Fatalf("unexpected page %+v", page)
	}
	if got := m.ListTasks("", 10, 5); len(got) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(got))
	}
	if got := m.ListTasks(media.KindImage, 0, 0); len(got) != 0 {
		t.Fatalf("expected no image tasks, got %d", len(got))
	}

	total := m.CountTasks("")
	var sum int
	for _, kind := range media.Kinds() {
		sum += m.CountTasks(kind)
	}
	if total != 5 || sum != total {
		t.Fatalf("count mismatch: total=%d sum=%d", total, sum)
	}
}

func TestStartTaskCompletes(t *testing.T) {
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, completes)})
	id := mustAdd(t, m, videoTask("v1"))

	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	updates := collect(t, ch)
	last := lastTerminal(t, updates)
	if last.Status != conversion.StatusDone || last.Percentage != 100 {
		t.Fatalf("unexpected terminal %+v", last)
	}
	snap, _ := m.Snapshot(id)
	if snap.State != manager.StateCompleted || snap.Message != "completed" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if m.Running() != 0 {
		t.Fatalf("expected no running tasks, got %d", m.Running())
	}

	// A finished task can run again.
	ch, err = m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	collect(t, ch)
}

func TestStartTaskErrors(t *testing.T) {
	fake := newFake(media.KindVideo, untilCancelled)
	m := newManager(t, []conversion.Converter{fake})

	if _, err := m.StartTask(context.Background(), "missing"); !errors.Is(err, conversion.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	id := mustAdd(t, m, videoTask("v1"))
	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if _, err := m.StartTask(context.Background(), id); !errors.Is(err, conversion.ErrAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}
	if !errors.Is(conversion.ErrAlreadyRunning, conversion.ErrState) {
		t.Fatal("already running must be a state error")
	}
	if fake.startCount() != 1 {
		t.Fatalf("expected one conversion, got %d", fake.startCount())
	}
	if m.Running() != 1 {
		t.Fatalf("expected one running task, got %d", m.Running())
	}

	if err := m.CancelTask(id); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	collect(t, ch)
}

func TestStartTaskConvertFailureRollsBack(t *testing.T) {
	fake := newFake(media.KindVideo, completes)
	fake.err = conversion.Wrap(conversion.ErrTool, "start encoder", "ffmpeg", errors.New("not found"))
	m := newManager(t, []conversion.Converter{fake})
	id := mustAdd(t, m, videoTask("v1"))

	if _, err := m.StartTask(context.Background(), id); !errors.Is(err, conversion.ErrTool) {
		t.Fatalf("expected tool error, got %v", err)
	}
	if state, _ := m.State(id); state != manager.StateCreated {
		t.Fatalf("expected created after failed start, got %s", state)
	}
	if m.Running() != 0 {
		t.Fatalf("expected no running tasks, got %d", m.Running())
	}
}

func TestStartTaskIsDetachedFromCallerContext(t *testing.T) {
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, untilCancelled)})
	id := mustAdd(t, m, videoTask("v1"))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.StartTask(ctx, id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	<-ch
	cancel()
	time.Sleep(50 * time.Millisecond)
	if state, _ := m.State(id); state != manager.StateRunning {
		t.Fatalf("expected task to keep running, got %s", state)
	}
	if err := m.CancelTask(id); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	collect(t, ch)
}

func TestCancelTask(t *testing.T) {
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, untilCancelled)})

	if err := m.CancelTask("missing"); !errors.Is(err, conversion.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	id := mustAdd(t, m, videoTask("v1"))
	if err := m.CancelTask(id); !errors.Is(err, conversion.ErrNotRunning) {
		t.Fatalf("expected not running, got %v", err)
	}

	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	var updates []conversion.ProgressUpdate
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range ch {
			updates = append(updates, update)
		}
	}()

	if err := m.CancelTask(id); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if m.Running() != 0 {
		t.Fatalf("expected handles released, got %d running", m.Running())
	}
	if state, _ := m.State(id); state != manager.StateCancelled {
		t.Fatalf("expected cancelled, got %s", state)
	}
	<-done
	if last := lastTerminal(t, updates); last.Status != conversion.StatusCancelled {
		t.Fatalf("expected cancelled terminal, got %+v", last)
	}
	if err := m.CancelTask(id); !errors.Is(err, conversion.ErrNotRunning) {
		t.Fatalf("expected not running after cancel, got %v", err)
	}
}

func TestCancelRewritesTerminalToCancelled(t *testing.T) {
	failsOnCancel := func(ctx context.Context, task conversion.Task, ch chan<- conversion.ProgressUpdate) {
		ch <- conversion.NewProgress(task.ID, 30, "", nil)
		<-ctx.Done()
		ch <- conversion.NewFailed(task.ID, 30, "killed")
	}
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, failsOnCancel)})
	id := mustAdd(t, m, videoTask("v1"))
	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	<-ch
	go func() {
		if err := m.CancelTask(id); err != nil {
			t.Errorf("CancelTask: %v", err)
		}
	}()
	last := lastTerminal(t, collect(t, ch))
	if last.Status != conversion.StatusCancelled || last.Percentage != 30 {
		t.Fatalf("expected cancelled at 30%%, got %+v", last)
	}
}

func TestCancelAbandonsUnreadChannel(t *testing.T) {
	flood := func(ctx context.Context, task conversion.Task, ch chan<- conversion.ProgressUpdate) {
		for i := 0; ; i++ {
			select {
			case ch <- conversion.NewProgress(task.ID, float64(i%100), "", nil):
			case <-ctx.Done():
				ch <- conversion.NewCancelled(task.ID, 0, "")
				return
			}
		}
	}
	registry, err := conversion.NewRegistry(newFake(media.KindVideo, flood))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	m := manager.New(registry, manager.WithCancelGrace(50*time.Millisecond), manager.WithChannelCapacity(2))
	id := mustAdd(t, m, videoTask("v1"))
	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}

	started := time.Now()
	if err := m.CancelTask(id); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("cancel blocked for %s", elapsed)
	}
	// The buffered updates remain readable and the channel is closed.
	collect(t, ch)
}

func TestStreamWithoutTerminalFails(t *testing.T) {
	truncated := func(_ context.Context, task conversion.Task, ch chan<- conversion.ProgressUpdate) {
		ch <- conversion.NewProgress(task.ID, 20, "", nil)
	}
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, truncated)})
	id := mustAdd(t, m, videoTask("v1"))
	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	last := lastTerminal(t, collect(t, ch))
	if last.Status != conversion.StatusFailed || last.Percentage != 20 {
		t.Fatalf("expected synthesized failure at 20%%, got %+v", last)
	}
	if state, _ := m.State(id); state != manager.StateFailed {
		t.Fatalf("expected failed, got %s", state)
	}
}

func TestRemoveTask(t *testing.T) {
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, completes)})
	if err := m.RemoveTask("missing"); !errors.Is(err, conversion.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	id := mustAdd(t, m, videoTask("v1"))
	if err := m.RemoveTask(id); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	if _, ok := m.GetTask(id); ok {
		t.Fatal("expected task gone")
	}
	if got := m.ListTasks(media.KindVideo, 0, 0); len(got) != 0 {
		t.Fatalf("expected empty kind index, got %+v", got)
	}
}

func TestRemoveRunningTaskCancelsEncoder(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithTool("ffmpeg", "echo progress=continue\nsleep 30"),
		testsupport.WithTool("ffprobe", "echo 10"),
	)
	registry, err := converters.NewRegistry(converters.SettingsFromConfig(cfg, nil))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	m := manager.New(registry, manager.WithCancelGrace(cfg.Pipeline.CancelGrace()))

	task := videoTask("")
	task.OutputPath = filepath.Join(testsupport.BaseDir(cfg), "out", "clip.webm")
	id := mustAdd(t, m, task)
	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	first := <-ch
	if first.StatusMessage != "starting" {
		t.Fatalf("unexpected first update %+v", first)
	}

	var updates []conversion.ProgressUpdate
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range ch {
			updates = append(updates, update)
		}
	}()

	started := time.Now()
	if err := m.RemoveTask(id); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("remove took %s", elapsed)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream not closed after remove")
	}

	if _, ok := m.GetTask(id); ok {
		t.Fatal("expected task removed")
	}
	if m.CountTasks(media.KindVideo) != 0 || m.CountTasks("") != 0 {
		t.Fatalf("expected empty registry, counts %d/%d", m.CountTasks(media.KindVideo), m.CountTasks(""))
	}
	if m.Running() != 0 {
		t.Fatalf("expected no handles, got %d", m.Running())
	}
	if last := lastTerminal(t, append([]conversion.ProgressUpdate{first}, updates...)); last.Status != conversion.StatusCancelled {
		t.Fatalf("expected cancelled terminal, got %+v", last)
	}
}

func TestClearCancelsRunningTasks(t *testing.T) {
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, untilCancelled)})
	var streams []<-chan conversion.ProgressUpdate
	for i := range 3 {
		id := mustAdd(t, m, videoTask(fmt.Sprintf("v%d", i)))
		ch, err := m.StartTask(context.Background(), id)
		if err != nil {
			t.Fatalf("StartTask: %v", err)
		}
		streams = append(streams, ch)
	}
	mustAdd(t, m, videoTask("idle"))

	var wg sync.WaitGroup
	results := make([]conversion.ProgressUpdate, len(streams))
	for i, ch := range streams {
		wg.Go(func() {
			for update := range ch {
				results[i] = update
			}
		})
	}
	m.Clear()
	wg.Wait()

	if m.CountTasks("") != 0 || m.Running() != 0 {
		t.Fatalf("expected empty manager, count=%d running=%d", m.CountTasks(""), m.Running())
	}
	for i, last := range results {
		if last.Status != conversion.StatusCancelled {
			t.Fatalf("stream %d ended with %+v", i, last)
		}
	}
}

type recordedEvent struct {
	op    string
	id    string
	state manager.State
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingRecorder) add(ev recordedEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingRecorder) TaskAdded(task conversion.Task) {
	r.add(recordedEvent{op: "added", id: task.ID})
}

func (r *recordingRecorder) StateChanged(task conversion.Task, state manager.State, _ string) {
	r.add(recordedEvent{op: "state", id: task.ID, state: state})
}

func (r *recordingRecorder) TaskRemoved(task conversion.Task) {
	r.add(recordedEvent{op: "removed", id: task.ID})
}

func (r *recordingRecorder) Cleared() {
	r.add(recordedEvent{op: "cleared"})
}

func (r *recordingRecorder) snapshot() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func TestRecorderSeesLifecycleInOrder(t *testing.T) {
	rec := &recordingRecorder{}
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, completes)}, manager.WithRecorders(rec))

	id := mustAdd(t, m, videoTask("v1"))
	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	collect(t, ch)
	if err := m.RemoveTask(id); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	m.Clear()

	want := []recordedEvent{
		{op: "added", id: "v1"},
		{op: "state", id: "v1", state: manager.StateRunning},
		{op: "state", id: "v1", state: manager.StateCompleted},
		{op: "removed", id: "v1"},
		{op: "cleared"},
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("unexpected events\n got %+v\nwant %+v", got, want)
	}
}

func TestStoredTaskIsIsolatedFromCaller(t *testing.T) {
	var seen conversion.Task
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, func(ctx context.Context, task conversion.Task, ch chan<- conversion.ProgressUpdate) {
		seen = task
		completes(ctx, task, ch)
	})})

	crf := uint8(23)
	task := videoTask("v1")
	task.Options = conversion.VideoOptions{CRF: &crf}
	id := mustAdd(t, m, task)
	crf = 99

	stored, ok := m.GetTask(id)
	if !ok {
		t.Fatal("task not found")
	}
	if got := *stored.Options.(conversion.VideoOptions).CRF; got != 23 {
		t.Fatalf("stored crf = %d after caller mutation, want 23", got)
	}
	*stored.Options.(conversion.VideoOptions).CRF = 99
	snap, _ := m.Snapshot(id)
	if got := *snap.Task.Options.(conversion.VideoOptions).CRF; got != 23 {
		t.Fatalf("stored crf = %d after mutating a returned copy, want 23", got)
	}

	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	collect(t, ch)
	if got := *seen.Options.(conversion.VideoOptions).CRF; got != 23 {
		t.Fatalf("converter saw crf %d, want 23", got)
	}
}

func TestCancelDuringConverterStartRecordsRunning(t *testing.T) {
	rec := &recordingRecorder{}
	fake := newFake(media.KindVideo, untilCancelled)
	fake.entered = make(chan struct{})
	fake.gate = make(chan struct{})
	m := newManager(t, []conversion.Converter{fake}, manager.WithRecorders(rec))
	id := mustAdd(t, m, videoTask("v1"))

	type started struct {
		ch  <-chan conversion.ProgressUpdate
		err error
	}
	result := make(chan started, 1)
	go func() {
		ch, err := m.StartTask(context.Background(), id)
		result <- started{ch, err}
	}()

	<-fake.entered
	if err := m.CancelTask(id); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	close(fake.gate)
	res := <-result
	if res.err != nil {
		t.Fatalf("StartTask: %v", res.err)
	}
	if last := lastTerminal(t, collect(t, res.ch)); last.Status != conversion.StatusCancelled {
		t.Fatalf("expected cancelled terminal, got %+v", last)
	}

	want := []recordedEvent{
		{op: "added", id: "v1"},
		{op: "state", id: "v1", state: manager.StateRunning},
		{op: "state", id: "v1", state: manager.StateCancelled},
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("unexpected events\n got %+v\nwant %+v", got, want)
	}
}

func TestRemoveRunningTaskRecordsCancellation(t *testing.T) {
	rec := &recordingRecorder{}
	m := newManager(t, []conversion.Converter{newFake(media.KindVideo, untilCancelled)}, manager.WithRecorders(rec))
	id := mustAdd(t, m, videoTask("v1"))
	ch, err := m.StartTask(context.Background(), id)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	<-ch
	if err := m.RemoveTask(id); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	collect(t, ch)

	want := []recordedEvent{
		{op: "added", id: "v1"},
		{op: "state", id: "v1", state: manager.StateRunning},
		{op: "state", id: "v1", state: manager.StateCancelled},
		{op: "removed", id: "v1"},
	}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("unexpected events\n got %+v\nwant %+v", got, want)
	}
}
