package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"vert/internal/conversion"
	"vert/internal/manager"
	"vert/internal/media"
)

func openTestJournal(t *testing.T) (*Journal, *time.Time) {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return clock }
	return j, &clock
}

func videoTask(id string) conversion.Task {
	return conversion.Task{
		ID:           id,
		Kind:         media.KindVideo,
		InputPath:    "/in/" + id + ".mkv",
		OutputPath:   "/out/" + id + ".mp4",
		TargetFormat: media.FormatMP4,
		Options:      conversion.VideoOptions{SpeedPreset: "fast", VideoCodec: "libx264"},
	}
}

func TestRecorderLifecycle(t *testing.T) {
	j, clock := openTestJournal(t)
	ctx := context.Background()

	task := videoTask("v1")
	j.TaskAdded(task)
	*clock = clock.Add(time.Second)
	j.StateChanged(task, manager.StateRunning, "")
	*clock = clock.Add(time.Second)
	j.StateChanged(task, manager.StateFailed, "ffmpeg failed with exit status 3")

	entry, err := j.Get(ctx, "v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry")
	}
	if entry.State != manager.StateFailed || entry.Message != "ffmpeg failed with exit status 3" {
		t.Fatalf("unexpected state: %+v", entry)
	}
	if entry.Task.OutputPath != "/out/v1.mp4" || entry.Task.TargetFormat != media.FormatMP4 {
		t.Fatalf("unexpected task: %+v", entry.Task)
	}
	opts, ok := entry.Task.Options.(conversion.VideoOptions)
	if !ok || opts.SpeedPreset != "fast" || opts.VideoCodec != "libx264" {
		t.Fatalf("options not round-tripped: %#v", entry.Task.Options)
	}
	if !entry.UpdatedAt.After(entry.CreatedAt) {
		t.Fatalf("expected updated_at after created_at: %+v", entry)
	}
	if entry.Removed() {
		t.Fatal("entry should not be removed")
	}

	j.TaskRemoved(task)
	entry, err = j.Get(ctx, "v1")
	if err != nil || entry == nil {
		t.Fatalf("Get after remove: %v %v", entry, err)
	}
	if !entry.Removed() {
		t.Fatal("expected removed_at to be set")
	}

	// Re-adding the same id resets the history row.
	j.TaskAdded(task)
	entry, _ = j.Get(ctx, "v1")
	if entry.Removed() || entry.State != manager.StateCreated || entry.Message != "" {
		t.Fatalf("expected reset entry, got %+v", entry)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	j, _ := openTestJournal(t)
	entry, err := j.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry, got %+v", entry)
	}
}

func TestListNewestFirstWithFilters(t *testing.T) {
	j, clock := openTestJournal(t)
	ctx := context.Background()

	j.TaskAdded(videoTask("v1"))
	*clock = clock.Add(time.Minute)
	j.TaskAdded(conversion.Task{
		ID:           "a1",
		Kind:         media.KindAudio,
		InputPath:    "/in/a1.wav",
		OutputPath:   "/out/a1.mp3",
		TargetFormat: media.FormatMP3,
	})
	*clock = clock.Add(time.Minute)
	j.TaskAdded(videoTask("v2"))

	all, err := j.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := ids(all); !slices.Equal(got, []string{"v2", "a1", "v1"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if all[1].Task.Options != nil {
		t.Fatalf("expected nil options for defaulted task, got %#v", all[1].Task.Options)
	}

	videos, err := j.List(ctx, ListOptions{Kind: media.KindVideo, Limit: 1})
	if err != nil {
		t.Fatalf("List video: %v", err)
	}
	if got := ids(videos); !slices.Equal(got, []string{"v2"}) {
		t.Fatalf("unexpected filtered list: %v", got)
	}
}

func TestClearedMarksEveryLiveEntry(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	j.TaskAdded(videoTask("v1"))
	j.TaskAdded(videoTask("v2"))
	j.Cleared()

	entries, err := j.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected history to survive clear, got %d entries", len(entries))
	}
	for _, entry := range entries {
		if !entry.Removed() {
			t.Fatalf("expected %s removed", entry.Task.ID)
		}
	}
}

func TestPruneKeepsRunningAndRecent(t *testing.T) {
	j, clock := openTestJournal(t)
	ctx := context.Background()

	old := videoTask("old")
	running := videoTask("running")
	j.TaskAdded(old)
	j.StateChanged(old, manager.StateCompleted, "")
	j.TaskAdded(running)
	j.StateChanged(running, manager.StateRunning, "")

	cutoff := clock.Add(time.Hour)
	*clock = clock.Add(2 * time.Hour)
	j.TaskAdded(videoTask("recent"))

	removed, err := j.Prune(ctx, cutoff)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned row, got %d", removed)
	}
	entries, _ := j.List(ctx, ListOptions{})
	if got := ids(entries); !slices.Equal(got, []string{"recent", "running"}) {
		t.Fatalf("unexpected entries after prune: %v", got)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := j.db.Exec("UPDATE schema_version SET version = ?", schemaVersion+1); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = j.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}

	// Reopening with the right version works.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		t.Fatalf("restore version: %v", err)
	}
	_ = db.Close()
	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = j.Close()
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Task.ID)
	}
	return out
}

