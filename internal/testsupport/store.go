package testsupport

import (
	"testing"

	"vert/internal/config"
	"vert/internal/journal"
)

// MustOpenJournal opens the task journal under the config's data dir and
// registers cleanup.
func MustOpenJournal(t testing.TB, cfg *config.Config) *journal.Journal {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = j.Close()
	})
	return j
}
