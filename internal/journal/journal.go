package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vert/internal/conversion"
	"vert/internal/logging"
	"vert/internal/manager"
	"vert/internal/media"
)

// recordTimeout bounds one Recorder write, retries included.
const recordTimeout = 5 * time.Second

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Journal manages task history persistence backed by SQLite.
type Journal struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger used to report failed Recorder writes.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// Entry is one journaled task.
type Entry struct {
	Task      conversion.Task `json:"task"`
	State     manager.State   `json:"state"`
	Message   string          `json:"message,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	RemovedAt *time.Time      `json:"removedAt,omitempty"`
}

// Removed reports whether the task has left the manager's registry.
func (e Entry) Removed() bool { return e.RemovedAt != nil }

// ListOptions filters List. Limit <= 0 returns every entry.
type ListOptions struct {
	Kind  media.Kind
	Limit int
}

var _ manager.Recorder = (*Journal)(nil)

// Open initializes or connects to the journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{
		db:     db,
		path:   path,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = logging.NewComponentLogger(j.logger, "journal")

	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Path returns the database file location.
func (j *Journal) Path() string { return j.path }

// TaskAdded inserts the task as created. A previously removed task with the
// same id is reset.
func (j *Journal) TaskAdded(task conversion.Task) {
	optionsJSON, err := conversion.MarshalOptions(task.Options)
	if err != nil {
		j.warn("encode options", task.ID, err)
		return
	}
	options := any(nil)
	if task.Options != nil {
		options = string(optionsJSON)
	}
	timestamp := j.timestamp()
	j.record("insert task", task.ID,
		`INSERT INTO tasks (
            id, kind, input_path, output_path, target_format, source_format,
            options_json, state, message, created_at, updated_at, removed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, NULL)
        ON CONFLICT(id) DO UPDATE SET
            kind = excluded.kind,
            input_path = excluded.input_path,
            output_path = excluded.output_path,
            target_format = excluded.target_format,
            source_format = excluded.source_format,
            options_json = excluded.options_json,
            state = excluded.state,
            message = NULL,
            created_at = excluded.created_at,
            updated_at = excluded.updated_at,
            removed_at = NULL`,
		task.ID,
		string(task.Kind),
		task.InputPath,
		task.OutputPath,
		string(task.TargetFormat),
		nullableString(string(task.SourceFormat)),
		options,
		string(manager.StateCreated),
		timestamp,
		timestamp,
	)
}

// StateChanged records the task's new state and status message.
func (j *Journal) StateChanged(task conversion.Task, state manager.State, message string) {
	j.record("update state", task.ID,
		`UPDATE tasks SET state = ?, message = ?, updated_at = ? WHERE id = ?`,
		string(state),
		nullableString(message),
		j.timestamp(),
		task.ID,
	)
}

// TaskRemoved marks the task removed; its history row is kept.
func (j *Journal) TaskRemoved(task conversion.Task) {
	j.record("mark removed", task.ID,
		`UPDATE tasks SET removed_at = ? WHERE id = ? AND removed_at IS NULL`,
		j.timestamp(),
		task.ID,
	)
}

// Cleared marks every task still in the registry as removed.
func (j *Journal) Cleared() {
	j.record("mark cleared", "",
		`UPDATE tasks SET removed_at = ? WHERE removed_at IS NULL`,
		j.timestamp(),
	)
}

// Get fetches one entry. It returns nil when the id was never journaled.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM tasks WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM tasks`
	var args []any
	if opts.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(opts.Kind))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Prune deletes entries last updated before the cutoff that are no longer
// running, returning how many rows were removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.execWithRetry(ctx,
		`DELETE FROM tasks WHERE updated_at < ? AND state != ?`,
		before.UTC().Format(timeLayout),
		string(manager.StateRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	j.logger.Info("journal pruned",
		logging.Int64("removed", removed),
		logging.Time("before", before),
	)
	return removed, nil
}

func (j *Journal) record(operation, taskID, query string, args ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if _, err := j.execWithRetry(ctx, query, args...); err != nil {
		j.warn(operation, taskID, err)
	}
}

func (j *Journal) warn(operation, taskID string, err error) {
	logging.WarnWithContext(j.logger, "journal write failed", "journal_write_failed",
		logging.String("operation", operation),
		logging.String(logging.FieldTaskID, taskID),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check disk space and permissions for "+j.path),
		logging.String(logging.FieldImpact, "task history is incomplete"),
	)
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(timeLayout)
}
