package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vert/internal/config"
	"vert/internal/conversion"
	"vert/internal/journal"
	"vert/internal/logging"
	"vert/internal/manager"
	"vert/internal/metrics"
)

// drainTimeout bounds how long Stop waits for cancelled tasks' streams.
const drainTimeout = 10 * time.Second

// ErrAlreadyRunning reports that another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another vert daemon instance is already running")

// Daemon owns the manager for a long-running process: it holds the instance
// lock, consumes every started task's progress stream, and serves the API.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *manager.Manager
	journal *journal.Journal
	metrics *metrics.Metrics
	hub     *hub
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	consumers sync.WaitGroup
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithMetrics serves m on /metrics and instruments the API. The caller is
// responsible for registering m as a manager recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) {
		d.metrics = m
	}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	Tasks        int    `json:"tasks"`
	RunningTasks int    `json:"runningTasks"`
	Subscribers  int    `json:"subscribers"`
	LockFilePath string `json:"lockFilePath"`
	JournalPath  string `json:"journalPath,omitempty"`
	APIAddress   string `json:"apiAddress,omitempty"`
}

// New constructs a daemon. The journal is optional.
func New(cfg *config.Config, mgr *manager.Manager, j *journal.Journal, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || mgr == nil {
		return nil, errors.New("daemon requires config and manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		manager:  mgr,
		journal:  j,
		hub:      newHub(logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if cfg.API.Enabled {
		d.api = newAPIServer(cfg.API, d, logger)
	}
	return d, nil
}

// Start acquires the instance lock and starts the API server when enabled.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("vert daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("api_enabled", d.api != nil),
	)
	return nil
}

// Stop cancels running tasks, waits for their streams to drain, stops the
// API server and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()

	for _, snap := range d.manager.ListSnapshots("", 0, 0) {
		if snap.State != manager.StateRunning {
			continue
		}
		if err := d.manager.CancelTask(snap.Task.ID); err != nil && !errors.Is(err, conversion.ErrNotRunning) {
			d.logger.Warn("cancel on shutdown failed",
				logging.String(logging.FieldTaskID, snap.Task.ID),
				logging.Error(err),
			)
		}
	}
	if !waitTimeout(&d.consumers, drainTimeout) {
		logging.WarnWithContext(d.logger, "progress streams still open at shutdown", "shutdown_drain_timeout",
			logging.Duration("timeout", drainTimeout),
			logging.String(logging.FieldImpact, "encoder processes may outlive the daemon"),
		)
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vert daemon stopped")
}

// Close stops the daemon and closes the journal.
func (d *Daemon) Close() error {
	d.Stop()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

// StartTask starts a registered task; the daemon consumes its progress and
// republishes it to subscribers.
func (d *Daemon) StartTask(ctx context.Context, id string) error {
	stream, err := d.manager.StartTask(ctx, id)
	if err != nil {
		return err
	}
	task, _ := d.manager.GetTask(id)
	d.consumers.Go(func() {
		d.hub.consume(id, task.Kind, stream)
	})
	return nil
}

// Manager returns the task registry the daemon serves.
func (d *Daemon) Manager() *manager.Manager { return d.manager }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Tasks:        d.manager.CountTasks(""),
		RunningTasks: d.manager.Running(),
		Subscribers:  d.hub.subscribers(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
	}
	if d.journal != nil {
		status.JournalPath = d.journal.Path()
	}
	return status
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
