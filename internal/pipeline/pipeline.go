package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vert/internal/conversion"
	"vert/internal/logging"
)

const (
	DefaultThrottle = 250 * time.Millisecond
	DefaultCapacity = 32

	maxLineBytes = 1 << 20
	maxHeldLines = 4096
)

// ProgressSource folds encoder stdout lines into progress snapshots.
type ProgressSource interface {
	// Feed consumes one stdout line. ready reports that a record is complete;
	// final reports the encoder's completion signal.
	Feed(line string) (ready, final bool)
	// Snapshot returns the percentage and details of the current record.
	Snapshot() (float64, conversion.ProgressDetails)
}

// Spec describes one encoder run.
type Spec struct {
	TaskID string
	Binary string
	Args   []string
	// OutputDir is created, with parents, before the encoder starts.
	OutputDir string
	// Progress parses stdout. When nil, stdout is drained and ignored.
	Progress ProgressSource
	// Ready, when set, holds back progress updates until it is closed.
	// Stdout is still read and buffered meanwhile so the encoder never
	// blocks on a full pipe. Converters use it to let the duration probe finish
	// before percentages are computed.
	Ready <-chan struct{}
	// Throttle is the minimum spacing between stdout progress updates.
	Throttle time.Duration
	// Capacity is the progress channel buffer size.
	Capacity int
	// StartMessage and StartDetails describe the initial 0% update.
	StartMessage string
	StartDetails conversion.ProgressDetails
	// Finish, when set, runs after the encoder exits successfully and before
	// the terminal update. An error fails the task. FinishDetails describe
	// the update sent just before it runs.
	Finish        func(ctx context.Context) error
	FinishDetails conversion.ProgressDetails
	Logger        *slog.Logger
}

// Start spawns the encoder and returns its progress stream. Errors returned
// here mean nothing was started; every later failure is reported as the
// stream's terminal update. The caller must drain the stream until it is
// closed.
func Start(ctx context.Context, spec Spec) (<-chan conversion.ProgressUpdate, error) {
	if strings.TrimSpace(spec.Binary) == "" {
		return nil, conversion.Wrap(conversion.ErrTool, "start encoder", "binary not configured", nil)
	}
	if spec.Throttle <= 0 {
		spec.Throttle = DefaultThrottle
	}
	if spec.Capacity <= 0 {
		spec.Capacity = DefaultCapacity
	}
	if spec.StartMessage == "" {
		spec.StartMessage = "starting"
	}
	logger := spec.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldTaskID, spec.TaskID))

	if spec.OutputDir != "" {
		if err := os.MkdirAll(spec.OutputDir, 0o755); err != nil {
			return nil, conversion.Wrap(conversion.ErrIO, "create output directory", spec.OutputDir, err)
		}
	}

	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...) //nolint:gosec
	killGroupOnCancel(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, conversion.Wrap(conversion.ErrIO, "start encoder", "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, conversion.Wrap(conversion.ErrIO, "start encoder", "stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, conversion.Wrap(conversion.ErrTool, "start encoder", filepath.Base(spec.Binary), err)
	}
	logger.Debug("encoder started",
		logging.String("binary", spec.Binary),
		logging.Int("pid", cmd.Process.Pid),
	)

	ch := make(chan conversion.ProgressUpdate, spec.Capacity)
	em := &emitter{ch: ch, done: ctx.Done(), taskID: spec.TaskID}
	em.progress(0, spec.StartMessage, spec.StartDetails)

	r := &run{spec: spec, cmd: cmd, em: em, logger: logger}

	var readers, producers sync.WaitGroup
	readers.Add(2)
	producers.Add(3)
	go func() {
		defer producers.Done()
		defer readers.Done()
		r.readStdout(stdout)
	}()
	go func() {
		defer producers.Done()
		defer readers.Done()
		r.readStderr(stderr)
	}()
	go func() {
		defer producers.Done()
		readers.Wait()
		r.waitExit(ctx)
	}()
	go func() {
		producers.Wait()
		close(ch)
	}()

	return ch, nil
}

type run struct {
	spec   Spec
	cmd    *exec.Cmd
	em     *emitter
	logger *slog.Logger
}

func (r *run) readStdout(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lastSent time.Time
	finished := r.spec.Progress == nil
	// Lines read before Ready are kept and replayed once it closes.
	var held []string
	for scanner.Scan() {
		if finished {
			continue
		}
		line := scanner.Text()
		if !r.ready() {
			held = appendHeld(held, line)
			continue
		}
		if held != nil {
			finished = r.replay(held, &lastSent)
			held = nil
			if finished {
				continue
			}
		}
		finished = r.feed(line, &lastSent)
	}
	if err := scanner.Err(); err != nil {
		r.logger.Debug("encoder stdout read stopped", logging.Error(err))
		_, _ = io.Copy(io.Discard, stdout)
	}
	if len(held) > 0 && !finished && r.waitReady() {
		r.replay(held, &lastSent)
	}
}

// appendHeld keeps at most maxHeldLines, dropping the older half when full.
// Records are cumulative, so only older records are lost.
func appendHeld(held []string, line string) []string {
	if len(held) >= maxHeldLines {
		held = append(held[:0], held[len(held)/2:]...)
	}
	return append(held, line)
}

func (r *run) replay(lines []string, lastSent *time.Time) bool {
	for _, line := range lines {
		if r.feed(line, lastSent) {
			return true
		}
	}
	return false
}

// feed folds one stdout line and emits the record it completes. It reports
// true once nothing more should be parsed.
func (r *run) feed(line string, lastSent *time.Time) bool {
	record, final := r.spec.Progress.Feed(line)
	if !record {
		return false
	}
	return r.emitRecord(final, lastSent)
}

// emitRecord sends the current snapshot unless throttled. It reports true
// once nothing more should be parsed: the final record went out or the
// receiver is gone.
func (r *run) emitRecord(final bool, lastSent *time.Time) bool {
	now := time.Now()
	if !final && !lastSent.IsZero() && now.Sub(*lastSent) < r.spec.Throttle {
		return false
	}
	percentage, details := r.spec.Progress.Snapshot()
	if !r.em.progress(percentage, "", details) {
		return true
	}
	*lastSent = now
	return final
}

func (r *run) ready() bool {
	if r.spec.Ready == nil {
		return true
	}
	select {
	case <-r.spec.Ready:
		return true
	default:
		return false
	}
}

func (r *run) waitReady() bool {
	if r.spec.Ready == nil {
		return true
	}
	select {
	case <-r.spec.Ready:
		return true
	case <-r.em.done:
		return false
	}
}

func (r *run) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	forwarding := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.em.noteDiagnostic(line)
		r.logger.Debug("encoder diagnostic", logging.String("line", line))
		if forwarding && !r.em.diagnostic(line) {
			forwarding = false
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Debug("encoder stderr read stopped", logging.Error(err))
		_, _ = io.Copy(io.Discard, stderr)
	}
}

func (r *run) waitExit(ctx context.Context) {
	err := r.cmd.Wait()
	tool := filepath.Base(r.spec.Binary)

	if err == nil && r.spec.Finish != nil {
		r.em.progress(0, "", r.spec.FinishDetails)
		err = r.spec.Finish(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Debug("finish step failed", logging.Error(err))
			r.em.terminal(func(pct float64, _ string) conversion.ProgressUpdate {
				return conversion.NewFailed(r.spec.TaskID, pct, err.Error())
			})
			return
		}
	}

	switch {
	case err == nil:
		r.logger.Debug("encoder finished")
		r.em.terminal(func(float64, string) conversion.ProgressUpdate {
			return conversion.NewDone(r.spec.TaskID)
		})
	case ctx.Err() != nil:
		r.logger.Debug("encoder stopped by cancellation", logging.Error(err))
		r.em.terminal(func(pct float64, _ string) conversion.ProgressUpdate {
			return conversion.NewCancelled(r.spec.TaskID, pct, "conversion cancelled")
		})
	default:
		var exitErr *exec.ExitError
		message := fmt.Sprintf("wait for %s: %v", tool, err)
		if errors.As(err, &exitErr) {
			message = fmt.Sprintf("%s failed with %s", tool, exitErr.ProcessState.String())
		}
		r.logger.Debug("encoder failed", logging.String("reason", message))
		r.em.terminal(func(pct float64, lastDiagnostic string) conversion.ProgressUpdate {
			if lastDiagnostic != "" {
				return conversion.NewFailed(r.spec.TaskID, pct, message+": "+lastDiagnostic)
			}
			return conversion.NewFailed(r.spec.TaskID, pct, message)
		})
	}
}

// emitter serializes sends from the three producers so percentages never go
// backwards on the stream.
type emitter struct {
	mu             sync.Mutex
	ch             chan<- conversion.ProgressUpdate
	done           <-chan struct{}
	taskID         string
	percent        float64
	gone           bool
	lastDiagnostic string
}

func (e *emitter) progress(percent float64, message string, details conversion.ProgressDetails) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	percent = conversion.ClampPercentage(percent)
	if percent < e.percent {
		percent = e.percent
	}
	e.percent = percent
	return e.sendLocked(conversion.NewProgress(e.taskID, percent, message, details))
}

func (e *emitter) diagnostic(line string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendLocked(conversion.NewProgress(e.taskID, e.percent, line, nil))
}

func (e *emitter) noteDiagnostic(line string) {
	e.mu.Lock()
	e.lastDiagnostic = line
	e.mu.Unlock()
}

// sendLocked reports false once the context is done; the value is dropped.
func (e *emitter) sendLocked(update conversion.ProgressUpdate) bool {
	if e.gone {
		return false
	}
	select {
	case e.ch <- update:
		return true
	case <-e.done:
		e.gone = true
		return false
	}
}

// terminal always delivers; the consumer drains until close.
func (e *emitter) terminal(build func(percent float64, lastDiagnostic string) conversion.ProgressUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ch <- build(e.percent, e.lastDiagnostic)
}
