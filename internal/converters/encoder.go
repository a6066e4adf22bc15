package converters

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"sync/atomic"

	"vert/internal/conversion"
	"vert/internal/ffmpeg"
	"vert/internal/logging"
	"vert/internal/pipeline"
)

// encoderProgress adapts the ffmpeg progress parser to pipeline.ProgressSource.
type encoderProgress struct {
	parser  ffmpeg.Parser
	details func(ffmpeg.Progress, float64) conversion.ProgressDetails
	// total holds the probed duration in seconds as float64 bits; 0 is unknown.
	total atomic.Uint64
}

func (p *encoderProgress) setTotal(seconds float64) {
	p.total.Store(math.Float64bits(seconds))
}

func (p *encoderProgress) totalSeconds() float64 {
	return math.Float64frombits(p.total.Load())
}

func (p *encoderProgress) Feed(line string) (bool, bool) {
	switch p.parser.Feed(line) {
	case ffmpeg.MarkerContinue:
		return true, false
	case ffmpeg.MarkerEnd:
		return true, true
	default:
		return false, false
	}
}

func (p *encoderProgress) Snapshot() (float64, conversion.ProgressDetails) {
	record := p.parser.Progress()
	total := p.totalSeconds()
	return record.Percent(total), p.details(record, total)
}

// runEncoder probes the input duration concurrently with spawning ffmpeg.
// Progress updates are held until the probe settles so every percentage uses
// the same total; a failed probe leaves percentages at 0.
func runEncoder(
	ctx context.Context,
	settings Settings,
	logger *slog.Logger,
	task conversion.Task,
	args []string,
	details func(ffmpeg.Progress, float64) conversion.ProgressDetails,
) (<-chan conversion.ProgressUpdate, error) {
	progress := &encoderProgress{details: details}
	ready := make(chan struct{})

	probeCtx, cancelProbe := context.WithTimeout(ctx, settings.probeTimeout())
	go func() {
		defer close(ready)
		defer cancelProbe()
		seconds, err := ffmpeg.ProbeDuration(probeCtx, settings.FFprobe, task.InputPath)
		if err != nil {
			if ctx.Err() == nil {
				logging.WarnWithContext(logger, "duration probe failed", "duration_probe_failed",
					logging.String(logging.FieldTaskID, task.ID),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check that ffprobe can read the input"),
					logging.String(logging.FieldImpact, "progress percentage stays at 0"),
				)
			}
			return
		}
		progress.setTotal(seconds)
		logger.Debug("duration probed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Float64("duration_seconds", seconds),
		)
	}()

	spec := settings.spec(task, settings.FFmpeg, args, logger)
	spec.Progress = progress
	spec.Ready = ready
	ch, err := pipeline.Start(ctx, spec)
	if err != nil {
		cancelProbe()
		return nil, err
	}
	return ch, nil
}

func outputDir(outputPath string) string {
	dir := filepath.Dir(outputPath)
	if dir == "." {
		return ""
	}
	return dir
}
