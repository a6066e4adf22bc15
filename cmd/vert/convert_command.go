package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"vert/internal/config"
	"vert/internal/conversion"
	"vert/internal/journal"
	"vert/internal/logging"
	"vert/internal/manager"
	"vert/internal/media"
)

type convertFlags struct {
	to, from   string
	preset     string
	crf        uint8
	vcodec     string
	acodec     string
	abitrate   string
	quality    uint8
	width      uint32
	height     uint32
	fit        string
	sampleRate uint32
	lineWrap   uint32
	json       bool
}

// kindFlags names the option flags each kind accepts.
var kindFlags = map[media.Kind][]string{
	media.KindVideo:    {"preset", "crf", "vcodec", "acodec", "abitrate"},
	media.KindAudio:    {"acodec", "abitrate", "sample-rate"},
	media.KindImage:    {"quality", "width", "height", "fit"},
	media.KindDocument: {"line-wrap"},
}

type convertResult struct {
	Task   conversion.Task           `json:"task"`
	State  manager.State             `json:"state"`
	Final  conversion.ProgressUpdate `json:"final"`
	Output string                    `json:"output"`
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert INPUT OUTPUT",
		Short: "Convert one file and show its progress",
		Long: "Convert INPUT to OUTPUT in the foreground. The target format comes from --to\n" +
			"or the output extension; the media kind follows from the target format.\n" +
			"Ctrl-C cancels the conversion.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			task, err := buildTask(cmd.Flags(), flags, args[0], args[1])
			if err != nil {
				return err
			}
			return runConvert(cmd, ctx, cfg, task, flags.json)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.to, "to", "", "Target format (defaults to the output extension)")
	f.StringVar(&flags.from, "from", "", "Source format (defaults to the input extension)")
	f.StringVar(&flags.preset, "preset", "", "Video encoder speed preset")
	f.Uint8Var(&flags.crf, "crf", 0, "Video constant rate factor (0-63)")
	f.StringVar(&flags.vcodec, "vcodec", "", "Video codec")
	f.StringVar(&flags.acodec, "acodec", "", "Audio codec")
	f.StringVar(&flags.abitrate, "abitrate", "", "Audio bitrate or quality, e.g. 192k")
	f.Uint8Var(&flags.quality, "quality", 0, "Image quality (1-100)")
	f.Uint32Var(&flags.width, "width", 0, "Resize width in pixels")
	f.Uint32Var(&flags.height, "height", 0, "Resize height in pixels")
	f.StringVar(&flags.fit, "fit", "", "Resize mode: fit, fill or stretch")
	f.Uint32Var(&flags.sampleRate, "sample-rate", 0, "Audio sample rate in Hz")
	f.Uint32Var(&flags.lineWrap, "line-wrap", 0, "Document line wrap column")
	f.BoolVar(&flags.json, "json", false, "Print the outcome as JSON instead of progress")
	return cmd
}

// buildTask resolves formats and maps the changed option flags onto the
// options variant of the target kind.
func buildTask(set *pflag.FlagSet, flags convertFlags, input, output string) (conversion.Task, error) {
	inputPath, err := config.ExpandPath(input)
	if err != nil {
		return conversion.Task{}, fmt.Errorf("resolve input: %w", err)
	}
	outputPath, err := config.ExpandPath(output)
	if err != nil {
		return conversion.Task{}, fmt.Errorf("resolve output: %w", err)
	}

	var target media.Format
	if strings.TrimSpace(flags.to) != "" {
		target, err = media.ParseFormat(flags.to)
	} else {
		target, err = media.FormatFromPath(outputPath)
	}
	if err != nil {
		return conversion.Task{}, fmt.Errorf("target format: %w", err)
	}

	task := conversion.Task{
		Kind:         target.Kind(),
		InputPath:    inputPath,
		OutputPath:   outputPath,
		TargetFormat: target,
	}
	if strings.TrimSpace(flags.from) != "" {
		source, err := media.ParseFormat(flags.from)
		if err != nil {
			return conversion.Task{}, fmt.Errorf("source format: %w", err)
		}
		task.SourceFormat = source
	}

	if err := rejectForeignFlags(set, task.Kind); err != nil {
		return conversion.Task{}, err
	}
	task.Options = optionsFromFlags(set, flags, task.Kind)
	return task, nil
}

func rejectForeignFlags(set *pflag.FlagSet, kind media.Kind) error {
	allowed := map[string]bool{}
	for _, name := range kindFlags[kind] {
		allowed[name] = true
	}
	for k, names := range kindFlags {
		if k == kind {
			continue
		}
		for _, name := range names {
			if set.Changed(name) && !allowed[name] {
				return fmt.Errorf("--%s does not apply to %s conversions", name, kind)
			}
		}
	}
	return nil
}

// optionsFromFlags returns nil when no option flag was given so the kind
// defaults apply.
func optionsFromFlags(set *pflag.FlagSet, flags convertFlags, kind media.Kind) conversion.Options {
	changed := false
	for _, name := range kindFlags[kind] {
		if set.Changed(name) {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}

	switch kind {
	case media.KindVideo:
		opts := conversion.VideoOptions{
			SpeedPreset:  flags.preset,
			VideoCodec:   flags.vcodec,
			AudioCodec:   flags.acodec,
			AudioBitrate: flags.abitrate,
		}
		if set.Changed("crf") {
			crf := flags.crf
			opts.CRF = &crf
		}
		return opts
	case media.KindAudio:
		return conversion.AudioOptions{
			AudioCodec:   flags.acodec,
			AudioQuality: flags.abitrate,
			SampleRate:   flags.sampleRate,
		}
	case media.KindImage:
		var opts conversion.ImageOptions
		if set.Changed("quality") {
			quality := flags.quality
			opts.Quality = &quality
		}
		if set.Changed("width") || set.Changed("height") || set.Changed("fit") {
			opts.Resize = &conversion.Resize{
				Width:  flags.width,
				Height: flags.height,
				Mode:   conversion.ResizeMode(strings.ToLower(strings.TrimSpace(flags.fit))),
			}
		}
		return opts
	case media.KindDocument:
		return conversion.DocumentOptions{LineWrap: flags.lineWrap}
	}
	return nil
}

func runConvert(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, task conversion.Task, asJSON bool) error {
	logger, err := ctx.fileLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var recorders []manager.Recorder
	j, err := journal.Open(cfg.JournalPath(), journal.WithLogger(logger))
	if err != nil {
		logging.WarnWithContext(logger, "task history unavailable", "journal_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this conversion will not appear in vert history"),
		)
	} else {
		defer j.Close()
		recorders = append(recorders, j)
	}

	mgr, err := ctx.newManager(logger, recorders...)
	if err != nil {
		return err
	}
	id, err := mgr.AddTask(task)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := mgr.StartTask(signalCtx, id)
	if err != nil {
		return err
	}

	var renderer *progressRenderer
	if !asJSON {
		renderer = newProgressRenderer(cmd.OutOrStdout())
	}

	interrupted := signalCtx.Done()
	var final conversion.ProgressUpdate
	for stream != nil {
		select {
		case update, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			if update.Terminal() {
				final = update
			}
			renderer.Update(update)
		case <-interrupted:
			interrupted = nil
			if err := mgr.CancelTask(id); err != nil && !errors.Is(err, conversion.ErrNotRunning) {
				return err
			}
		}
	}

	snap, _ := mgr.Snapshot(id)
	if !final.Terminal() && snap.State == manager.StateCancelled {
		final = conversion.NewCancelled(id, 0, snap.Message)
	}
	if asJSON {
		if err := writeJSON(cmd, convertResult{
			Task:   snap.Task,
			State:  snap.State,
			Final:  final,
			Output: snap.Task.OutputPath,
		}); err != nil {
			return err
		}
	} else {
		renderer.Finish(final, snap.Task.OutputPath)
	}

	if snap.State != manager.StateCompleted {
		return fmt.Errorf("conversion %s: %s", snap.State, snap.Message)
	}
	return nil
}
