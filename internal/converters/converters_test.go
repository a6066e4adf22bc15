package converters_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"vert/internal/conversion"
	"vert/internal/converters"
	"vert/internal/media"
	"vert/internal/testsupport"
)

const encoderScript = `echo "frame=10"
echo "out_time=00:00:05.00"
echo "speed=1.0x"
echo "progress=continue"
sleep 0.3
echo "progress=end"
exit 0`

func settingsWith(t *testing.T, ffmpegBody, ffprobeBody string) converters.Settings {
	t.Helper()
	dir := t.TempDir()
	return converters.Settings{
		FFmpeg:       testsupport.WriteScript(t, dir, "ffmpeg", ffmpegBody),
		FFprobe:      testsupport.WriteScript(t, dir, "ffprobe", ffprobeBody),
		Magick:       testsupport.WriteScript(t, dir, "magick", "exit 0"),
		Pandoc:       testsupport.WriteScript(t, dir, "pandoc", "exit 0"),
		Qpdf:         testsupport.WriteScript(t, dir, "qpdf", "exit 0"),
		ProbeTimeout: 5 * time.Second,
	}
}

func videoTask(t *testing.T) conversion.Task {
	t.Helper()
	return conversion.Task{
		ID:           conversion.NewTaskID(),
		Kind:         media.KindVideo,
		InputPath:    "/media/in.mp4",
		OutputPath:   filepath.Join(t.TempDir(), "out", "clip.webm"),
		TargetFormat: media.FormatWebM,
	}
}

func drain(t *testing.T, ch <-chan conversion.ProgressUpdate) []conversion.ProgressUpdate {
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
			t.Fatalf("stream still open after %d updates", len(updates))
		}
	}
}

func terminalLast(t *testing.T, updates []conversion.ProgressUpdate) conversion.ProgressUpdate {
	t.Helper()
	if len(updates) == 0 {
		t.Fatal("no updates")
	}
	for i, update := range updates[:len(updates)-1] {
		if update.Terminal() {
			t.Fatalf("terminal update at %d of %d: %+v", i, len(updates), update)
		}
	}
	last := updates[len(updates)-1]
	if !last.Terminal() {
		t.Fatalf("last update not terminal: %+v", last)
	}
	return last
}

func TestVideoConvertReportsPercentageFromProbedDuration(t *testing.T) {
	c := converters.NewVideoConverter(settingsWith(t, encoderScript, "echo 10.0"))
	task := videoTask(t)

	ch, err := c.Convert(context.Background(), task)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	updates := drain(t, ch)
	last := terminalLast(t, updates)
	if last.Status != conversion.StatusDone || last.Percentage != 100 {
		t.Fatalf("unexpected terminal: %+v", last)
	}

	var halfway *conversion.ProgressUpdate
	for i := range updates[:len(updates)-1] {
		if math.Abs(updates[i].Percentage-50) < 0.01 {
			halfway = &updates[i]
			break
		}
	}
	if halfway == nil {
		t.Fatalf("expected an update near 50%%: %+v", updates)
	}
	details, ok := halfway.Details.(conversion.VideoProgress)
	if !ok {
		t.Fatalf("expected video details, got %T", halfway.Details)
	}
	if details.Frame != 10 || details.Speed != 1 || details.EstimatedDurationSecs != 10 {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.TimeProcessed != "00:00:05.00" {
		t.Fatalf("unexpected time processed %q", details.TimeProcessed)
	}

	prev := 0.0
	for _, update := range updates {
		if update.Percentage < prev {
			t.Fatalf("percentage went backwards: %v after %v", update.Percentage, prev)
		}
		prev = update.Percentage
	}
}

func TestVideoConvertNonZeroExitFails(t *testing.T) {
	c := converters.NewVideoConverter(settingsWith(t, "exit 3", "echo 10.0"))

	ch, err := c.Convert(context.Background(), videoTask(t))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	last := terminalLast(t, drain(t, ch))
	if last.Status != conversion.StatusFailed {
		t.Fatalf("expected failed terminal, got %+v", last)
	}
	if !strings.Contains(last.StatusMessage, "exit status 3") {
		t.Fatalf("expected exit status in message, got %q", last.StatusMessage)
	}
}

func TestVideoConvertProbeFailureKeepsPercentageAtZero(t *testing.T) {
	c := converters.NewVideoConverter(settingsWith(t, encoderScript, "echo 'no such file' >&2\nexit 1"))

	ch, err := c.Convert(context.Background(), videoTask(t))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	updates := drain(t, ch)
	last := terminalLast(t, updates)
	if last.Status != conversion.StatusDone || last.Percentage != 100 {
		t.Fatalf("unexpected terminal: %+v", last)
	}
	var records int
	for _, update := range updates[:len(updates)-1] {
		if update.Percentage != 0 {
			t.Fatalf("expected 0%% without a duration, got %+v", update)
		}
		if update.Details != nil {
			records++
		}
	}
	if records == 0 {
		t.Fatal("expected progress records despite the probe failure")
	}
}

func TestVideoConvertRejectsBeforeStarting(t *testing.T) {
	c := converters.NewVideoConverter(settingsWith(t, "exit 0", "echo 1"))

	task := videoTask(t)
	task.TargetFormat = media.FormatWMV // input only
	if _, err := c.Convert(context.Background(), task); !errors.Is(err, conversion.ErrValidation) {
		t.Fatalf("expected validation error for unsupported output, got %v", err)
	}

	task = videoTask(t)
	task.Options = conversion.AudioOptions{}
	if _, err := c.Convert(context.Background(), task); !errors.Is(err, conversion.ErrValidation) {
		t.Fatalf("expected validation error for mismatched options, got %v", err)
	}

	task = videoTask(t)
	task.InputPath = "/media/in.unknown"
	if _, err := c.Convert(context.Background(), task); !errors.Is(err, conversion.ErrValidation) {
		t.Fatalf("expected validation error for unknown source, got %v", err)
	}
}

func TestVideoConvertSpawnFailure(t *testing.T) {
	settings := settingsWith(t, "exit 0", "echo 1")
	settings.FFmpeg = filepath.Join(t.TempDir(), "missing-ffmpeg")
	c := converters.NewVideoConverter(settings)
	if _, err := c.Convert(context.Background(), videoTask(t)); !errors.Is(err, conversion.ErrTool) {
		t.Fatalf("expected tool error, got %v", err)
	}
}

func TestAudioConvertCarriesAudioDetails(t *testing.T) {
	c := converters.NewAudioConverter(settingsWith(t, encoderScript, "echo 20"))
	task := conversion.Task{
		ID:           conversion.NewTaskID(),
		Kind:         media.KindAudio,
		InputPath:    "/media/song.flac",
		OutputPath:   filepath.Join(t.TempDir(), "song.mp3"),
		TargetFormat: media.FormatMP3,
		Options:      conversion.AudioOptions{AudioQuality: "192k"},
	}
	ch, err := c.Convert(context.Background(), task)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	updates := drain(t, ch)
	if last := terminalLast(t, updates); last.Status != conversion.StatusDone {
		t.Fatalf("unexpected terminal: %+v", last)
	}
	var found bool
	for _, update := range updates {
		if details, ok := update.Details.(conversion.AudioProgress); ok {
			found = true
			if update.Percentage != 25 || details.EstimatedDurationSecs != 20 {
				t.Fatalf("unexpected audio update: %+v", update)
			}
		}
	}
	if !found {
		t.Fatalf("expected audio progress details: %+v", updates)
	}
}

func TestImageConvertStreamsStartAndDone(t *testing.T) {
	settings := settingsWith(t, "exit 0", "exit 0")
	settings.Magick = testsupport.WriteScript(t, t.TempDir(), "magick", "echo 'magick: low memory' >&2\nexit 0")
	c := converters.NewImageConverter(settings)
	task := conversion.Task{
		ID:           conversion.NewTaskID(),
		Kind:         media.KindImage,
		InputPath:    "/pics/a.png",
		OutputPath:   filepath.Join(t.TempDir(), "a.webp"),
		TargetFormat: media.FormatWebP,
	}
	ch, err := c.Convert(context.Background(), task)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	updates := drain(t, ch)
	if last := terminalLast(t, updates); last.Status != conversion.StatusDone {
		t.Fatalf("unexpected terminal: %+v", last)
	}
	first := updates[0]
	if _, ok := first.Details.(conversion.ImageProgress); !ok || first.Percentage != 0 {
		t.Fatalf("unexpected first update: %+v", first)
	}
	if !slices.ContainsFunc(updates, func(u conversion.ProgressUpdate) bool { return u.StatusMessage == "magick: low memory" }) {
		t.Fatalf("expected diagnostic update: %+v", updates)
	}
}

func documentTask(t *testing.T, target media.Format, perms *conversion.PDFPermissions) conversion.Task {
	t.Helper()
	return conversion.Task{
		ID:           conversion.NewTaskID(),
		Kind:         media.KindDocument,
		InputPath:    "/docs/readme.md",
		OutputPath:   filepath.Join(t.TempDir(), "readme."+target.Extension()),
		TargetFormat: target,
		Options:      conversion.DocumentOptions{PDFPermissions: perms},
	}
}

func TestDocumentConvertRejectsPermissionsWithoutPDF(t *testing.T) {
	c := converters.NewDocumentConverter(settingsWith(t, "exit 0", "exit 0"))
	task := documentTask(t, media.FormatDOCX, &conversion.PDFPermissions{AllowPrinting: true})
	if _, err := c.Convert(context.Background(), task); !errors.Is(err, conversion.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDocumentConvertAppliesPDFPermissions(t *testing.T) {
	settings := settingsWith(t, "exit 0", "exit 0")
	argsFile := filepath.Join(t.TempDir(), "qpdf-args")
	settings.Pandoc = testsupport.WriteScript(t, t.TempDir(), "pandoc", `out=""
while [ $# -gt 0 ]; do [ "$1" = "-o" ] && out="$2"; shift; done
echo "%PDF-1.7" > "$out"`)
	settings.Qpdf = testsupport.WriteScript(t, t.TempDir(), "qpdf", `printf '%s\n' "$@" > "`+argsFile+`"`)
	c := converters.NewDocumentConverter(settings)

	task := documentTask(t, media.FormatPDF, &conversion.PDFPermissions{AllowCopying: true})
	ch, err := c.Convert(context.Background(), task)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	updates := drain(t, ch)
	if last := terminalLast(t, updates); last.Status != conversion.StatusDone {
		t.Fatalf("unexpected terminal: %+v", last)
	}
	if !slices.ContainsFunc(updates, func(u conversion.ProgressUpdate) bool {
		step, ok := u.Details.(conversion.DocumentProgress)
		return ok && step.Step == "restricting permissions"
	}) {
		t.Fatalf("expected a restricting step: %+v", updates)
	}

	raw, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("qpdf was not invoked: %v", err)
	}
	args := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if args[0] != task.OutputPath || args[1] != "--replace-input" {
		t.Fatalf("unexpected qpdf target: %q", args)
	}
	for _, want := range []string{"--print=none", "--extract=y", "--modify=none"} {
		if !slices.Contains(args, want) {
			t.Fatalf("missing %s in %q", want, args)
		}
	}
}

func TestDocumentConvertPermissionFailureRemovesOutput(t *testing.T) {
	settings := settingsWith(t, "exit 0", "exit 0")
	settings.Pandoc = testsupport.WriteScript(t, t.TempDir(), "pandoc", `out=""
while [ $# -gt 0 ]; do [ "$1" = "-o" ] && out="$2"; shift; done
echo "%PDF-1.7" > "$out"`)
	settings.Qpdf = testsupport.WriteScript(t, t.TempDir(), "qpdf", `echo "qpdf: unable to open file" >&2
exit 2`)
	c := converters.NewDocumentConverter(settings)

	task := documentTask(t, media.FormatPDF, &conversion.PDFPermissions{})
	ch, err := c.Convert(context.Background(), task)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	last := terminalLast(t, drain(t, ch))
	if last.Status != conversion.StatusFailed || !strings.Contains(last.StatusMessage, "unable to open file") {
		t.Fatalf("unexpected terminal: %+v", last)
	}
	if _, err := os.Stat(task.OutputPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected unrestricted output removed, stat err=%v", err)
	}
}

func TestDocumentConvertPermissionsNeedQpdf(t *testing.T) {
	settings := settingsWith(t, "exit 0", "exit 0")
	settings.Qpdf = ""
	c := converters.NewDocumentConverter(settings)
	task := documentTask(t, media.FormatPDF, &conversion.PDFPermissions{})
	if _, err := c.Convert(context.Background(), task); !errors.Is(err, conversion.ErrTool) {
		t.Fatalf("expected tool error, got %v", err)
	}
}

func TestRegistryFormatSets(t *testing.T) {
	registry, err := converters.NewRegistry(converters.Settings{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if got := len(registry.Converters()); got != len(media.Kinds()) {
		t.Fatalf("expected one converter per kind, got %d", got)
	}

	cases := []struct {
		kind     media.Kind
		from, to media.Format
		want     bool
	}{
		{media.KindVideo, media.FormatMKV, media.FormatMP4, true},
		{media.KindVideo, media.FormatGIF, media.FormatWebM, true},
		{media.KindVideo, media.FormatMP4, media.FormatFLV, false},
		{media.KindAudio, media.FormatFLAC, media.FormatOpus, true},
		{media.KindImage, media.FormatJPEG, media.FormatJPG, true},
		{media.KindImage, media.FormatPNG, media.FormatJPEG, false},
		{media.KindImage, media.FormatICO, media.FormatAVIF, true},
		{media.KindDocument, media.FormatMarkdown, media.FormatPDF, true},
		{media.KindDocument, media.FormatPDF, media.FormatMarkdown, false},
		{media.KindDocument, media.FormatHTML, media.FormatEPUB, true},
	}
	for _, tc := range cases {
		c, ok := registry.ForKind(tc.kind)
		if !ok {
			t.Fatalf("no converter for %s", tc.kind)
		}
		if got := c.SupportsConversion(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s %s->%s: got %v want %v", c.Name(), tc.from, tc.to, got, tc.want)
		}
		for _, f := range c.SupportedInputFormats() {
			if f.Kind() != tc.kind {
				t.Fatalf("%s accepts %s of kind %s", c.Name(), f, f.Kind())
			}
		}
	}
}
