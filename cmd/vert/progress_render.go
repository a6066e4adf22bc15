package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"vert/internal/conversion"
	"vert/internal/logging"
)

const (
	progressBarWidth = 24
	clearLine        = "\r\x1b[K"
)

// progressRenderer draws a single rewritten line on a terminal and sampled
// plain lines otherwise. A nil renderer discards everything.
type progressRenderer struct {
	out     io.Writer
	tty     bool
	sampler *logging.ProgressSampler
	drawn   bool
}

func newProgressRenderer(out io.Writer) *progressRenderer {
	return &progressRenderer{
		out:     out,
		tty:     isTerminalWriter(out),
		sampler: logging.NewProgressSampler(10),
	}
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *progressRenderer) Update(update conversion.ProgressUpdate) {
	if r == nil || update.Terminal() {
		return
	}
	line := formatProgressLine(update)
	if r.tty {
		fmt.Fprint(r.out, clearLine+line)
		r.drawn = true
		return
	}
	if r.sampler.ShouldLog(update.Percentage, update.StatusMessage) {
		fmt.Fprintln(r.out, line)
	}
}

func (r *progressRenderer) Finish(final conversion.ProgressUpdate, output string) {
	if r == nil {
		return
	}
	if r.drawn {
		fmt.Fprint(r.out, clearLine)
	}
	switch final.Status {
	case conversion.StatusDone:
		fmt.Fprintf(r.out, "%s 100.0%%  wrote %s\n", progressBar(100), output)
	case conversion.StatusCancelled:
		fmt.Fprintf(r.out, "%s %5.1f%%  cancelled\n", progressBar(final.Percentage), final.Percentage)
	default:
		fmt.Fprintf(r.out, "%s %5.1f%%  failed: %s\n", progressBar(final.Percentage), final.Percentage, final.StatusMessage)
	}
}

func formatProgressLine(update conversion.ProgressUpdate) string {
	parts := []string{fmt.Sprintf("%s %5.1f%%", progressBar(update.Percentage), update.Percentage)}
	if msg := strings.TrimSpace(update.StatusMessage); msg != "" {
		parts = append(parts, msg)
	}
	switch d := update.Details.(type) {
	case conversion.VideoProgress:
		if d.TimeProcessed != "" {
			parts = append(parts, d.TimeProcessed)
		}
		if d.FPS > 0 {
			parts = append(parts, fmt.Sprintf("%.1f fps", d.FPS))
		}
		if d.Speed > 0 {
			parts = append(parts, fmt.Sprintf("%.2fx", d.Speed))
		}
	case conversion.AudioProgress:
		if d.TimeProcessed != "" {
			parts = append(parts, d.TimeProcessed)
		}
		if d.Speed > 0 {
			parts = append(parts, fmt.Sprintf("%.2fx", d.Speed))
		}
	case conversion.ImageProgress:
		if d.Step != "" {
			parts = append(parts, d.Step)
		}
	case conversion.DocumentProgress:
		if d.Step != "" {
			parts = append(parts, d.Step)
		}
	}
	return strings.Join(parts, "  ")
}

func progressBar(pct float64) string {
	filled := int(conversion.ClampPercentage(pct) / 100 * progressBarWidth)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", progressBarWidth-filled) + "]"
}
