package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ErrUnknownDuration reports that the prober ran but printed no usable
// duration.
var ErrUnknownDuration = errors.New("duration unknown")

// DurationArgs returns the prober arguments that print only the container
// duration in seconds.
func DurationArgs(input string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	}
}

// ProbeDuration runs the prober against input and returns its duration in
// seconds.
func ProbeDuration(ctx context.Context, binary, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, binary, DurationArgs(input)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return 0, fmt.Errorf("ffprobe %s: %w: %s", input, err, detail)
		}
		return 0, fmt.Errorf("ffprobe %s: %w", input, err)
	}
	seconds, ok := ParseDuration(string(out))
	if !ok {
		return 0, fmt.Errorf("ffprobe %s: %w (output %q)", input, ErrUnknownDuration, strings.TrimSpace(string(out)))
	}
	return seconds, nil
}

// ParseDuration reads the first line of prober output as seconds. Empty,
// "N/A", non-numeric, and non-positive values are unknown.
func ParseDuration(output string) (float64, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	line = strings.TrimSpace(line)
	if line == "" || strings.EqualFold(line, "N/A") {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(line, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return 0, false
	}
	return seconds, true
}
