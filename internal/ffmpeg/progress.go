package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Marker classifies a progress line.
type Marker int

const (
	// MarkerNone is any line that is not a record boundary.
	MarkerNone Marker = iota
	// MarkerContinue closes a record while encoding continues.
	MarkerContinue
	// MarkerEnd is the completion signal for the progress stream.
	MarkerEnd
)

// Progress is the cumulative state of an encoder's -progress output.
type Progress struct {
	Frame          uint64
	FPS            float64
	BitrateKbit    float64
	TotalSizeBytes uint64
	Elapsed        time.Duration
	Speed          float64
}

// SizeKB returns the output size in kibibytes.
func (p Progress) SizeKB() uint64 {
	return p.TotalSizeBytes / 1024
}

// TimeProcessed formats Elapsed as HH:MM:SS.cc.
func (p Progress) TimeProcessed() string {
	if p.Elapsed <= 0 {
		return ""
	}
	return FormatClock(p.Elapsed)
}

// Percent returns Elapsed as a share of totalSeconds clamped to [0,100], or
// 0 when the total is unknown.
func (p Progress) Percent(totalSeconds float64) float64 {
	if totalSeconds <= 0 {
		return 0
	}
	pct := p.Elapsed.Seconds() / totalSeconds * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// elapsed sources, higher wins within a batch
const (
	rankNone = iota
	rankClock
	rankMillis
	rankMicros
)

// Parser folds key=value lines into a cumulative Progress. Lines between two
// progress= markers form a batch; within a batch the elapsed time comes from
// the most precise field present, and the first value seen for that field.
type Parser struct {
	record      Progress
	elapsedRank int
}

// Feed consumes one line and reports whether it ended a record.
func (p *Parser) Feed(line string) Marker {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return MarkerNone
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "progress":
		p.elapsedRank = rankNone
		if value == "end" {
			return MarkerEnd
		}
		return MarkerContinue
	case "frame":
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			p.record.Frame = n
		}
	case "fps":
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			p.record.FPS = f
		}
	case "bitrate":
		if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "kbits/s"), 64); err == nil && f >= 0 {
			p.record.BitrateKbit = f
		}
	case "total_size":
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			p.record.TotalSizeBytes = n
		}
	case "out_time_us":
		p.setElapsed(rankMicros, parseMicros(value))
	case "out_time_ms":
		// ffmpeg reports this field in microseconds as well.
		p.setElapsed(rankMillis, parseMicros(value))
	case "out_time":
		d, err := ParseClock(value)
		if err == nil {
			p.setElapsed(rankClock, d)
		}
	case "speed":
		if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil && f >= 0 {
			p.record.Speed = f
		}
	}
	return MarkerNone
}

// Progress returns the cumulative record.
func (p *Parser) Progress() Progress {
	return p.record
}

func (p *Parser) setElapsed(rank int, d time.Duration) {
	if d < 0 || rank <= p.elapsedRank {
		return
	}
	p.elapsedRank = rank
	p.record.Elapsed = d
}

func parseMicros(value string) time.Duration {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return -1
	}
	return time.Duration(n) * time.Microsecond
}

// ParseClock parses an HH:MM:SS[.frac] timestamp.
func ParseClock(value string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("parse clock %q: want HH:MM:SS", value)
	}
	hours, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	minutes, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || minutes >= 60 {
		return 0, fmt.Errorf("parse clock %q: bad minutes", value)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, fmt.Errorf("parse clock %q: bad seconds", value)
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	return total + time.Duration(math.Round(seconds*1e6))*time.Microsecond, nil
}

// FormatClock renders d as HH:MM:SS.cc.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	centis := d.Milliseconds() / 10
	hours := centis / 360000
	minutes := centis / 6000 % 60
	seconds := centis / 100 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%02d", hours, minutes, seconds, centis%100)
}
