package ffmpeg

import (
	"strconv"

	"vert/internal/conversion"
)

// VideoArgs returns the encoder arguments (without the binary) for a video
// conversion.
func VideoArgs(input, output string, opts conversion.VideoOptions) []string {
	args := preamble(input)

	// --- Video ---
	if opts.VideoCodec != "" {
		args = append(args, "-c:v", opts.VideoCodec)
	}
	if opts.SpeedPreset != "" {
		args = append(args, "-preset", opts.SpeedPreset)
	}
	if opts.CRF != nil {
		args = append(args, "-crf", strconv.Itoa(int(*opts.CRF)))
	}

	// --- Audio ---
	if opts.AudioCodec != "" {
		args = append(args, "-c:a", opts.AudioCodec)
	}
	if opts.AudioBitrate != "" {
		args = append(args, "-b:a", opts.AudioBitrate)
	}

	return append(args, output)
}

// AudioArgs returns the encoder arguments (without the binary) for an audio
// conversion. Video streams such as embedded cover art are dropped.
func AudioArgs(input, output string, opts conversion.AudioOptions) []string {
	args := preamble(input)
	args = append(args, "-vn")
	if opts.AudioCodec != "" {
		args = append(args, "-c:a", opts.AudioCodec)
	}
	if opts.AudioQuality != "" {
		args = append(args, "-b:a", opts.AudioQuality)
	}
	if opts.SampleRate != 0 {
		args = append(args, "-ar", strconv.FormatUint(uint64(opts.SampleRate), 10))
	}
	return append(args, output)
}

func preamble(input string) []string {
	args := make([]string, 0, 24)
	args = append(args,
		"-hide_banner",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-y",
		"-i", input,
	)
	return args
}
