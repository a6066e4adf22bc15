// Package ffmpeg builds ffmpeg and ffprobe command lines and interprets their
// output.
//
// Argument builders are deterministic: the same options always produce the
// same slice, and a flag is emitted only when its option is set. Every
// encoder invocation asks for machine-readable progress on stdout and
// overwrites the output without prompting. Parser folds the resulting
// key=value lines into one cumulative record; ProbeDuration reads the input
// duration in seconds and reports failure instead of guessing.
package ffmpeg
