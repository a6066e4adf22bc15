// Package converters implements one conversion.Converter per media kind on
// top of the shared encoder pipeline.
//
// Video and audio run ffmpeg with machine-readable progress and probe the
// input duration with ffprobe so updates carry a percentage. Images run
// ImageMagick and documents run pandoc; those streams carry only the
// starting update, tool diagnostics, and the terminal outcome.
package converters
