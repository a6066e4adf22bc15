package converters

import (
	"context"
	"log/slog"

	"vert/internal/conversion"
	"vert/internal/ffmpeg"
	"vert/internal/media"
)

// VideoConverter transcodes video containers with ffmpeg.
type VideoConverter struct {
	conversion.FormatSupport
	settings Settings
	logger   *slog.Logger
}

// NewVideoConverter returns the ffmpeg-backed video converter.
func NewVideoConverter(settings Settings) *VideoConverter {
	return &VideoConverter{
		FormatSupport: conversion.FormatSupport{
			Inputs: []media.Format{
				media.FormatMP4, media.FormatWebM, media.FormatAVI, media.FormatMKV, media.FormatWMV,
				media.FormatMOV, media.FormatMTS, media.FormatFLV, media.FormatOGV, media.FormatGIF,
			},
			Outputs: []media.Format{
				media.FormatMP4, media.FormatWebM, media.FormatAVI, media.FormatMKV, media.FormatMOV, media.FormatGIF,
			},
		},
		settings: settings,
		logger:   settings.logger("video"),
	}
}

func (c *VideoConverter) Name() string { return "ffmpeg video" }

func (c *VideoConverter) MediaKind() media.Kind { return media.KindVideo }

func (c *VideoConverter) Convert(ctx context.Context, task conversion.Task) (<-chan conversion.ProgressUpdate, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if _, err := conversion.CheckSupported(c, task); err != nil {
		return nil, err
	}
	opts := conversion.ResolveOptions[conversion.VideoOptions](task)
	args := ffmpeg.VideoArgs(task.InputPath, task.OutputPath, opts)
	return runEncoder(ctx, c.settings, c.logger, task, args, videoDetails)
}

func videoDetails(p ffmpeg.Progress, total float64) conversion.ProgressDetails {
	return conversion.VideoProgress{
		Frame:                 p.Frame,
		FPS:                   p.FPS,
		BitrateKbit:           p.BitrateKbit,
		SizeKB:                p.SizeKB(),
		TimeProcessed:         p.TimeProcessed(),
		Speed:                 p.Speed,
		EstimatedDurationSecs: total,
	}
}
