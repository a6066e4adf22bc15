package converters

import (
	"context"
	"log/slog"

	"vert/internal/conversion"
	"vert/internal/ffmpeg"
	"vert/internal/media"
)

// AudioConverter transcodes audio with ffmpeg, dropping any video streams.
type AudioConverter struct {
	conversion.FormatSupport
	settings Settings
	logger   *slog.Logger
}

func NewAudioConverter(settings Settings) *AudioConverter {
	formats := media.FormatsOf(media.KindAudio)
	return &AudioConverter{
		FormatSupport: conversion.FormatSupport{Inputs: formats, Outputs: formats},
		settings:      settings,
		logger:        settings.logger("audio"),
	}
}

func (c *AudioConverter) Name() string { return "ffmpeg audio" }

func (c *AudioConverter) MediaKind() media.Kind { return media.KindAudio }

func (c *AudioConverter) Convert(ctx context.Context, task conversion.Task) (<-chan conversion.ProgressUpdate, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if _, err := conversion.CheckSupported(c, task); err != nil {
		return nil, err
	}
	opts := conversion.ResolveOptions[conversion.AudioOptions](task)
	args := ffmpeg.AudioArgs(task.InputPath, task.OutputPath, opts)
	return runEncoder(ctx, c.settings, c.logger, task, args, audioDetails)
}

func audioDetails(p ffmpeg.Progress, total float64) conversion.ProgressDetails {
	return conversion.AudioProgress{
		BitrateKbit:           p.BitrateKbit,
		SizeKB:                p.SizeKB(),
		TimeProcessed:         p.TimeProcessed(),
		Speed:                 p.Speed,
		EstimatedDurationSecs: total,
	}
}
