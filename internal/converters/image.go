package converters

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"vert/internal/conversion"
	"vert/internal/media"
	"vert/internal/pipeline"
)

// ImageConverter converts still images with ImageMagick.
type ImageConverter struct {
	conversion.FormatSupport
	settings Settings
	logger   *slog.Logger
}

func NewImageConverter(settings Settings) *ImageConverter {
	inputs := media.FormatsOf(media.KindImage)
	// jpg is the canonical JPEG output.
	outputs := slices.DeleteFunc(slices.Clone(inputs), func(f media.Format) bool { return f == media.FormatJPEG })
	return &ImageConverter{
		FormatSupport: conversion.FormatSupport{Inputs: inputs, Outputs: outputs},
		settings:      settings,
		logger:        settings.logger("image"),
	}
}

func (c *ImageConverter) Name() string { return "imagemagick" }

func (c *ImageConverter) MediaKind() media.Kind { return media.KindImage }

func (c *ImageConverter) Convert(ctx context.Context, task conversion.Task) (<-chan conversion.ProgressUpdate, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if _, err := conversion.CheckSupported(c, task); err != nil {
		return nil, err
	}
	opts := conversion.ResolveOptions[conversion.ImageOptions](task)
	spec := c.settings.spec(task, c.settings.Magick, ImageArgs(task.InputPath, task.OutputPath, task.TargetFormat, opts), c.logger)
	spec.StartDetails = conversion.ImageProgress{Step: "converting"}
	return pipeline.Start(ctx, spec)
}

// ImageArgs returns the magick arguments (without the binary). When the
// output extension does not name the target format, the output is prefixed
// with the format so magick does not guess from the extension.
func ImageArgs(input, output string, target media.Format, opts conversion.ImageOptions) []string {
	args := []string{input}
	if opts.Quality != nil {
		args = append(args, "-quality", strconv.Itoa(int(*opts.Quality)))
	}
	if r := opts.Resize; r != nil {
		if r.Filter != "" {
			args = append(args, "-filter", r.Filter)
		}
		args = append(args, resizeArgs(*r)...)
	}
	if opts.PNGCompression != nil && target == media.FormatPNG {
		args = append(args, "-define", fmt.Sprintf("png:compression-level=%d", *opts.PNGCompression))
	}
	if opts.WebPLossless != nil && *opts.WebPLossless && target == media.FormatWebP {
		args = append(args, "-define", "webp:lossless=true")
	}
	if format, err := media.FormatFromPath(output); err != nil || format.Extension() != target.Extension() {
		output = target.Extension() + ":" + output
	}
	return append(args, output)
}

func resizeArgs(r conversion.Resize) []string {
	geometry := dimension(r.Width) + "x" + dimension(r.Height)
	switch r.EffectiveMode() {
	case conversion.ResizeStretch:
		return []string{"-resize", geometry + "!"}
	case conversion.ResizeFill:
		return []string{"-resize", geometry + "^", "-gravity", "center", "-extent", geometry}
	default:
		return []string{"-resize", geometry}
	}
}

func dimension(v uint32) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(v), 10)
}
