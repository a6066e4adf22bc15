package converters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"vert/internal/conversion"
	"vert/internal/logging"
	"vert/internal/media"
	"vert/internal/pipeline"
)

// DocumentConverter converts documents with pandoc.
type DocumentConverter struct {
	conversion.FormatSupport
	settings Settings
	logger   *slog.Logger
}

func NewDocumentConverter(settings Settings) *DocumentConverter {
	return &DocumentConverter{
		FormatSupport: conversion.FormatSupport{
			Inputs: []media.Format{
				media.FormatMarkdown, media.FormatHTML, media.FormatTXT,
				media.FormatDOCX, media.FormatODT, media.FormatEPUB,
			},
			Outputs: []media.Format{
				media.FormatPDF, media.FormatDOCX, media.FormatODT, media.FormatTXT,
				media.FormatHTML, media.FormatMarkdown, media.FormatEPUB,
			},
		},
		settings: settings,
		logger:   settings.logger("document"),
	}
}

func (c *DocumentConverter) Name() string { return "pandoc" }

func (c *DocumentConverter) MediaKind() media.Kind { return media.KindDocument }

func (c *DocumentConverter) Convert(ctx context.Context, task conversion.Task) (<-chan conversion.ProgressUpdate, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if _, err := conversion.CheckSupported(c, task); err != nil {
		return nil, err
	}
	opts := conversion.ResolveOptions[conversion.DocumentOptions](task)
	if opts.PDFPermissions != nil && task.TargetFormat != media.FormatPDF {
		return nil, conversion.Wrap(conversion.ErrValidation, "validate document options",
			"pdf permissions need a pdf target, got "+string(task.TargetFormat), nil)
	}
	spec := c.settings.spec(task, c.settings.Pandoc, DocumentArgs(task, opts), c.logger)
	spec.StartDetails = conversion.DocumentProgress{Step: "converting"}
	if perms := opts.PDFPermissions; perms != nil {
		if strings.TrimSpace(c.settings.Qpdf) == "" {
			return nil, conversion.Wrap(conversion.ErrTool, "validate document options",
				"pdf permissions need qpdf, which is not configured", nil)
		}
		spec.Finish = c.restrict(task, *perms)
		spec.FinishDetails = conversion.DocumentProgress{Step: "restricting permissions"}
	}
	return pipeline.Start(ctx, spec)
}

// pandocReaders names the reader for an explicit source format override,
// since pandoc otherwise detects the reader from the input extension.
var pandocReaders = map[media.Format]string{
	media.FormatMarkdown: "markdown",
	media.FormatHTML:     "html",
	media.FormatTXT:      "markdown",
	media.FormatDOCX:     "docx",
	media.FormatODT:      "odt",
	media.FormatEPUB:     "epub",
}

// DocumentArgs returns the pandoc arguments (without the binary).
func DocumentArgs(task conversion.Task, opts conversion.DocumentOptions) []string {
	args := []string{task.InputPath}
	if reader, ok := pandocReaders[task.SourceFormat]; ok {
		args = append(args, "--from", reader)
	}
	args = append(args, "-o", task.OutputPath)
	if opts.LineWrap > 0 {
		args = append(args, "--columns="+strconv.FormatUint(uint64(opts.LineWrap), 10), "--wrap=auto")
	}
	return args
}

// restrict rewrites the produced PDF in place with qpdf. The owner password
// is random and discarded, so the restrictions cannot be lifted with it. On
// failure the unrestricted output is removed.
func (c *DocumentConverter) restrict(task conversion.Task, perms conversion.PDFPermissions) func(context.Context) error {
	return func(ctx context.Context) error {
		args := PDFPermissionArgs(task.OutputPath, uuid.NewString(), perms)
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, c.settings.Qpdf, args...) //nolint:gosec
		cmd.Stderr = &stderr
		err := cmd.Run()
		// qpdf exits 3 when it succeeded with warnings.
		var exitErr *exec.ExitError
		if err == nil || (errors.As(err, &exitErr) && exitErr.ExitCode() == 3) {
			c.logger.Debug("pdf permissions applied",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Bool("printing", perms.AllowPrinting),
				logging.Bool("copying", perms.AllowCopying),
				logging.Bool("editing", perms.AllowEditing),
			)
			return nil
		}
		if rmErr := os.Remove(task.OutputPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			c.logger.Warn("failed to remove unrestricted pdf",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Error(rmErr),
			)
		}
		message := fmt.Sprintf("%s: %v", filepath.Base(c.settings.Qpdf), err)
		if detail := lastLine(stderr.String()); detail != "" {
			message += ": " + detail
		}
		return conversion.Wrap(conversion.ErrTool, "apply pdf permissions", message, nil)
	}
}

// PDFPermissionArgs returns the qpdf arguments (without the binary) that
// encrypt path in place with an empty user password and the given owner
// password.
func PDFPermissionArgs(path, ownerPassword string, perms conversion.PDFPermissions) []string {
	return []string{
		path, "--replace-input",
		"--encrypt", "", ownerPassword, "256",
		"--print=" + choose(perms.AllowPrinting, "full", "none"),
		"--extract=" + choose(perms.AllowCopying, "y", "n"),
		"--modify=" + choose(perms.AllowEditing, "all", "none"),
		"--",
	}
}

func choose(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
