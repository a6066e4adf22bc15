package conversion

import (
	"context"
	"fmt"
	"slices"

	"vert/internal/media"
)

// Converter performs conversions for one media kind.
//
// Convert fails synchronously only when the job cannot be started. Anything
// that goes wrong afterwards arrives as the terminal failed update on the
// returned stream. The stream is closed after its terminal update, and the
// caller must drain it until then; cancelling ctx stops the job.
type Converter interface {
	Name() string
	MediaKind() media.Kind
	SupportedInputFormats() []media.Format
	SupportedOutputFormats(input media.Format) []media.Format
	SupportsConversion(from, to media.Format) bool
	Convert(ctx context.Context, task Task) (<-chan ProgressUpdate, error)
}

// FormatSupport implements the format half of Converter. Embed it in a
// converter to get SupportedInputFormats, SupportedOutputFormats, and
// SupportsConversion.
type FormatSupport struct {
	Inputs  []media.Format
	Outputs []media.Format
}

// SupportedInputFormats returns a copy of the accepted inputs.
func (s FormatSupport) SupportedInputFormats() []media.Format {
	return slices.Clone(s.Inputs)
}

// SupportedOutputFormats returns the outputs reachable from input, or nil
// when input is not accepted.
func (s FormatSupport) SupportedOutputFormats(input media.Format) []media.Format {
	if !slices.Contains(s.Inputs, input) {
		return nil
	}
	return slices.Clone(s.Outputs)
}

// SupportsConversion reports whether from is an accepted input and to is
// reachable from it.
func (s FormatSupport) SupportsConversion(from, to media.Format) bool {
	return slices.Contains(s.SupportedOutputFormats(from), to)
}

// CheckSupported validates that c can run task: matching kind, a resolvable
// source format, and a supported from/to pair.
func CheckSupported(c Converter, task Task) (media.Format, error) {
	if c.MediaKind() != task.Kind {
		return "", Wrap(ErrValidation, "check conversion",
			fmt.Sprintf("%s converter cannot run a %s task", c.Name(), task.Kind), nil)
	}
	from, err := task.ResolveSourceFormat()
	if err != nil {
		return "", err
	}
	if !c.SupportsConversion(from, task.TargetFormat) {
		return "", Wrap(ErrValidation, "check conversion",
			fmt.Sprintf("%s cannot convert %s to %s", c.Name(), from, task.TargetFormat), nil)
	}
	return from, nil
}
