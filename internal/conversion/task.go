package conversion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"vert/internal/media"
)

// Task describes one conversion job. Tasks are values; once submitted to the
// manager they are never mutated.
type Task struct {
	ID           string
	Kind         media.Kind
	InputPath    string
	OutputPath   string
	TargetFormat media.Format
	// SourceFormat overrides format detection from the input extension.
	SourceFormat media.Format
	// Options is nil when the kind defaults apply.
	Options Options
}

// NewTaskID returns a time-ordered identifier, so sorting ids sorts tasks by
// creation.
func NewTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Validate checks the task's internal consistency: known kind, both paths,
// formats and options that belong to the task's kind.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return Wrap(ErrValidation, "validate task", "id is empty", nil)
	}
	if !t.Kind.Valid() {
		return Wrap(ErrValidation, "validate task", fmt.Sprintf("unknown media kind %q", t.Kind), nil)
	}
	if strings.TrimSpace(t.InputPath) == "" {
		return Wrap(ErrValidation, "validate task", "input path is empty", nil)
	}
	if strings.TrimSpace(t.OutputPath) == "" {
		return Wrap(ErrValidation, "validate task", "output path is empty", nil)
	}
	if !t.TargetFormat.Valid() {
		return Wrap(ErrValidation, "validate task", fmt.Sprintf("unknown target format %q", t.TargetFormat), nil)
	}
	if t.TargetFormat.Kind() != t.Kind {
		return Wrap(ErrValidation, "validate task",
			fmt.Sprintf("target format %s is %s, task is %s", t.TargetFormat, t.TargetFormat.Kind(), t.Kind), nil)
	}
	if t.SourceFormat != "" {
		if !t.SourceFormat.Valid() {
			return Wrap(ErrValidation, "validate task", fmt.Sprintf("unknown source format %q", t.SourceFormat), nil)
		}
		if t.SourceFormat.Kind() != t.Kind {
			return Wrap(ErrValidation, "validate task",
				fmt.Sprintf("source format %s is %s, task is %s", t.SourceFormat, t.SourceFormat.Kind(), t.Kind), nil)
		}
	}
	if t.Options != nil {
		switch t.Options.(type) {
		case VideoOptions, AudioOptions, ImageOptions, DocumentOptions:
		default:
			return Wrap(ErrValidation, "validate task", fmt.Sprintf("unsupported options type %T", t.Options), nil)
		}
		if t.Options.Kind() != t.Kind {
			return Wrap(ErrValidation, "validate task",
				fmt.Sprintf("%s options on a %s task", t.Options.Kind(), t.Kind), nil)
		}
		if err := t.Options.validate(); err != nil {
			return Wrap(ErrValidation, "validate task", "options", err)
		}
	}
	return nil
}

// Clone returns a copy of t whose options share no pointers with t's.
func (t Task) Clone() Task {
	switch t.Options.(type) {
	case VideoOptions, AudioOptions, ImageOptions, DocumentOptions:
		t.Options = t.Options.clone()
	}
	return t
}

// ResolveSourceFormat returns the override when set, else the format implied
// by the input path's extension.
func (t Task) ResolveSourceFormat() (media.Format, error) {
	if t.SourceFormat != "" {
		return t.SourceFormat, nil
	}
	format, err := media.FormatFromPath(t.InputPath)
	if err != nil {
		return "", Wrap(ErrValidation, "resolve source format", "", err)
	}
	return format, nil
}

type taskWire struct {
	ID           string          `json:"id"`
	Kind         media.Kind      `json:"kind"`
	InputPath    string          `json:"inputPath"`
	OutputPath   string          `json:"outputPath"`
	TargetFormat media.Format    `json:"targetFormat"`
	SourceFormat media.Format    `json:"sourceFormat,omitempty"`
	Options      json.RawMessage `json:"options,omitempty"`
}

// MarshalJSON encodes options as a {"type","data"} envelope.
func (t Task) MarshalJSON() ([]byte, error) {
	wire := taskWire{
		ID:           t.ID,
		Kind:         t.Kind,
		InputPath:    t.InputPath,
		OutputPath:   t.OutputPath,
		TargetFormat: t.TargetFormat,
		SourceFormat: t.SourceFormat,
	}
	if t.Options != nil {
		raw, err := MarshalOptions(t.Options)
		if err != nil {
			return nil, err
		}
		wire.Options = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the shape written by MarshalJSON.
func (t *Task) UnmarshalJSON(raw []byte) error {
	var wire taskWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	opts, err := UnmarshalOptions(wire.Options)
	if err != nil {
		return err
	}
	*t = Task{
		ID:           wire.ID,
		Kind:         wire.Kind,
		InputPath:    wire.InputPath,
		OutputPath:   wire.OutputPath,
		TargetFormat: wire.TargetFormat,
		SourceFormat: wire.SourceFormat,
		Options:      opts,
	}
	return nil
}
