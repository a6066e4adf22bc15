package conversion

import (
	"encoding/json"
	"fmt"
	"math"

	"vert/internal/media"
)

// Status is the terminal outcome carried by the last update of a stream.
type Status string

const (
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ProgressDetails is the kind-specific record attached to an update. The
// concrete variants are VideoProgress, AudioProgress, ImageProgress, and
// DocumentProgress.
type ProgressDetails interface {
	Kind() media.Kind
	isProgressDetails()
}

// VideoProgress mirrors the encoder's machine-readable progress record.
type VideoProgress struct {
	Frame                 uint64  `json:"frame,omitempty"`
	FPS                   float64 `json:"fps,omitempty"`
	BitrateKbit           float64 `json:"bitrateKbit,omitempty"`
	SizeKB                uint64  `json:"sizeKb,omitempty"`
	TimeProcessed         string  `json:"timeProcessed,omitempty"`
	Speed                 float64 `json:"speed,omitempty"`
	EstimatedDurationSecs float64 `json:"estimatedDurationSecs,omitempty"`
}

func (VideoProgress) Kind() media.Kind { return media.KindVideo }
func (VideoProgress) isProgressDetails() {}

// AudioProgress is the audio subset of the encoder's progress record.
type AudioProgress struct {
	BitrateKbit           float64 `json:"bitrateKbit,omitempty"`
	SizeKB                uint64  `json:"sizeKb,omitempty"`
	TimeProcessed         string  `json:"timeProcessed,omitempty"`
	Speed                 float64 `json:"speed,omitempty"`
	EstimatedDurationSecs float64 `json:"estimatedDurationSecs,omitempty"`
}

func (AudioProgress) Kind() media.Kind { return media.KindAudio }
func (AudioProgress) isProgressDetails() {}

// ImageProgress names the step an image conversion is in.
type ImageProgress struct {
	Step string `json:"step,omitempty"`
}

func (ImageProgress) Kind() media.Kind { return media.KindImage }
func (ImageProgress) isProgressDetails() {}

// DocumentProgress names the step a document conversion is in.
type DocumentProgress struct {
	Step string `json:"step,omitempty"`
}

func (DocumentProgress) Kind() media.Kind { return media.KindDocument }
func (DocumentProgress) isProgressDetails() {}

// ProgressUpdate is one event in a task's progress stream.
type ProgressUpdate struct {
	TaskID        string
	Percentage    float64
	Status        Status
	StatusMessage string
	Details       ProgressDetails
}

// Terminal reports whether the update carries the task's outcome.
func (u ProgressUpdate) Terminal() bool {
	return u.Status != ""
}

// NewProgress builds a non-terminal update.
func NewProgress(taskID string, percentage float64, message string, details ProgressDetails) ProgressUpdate {
	return ProgressUpdate{
		TaskID:        taskID,
		Percentage:    ClampPercentage(percentage),
		StatusMessage: message,
		Details:       details,
	}
}

// NewDone builds the terminal success update.
func NewDone(taskID string) ProgressUpdate {
	return ProgressUpdate{TaskID: taskID, Percentage: 100, Status: StatusDone, StatusMessage: "completed"}
}

// NewFailed builds the terminal failure update.
func NewFailed(taskID string, percentage float64, message string) ProgressUpdate {
	return ProgressUpdate{TaskID: taskID, Percentage: ClampPercentage(percentage), Status: StatusFailed, StatusMessage: message}
}

// NewCancelled builds the terminal cancellation update.
func NewCancelled(taskID string, percentage float64, message string) ProgressUpdate {
	if message == "" {
		message = "cancelled"
	}
	return ProgressUpdate{TaskID: taskID, Percentage: ClampPercentage(percentage), Status: StatusCancelled, StatusMessage: message}
}

// ClampPercentage bounds p to [0,100]; NaN becomes 0.
func ClampPercentage(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

type detailsEnvelope struct {
	Type media.Kind      `json:"type"`
	Data json.RawMessage `json:"data"`
}

type progressWire struct {
	TaskID        string           `json:"taskId"`
	Percentage    float64          `json:"percentage"`
	Status        Status           `json:"status,omitempty"`
	StatusMessage string           `json:"statusMessage,omitempty"`
	Details       *detailsEnvelope `json:"details,omitempty"`
}

// MarshalJSON writes the transport wire shape.
func (u ProgressUpdate) MarshalJSON() ([]byte, error) {
	wire := progressWire{
		TaskID:        u.TaskID,
		Percentage:    u.Percentage,
		Status:        u.Status,
		StatusMessage: u.StatusMessage,
	}
	if u.Details != nil {
		data, err := json.Marshal(u.Details)
		if err != nil {
			return nil, err
		}
		wire.Details = &detailsEnvelope{Type: u.Details.Kind(), Data: data}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON reads the transport wire shape.
func (u *ProgressUpdate) UnmarshalJSON(raw []byte) error {
	var wire progressWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	*u = ProgressUpdate{
		TaskID:        wire.TaskID,
		Percentage:    wire.Percentage,
		Status:        wire.Status,
		StatusMessage: wire.StatusMessage,
	}
	if wire.Details == nil {
		return nil
	}
	var err error
	switch wire.Details.Type {
	case media.KindVideo:
		var d VideoProgress
		err = json.Unmarshal(wire.Details.Data, &d)
		u.Details = d
	case media.KindAudio:
		var d AudioProgress
		err = json.Unmarshal(wire.Details.Data, &d)
		u.Details = d
	case media.KindImage:
		var d ImageProgress
		err = json.Unmarshal(wire.Details.Data, &d)
		u.Details = d
	case media.KindDocument:
		var d DocumentProgress
		err = json.Unmarshal(wire.Details.Data, &d)
		u.Details = d
	default:
		return fmt.Errorf("decode progress details: unknown type %q", wire.Details.Type)
	}
	return err
}
