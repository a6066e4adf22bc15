package conversion

import (
	"encoding/json"
	"fmt"
	"strings"

	"vert/internal/media"
)

// Options is the kind-specific tunables of a task. The concrete variants are
// VideoOptions, AudioOptions, ImageOptions, and DocumentOptions. Zero-valued
// fields mean "let the tool decide".
type Options interface {
	Kind() media.Kind
	validate() error
	// clone returns a copy sharing no pointers with the receiver.
	clone() Options
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// VideoOptions configures the video encoder.
type VideoOptions struct {
	SpeedPreset  string `json:"speedPreset,omitempty"`
	CRF          *uint8 `json:"crf,omitempty"`
	VideoCodec   string `json:"videoCodec,omitempty"`
	AudioCodec   string `json:"audioCodec,omitempty"`
	AudioBitrate string `json:"audioBitrate,omitempty"`
}

func (VideoOptions) Kind() media.Kind { return media.KindVideo }

func (o VideoOptions) clone() Options {
	o.CRF = clonePtr(o.CRF)
	return o
}

func (o VideoOptions) validate() error {
	if o.CRF != nil && *o.CRF > 63 {
		return fmt.Errorf("crf %d out of range 0-63", *o.CRF)
	}
	return nil
}

// AudioOptions configures the audio encoder. AudioQuality is passed through
// as a bitrate or VBR setting such as "192k".
type AudioOptions struct {
	AudioCodec   string `json:"audioCodec,omitempty"`
	AudioQuality string `json:"audioQuality,omitempty"`
	SampleRate   uint32 `json:"sampleRate,omitempty"`
}

func (AudioOptions) Kind() media.Kind { return media.KindAudio }

func (o AudioOptions) clone() Options { return o }

func (o AudioOptions) validate() error {
	if o.SampleRate != 0 && (o.SampleRate < 8000 || o.SampleRate > 384000) {
		return fmt.Errorf("sample rate %d out of range 8000-384000", o.SampleRate)
	}
	return nil
}

// ResizeMode controls how a resize treats the aspect ratio.
type ResizeMode string

const (
	ResizeStretch ResizeMode = "stretch"
	ResizeFit     ResizeMode = "fit"
	ResizeFill    ResizeMode = "fill"
)

// Resize describes target image dimensions. A zero width or height keeps
// that dimension proportional.
type Resize struct {
	Width  uint32     `json:"width,omitempty"`
	Height uint32     `json:"height,omitempty"`
	Mode   ResizeMode `json:"mode,omitempty"`
	Filter string     `json:"filter,omitempty"`
}

// EffectiveMode returns the resize mode, defaulting to fit.
func (r Resize) EffectiveMode() ResizeMode {
	if r.Mode == "" {
		return ResizeFit
	}
	return r.Mode
}

// ImageOptions configures the image converter.
type ImageOptions struct {
	Quality        *uint8  `json:"quality,omitempty"`
	Resize         *Resize `json:"resize,omitempty"`
	PNGCompression *uint8  `json:"pngCompression,omitempty"`
	WebPLossless   *bool   `json:"webpLossless,omitempty"`
}

func (ImageOptions) Kind() media.Kind { return media.KindImage }

func (o ImageOptions) clone() Options {
	o.Quality = clonePtr(o.Quality)
	o.Resize = clonePtr(o.Resize)
	o.PNGCompression = clonePtr(o.PNGCompression)
	o.WebPLossless = clonePtr(o.WebPLossless)
	return o
}

func (o ImageOptions) validate() error {
	if o.Quality != nil && (*o.Quality < 1 || *o.Quality > 100) {
		return fmt.Errorf("quality %d out of range 1-100", *o.Quality)
	}
	if o.PNGCompression != nil && *o.PNGCompression > 9 {
		return fmt.Errorf("png compression %d out of range 0-9", *o.PNGCompression)
	}
	if r := o.Resize; r != nil {
		if r.Width == 0 && r.Height == 0 {
			return fmt.Errorf("resize needs a width or a height")
		}
		switch r.EffectiveMode() {
		case ResizeStretch, ResizeFit:
		case ResizeFill:
			if r.Width == 0 || r.Height == 0 {
				return fmt.Errorf("resize mode fill needs both width and height")
			}
		default:
			return fmt.Errorf("unknown resize mode %q", r.Mode)
		}
	}
	return nil
}

// PDFPermissions restricts what readers of a produced PDF may do.
type PDFPermissions struct {
	AllowPrinting bool `json:"allowPrinting"`
	AllowCopying  bool `json:"allowCopying"`
	AllowEditing  bool `json:"allowEditing"`
}

// DocumentOptions configures the document converter.
type DocumentOptions struct {
	PDFPermissions *PDFPermissions `json:"pdfPermissions,omitempty"`
	LineWrap       uint32          `json:"lineWrap,omitempty"`
}

func (DocumentOptions) Kind() media.Kind { return media.KindDocument }

func (o DocumentOptions) clone() Options {
	o.PDFPermissions = clonePtr(o.PDFPermissions)
	return o
}

func (o DocumentOptions) validate() error { return nil }

// DefaultFor returns the default options variant for a kind.
func DefaultFor(kind media.Kind) (Options, error) {
	switch kind {
	case media.KindVideo:
		return VideoOptions{}, nil
	case media.KindAudio:
		return AudioOptions{}, nil
	case media.KindImage:
		return ImageOptions{}, nil
	case media.KindDocument:
		return DocumentOptions{}, nil
	default:
		return nil, Wrap(ErrValidation, "default options", fmt.Sprintf("unknown media kind %q", kind), nil)
	}
}

// ResolveOptions returns the task's options as variant T, or T's zero value
// (the kind default) when the task carries none or a different variant.
func ResolveOptions[T Options](task Task) T {
	if opts, ok := task.Options.(T); ok {
		return opts
	}
	var zero T
	return zero
}

type optionsEnvelope struct {
	Type media.Kind      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalOptions encodes options as {"type": kind, "data": {...}}. Nil
// options encode as JSON null.
func MarshalOptions(opts Options) ([]byte, error) {
	if opts == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(optionsEnvelope{Type: opts.Kind(), Data: data})
}

// UnmarshalOptions decodes the envelope written by MarshalOptions.
func UnmarshalOptions(raw []byte) (Options, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var env optionsEnvelope
	err := json.Unmarshal(raw, &env)
	if err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	data := env.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	var opts Options
	switch env.Type {
	case media.KindVideo:
		var v VideoOptions
		err = json.Unmarshal(data, &v)
		opts = v
	case media.KindAudio:
		var v AudioOptions
		err = json.Unmarshal(data, &v)
		opts = v
	case media.KindImage:
		var v ImageOptions
		err = json.Unmarshal(data, &v)
		opts = v
	case media.KindDocument:
		var v DocumentOptions
		err = json.Unmarshal(data, &v)
		opts = v
	default:
		return nil, fmt.Errorf("decode options: unknown type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s options: %w", env.Type, err)
	}
	return opts, nil
}
