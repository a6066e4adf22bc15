package conversion

import (
	"fmt"

	"vert/internal/media"
)

// Registry holds at most one converter per media kind.
type Registry struct {
	byKind map[media.Kind]Converter
}

// NewRegistry builds a registry from converters, rejecting two converters
// for the same kind.
func NewRegistry(converters ...Converter) (*Registry, error) {
	r := &Registry{byKind: make(map[media.Kind]Converter, len(converters))}
	for _, c := range converters {
		if c == nil {
			continue
		}
		kind := c.MediaKind()
		if !kind.Valid() {
			return nil, fmt.Errorf("converter %s: unknown media kind %q", c.Name(), kind)
		}
		if existing, ok := r.byKind[kind]; ok {
			return nil, fmt.Errorf("converters %s and %s both handle %s", existing.Name(), c.Name(), kind)
		}
		r.byKind[kind] = c
	}
	return r, nil
}

// ForKind returns the converter registered for kind.
func (r *Registry) ForKind(kind media.Kind) (Converter, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.byKind[kind]
	return c, ok
}

// Converters returns the registered converters in media.Kinds order.
func (r *Registry) Converters() []Converter {
	if r == nil {
		return nil
	}
	out := make([]Converter, 0, len(r.byKind))
	for _, kind := range media.Kinds() {
		if c, ok := r.byKind[kind]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Route lists the outputs reachable from one input format.
type Route struct {
	Input   media.Format   `json:"input"`
	Outputs []media.Format `json:"outputs"`
}

// Capability describes what one registered converter can do.
type Capability struct {
	Kind      media.Kind `json:"kind"`
	Converter string     `json:"converter"`
	Routes    []Route    `json:"routes"`
}

// Capabilities returns the conversion routes of every registered converter,
// in media.Kinds order.
func (r *Registry) Capabilities() []Capability {
	converters := r.Converters()
	out := make([]Capability, 0, len(converters))
	for _, c := range converters {
		capability := Capability{Kind: c.MediaKind(), Converter: c.Name()}
		for _, input := range c.SupportedInputFormats() {
			capability.Routes = append(capability.Routes, Route{
				Input:   input,
				Outputs: c.SupportedOutputFormats(input),
			})
		}
		out = append(out, capability)
	}
	return out
}
