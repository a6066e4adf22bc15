// Package logging assembles structured slog loggers and formatting helpers used
// across vert.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context helpers so request and task identifiers end up
// on every log line that carries them. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits records with the same shape.
package logging
