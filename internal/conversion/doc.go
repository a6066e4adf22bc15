// Package conversion holds the job data model shared by converters, the
// execution pipeline, and the task manager.
//
// A Task describes one conversion and is immutable once built. Options and
// ProgressDetails are sealed tagged unions with one variant per media kind;
// the tag is always checked against the owning task's kind instead of being
// assumed. ProgressUpdate is the unit of a task's progress stream and carries
// at most one terminal status, always on the last update.
//
// The Converter interface is the per-kind capability the manager dispatches
// to, and Registry is an explicitly constructed set of converters keyed by
// kind. Errors returned across package boundaries wrap the sentinel markers
// in errors.go so callers can classify them with errors.Is.
package conversion
