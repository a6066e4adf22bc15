// Package metrics exposes Prometheus instrumentation for conversion tasks and
// the daemon API.
//
// Metrics is a manager.Recorder. It tracks every registered task's current
// state so the vert_tasks gauge always equals the registry's contents, and
// counts submissions and terminal outcomes per media kind.
package metrics
