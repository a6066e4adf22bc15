// Package manager owns conversion tasks and their running executions.
//
// A Manager keeps every submitted task, an index of tasks by media kind, and
// for each running task the execution handle and the progress channel handed
// to the caller of StartTask. All four structures change together under one
// mutex that is never held across process I/O or channel sends, so callers
// never observe a task that is indexed in one place and missing from another.
//
// Cancellation kills the task's encoder and then waits, for a bounded grace
// period, until the pipeline has shut down and the progress channel is
// closed. A task removed while running is cancelled first.
//
// Recorders observe task lifecycle events in mutation order. They run
// outside the registry lock and must not call back into the Manager.
package manager
