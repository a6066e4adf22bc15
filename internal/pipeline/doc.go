// Package pipeline runs one external encoder process and turns its output
// into a task's progress stream.
//
// Start spawns the process and three goroutines that share one bounded
// channel: a stdout reader that folds progress records and throttles them,
// a stderr reader that relays every diagnostic line, and an exit waiter that
// sends the single terminal update once both readers have drained. The
// channel closes after all three return, so the terminal update is always
// the last value a consumer sees.
//
// A Finish step, when configured, runs between a successful exit and the
// terminal update; converters use it for post-processing such as applying
// PDF permissions.
//
// Cancelling the context kills the encoder's whole process group. Readers
// stop forwarding once the context is done but keep draining their pipe so
// the process can exit, and the exit waiter then reports the task as
// cancelled.
package pipeline
