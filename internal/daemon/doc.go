// Package daemon coordinates the long-running vert process.
//
// It wires configuration, the task manager, the journal, and metrics into a
// single lifecycle with flock-based locking to prevent multiple instances.
// Every task the daemon starts has its progress stream consumed by the
// progress hub, which logs sampled progress and republishes updates to
// WebSocket subscribers. The HTTP API (chi) exposes the manager's
// operations, the journal history, and Prometheus metrics.
//
// Keep conversion logic out of this package: the daemon focuses on startup,
// shutdown, and transport.
package daemon
