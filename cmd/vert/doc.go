// Package main hosts the vert CLI entrypoint and command graph.
//
// The Cobra command tree covers one-shot conversions run in-process
// (convert), catalog and readiness reports (formats, check), the long-running
// daemon (serve), task history from the journal (history), and configuration
// scaffolding (config). Configuration resolution and logger setup live in
// commandContext so subcommands only deal with their own flags.
package main
