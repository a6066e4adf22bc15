// Package journal keeps a durable history of conversion tasks in SQLite.
//
// A Journal implements manager.Recorder: every submission, state change,
// removal, and clear the manager publishes is written to the tasks table.
// Removed tasks keep their row with removed_at set so history survives the
// in-memory registry.
//
// Schema changes bump schemaVersion in schema.go; an existing database with a
// different version is refused with ErrSchemaMismatch and must be deleted.
package journal
