// Package scheduler turns persisted scheduled-message records into executed
// sends, exactly once per occurrence.
//
// One in-memory timer exists per pending record id, held in a private map
// guarded by a single mutex; a per-arm version number makes timer callbacks
// that raced a cancel or update harmless. Executions run on independent
// goroutines, so a slow transport send stalls only its own occurrence.
//
// Recurring records continue as brand-new records: the successor is created
// only after the current occurrence reaches sent, never after a failure.
package scheduler
