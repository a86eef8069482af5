// Package storage persists scheduled-message records.
//
// Backends: sqlite (durable default) and memory (ephemeral). Both provide
// per-record atomicity only; the scheduler core never needs multi-record
// transactions.
package storage
