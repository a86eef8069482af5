package storage

import (
	"errors"
	"time"
)

// ErrNotFound marks an id the store has never seen.
// Callers use it to distinguish "doesn't exist" from an I/O fault.
var ErrNotFound = errors.New("scheduled message not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the durable default)
//   - "memory": process-local map; records do not survive a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
