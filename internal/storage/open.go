package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "sendbot/pkg/logx"

	"sendbot/internal/message"
)

// Store is the persistence API the scheduler core depends on.
//
// Guarantees are per-record only: each call is atomic for the record it
// touches, and Update/UpdateStatus report ErrNotFound for unknown ids.
type Store interface {
	// Insert persists a new record under its (caller-assigned) id.
	Insert(ctx context.Context, m message.ScheduledMessage) error
	// Update replaces the whole record snapshot for m.ID.
	Update(ctx context.Context, m message.ScheduledMessage) (message.ScheduledMessage, error)
	// UpdateStatus mutates only the status field.
	UpdateStatus(ctx context.Context, id string, st message.Status) (message.ScheduledMessage, error)
	Get(ctx context.Context, id string) (message.ScheduledMessage, error)
	ListAll(ctx context.Context) ([]message.ScheduledMessage, error)
	ListByStatus(ctx context.Context, st message.Status) ([]message.ScheduledMessage, error)
	// PruneTerminalBefore deletes terminal records created before cutoff and
	// returns how many were removed. Pending records are never touched.
	PruneTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
