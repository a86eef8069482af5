package scheduler

import (
	"errors"
	"time"

	"sendbot/internal/message"
)

// Config controls delivery timing policy.
type Config struct {
	// GraceWindow treats "due now or slightly overdue" as immediate rather
	// than expired, absorbing clock and processing skew.
	GraceWindow time.Duration
	// ReadyWait bounds how long an execution waits for the transport to
	// become ready before the occurrence is failed.
	ReadyWait time.Duration
	// DropAfter, when > 0, expires records overdue by more than this at
	// recovery time instead of sending them late. 0 disables dropping.
	DropAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.GraceWindow <= 0 {
		c.GraceWindow = 5 * time.Second
	}
	if c.ReadyWait <= 0 {
		c.ReadyWait = 15 * time.Second
	}
	return c
}

// Request carries the operator-supplied fields for Schedule and Update.
type Request struct {
	RecipientID string
	Content     string
	Attachments []message.Attachment
	// ScheduledAt zero means "now".
	ScheduledAt time.Time
	// Recurrence is normalized; unknown values become "none".
	Recurrence string
}

// ValidationError reports a missing required field. It is returned
// synchronously and nothing is persisted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "invalid scheduled message: missing " + e.Field
}

// ErrNotPending is returned by Update for records already in a terminal state.
var ErrNotPending = errors.New("scheduled message is not pending")

// ErrNotStarted is returned when operations run before Start().
var ErrNotStarted = errors.New("scheduler not started")

// armedJob is one in-memory timer for a pending record.
type armedJob struct {
	ver   uint64
	timer *time.Timer
}
