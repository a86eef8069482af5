package message

import (
	"strings"
	"time"
)

// Status is the delivery state of a single occurrence.
//
// pending is the only non-terminal state. A record never re-enters pending;
// a recurring send continues as a brand-new record with a new ID.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Recurrence describes how a send repeats.
type Recurrence string

const (
	RecurNone    Recurrence = "none"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
)

// ParseRecurrence normalizes raw input. Unknown values map to RecurNone
// rather than failing; operators frequently omit or typo this field.
func ParseRecurrence(raw string) Recurrence {
	switch Recurrence(strings.ToLower(strings.TrimSpace(raw))) {
	case RecurDaily:
		return RecurDaily
	case RecurWeekly:
		return RecurWeekly
	case RecurMonthly:
		return RecurMonthly
	default:
		return RecurNone
	}
}

// Attachment is an opaque media reference handed through to the transport.
type Attachment struct {
	Kind    string `json:"kind"` // "photo", "document", ... (transport-defined)
	URI     string `json:"uri"`
	Caption string `json:"caption,omitempty"`
}

// ScheduledMessage is one occurrence: content bound to a recipient and an
// absolute delivery time. Content is an opaque payload; the core never
// interprets it.
type ScheduledMessage struct {
	ID          string       `json:"id"`
	RecipientID string       `json:"recipient_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	Recurrence  Recurrence   `json:"recurrence"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}
