package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "sendbot/pkg/logx"

	"sendbot/internal/eventbus"
	"sendbot/internal/message"
)

// Schedule validates and persists a new pending record, then arms it.
// A missing ScheduledAt defaults to "now", which takes the immediate path.
func (c *Core) Schedule(ctx context.Context, req Request) (message.ScheduledMessage, error) {
	if err := c.requireStarted(); err != nil {
		return message.ScheduledMessage{}, err
	}
	if strings.TrimSpace(req.RecipientID) == "" {
		return message.ScheduledMessage{}, &ValidationError{Field: "recipient"}
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		return message.ScheduledMessage{}, &ValidationError{Field: "content"}
	}

	now := time.Now()
	at := req.ScheduledAt
	if at.IsZero() {
		at = now
	}
	m := message.ScheduledMessage{
		ID:          uuid.NewString(),
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Attachments: req.Attachments,
		ScheduledAt: at,
		Recurrence:  message.ParseRecurrence(req.Recurrence),
		Status:      message.StatusPending,
		CreatedAt:   now,
	}
	if err := c.store.Insert(ctx, m); err != nil {
		return message.ScheduledMessage{}, err
	}

	c.arm(m)
	c.bus.Publish(eventbus.Event{Type: eventbus.MessageScheduled, Message: m})
	c.log.Debug("message scheduled",
		logx.String("id", m.ID),
		logx.String("recipient", m.RecipientID),
		logx.Time("at", m.ScheduledAt),
		logx.String("recurrence", string(m.Recurrence)),
	)
	return m, nil
}

// Update replaces the content/time/recurrence of a record that is still
// pending, resetting it to a fresh pending snapshot and re-arming exactly
// one timer for the new time.
func (c *Core) Update(ctx context.Context, id string, req Request) (message.ScheduledMessage, error) {
	if err := c.requireStarted(); err != nil {
		return message.ScheduledMessage{}, err
	}
	if strings.TrimSpace(req.RecipientID) == "" {
		return message.ScheduledMessage{}, &ValidationError{Field: "recipient"}
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		return message.ScheduledMessage{}, &ValidationError{Field: "content"}
	}

	cur, err := c.store.Get(ctx, id)
	if err != nil {
		return message.ScheduledMessage{}, err
	}
	if cur.Status != message.StatusPending {
		return message.ScheduledMessage{}, ErrNotPending
	}

	c.disarm(id)

	at := req.ScheduledAt
	if at.IsZero() {
		at = time.Now()
	}
	next := message.ScheduledMessage{
		ID:          id,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Attachments: req.Attachments,
		ScheduledAt: at,
		Recurrence:  message.ParseRecurrence(req.Recurrence),
		Status:      message.StatusPending,
		CreatedAt:   cur.CreatedAt,
	}
	updated, err := c.store.Update(ctx, next)
	if err != nil {
		// The write failed, so the previous snapshot is still authoritative.
		// Restore its timer; otherwise the record sits pending with nothing
		// armed until the next restart.
		c.arm(cur)
		return message.ScheduledMessage{}, err
	}

	c.arm(updated)
	c.bus.Publish(eventbus.Event{Type: eventbus.MessageScheduled, Message: updated})
	c.log.Debug("message rescheduled", logx.String("id", id), logx.Time("at", updated.ScheduledAt))
	return updated, nil
}

// Cancel disarms and marks a pending record canceled. Canceling a record
// already in a terminal state is a no-op returning the existing record, so
// repeated cancels never error.
func (c *Core) Cancel(ctx context.Context, id string) (message.ScheduledMessage, error) {
	if err := c.requireStarted(); err != nil {
		return message.ScheduledMessage{}, err
	}
	cur, err := c.store.Get(ctx, id)
	if err != nil {
		return message.ScheduledMessage{}, err
	}
	if cur.Status.Terminal() {
		return cur, nil
	}

	c.disarm(id)

	updated, err := c.store.UpdateStatus(ctx, id, message.StatusCanceled)
	if err != nil {
		// Cancel did not land; the record is still pending, so it keeps
		// its timer.
		c.arm(cur)
		return message.ScheduledMessage{}, err
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.MessageCanceled, Message: updated})
	c.log.Debug("message canceled", logx.String("id", id))
	return updated, nil
}

// List returns every record the store holds, pending and terminal alike.
func (c *Core) List(ctx context.Context) ([]message.ScheduledMessage, error) {
	return c.store.ListAll(ctx)
}

func (c *Core) requireStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotStarted
	}
	return nil
}
