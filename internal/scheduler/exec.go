package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	logx "sendbot/pkg/logx"

	"sendbot/internal/eventbus"
	"sendbot/internal/message"
)

// arm registers the single timer for a pending record. The near-immediate
// and far-future paths are one code path: a delay at or inside the grace
// window is clamped to zero, so "due now" still goes through identical
// bookkeeping instead of being special-cased or expired.
func (c *Core) arm(m message.ScheduledMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}

	if old, ok := c.jobs[m.ID]; ok {
		_ = old.timer.Stop()
	}

	delay := time.Until(m.ScheduledAt)
	if delay <= c.cfg.GraceWindow {
		delay = 0
	}

	id := m.ID
	ver := c.armSeq.Add(1)
	j := &armedJob{ver: ver}
	j.timer = time.AfterFunc(delay, func() { c.fire(id, ver) })
	c.jobs[id] = j
}

// disarm stops and forgets the timer for id, if any. A callback already past
// the version check cannot be stopped; the status row decides the winner.
func (c *Core) disarm(id string) {
	c.mu.Lock()
	if j, ok := c.jobs[id]; ok {
		_ = j.timer.Stop()
		delete(c.jobs, id)
	}
	c.mu.Unlock()
}

// fire runs on the timer goroutine. It claims the map entry (or detects it
// is stale) and hands off to an independent execution goroutine.
func (c *Core) fire(id string, ver uint64) {
	c.mu.Lock()
	j, ok := c.jobs[id]
	if !ok || j.ver != ver || !c.started {
		// Replaced, canceled, or stopping; a newer arm owns this id now.
		c.mu.Unlock()
		return
	}
	delete(c.jobs, id)
	ctx := c.runCtx
	c.execWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.execWG.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("panic in execution",
					logx.String("id", id),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		c.execute(ctx, id)
	}()
}

// execute performs one delivery attempt. Transport failures never escape:
// they become status=failed on the record, with no retry and no successor.
func (c *Core) execute(ctx context.Context, id string) {
	m, err := c.store.Get(ctx, id)
	if err != nil {
		c.log.Error("execution lookup failed", logx.String("id", id), logx.Err(err))
		return
	}
	if m.Status != message.StatusPending {
		// A cancel's write landed before the timer fired.
		return
	}

	if !c.waitReady(ctx) {
		if ctx.Err() != nil {
			// Shutdown, not a transport fault; the record stays pending and
			// recovers on the next start.
			return
		}
		c.finalize(ctx, m, message.StatusFailed, "transport not ready")
		return
	}

	start := time.Now()
	rcpt, err := c.tr.Send(ctx, m.RecipientID, m.Content, m.Attachments)
	if err != nil {
		if ctx.Err() != nil {
			c.log.Warn("send aborted by shutdown; record stays pending", logx.String("id", m.ID))
			return
		}
		c.log.Warn("send failed",
			logx.String("id", m.ID),
			logx.String("recipient", m.RecipientID),
			logx.Err(err),
		)
		c.finalize(ctx, m, message.StatusFailed, err.Error())
		return
	}

	c.log.Info("message sent",
		logx.String("id", m.ID),
		logx.String("recipient", m.RecipientID),
		logx.String("remote_id", rcpt.RemoteID),
		logx.Duration("took", time.Since(start)),
	)
	c.finalize(ctx, m, message.StatusSent, "")

	if m.Recurrence != message.RecurNone {
		c.scheduleSuccessor(ctx, m)
	}
}

// finalize records a terminal status and publishes the matching event.
// The write runs on a detached context: a send that already happened must be
// recorded even when the run context got canceled mid-flight, or the record
// would stay pending and double-send after a restart.
func (c *Core) finalize(_ context.Context, m message.ScheduledMessage, st message.Status, reason string) {
	uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	updated, err := c.store.UpdateStatus(uctx, m.ID, st)
	if err != nil {
		c.log.Error("status update failed",
			logx.String("id", m.ID),
			logx.String("status", string(st)),
			logx.Err(err),
		)
		updated = m
		updated.Status = st
	}

	var typ eventbus.Type
	switch st {
	case message.StatusSent:
		typ = eventbus.MessageSent
	case message.StatusFailed:
		typ = eventbus.MessageFailed
	case message.StatusExpired:
		typ = eventbus.MessageExpired
	default:
		typ = eventbus.MessageCanceled
	}
	c.bus.Publish(eventbus.Event{Type: typ, Message: updated, Reason: reason})
}

// scheduleSuccessor continues a recurrence chain after a successful send:
// one brand-new pending record, same payload, next occurrence time.
func (c *Core) scheduleSuccessor(_ context.Context, prev message.ScheduledMessage) {
	ictx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := message.ScheduledMessage{
		ID:          uuid.NewString(),
		RecipientID: prev.RecipientID,
		Content:     prev.Content,
		Attachments: prev.Attachments,
		ScheduledAt: message.NextOccurrence(prev.Recurrence, prev.ScheduledAt, time.Now()),
		Recurrence:  prev.Recurrence,
		Status:      message.StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := c.store.Insert(ictx, next); err != nil {
		// The chain halts here; the operator has to re-schedule manually.
		c.log.Error("recurrence insert failed",
			logx.String("prev_id", prev.ID),
			logx.String("recurrence", string(prev.Recurrence)),
			logx.Err(err),
		)
		return
	}

	c.arm(next)
	c.bus.Publish(eventbus.Event{Type: eventbus.MessageScheduled, Message: next})
	c.log.Debug("recurrence continued",
		logx.String("prev_id", prev.ID),
		logx.String("id", next.ID),
		logx.Time("at", next.ScheduledAt),
	)
}

// waitReady polls transport readiness up to cfg.ReadyWait.
func (c *Core) waitReady(ctx context.Context) bool {
	if c.tr.Ready() {
		return true
	}
	c.mu.Lock()
	wait := c.cfg.ReadyWait
	c.mu.Unlock()

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if c.tr.Ready() {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
		}
	}
}
