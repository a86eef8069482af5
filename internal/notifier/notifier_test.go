package notifier

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"sendbot/internal/eventbus"
	"sendbot/internal/message"
	"sendbot/internal/scheduler"
	"sendbot/internal/storage"
	"sendbot/internal/transport"
	"sendbot/pkg/logx"
)

type recordingTransport struct {
	mu    sync.Mutex
	sends []string
}

func (r *recordingTransport) Ready() bool { return true }

func (r *recordingTransport) Send(_ context.Context, recipientID, content string, _ []message.Attachment) (transport.DeliveryReceipt, error) {
	r.mu.Lock()
	r.sends = append(r.sends, recipientID+"|"+content)
	r.mu.Unlock()
	return transport.DeliveryReceipt{Delivered: time.Now()}, nil
}

func (r *recordingTransport) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sends...)
}

func waitSends(t *testing.T, tr *recordingTransport, want int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := tr.snapshot()
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("sends = %d, want %d", len(got), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifiesOnFailure(t *testing.T) {
	t.Parallel()
	tr := &recordingTransport{}
	bus := eventbus.New()
	s := New(Config{Enabled: true, AdminChatID: "admin", RatePerSec: 100}, tr, bus, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	bus.Publish(eventbus.Event{
		Type:    eventbus.MessageFailed,
		Message: message.ScheduledMessage{ID: "m1", RecipientID: "42"},
		Reason:  "chat not found",
	})

	sends := waitSends(t, tr, 1)
	if !strings.HasPrefix(sends[0], "admin|") || !strings.Contains(sends[0], "chat not found") {
		t.Fatalf("unexpected notice: %q", sends[0])
	}
}

func TestSuppressesRepeats(t *testing.T) {
	t.Parallel()
	tr := &recordingTransport{}
	bus := eventbus.New()
	s := New(Config{
		Enabled:        true,
		AdminChatID:    "admin",
		SuppressWindow: time.Hour,
		RatePerSec:     100,
	}, tr, bus, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	e := eventbus.Event{
		Type:    eventbus.MessageFailed,
		Message: message.ScheduledMessage{ID: "m1", RecipientID: "42"},
		Reason:  "blocked",
	}
	bus.Publish(e)
	waitSends(t, tr, 1)
	bus.Publish(e)
	bus.Publish(e)

	time.Sleep(100 * time.Millisecond)
	if got := len(tr.snapshot()); got != 1 {
		t.Fatalf("sends = %d, want 1 (repeats suppressed)", got)
	}

	// A different reason is a different notice.
	e.Reason = "rate limited upstream"
	bus.Publish(e)
	waitSends(t, tr, 2)
}

func TestIgnoresNonFailureEvents(t *testing.T) {
	t.Parallel()
	tr := &recordingTransport{}
	bus := eventbus.New()
	s := New(Config{Enabled: true, AdminChatID: "admin", RatePerSec: 100}, tr, bus, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	bus.Publish(eventbus.Event{Type: eventbus.MessageSent, Message: message.ScheduledMessage{ID: "m1"}})
	bus.Publish(eventbus.Event{Type: eventbus.MessageScheduled, Message: message.ScheduledMessage{ID: "m2"}})

	time.Sleep(100 * time.Millisecond)
	if got := len(tr.snapshot()); got != 0 {
		t.Fatalf("sends = %d, want 0", got)
	}
}

// Recovery publishes events itself (drop_after expiry happens nowhere else),
// so the notifier must be subscribed before the core starts. This wires the
// two in the composition root's order and asserts the notice arrives.
func TestObservesRecoveryExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	err := st.Insert(ctx, message.ScheduledMessage{
		ID:          "stale",
		RecipientID: "42",
		Content:     "x",
		ScheduledAt: time.Now().Add(-48 * time.Hour),
		Status:      message.StatusPending,
		CreatedAt:   time.Now().Add(-49 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	tr := &recordingTransport{}
	bus := eventbus.New()
	s := New(Config{Enabled: true, AdminChatID: "admin", RatePerSec: 100}, tr, bus, logx.Nop())
	s.Start(ctx)
	defer s.Stop(ctx)

	core := scheduler.New(scheduler.Config{DropAfter: 24 * time.Hour}, st, tr, bus, logx.Nop())
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer core.Stop(ctx)

	sends := waitSends(t, tr, 1)
	if !strings.HasPrefix(sends[0], "admin|") || !strings.Contains(sends[0], "expired") {
		t.Fatalf("unexpected notice: %q", sends[0])
	}
}

func TestDisabledSendsNothing(t *testing.T) {
	t.Parallel()
	tr := &recordingTransport{}
	bus := eventbus.New()
	s := New(Config{Enabled: false, AdminChatID: "admin"}, tr, bus, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	bus.Publish(eventbus.Event{
		Type:    eventbus.MessageFailed,
		Message: message.ScheduledMessage{ID: "m1", RecipientID: "42"},
		Reason:  "x",
	})
	time.Sleep(100 * time.Millisecond)
	if got := len(tr.snapshot()); got != 0 {
		t.Fatalf("sends = %d, want 0", got)
	}
}
