package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"sendbot/internal/message"
	"sendbot/internal/storage"
	"sendbot/pkg/logx"
)

func TestPruneNow(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ctx := context.Background()

	old := message.ScheduledMessage{
		ID:          "old",
		RecipientID: "1",
		Content:     "x",
		Status:      message.StatusSent,
		ScheduledAt: time.Now().Add(-40 * 24 * time.Hour),
		CreatedAt:   time.Now().Add(-40 * 24 * time.Hour),
	}
	pending := old
	pending.ID = "pending"
	pending.Status = message.StatusPending
	if err := st.Insert(ctx, old); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.Insert(ctx, pending); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	s := New(Config{Enabled: true, Keep: 30 * 24 * time.Hour}, st, logx.Nop())
	n, err := s.PruneNow(ctx)
	if err != nil {
		t.Fatalf("PruneNow: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if _, err := st.Get(ctx, "old"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("old terminal record should be gone")
	}
	if _, err := st.Get(ctx, "pending"); err != nil {
		t.Fatalf("pending record pruned: %v", err)
	}
}

func TestDisabledServiceStartsNoCron(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, storage.NewMemory(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)
	if s.c != nil {
		t.Fatal("disabled service must not run a cron")
	}

	// Enabling via Apply while running spins the cron up.
	s.Apply(Config{Enabled: true, Schedule: "0 4 * * *", Keep: time.Hour})
	if s.c == nil {
		t.Fatal("enable via Apply did not start the cron")
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	got := Config{}.withDefaults()
	if got.Schedule != defaultSchedule || got.Keep != defaultKeep {
		t.Fatalf("defaults = %+v", got)
	}
}
