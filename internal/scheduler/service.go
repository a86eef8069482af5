package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logx "sendbot/pkg/logx"

	"sendbot/internal/eventbus"
	"sendbot/internal/message"
	"sendbot/internal/storage"
	"sendbot/internal/transport"
)

// Core owns the pending-jobs map and drives every status transition.
type Core struct {
	log   logx.Logger
	store storage.Store
	tr    transport.Transport
	bus   eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	jobs    map[string]*armedJob
	armSeq  atomic.Uint64
	started bool

	runCtx    context.Context
	runCancel context.CancelFunc
	execWG    sync.WaitGroup
}

func New(cfg Config, store storage.Store, tr transport.Transport, bus eventbus.Bus, log logx.Logger) *Core {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Core{
		log:   log,
		store: store,
		tr:    tr,
		bus:   bus,
		cfg:   cfg.withDefaults(),
		jobs:  map[string]*armedJob{},
	}
}

// Bus exposes the lifecycle event stream.
func (c *Core) Bus() eventbus.Bus { return c.bus }

// Apply updates timing policy at runtime.
func (c *Core) Apply(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg.withDefaults()
	c.mu.Unlock()
}

// ArmedCount reports how many in-memory timers currently exist.
func (c *Core) ArmedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Start performs recovery and makes the core operational: every record still
// pending in the store gets armed exactly once, applying the same due-now
// versus future branch as Schedule. A restart therefore never loses
// scheduled work; overdue sends execute late rather than being dropped
// (unless DropAfter says otherwise).
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	dropAfter := c.cfg.DropAfter
	grace := c.cfg.GraceWindow
	c.mu.Unlock()

	pending, err := c.store.ListByStatus(ctx, message.StatusPending)
	if err != nil {
		return err
	}

	now := time.Now()
	armed, expired := 0, 0
	for _, m := range pending {
		if dropAfter > 0 && now.Sub(m.ScheduledAt) > dropAfter {
			c.finalize(ctx, m, message.StatusExpired, "overdue past drop_after at recovery")
			expired++
			continue
		}
		c.arm(m)
		armed++
	}

	c.log.Info("scheduler started",
		logx.Int("recovered", armed),
		logx.Int("expired", expired),
		logx.Duration("grace_window", grace),
	)
	return nil
}

// Stop disarms all timers (store state is untouched, so the records recover
// on the next Start) and waits for in-flight executions, bounded by ctx.
func (c *Core) Stop(ctx context.Context) {
	start := time.Now()
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	for _, j := range c.jobs {
		_ = j.timer.Stop()
	}
	c.jobs = map[string]*armedJob{}
	cancel := c.runCancel
	c.runCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.execWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		c.log.Warn("scheduler stop timed out; executions continue in background")
	}
}
