// Package notifier forwards delivery failures to an operator chat. It
// subscribes to the event bus and sends a short notice for every failed or
// expired occurrence, deduplicated and rate limited so a broken recipient
// cannot flood the admin.
package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sendbot/internal/eventbus"
	"sendbot/internal/transport"
	"sendbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// AdminChatID is the transport recipient for notices.
	AdminChatID string
	// SuppressWindow silences repeats of the same notice. Default 5m.
	SuppressWindow time.Duration
	// RatePerSec caps outbound notices. Default 1.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.SuppressWindow <= 0 {
		c.SuppressWindow = 5 * time.Minute
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	return c
}

type Service struct {
	log logx.Logger
	tr  transport.Transport
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	cancel  context.CancelFunc
	done    chan struct{}

	// dedup: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, tr transport.Transport, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:     log,
		tr:      tr,
		bus:     bus,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		dedup:   map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	if cfg.RatePerSec != s.cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	events, unsub := s.bus.Subscribe(64)
	go func() {
		defer close(s.done)
		defer unsub()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in notifier loop",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				s.handle(runCtx, e)
			}
		}
	}()
	s.log.Info("notifier started")
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) handle(ctx context.Context, e eventbus.Event) {
	if e.Type != eventbus.MessageFailed && e.Type != eventbus.MessageExpired {
		return
	}
	s.mu.Lock()
	cfg := s.cfg
	limiter := s.limiter
	s.mu.Unlock()
	if !cfg.Enabled || cfg.AdminChatID == "" {
		return
	}

	key := dedupKey(string(e.Type), e.Message.RecipientID, e.Reason)
	if s.suppressed(key, cfg.SuppressWindow) {
		return
	}
	if err := limiter.Wait(ctx); err != nil {
		return
	}

	var text string
	switch e.Type {
	case eventbus.MessageFailed:
		text = fmt.Sprintf("delivery failed\nid: %s\nrecipient: %s\nreason: %s",
			e.Message.ID, e.Message.RecipientID, e.Reason)
	case eventbus.MessageExpired:
		text = fmt.Sprintf("delivery expired\nid: %s\nrecipient: %s\nscheduled: %s",
			e.Message.ID, e.Message.RecipientID, e.Message.ScheduledAt.Format(time.RFC3339))
	}

	if _, err := s.tr.Send(ctx, cfg.AdminChatID, text, nil); err != nil {
		s.log.Warn("operator notice failed", logx.String("id", e.Message.ID), logx.Err(err))
	}
}

// suppressed records key and reports whether an identical notice went out
// inside the window. The cache self-cleans on each miss.
func (s *Service) suppressed(key string, window time.Duration) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return true
	}
	for k, until := range s.dedup {
		if now.After(until) {
			delete(s.dedup, k)
		}
	}
	s.dedup[key] = now.Add(window)
	return false
}

func dedupKey(parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum64())
}
