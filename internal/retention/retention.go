// Package retention prunes terminal message records (sent, failed, canceled,
// expired) older than a configured age. Pending records are never touched.
package retention

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sendbot/internal/storage"
	"sendbot/pkg/logx"
)

const (
	defaultSchedule = "0 4 * * *"
	defaultKeep     = 30 * 24 * time.Hour
)

type Config struct {
	Enabled  bool
	Schedule string
	Keep     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if c.Keep <= 0 {
		c.Keep = defaultKeep
	}
	return c
}

type Service struct {
	log   logx.Logger
	store storage.Store

	mu      sync.Mutex
	cfg     Config
	parser  cron.Parser
	c       *cron.Cron
	running bool
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	return &Service{
		log:   log,
		store: store,
		cfg:   cfg.withDefaults(),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Apply swaps the config. If the service is running and the schedule or
// enabled flag changed, the cron entry is rebuilt.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := cfg.Enabled != s.cfg.Enabled || cfg.Schedule != s.cfg.Schedule
	s.cfg = cfg
	if s.running && changed {
		s.stopCronLocked()
		s.startCronLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.startCronLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("retention stopped")
}

// PruneNow runs one prune pass immediately, regardless of schedule.
func (s *Service) PruneNow(ctx context.Context) (int64, error) {
	s.mu.Lock()
	keep := s.cfg.Keep
	s.mu.Unlock()
	return s.store.PruneTerminalBefore(ctx, time.Now().Add(-keep))
}

func (s *Service) startCronLocked() {
	if !s.cfg.Enabled {
		s.log.Debug("retention disabled")
		return
	}
	c := cron.New(cron.WithParser(s.parser))
	_, err := c.AddFunc(s.cfg.Schedule, s.runOnce)
	if err != nil {
		s.log.Error("invalid retention schedule",
			logx.String("schedule", s.cfg.Schedule),
			logx.Err(err),
		)
		return
	}
	c.Start()
	s.c = c
	s.log.Info("retention started",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("keep", s.cfg.Keep),
	)
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in retention run",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.PruneNow(ctx)
	if err != nil {
		s.log.Error("retention prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("pruned terminal records", logx.Int64("removed", n))
	}
}
