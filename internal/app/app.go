// Package app wires config, logging, storage, transport, the scheduler core
// and retention together, and owns startup/shutdown ordering.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sendbot/internal/config"
	"sendbot/internal/eventbus"
	"sendbot/internal/notifier"
	"sendbot/internal/retention"
	"sendbot/internal/scheduler"
	"sendbot/internal/storage"
	"sendbot/internal/transport"
	"sendbot/internal/transport/telegram"
	"sendbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	store   storage.Store
	adapter transport.Transport
	core    *scheduler.Core
	ret     *retention.Service
	notif   *notifier.Service

	runCancel context.CancelFunc
	done      chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	ad, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	bus := eventbus.New()

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	core := scheduler.New(schedCfg, store, ad, bus, log.With(logx.String("comp", "scheduler")))

	retCfg, err := mapRetentionConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ret := retention.New(retCfg, store, log.With(logx.String("comp", "retention")))

	notifCfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(notifCfg, ad, bus, log.With(logx.String("comp", "notifier")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		core:    core,
		ret:     ret,
		notif:   notif,
	}, nil
}

// Core exposes the scheduling API to callers embedding the app.
func (a *App) Core() *scheduler.Core { return a.core }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.done = make(chan struct{})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRetentionConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	// Bus subscribers attach before recovery: core.Start publishes events
	// itself (expired drops, immediate overdue sends) and the bus has no
	// replay, so a late subscriber would silently miss them.
	// The notifier loop runs regardless of the enabled flag so enabling it
	// via hot reload takes effect without a restart.
	a.notif.Start(runCtx)

	// Debug tap on the event bus; components subscribe themselves if they care.
	events, unsub := a.bus.Subscribe(128)
	go func() {
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event",
					logx.String("type", string(e.Type)),
					logx.String("id", e.Message.ID),
				)
			}
		}
	}()

	// Recovery happens inside Start: every pending record gets its timer back.
	if err := a.core.Start(runCtx); err != nil {
		cancel()
		close(a.done)
		return err
	}
	a.ret.Start(runCtx)

	go a.reloadLoop(runCtx)
	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// reloadLoop applies hot config changes: logging always, scheduler and
// retention live, storage only with a warning (restart required).
func (a *App) reloadLoop(ctx context.Context) {
	defer close(a.done)
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			for _, s := range sections {
				if s == "storage" {
					a.log.Warn("storage config changed; restart required for changes to take effect")
				}
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			// Validator already vetted these; parse errors here mean a bug.
			if sc, err := mapSchedulerConfig(newCfg); err == nil {
				a.core.Apply(sc)
			}
			if rc, err := mapRetentionConfig(newCfg); err == nil {
				a.ret.Apply(rc)
			}
			if nc, err := mapNotifierConfig(newCfg); err == nil {
				a.notif.Apply(nc)
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.runCancel != nil {
		a.runCancel()
	}

	// Bound each component so one stall cannot block the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		fn(stepCtx)
		a.log.Debug("stop step done",
			logx.String("name", name),
			logx.Duration("took", time.Since(start)),
		)
	}

	step("scheduler", 5*time.Second, func(c context.Context) { a.core.Stop(c) })
	step("notifier", 2*time.Second, func(c context.Context) { a.notif.Stop(c) })
	step("retention", 2*time.Second, func(c context.Context) { a.ret.Stop(c) })
	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	grace, err := config.ParseDurationOrDefault("scheduler.grace_window", cfg.Scheduler.GraceWindow, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	readyWait, err := config.ParseDurationOrDefault("scheduler.ready_wait", cfg.Scheduler.ReadyWait, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	dropAfter, err := config.ParseDurationOrDefault("scheduler.drop_after", cfg.Scheduler.DropAfter, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		GraceWindow: grace,
		ReadyWait:   readyWait,
		DropAfter:   dropAfter,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	suppress, err := config.ParseDurationOrDefault("notifier.suppress_window", cfg.Notifier.SuppressWindow, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:        cfg.Notifier.Enabled,
		AdminChatID:    cfg.Notifier.AdminChatID,
		SuppressWindow: suppress,
		RatePerSec:     cfg.Notifier.RatePerSec,
	}, nil
}

func mapRetentionConfig(cfg *config.Config) (retention.Config, error) {
	keep, err := config.ParseDurationOrDefault("retention.keep", cfg.Retention.Keep, 0)
	if err != nil {
		return retention.Config{}, err
	}
	return retention.Config{
		Enabled:  cfg.Retention.Enabled,
		Schedule: cfg.Retention.Schedule,
		Keep:     keep,
	}, nil
}
