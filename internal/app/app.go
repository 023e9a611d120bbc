// Package app is the composition root: it builds every service from the
// file config, runs the main tick loop, and fans hot-reloaded config out to
// the running components.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"notisched/internal/breaker"
	"notisched/internal/config"
	"notisched/internal/eventbus"
	"notisched/internal/kit"
	"notisched/internal/metrics"
	"notisched/internal/platform"
	"notisched/internal/runloop"
	"notisched/internal/runtime/supervisor"
	"notisched/internal/scheduler"
	"notisched/internal/store"
	"notisched/pkg/logx"
)

// StopReason labels why the app is shutting down, for the final log line.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "SIGINT"
	StopSIGTERM    StopReason = "SIGTERM"
	StopFatalError StopReason = "fatal_error"
)

const tickInterval = 50 * time.Millisecond

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.Aggregator
	loop *runloop.Queue
	br   *breaker.Breaker
	met  *metrics.Service

	st    store.Store
	ctrl  *store.Controller
	notif platform.Notifier
	local *platform.Local // nil when delivery is "null"
	sched *scheduler.Service

	// metrics export settings, refreshed on config reload.
	metMu           sync.Mutex
	metricsPath     string
	metricsInterval time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	met := metrics.New(log.With(logx.String("comp", "metrics")))
	ctr := met.Counters()

	queueCfg, err := mapQueueConfig(cfg.Queue)
	if err != nil {
		return nil, err
	}
	loop := runloop.NewQueue(queueCfg, log.With(logx.String("comp", "runloop")))

	brCfg, err := mapBreakerConfig(cfg.Breaker)
	if err != nil {
		return nil, err
	}
	br := breaker.New(brCfg, log.With(logx.String("comp", "breaker")))

	bus := eventbus.New(log.With(logx.String("comp", "events")))

	notif, local, err := buildNotifier(cfg, bus, loop, log)
	if err != nil {
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, scheduler.Deps{
		Notifier: notif,
		Breaker:  br,
		Bus:      bus,
		Loop:     loop,
		Counters: ctr,
	}, log.With(logx.String("comp", "scheduler")))

	// Persistence (optional)
	var st store.Store
	if sc, enabled, err := mapStoreConfig(cfg.Persistence); err != nil {
		return nil, err
	} else if enabled {
		st, err = store.Open(sc, log.With(logx.String("comp", "store")))
		if err != nil {
			return nil, err
		}
		log.Info("persistence enabled", logx.String("driver", sc.Driver))
	}
	ctrlCfg, err := mapControllerConfig(cfg.Persistence)
	if err != nil {
		return nil, err
	}
	ctrl := store.NewController(ctrlCfg, st, br, ctr, sched.Record, log.With(logx.String("comp", "store")))
	sched.SetController(ctrl)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		loop:    loop,
		br:      br,
		met:     met,
		st:      st,
		ctrl:    ctrl,
		notif:   notif,
		local:   local,
		sched:   sched,
	}
	a.applyMetricsConfig(cfg.Metrics)
	return a, nil
}

func buildNotifier(cfg *config.Config, bus *eventbus.Aggregator, loop *runloop.Queue, log logx.Logger) (platform.Notifier, *platform.Local, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Delivery.Notifier), "null") {
		return platform.NewNull(cfg.Delivery.MaxPending), nil, nil
	}

	var tg platform.TelegramConfig
	if t := cfg.Delivery.Telegram; t != nil {
		sendTimeout, err := config.ParseDurationField("delivery.telegram.send_timeout", t.SendTimeout)
		if err != nil {
			return nil, nil, err
		}
		tg = platform.TelegramConfig{
			Token:       t.Token,
			ChatID:      t.ChatID,
			ThreadID:    t.ThreadID,
			RatePerSec:  t.RatePerSec,
			SendTimeout: sendTimeout,
		}
	}
	sender, err := platform.SenderFromName(cfg.Delivery.Sender, tg, log.With(logx.String("comp", "sender")))
	if err != nil {
		return nil, nil, err
	}
	local := platform.NewLocal(platform.LocalConfig{
		MaxPending:     cfg.Delivery.MaxPending,
		DefaultChannel: cfg.Scheduler.DefaultChannel,
	}, sender, bus, loop, log.With(logx.String("comp", "delivery")))
	return local, local, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Done is closed when the supervisor context is cancelled (fatal error or
// Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Restore the tracked set before any scheduling activity.
	if rec, ok, err := a.ctrl.Load(a.sup.Context()); err != nil {
		a.log.Warn("persisted state unusable; starting empty", logx.Err(err))
	} else if ok {
		a.sched.Restore(rec)
	}

	// Delivered one-shots leave the tracked set; repeating entries stay.
	a.bus.Subscribe("scheduler.retire", func(e *eventbus.Event) {
		if e.Type != eventbus.TypeDelivered {
			return
		}
		if rp, ok := e.Data.(kit.RepeatPolicy); ok && rp == kit.RepeatNone {
			a.sched.Retire(e.Identifier)
		}
	})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sup.Go0("tick", a.tickLoop)
	a.sup.Go0("config.reload", a.reloadLoop)
	// The watcher is restart-supervised: a broken fsnotify setup (editor
	// swap, deleted parent dir) comes back with backoff instead of killing
	// the process.
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// tickLoop is the single driver for queue draining, breaker cooldown,
// persistence debounce, metrics folding, and registry cleanup. All periodic
// work happens here so components never need their own timers.
func (a *App) tickLoop(ctx context.Context) {
	tk := time.NewTicker(tickInterval)
	defer tk.Stop()

	var lastFold, lastCleanup, lastExport time.Time
	const cleanupEvery = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tk.C:
			a.loop.Drain(0, 0)
			a.br.Tick(now)
			a.ctrl.Tick(ctx, now)

			if now.Sub(lastFold) >= metrics.DefaultFoldInterval {
				lastFold = now
				busHits, busMisses := a.bus.PoolStats()
				reqHits, reqMisses := a.sched.PoolStats()
				a.met.Fold(now, metrics.Extra{
					PoolHits:    busHits + reqHits,
					PoolMisses:  busMisses + reqMisses,
					QueueDrops:  a.loop.Dropped(),
					QueuePanics: a.loop.Panicked(),
					QueueLen:    a.loop.Len(),
					Registry:    a.sched.Count(),
				})

				a.metMu.Lock()
				path, interval := a.metricsPath, a.metricsInterval
				a.metMu.Unlock()
				if path != "" && now.Sub(lastExport) >= interval {
					lastExport = now
					if err := a.met.WriteFile(path); err != nil {
						a.log.Warn("metrics export failed", logx.String("path", path), logx.Err(err))
					}
				}
			}

			if now.Sub(lastCleanup) >= cleanupEvery {
				lastCleanup = now
				a.sched.CleanupTick(now)
			}
		}
	}
}

// reloadLoop applies hot config changes published by the manager's watcher.
func (a *App) reloadLoop(ctx context.Context) {
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
			// Coalesce bursts: keep only the latest config.
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

			a.applyReload(newCfg, sections)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config applied", fields...)
		}
	}
}

func (a *App) applyReload(cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(cfg.Logging))
		case "queue":
			if qc, err := mapQueueConfig(cfg.Queue); err == nil {
				a.loop.Apply(qc)
			}
		case "breaker":
			if bc, err := mapBreakerConfig(cfg.Breaker); err == nil {
				a.br.Apply(bc)
			}
		case "scheduler":
			if sc, err := mapSchedulerConfig(cfg.Scheduler); err == nil {
				a.sched.Apply(sc)
			}
		case "persistence":
			// Debounce and retry settings apply live; the driver does not.
			if cc, err := mapControllerConfig(cfg.Persistence); err == nil {
				a.ctrl.Apply(cc)
			}
			a.log.Warn("persistence driver changes require a restart")
		case "delivery":
			a.log.Warn("delivery changes require a restart")
		case "metrics":
			a.applyMetricsConfig(cfg.Metrics)
		}
	}
}

// applyMetricsConfig refreshes the export target read by the tick loop.
func (a *App) applyMetricsConfig(c *config.MetricsConfig) {
	path := ""
	interval := metrics.DefaultFoldInterval
	if c != nil && c.Enabled {
		path = c.Path
		if d, err := config.ParseDurationOrDefault("metrics.interval", c.Interval, metrics.DefaultFoldInterval); err == nil {
			interval = d
		}
	}
	a.metMu.Lock()
	a.metricsPath = path
	a.metricsInterval = interval
	a.metMu.Unlock()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	// Scheduler first: it performs the final state flush.
	step("scheduler", 2*time.Second, func(c context.Context) error {
		a.sched.Stop(c)
		return nil
	})
	step("delivery", time.Second, func(context.Context) error {
		if a.local != nil {
			a.local.Stop()
		}
		return nil
	})
	// Run any actions the loop still holds (events, pending futures resolve
	// or time out on their own).
	step("runloop", time.Second, func(context.Context) error {
		a.loop.Drain(0, 0)
		return nil
	})
	step("store", time.Second, func(context.Context) error {
		if a.st != nil {
			return a.st.Close()
		}
		return nil
	})
	// Stop re-cancels (idempotent) and waits out the supervised goroutines.
	step("supervisor", 2*time.Second, a.sup.Stop)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
