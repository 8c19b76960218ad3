// Package app wires the poller: config, logging, ranking client, state
// store, notification sink, reconciler, scheduler and the operator HTTP
// server, under one supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"simlog/internal/config"
	"simlog/internal/notifier"
	"simlog/internal/observability"
	"simlog/internal/ranking"
	"simlog/internal/reconcile"
	"simlog/internal/runtime/supervisor"
	"simlog/internal/state"
	"simlog/internal/task/scheduler"
	kit "simlog/internal/transport"
	logx "simlog/pkg/logx"
	"simlog/pkg/metrics"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter
	store   state.Store
	metrics *metrics.Manager
	rec     *reconcile.Reconciler
	runner  *Runner
	obs     *observability.Service
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := newAdapter(cfg, bootLog.With(logx.String("comp", "sink")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	a := &App{cfgm: cfgm, log: log.With(logx.String("comp", "app")), logs: logSvc, adapter: ad}
	if err := a.build(cfg, log); err != nil {
		_ = ad.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	a.metrics = metrics.NewManager(metrics.WithGoCollectors())

	rc, err := mapRankingConfig(cfg)
	if err != nil {
		return err
	}
	client, err := ranking.New(rc, log.With(logx.String("comp", "ranking")))
	if err != nil {
		return err
	}

	sc, err := mapStateConfig(cfg)
	if err != nil {
		return err
	}
	store, err := state.Open(sc, log.With(logx.String("comp", "state")))
	if err != nil {
		return err
	}
	a.store = store

	notif, err := notifier.New(mapNotifierConfig(cfg), a.adapter, log.With(logx.String("comp", "notifier")), a.metrics)
	if err != nil {
		return a.closeStore(err)
	}

	delivery, err := reconcile.ParseDelivery(cfg.Poll.Delivery)
	if err != nil {
		return a.closeStore(err)
	}
	contests, users := mapTracking(cfg)
	a.rec, err = reconcile.New(reconcile.Config{
		Source:   client,
		Store:    store,
		Notifier: notif,
		Delivery: delivery,
		Contests: contests,
		Users:    users,
		Log:      log.With(logx.String("comp", "reconcile")),
		Metrics:  a.metrics,
	})
	if err != nil {
		return a.closeStore(err)
	}

	loc, err := scheduleLocation(cfg)
	if err != nil {
		return a.closeStore(err)
	}
	sched, err := scheduler.New(cfg.ScheduleSpec(), log.With(logx.String("comp", "scheduler")),
		scheduler.WithLocation(loc),
		scheduler.WithStopOn(ranking.IsAuth),
	)
	if err != nil {
		return a.closeStore(fmt.Errorf("poll.schedule: %w", err))
	}

	retry, err := cfg.RetryInterval()
	if err != nil {
		return a.closeStore(err)
	}
	a.runner, err = NewRunner(RunnerConfig{
		API:           client,
		Store:         store,
		Reconciler:    a.rec,
		Scheduler:     sched,
		RetryInterval: retry,
		Log:           log.With(logx.String("comp", "poller")),
	})
	if err != nil {
		return a.closeStore(err)
	}

	oc, err := mapObservabilityConfig(cfg)
	if err != nil {
		return a.closeStore(err)
	}
	a.obs = observability.New(oc, a.metrics.Handler(), a.health, log.With(logx.String("comp", "observability")))

	log.With(logx.String("comp", "app")).Info("configured",
		logx.String("sink", a.adapter.Name()),
		logx.String("state", sc.Path),
		logx.String("schedule", cfg.ScheduleSpec()),
		logx.String("delivery", string(delivery)),
		logx.Ints("contests", contests),
		logx.Int("users", len(users)),
	)
	return nil
}

func (a *App) closeStore(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Trigger requests a poll cycle as soon as the current one settles.
func (a *App) Trigger() { a.runner.Trigger() }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sup.Go("poller", a.runner.Run)

	if cfg := a.cfgm.Get(); cfg != nil && cfg.Observability != nil && cfg.Observability.Enabled {
		a.obs.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// applyConfig applies the live sections of a reloaded config. Changes to
// other sections are only logged.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed in sections that need a restart; keeping running values",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.rec.SetTracking(mapTracking(newCfg))
	if oc, err := mapObservabilityConfig(newCfg); err != nil {
		a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
	} else {
		a.obs.Reconfigure(ctx, oc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health(context.Context) (bool, any) {
	h := a.runner.Health()
	var sup supervisor.Snapshot
	if a.sup != nil {
		sup = a.sup.Snapshot()
	}
	ok := h.Ready && sup.FirstError == ""
	return ok, struct {
		Poller     Health              `json:"poller"`
		Supervisor supervisor.Snapshot `json:"supervisor"`
	}{h, sup}
}

// Run starts the app, blocks until ctx is done or a fatal error occurs, then
// stops it. It returns the fatal error, if any.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-a.Done()

	reason := StopSignal
	err := a.Err()
	if err != nil {
		reason = StopFatalError
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	// The poller persists an interrupted cycle before it returns.
	a.step(ctx, "supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "sink", time.Second, func(context.Context) error { return a.adapter.Close() })
	a.step(ctx, "state", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and by ctx's deadline. A step
// that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
