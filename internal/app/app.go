package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reposter/internal/commands"
	"reposter/internal/config"
	"reposter/internal/eventbus"
	"reposter/internal/repost"
	rtsup "reposter/internal/runtime/supervisor"
	"reposter/internal/storage"
	"reposter/internal/task/engine"
	"reposter/internal/task/scheduler"
	kit "reposter/internal/transport"
	telegram "reposter/internal/transport/telegram/adapter"
	"reposter/internal/transport/telegram/router"
	logx "reposter/pkg/logx"
)

const dispatchSchedule = "repost.dispatch"

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.SQLStore
	adapter *telegram.Adapter

	svc      *repost.Service
	engine   *engine.Service
	exec     *repost.Executor
	dispatch *repost.Dispatcher
	sched    *scheduler.Service

	cmdm      *router.CommandManager
	registry  []router.Command
	callbacks []router.CallbackRoute

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// The Telegram sink needs the adapter and the adapter needs a logger, so
	// start with the sink disabled and enable it once the adapter exists.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, base := logx.New(bootCfg, nil)
	log := base.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, base.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(ad)
	groupLog, _ := cfg.Telegram.GroupLogChatID()
	logSvc.SetTelegramTarget(groupLog, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, base.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	defaults, err := cfg.Defaults.Resolve()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	exCfg, err := mapExecutorConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	svc := repost.NewService(store, ad, defaults, base.With(logx.String("comp", "repost")))
	eng := engine.New(engCfg, base.With(logx.String("comp", "taskengine")), bus)
	exec := repost.NewExecutor(exCfg, ad, store, svc, eng, bus, base.With(logx.String("comp", "delivery")))
	dispatch := repost.NewDispatcher(store, exec, base.With(logx.String("comp", "dispatch")))
	sched := scheduler.New(mapSchedulerConfig(cfg), base.With(logx.String("comp", "scheduler")))

	tickTimeout, err := config.ParseDurationOrDefault("scheduler.tick_timeout", cfg.Scheduler.TickTimeout, defaultTickTimeout)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := sched.AddCron(dispatchSchedule, cfg.Scheduler.DispatchSpec(), tickTimeout, dispatch.Tick); err != nil {
		_ = store.Close()
		return nil, err
	}

	cmdm := router.NewCommandManager(base.With(logx.String("comp", "commands")), ad, router.Options{
		Owners:  cfg.Telegram.OwnerUserIDs,
		Workers: cfg.Telegram.Workers,
	})
	h := commands.New(svc, commands.WithStatus(eng, sched))
	cmdm.SetFallback(h.OnForward)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		svc:      svc,
		engine:   eng,
		exec:     exec,
		dispatch: dispatch,
		sched:    sched,
		cmdm:     cmdm,
		updates:  make(chan kit.Update, 256),
	}
	a.registry = h.Commands()
	a.callbacks = h.Callbacks()
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.cmdm.SetRegistry(a.registry)
	a.cmdm.SetCallbacks(a.callbacks)

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; scheduled reposts will not be published")
	}

	events, unsub := a.bus.Subscribe(128, "repost.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("storage", a.store.Driver()),
		logx.String("dispatch", a.cfgm.Get().Scheduler.DispatchSpec()),
	)
	return nil
}

// logEvents reports delivery outcomes. Failures go to WARN so they reach the
// operator chat.
func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev, ok := e.Data.(repost.DeliveryEvent)
			if !ok {
				continue
			}
			fields := []logx.Field{
				logx.Int64("job_id", ev.JobID),
				logx.Int64("chat_id", ev.ChatID),
				logx.Int64("destination", ev.Destination),
				logx.Time("publish_at", ev.PublishAt),
				logx.Int("attempts", ev.Attempts),
			}
			switch e.Type {
			case repost.EventFailed, repost.EventUnreachable:
				a.log.Warn(e.Type, append(fields, logx.String("kind", ev.Kind), logx.String("err", ev.Error))...)
			default:
				a.log.Debug(e.Type, fields...)
			}
		}
	}
}

// applyConfig applies a validated config. Sections that need a restart are
// only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("keys", strings.Join(restart, ",")))
	}

	groupLog, _ := next.Telegram.GroupLogChatID()
	a.logs.SetTelegramTarget(groupLog, next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

	if d, err := next.Defaults.Resolve(); err == nil {
		a.svc.SetDefaults(d)
	}
	if ec, err := mapEngineConfig(next); err == nil {
		a.engine.Apply(ec)
	}
	if xc, err := mapExecutorConfig(next); err == nil {
		a.exec.SetPolicy(xc)
	}

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(next))
	if next.Scheduler.DispatchSpec() != prev.Scheduler.DispatchSpec() || next.Scheduler.TickTimeout != prev.Scheduler.TickTimeout {
		tickTimeout, _ := config.ParseDurationOrDefault("scheduler.tick_timeout", next.Scheduler.TickTimeout, defaultTickTimeout)
		if err := a.sched.AddCron(dispatchSchedule, next.Scheduler.DispatchSpec(), tickTimeout, a.dispatch.Tick); err != nil {
			a.log.Warn("dispatch schedule not updated", logx.Err(err))
		}
	}
	switch {
	case wasEnabled && !next.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && next.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Order: stop triggering, let in-flight deliveries finish, then close transport and storage.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit and the caller's deadline.
// A step that overruns is logged and left running.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
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
