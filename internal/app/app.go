package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkinbot/internal/bot"
	"checkinbot/internal/clock"
	"checkinbot/internal/compliance"
	"checkinbot/internal/config"
	"checkinbot/internal/escalation"
	"checkinbot/internal/eventbus"
	"checkinbot/internal/eventsink"
	"checkinbot/internal/jobs"
	"checkinbot/internal/metrics"
	"checkinbot/internal/notifier"
	"checkinbot/internal/observability/httpserver"
	rtsup "checkinbot/internal/runtime/supervisor"
	"checkinbot/internal/storage"
	"checkinbot/internal/task/engine"
	"checkinbot/internal/task/scheduler"
	kit "checkinbot/internal/transport"
	telegram "checkinbot/internal/transport/telegram/adapter"
	"checkinbot/internal/transport/telegram/router"
	logx "checkinbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store
	dedup *storage.RedisDedup

	adapter *telegram.Adapter
	router  *router.Router
	bot     *bot.Handlers

	engine   *engine.Service
	sched    *scheduler.Service
	notif    *notifier.Service
	tracker  *compliance.Tracker
	registry *jobs.Registry
	http     *httpserver.Service
	sink     *eventsink.Sink

	supervisors *router.SupervisorRegistry
	started     time.Time

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	course, err := cfg.Course.BuildCourse()
	if err != nil {
		return nil, err
	}
	clk, err := clock.Load(cfg.Course.Timezone)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout, 10*time.Second),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging starts disabled so Apply does not warn about a
	// missing target before it is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	chatID, threadID, _ := config.ParseChatTarget(cfg.Telegram.GroupLog)
	if threadID == 0 {
		threadID = cfg.Logging.Telegram.ThreadID
	}
	logSvc.SetTelegramTarget(chatID, threadID)
	logSvc.Apply(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc := mapStorageConfig(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	var (
		dedupStore notifier.DedupStore = store
		dedup      *storage.RedisDedup
	)
	if cfg.Redis.Enabled && cfg.Notifier.DedupBackend == "redis" {
		dedup, err = storage.OpenRedisDedup(ctx, mapRedisConfig(cfg))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		dedupStore = dedup
		appLog.Info("notifier dedup on redis", logx.String("addr", cfg.Redis.Addr))
	}

	engineSvc := engine.New(mapTaskEngineConfig(cfg), log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log.With(logx.String("comp", "scheduler")), bus)
	timer := jobs.NewCronTimer(schedSvc,
		config.MustDuration(cfg.Scheduler.JobTimeout, time.Minute),
		cfg.Scheduler.RetryMax,
	)

	tracker := compliance.NewTracker(store, course, clk, bus, log.With(logx.String("comp", "compliance")))
	notifSvc := notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")), bus, dedupStore)
	esc := escalation.NewEngine(store, tracker, escalation.NewRussianContent(), notifSvc, course, clk, bus,
		log.With(logx.String("comp", "escalation")))
	registry := jobs.NewRegistry(store, timer, esc, course, clk, bus, log.With(logx.String("comp", "jobs")))

	a := &App{
		cfgm:        cfgm,
		log:         appLog,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		dedup:       dedup,
		adapter:     ad,
		engine:      engineSvc,
		sched:       schedSvc,
		notif:       notifSvc,
		tracker:     tracker,
		registry:    registry,
		supervisors: router.NewSupervisorRegistry(),
		updates:     make(chan kit.Update, 256),
	}

	a.router = router.New(log, ad, cfg.Telegram.OwnerUserIDs, router.Options{})
	a.bot = bot.New(bot.Deps{
		Store:   store,
		Tracker: tracker,
		Jobs:    registry,
		Admins:  ad,
		Clock:   clk,
		Bus:     bus,
		Log:     log,
		Status:  a.Status,
	})
	a.http = httpserver.New(httpserver.FromConfig(cfg.HTTP), httpserver.Deps{
		Store:   store,
		Tracker: tracker,
		Jobs:    registry,
		Status:  a.Status,
	}, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled.
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

// Start brings components up in dependency order: execution first, then
// the job registry, then the transport that feeds commands and tags in.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.started = time.Now()
	run := a.sup.Context()
	cfg := a.cfgm.Get()

	metricsEvents, unsub := a.bus.Subscribe(256)
	a.sup.Go("metrics.collect", func(c context.Context) error {
		defer unsub()
		return metrics.Collect(c, metricsEvents)
	})

	if a.engine.Enabled() {
		a.engine.Start(run)
		a.track("task.engine", a.engine.Supervisor())
	}
	if a.sched.Enabled() {
		a.sched.Start(run)
	}
	if a.notif.Enabled() {
		a.notif.Start(run)
		a.track("notifier", a.notif.Supervisor())
	}

	if err := reconcileGroups(run, a.registry, a.log); err != nil {
		return err
	}

	sink, err := eventsink.Open(run, cfg.EventSink, a.bus, a.log)
	if err != nil {
		// The broker is optional; the bot keeps running without it.
		a.log.Warn("event sink disabled", logx.Err(err))
	} else if sink != nil {
		a.sink = sink
		a.sup.GoRestart("eventsink", sink.Run, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.track("telegram.adapter", a.adapter.Supervisor())

	a.bot.Register(run, a.router)
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	if a.http.Enabled() {
		a.http.Start(run)
		a.track("http", a.http.Supervisor())
	}

	events, unsubLog := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubLog()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
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
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)),
		logx.Bool("http", a.http.Enabled()),
		logx.String("event_sink", cfg.EventSink.Driver),
	)
	return nil
}

func (a *App) track(name string, sup *rtsup.Supervisor) {
	if sup != nil {
		a.supervisors.Set(name, sup)
	}
}

// applyConfig fans a committed config out to the components that can change
// at runtime. Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.Strings("sections", restart))
	}

	chatID, threadID, _ := config.ParseChatTarget(next.Telegram.GroupLog)
	if threadID == 0 {
		threadID = next.Logging.Telegram.ThreadID
	}
	a.logs.SetTelegramTarget(chatID, threadID)
	a.logs.Apply(mapLogConfig(next))

	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	wasEngine, wasSched, wasNotif := a.engine.Enabled(), a.sched.Enabled(), a.notif.Enabled()
	engCfg := mapTaskEngineConfig(next)
	a.engine.Apply(ctx, engCfg)
	a.sched.Apply(mapSchedulerConfig(next))
	nCfg := mapNotifierConfig(next)
	a.notif.Apply(ctx, nCfg)

	stop := func(name string, fn func(context.Context)) {
		a.log.Info(name + " disabled via config")
		sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		fn(sctx)
		cancel()
	}
	// Scheduler stops before the engine; the engine starts before the scheduler.
	if wasSched && !next.Scheduler.Enabled {
		stop("scheduler", a.sched.Stop)
	}
	if wasEngine && !engCfg.Enabled {
		stop("task engine", a.engine.Stop)
	}
	if !wasEngine && engCfg.Enabled {
		a.engine.Start(ctx)
		a.track("task.engine", a.engine.Supervisor())
	}
	if !wasSched && next.Scheduler.Enabled {
		a.sched.Start(ctx)
	}
	if wasNotif && !nCfg.Enabled {
		stop("notifier", a.notif.Stop)
	} else if !wasNotif && nCfg.Enabled {
		a.notif.Start(ctx)
		a.track("notifier", a.notif.Supervisor())
	}

	a.http.Reconfigure(ctx, httpserver.FromConfig(next.HTTP))
	a.track("http", a.http.Supervisor())

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop unwinds in reverse start order. Each step is bounded so one stuck
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
			return
		}
		sctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, a.adapter.Stop)
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("eventsink", time.Second, func(context.Context) error { return a.sink.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.dedup != nil {
			_ = a.dedup.Close()
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
