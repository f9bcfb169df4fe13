// Package app wires configuration, transport, scheduling and delivery into a
// running bot and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/httpapi"
	"remindbot/internal/intent"
	"remindbot/internal/metrics"
	"remindbot/internal/notifier"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transcribe"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type Option func(*App)

// WithAdapter replaces the Telegram adapter (tests, alternative transports).
func WithAdapter(ad kit.Adapter) Option { return func(a *App) { a.adapter = ad } }

// WithTranscriber replaces the Whisper client and enables the voice path.
func WithTranscriber(tr transcribe.Transcriber) Option { return func(a *App) { a.tr = tr } }

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	tr      transcribe.Transcriber
	voice   bool

	sched  *scheduler.Service
	notif  *notifier.Service
	router *intent.Router

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	http     *httpapi.Server

	workers int
	updates chan kit.Update
	now     func() time.Time
}

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	// The Telegram log sink needs the adapter, which does not exist yet; it is
	// attached below via SetSender.
	logSvc, log := logx.New(mapLoggingConfig(cfg), nil)
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	if a.adapter == nil {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(tcfg, log)
		if err != nil {
			return nil, err
		}
		a.adapter = ad
	}
	logSvc.SetSender(a.adapter)

	a.bus = eventbus.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, log.With(logx.String("comp", "scheduler")), a.bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, a.adapter, log, a.bus)
	a.router = intent.NewRouter(a.sched, a.notif.Deliver, log, a.bus)

	if a.tr != nil {
		a.voice = true
	} else {
		tc, err := mapTranscribeConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.tr = transcribe.New(tc, log)
		a.voice = tc.Enabled
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New("remindbot", a.registry, a.sched.Store().Len)
	a.metrics.TrackBus(a.bus)

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	routes := httpapi.Routes{Gatherer: a.registry, Ready: a.ready}
	if wh, ok := a.adapter.(interface{ Handler() http.Handler }); ok {
		routes.Webhook = wh.Handler()
	}
	a.http = httpapi.New(hcfg, routes, log)

	a.workers = cfg.Router.Workers
	a.updates = make(chan kit.Update, cfg.Router.QueueSize)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the HTTP listen address once started.
func (a *App) Addr() string { return a.http.Addr() }

func (a *App) ready() error {
	if !a.sched.Running() {
		return errors.New("scheduler not running")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	runCtx := a.sup.Context()
	if err := a.http.Start(runCtx); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	a.sched.Start(runCtx)

	a.sup.Go0("metrics", func(c context.Context) { a.metrics.Run(c, a.bus) })
	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, "scheduler.", "notifier.")
		a.sup.Go0("audit", func(c context.Context) {
			defer unsub()
			a.auditLoop(c, events)
		})
	}
	// Optional: log events for observability/debug.
	if a.log.Enabled(logx.LevelDebug) {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
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
	}

	workers := max(1, a.workers)
	for i := range workers {
		a.sup.Go0(fmt.Sprintf("dispatch.%d", i), func(c context.Context) { a.dispatchLoop(c) })
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sdNotify(a.log, sdReady)
	a.log.Info("app started",
		logx.String("addr", a.http.Addr()),
		logx.String("tz", a.sched.Location().String()),
		logx.Int("workers", workers),
		logx.Bool("voice", a.voice),
	)
	return nil
}

// reloadLoop applies hot-reloadable sections: logging, scheduler timezone
// and notifier limits. Everything else is logged as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
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
			newCfg = latest(sub, newCfg)
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func latest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.sched.Apply(scheduler.Config{Timezone: newCfg.Scheduler.Timezone})
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, sdStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, maxWait time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > maxWait {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, maxWait)
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Stop intake first, then the timing loop, then the listeners.
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", 2*time.Second, func(c context.Context) error { return a.http.Stop(c) })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && c.Err() != nil {
			return fmt.Errorf("%w (still running: %s)", err, strings.Join(a.sup.Pending(), ","))
		}
		return nil
	})
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
