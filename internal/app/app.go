// Package app wires the timer engine to its ledger, notifier, chat surface
// and observability, and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chekitimer/internal/catalog"
	"chekitimer/internal/config"
	"chekitimer/internal/engine"
	"chekitimer/internal/eventbus"
	"chekitimer/internal/ledger"
	"chekitimer/internal/notifier"
	"chekitimer/internal/observability/httpserver"
	"chekitimer/internal/observability/metrics"
	"chekitimer/internal/report"
	rtsup "chekitimer/internal/runtime/supervisor"
	"chekitimer/internal/transport/telegram"
	logx "chekitimer/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor
	// built is the config the components were constructed from.
	built *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	catalog *catalog.Store
	store   ledger.Store
	writer  *ledger.Writer

	reg    *engine.Registry
	ticker *engine.Ticker

	notif  *notifier.Service
	cmds   *telegram.Commands
	tg     *telegram.Adapter
	http   *httpserver.Service
	report *report.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	cat := catalog.NewStore(cfg.Catalog.Path, log.With(logx.String("comp", "catalog")))

	lc, err := mapLedgerConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(lc, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// From here on the store must be closed on failure.
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	wc, err := mapWriterConfig(cfg)
	if err != nil {
		return fail(err)
	}
	writer := ledger.NewWriter(store, wc, log)

	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(nc, nil, bus, log)

	reg := engine.NewRegistry(
		engine.WithLedger(writer),
		engine.WithAlarm(notif),
		engine.WithEventBus(bus),
		engine.WithLogger(log.With(logx.String("comp", "engine"))),
	)
	ticker := engine.NewTicker(reg, config.DurationOr(cfg.Engine.TickInterval, engine.DefaultTickInterval))

	cmds := telegram.NewCommands(reg, cat.Current, store)
	cmds.History = notif.History

	var tg *telegram.Adapter
	if cfg.Telegram.Enabled {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return fail(err)
		}
		tg, err = telegram.New(tc, cmds, log)
		if err != nil {
			return fail(fmt.Errorf("telegram: %w", err))
		}
		notif.SetSender(tg)
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return fail(err)
	}
	httpSvc := httpserver.New(hc, log)
	rep := report.New(mapReportConfig(cfg), store, log)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		built:   cfg,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		catalog: cat,
		store:   store,
		writer:  writer,
		reg:     reg,
		ticker:  ticker,
		notif:   notif,
		cmds:    cmds,
		tg:      tg,
		http:    httpSvc,
		report:  rep,
	}
	httpSvc.SetHealth(a.Health)

	metrics.Init(metrics.Sources{
		ActiveTimers: reg.Len,
		AlertsActive: reg.Alerts().Len,
		BusDropped:   func() uint64 { return eventbus.Dropped(bus) },
		LedgerQueue:  func() int { return writer.Stats().Pending },
	})
	ticker.OnTick(metrics.ObserveTick)
	writer.OnResult(metrics.ObserveLedgerWrite)

	appLog.Info("app configured",
		logx.String("ledger", lc.Driver),
		logx.String("catalog", cat.Current().Source()),
		logx.Bool("telegram", tg != nil),
		logx.Bool("notifier", nc.Enabled),
		logx.Bool("http", hc.Enabled),
		logx.Bool("report", cfg.Report.Enabled),
	)
	return a, nil
}

// Registry exposes the engine for embedding callers and tests.
func (a *App) Registry() *engine.Registry { return a.reg }

// Commands exposes the transport-free command handler.
func (a *App) Commands() *telegram.Commands { return a.cmds }

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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.writer.Start(runCtx)
	// Stop drains the notifier queue, so it must outlive the run context.
	a.notif.Start(context.WithoutCancel(runCtx))

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("metrics.events", func(c context.Context) error {
		defer unsub()
		return metrics.Consume(c, events)
	})

	a.ticker.Start(runCtx)

	if a.tg != nil {
		if err := a.tg.Start(runCtx); err != nil {
			return err
		}
		if err := a.tg.UpdateMenuCommands(a.cmds.BotCommands()); err != nil {
			a.log.Warn("menu commands update failed", logx.Err(err))
		}
	}

	a.http.Start(runCtx)
	if err := a.report.Start(runCtx); err != nil {
		return err
	}

	if cfg := a.cfgm.Get(); cfg != nil && cfg.Catalog.Watch {
		a.sup.Go("catalog.watch", func(c context.Context) error {
			return a.catalog.Watch(c)
		})
	}

	sub := a.cfgm.Subscribe(8)
	lastApplied := a.built
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// A reload committed before Subscribe is not redelivered.
		if cur := a.cfgm.Get(); cur != lastApplied {
			a.applyConfig(c, lastApplied, cur)
			lastApplied = cur
		}
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				if newCfg == lastApplied {
					continue
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Duration("tick", a.ticker.Interval()))
	return nil
}

// Health reports the first failure seen by the app or one of its
// components. It backs /healthz.
func (a *App) Health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Context().Err(); err != nil {
		return errors.New("stopping")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	comps := map[string]*rtsup.Supervisor{
		"ticker":   a.ticker.Supervisor(),
		"ledger":   a.writer.Supervisor(),
		"notifier": a.notif.Supervisor(),
		"http":     a.http.Supervisor(),
	}
	if a.tg != nil {
		comps["telegram"] = a.tg.Supervisor()
	}
	for name, sup := range comps {
		if sup == nil {
			continue
		}
		for _, g := range sup.Snapshot().Goroutines {
			if g.Active == 0 && g.LastErr != "" {
				return fmt.Errorf("%s: %s down: %s", name, g.Name, g.LastErr)
			}
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Int("active_timers", a.reg.Len()))

	// Timers stop moving first so no new records race the drain.
	a.ticker.Stop()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("report", 2*time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("ledger.writer", 5*time.Second, func(c context.Context) error {
		err := a.writer.Stop(c)
		st := a.writer.Stats()
		a.log.Info("ledger drained", logx.Uint64("written", st.Written), logx.Uint64("failed", st.Failed), logx.Uint64("dropped", st.Dropped))
		return err
	})
	step("ledger.store", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// applyConfig pushes a reloaded config to the components that support live
// changes and warns about the rest.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
	}

	if changed["logging"] {
		a.logs.Apply(mapLogConfig(next))
	}
	if changed["engine"] {
		a.ticker.SetInterval(config.DurationOr(next.Engine.TickInterval, engine.DefaultTickInterval))
	}
	if changed["catalog"] {
		if prev == nil || prev.Catalog.Path != next.Catalog.Path {
			if err := a.catalog.SetPath(next.Catalog.Path); err != nil {
				a.log.Warn("catalog reload failed; keeping previous", logx.Err(err))
			}
		}
		if prev == nil || prev.Catalog.Watch != next.Catalog.Watch {
			a.log.Warn("catalog.watch changed; restart required")
		}
	}
	if changed["notifier"] {
		if nc, err := mapNotifierConfig(next); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			wasEnabled := a.notif.Enabled()
			a.notif.Apply(nc)
			switch {
			case wasEnabled && !nc.Enabled:
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !wasEnabled && nc.Enabled:
				a.notif.Start(context.WithoutCancel(ctx))
			}
		}
	}
	if changed["http"] {
		if hc, err := mapHTTPConfig(next); err != nil {
			a.log.Warn("invalid http config; keeping previous", logx.Err(err))
		} else {
			a.http.Reconfigure(ctx, hc)
		}
	}
	if changed["report"] {
		if err := a.report.Apply(mapReportConfig(next)); err != nil {
			a.log.Warn("report schedule not applied", logx.Err(err))
		}
	}
	for _, s := range []string{"ledger", "telegram"} {
		if changed[s] {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
