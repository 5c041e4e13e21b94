package app

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coreos/go-systemd/v22/daemon"

	"notificationbot/internal/commands"
	"notificationbot/internal/config"
	"notificationbot/internal/eventbus"
	"notificationbot/internal/httpapi"
	"notificationbot/internal/notifier"
	"notificationbot/internal/reminder"
	rtsup "notificationbot/internal/runtime/supervisor"
	"notificationbot/internal/storage"
	kit "notificationbot/internal/transport"
	"notificationbot/internal/transport/telegram"
	logx "notificationbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	notif   *notifier.Service

	reg       *reminder.Registry
	reminders *reminder.Service
	disp      *reminder.Dispatcher

	cmdm *commands.CommandManager
	http *httpapi.Service // nil when disabled

	updates chan kit.Update

	auditUnsub func()
	auditDone  chan struct{}
}

// Constructors replaced in tests.
var (
	openStore   = storage.Open
	newTelegram = func(cfg telegram.Config, log logx.Logger) (kit.Adapter, error) { return telegram.New(cfg, log) }
)

type Option func(*options)

type options struct {
	adapter kit.Adapter
	clock   clock.Clock
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithClock replaces the wall clock used by the reminder registry.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// NewApp loads the config and wires every component. Nothing runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rs, err := cfg.ReminderSettings()
	if err != nil {
		return nil, err
	}

	// The chat log sink goes through the adapter directly, not the notifier,
	// so a failing delivery path cannot feed back into itself.
	ad := o.adapter
	logSvc, log := logx.New(mapLogConfig(cfg), func(ctx context.Context, chatID int64, threadID int, text string) error {
		if ad == nil {
			return nil
		}
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	})

	var store storage.Store
	// fail releases what was opened so far.
	fail := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	if enabled {
		st, err := openStore(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	if ad == nil {
		pollTimeout, err := cfg.PollTimeout()
		if err != nil {
			return fail(err)
		}
		tg, err := newTelegram(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log)
		if err != nil {
			return fail(err)
		}
		ad = tg
	}
	cfgm.SetLogger(log)

	bus := eventbus.New()

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)

	reg, svc, disp := reminderParts(rs, notif, o.clock, log, bus)

	cmdm := commands.NewCommandManager(log, ad, cfg.Telegram.OwnerUserIDs)
	cmdm.SetRegistry(commands.ReminderCommands(commands.Deps{Reminders: svc, Audit: store}))

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		notif:     notif,
		reg:       reg,
		reminders: svc,
		disp:      disp,
		cmdm:      cmdm,
		updates:   make(chan kit.Update, 256),
	}
	if cfg.HTTP.Enabled {
		a.http = httpapi.New(mapHTTPConfig(cfg), httpapi.Deps{
			Reminders:  svc,
			Dispatcher: disp,
			Audit:      store,
			Deliveries: notif,
			Goroutines: func() rtsup.Counters { return a.sup.Counters() },
		}, log)
	}
	return a, nil
}

// Reminders exposes the reminder API.
func (a *App) Reminders() *reminder.Service { return a.reminders }

// Done is closed when the app supervisor is canceled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validateReload)

	if a.http != nil {
		if err := a.http.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu.update", func(c context.Context) {
		if err := a.cmdm.UpdateMenu(c); err != nil {
			a.log.Debug("command menu not updated", logx.Err(err))
		}
	})

	a.disp.SetLauncher(a.sup)
	a.disp.Start(a.sup.Context())

	a.startAuditSink()
	a.startReloadLoop()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.startSystemd()

	a.log.Info("app started", logx.Int("reminders", a.reg.Len()), logx.Duration("tick", a.reg.Tick()))
	return nil
}

// validateReload rejects reloads this process cannot apply at all.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs fn with an upper bound so one component cannot stall the
	// whole stop. It never extends the caller's deadline.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
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
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Dispatcher first: an in-flight fire finishes and its events reach the
	// audit sink before storage closes.
	step("dispatcher", 5*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("audit", time.Second, func(c context.Context) error { return a.stopAuditSink(c) })
	step("http", 2*time.Second, func(c context.Context) error {
		if a.http != nil {
			return a.http.Stop(c)
		}
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
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
