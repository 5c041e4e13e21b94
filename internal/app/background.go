package app

import (
	"context"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"notificationbot/internal/config"
	"notificationbot/internal/eventbus"
	"notificationbot/internal/reminder"
	"notificationbot/internal/storage"
	logx "notificationbot/pkg/logx"
)

// startAuditSink records every fire outcome in the audit store. It is not
// owned by the supervisor: Stop drains it after the dispatcher is idle so
// the last fire of a shutdown is still recorded.
func (a *App) startAuditSink() {
	ch, unsub := a.bus.Subscribe(128)
	done := make(chan struct{})
	a.auditUnsub, a.auditDone = unsub, done

	log := a.log.With(logx.String("comp", "audit"))
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case eventbus.ReminderSent, eventbus.ReminderFailed:
				fe, ok := ev.Data.(reminder.FireEvent)
				if !ok || a.store == nil {
					continue
				}
				e := storage.AuditEntry{At: ev.Time, ChatID: fe.ChatID, Action: "sent", Key: fe.Key, OK: true}
				if ev.Type == eventbus.ReminderFailed {
					e.Action, e.OK, e.Error = "send_failed", false, fe.Error
				}
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if err := a.store.AppendAudit(ctx, e); err != nil {
					log.Warn("audit append failed", logx.String("key", fe.Key), logx.Err(err))
				}
				cancel()
			case eventbus.ReminderChanged:
				if ce, ok := ev.Data.(reminder.ChangeEvent); ok {
					log.Debug("reminder changed", logx.String("key", ce.Key), logx.String("op", ce.Op))
				}
			}
		}
	}()
}

func (a *App) stopAuditSink(ctx context.Context) error {
	if a.auditUnsub == nil {
		return nil
	}
	a.auditUnsub()
	select {
	case <-a.auditDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startReloadLoop applies hot-reloadable sections and warns about the rest.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(1)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		prev := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(prev, cfg)
				prev = cfg
			}
		}
	})
}

func (a *App) applyConfig(prev, cfg *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config reloaded", append(attrs, logx.String("changed", strings.Join(changed, ",")))...)
	if restart := config.RestartRequired(changed); len(restart) > 0 {
		a.log.Warn("config sections need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	for _, section := range changed {
		switch section {
		case "logging", "telegram":
			if a.logs != nil {
				a.logs.Apply(mapLogConfig(cfg))
			}
			a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)
		case "notifier":
			nc, err := mapNotifierConfig(cfg)
			if err != nil {
				a.log.Warn("notifier config not applied", logx.Err(err))
				continue
			}
			a.notif.Apply(nc)
		}
	}
}

// startSystemd reports readiness and, when the unit sets WatchdogSec, pings
// the watchdog at half the interval while the dispatcher is alive.
func (a *App) startSystemd() {
	notifySystemd(a.log, daemon.SdNotifyReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if a.disp.Running() {
					notifySystemd(a.log, daemon.SdNotifyWatchdog)
				}
			}
		}
	})
}

// notifySystemd is a no-op outside a systemd unit.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}
