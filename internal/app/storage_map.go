package app

import (
	"math"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"notificationbot/internal/config"
	"notificationbot/internal/eventbus"
	"notificationbot/internal/httpapi"
	"notificationbot/internal/notifier"
	"notificationbot/internal/reminder"
	"notificationbot/internal/storage"
	logx "notificationbot/pkg/logx"
)

const defaultBusyTimeout = time.Second

// mapStorageConfig reports enabled=false when no driver is configured.
// cfg has already passed Validate.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, true, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	ns, err := cfg.NotifierSettings()
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:     ns.RatePerSec,
		RetryMax:       ns.RetryMax,
		RetryBase:      ns.RetryBase,
		RetryMaxDelay:  ns.RetryMaxDelay,
		AttemptTimeout: ns.AttemptTimeout,
		HistorySize:    ns.HistorySize,
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			ChatID:     cfg.Telegram.LogChat,
			ThreadID:   lc.Chat.ThreadID,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: int(math.Ceil(lc.Chat.RatePerSec)),
		},
	}
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	return httpapi.Config{
		Addr:          cfg.HTTPAddr(),
		Token:         cfg.HTTP.Token,
		AllowInsecure: cfg.HTTP.AllowInsecure,
		Pprof:         cfg.HTTP.Pprof,
	}
}

// reminderParts builds the registry stack from validated settings.
func reminderParts(rs config.ReminderSettings, n reminder.Notifier, clk clock.Clock, log logx.Logger, bus eventbus.Bus) (*reminder.Registry, *reminder.Service, *reminder.Dispatcher) {
	reg := reminder.NewRegistry(n, reminder.WithTick(rs.Tick), reminder.WithClock(clk))
	svc := reminder.NewService(reg, reminder.NewParser(rs.Tick, rs.Presets), bus)
	disp := reminder.NewDispatcher(reg,
		reminder.WithLogger(log),
		reminder.WithBus(bus),
		reminder.WithWorkers(rs.Workers),
		reminder.WithSendTimeout(rs.SendTimeout),
	)
	return reg, svc, disp
}
