package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notificationbot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.LogChat != nt.LogChat ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", nt.LogChat != 0),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.String("reminders.tick", newCfg.Reminders.Tick),
			logx.Int("reminders.workers", newCfg.Reminders.Workers),
			logx.Int("reminders.preset_count", len(newCfg.Reminders.Presets)),
		)
	}

	var on, nn NotifierConfig
	if oldCfg.Notifier != nil {
		on = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nn = *newCfg.Notifier
	}
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Any("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
			logx.Int("notifier.history_size", nn.HistorySize),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTPAddr()),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart. Logging, notifier and owner changes apply live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "reminders", "storage", "http":
			out = append(out, s)
		}
	}
	return out
}
