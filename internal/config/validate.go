package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultTick        = time.Second
	DefaultSendTimeout = 30 * time.Second
	DefaultPollTimeout = 10 * time.Second
	DefaultHTTPAddr    = "127.0.0.1:8080"
)

var ErrMissingToken = errors.New("telegram.token is empty (set it in the config or BOT_TOKEN)")

// ReminderSettings is the parsed form of RemindersConfig.
type ReminderSettings struct {
	Tick        time.Duration
	Workers     int
	SendTimeout time.Duration
	Presets     map[string]time.Duration
}

// NotifierSettings is the parsed form of NotifierConfig.
type NotifierSettings struct {
	RatePerSec     float64
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration
	HistorySize    int
}

func (c *Config) ReminderSettings() (ReminderSettings, error) {
	r := c.Reminders
	tick, err := ParseDurationOrDefault("reminders.tick", r.Tick, DefaultTick)
	if err != nil {
		return ReminderSettings{}, err
	}
	send, err := ParseDurationOrDefault("reminders.send_timeout", r.SendTimeout, DefaultSendTimeout)
	if err != nil {
		return ReminderSettings{}, err
	}
	if r.Workers < 0 {
		return ReminderSettings{}, fmt.Errorf("reminders.workers: must be >= 0")
	}
	out := ReminderSettings{Tick: tick, Workers: max(r.Workers, 1), SendTimeout: send}
	if len(r.Presets) > 0 {
		out.Presets = make(map[string]time.Duration, len(r.Presets))
		for name, raw := range r.Presets {
			field := "reminders.presets." + name
			if strings.TrimSpace(name) == "" {
				return ReminderSettings{}, fmt.Errorf("reminders.presets: empty preset name")
			}
			d, err := ParseDurationField(field, raw)
			if err != nil {
				return ReminderSettings{}, err
			}
			if d <= tick {
				return ReminderSettings{}, fmt.Errorf("%s: %s must be greater than the tick (%s)", field, d, tick)
			}
			out.Presets[name] = d
		}
	}
	return out, nil
}

// NotifierSettings returns zero durations for omitted fields; the notifier
// fills in its own defaults.
func (c *Config) NotifierSettings() (NotifierSettings, error) {
	n := c.Notifier
	if n == nil {
		return NotifierSettings{}, nil
	}
	if n.RatePerSec < 0 || n.RetryMax < 0 || n.HistorySize < 0 {
		return NotifierSettings{}, fmt.Errorf("notifier: rate_per_sec, retry_max and history_size must be >= 0")
	}
	out := NotifierSettings{RatePerSec: n.RatePerSec, RetryMax: n.RetryMax, HistorySize: n.HistorySize}
	var err error
	if out.RetryBase, err = ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return NotifierSettings{}, err
	}
	if out.RetryMaxDelay, err = ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return NotifierSettings{}, err
	}
	if out.AttemptTimeout, err = ParseDurationField("notifier.attempt_timeout", n.AttemptTimeout); err != nil {
		return NotifierSettings{}, err
	}
	return out, nil
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
}

func (c *Config) HTTPAddr() string {
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}

// Validate checks every field that can be checked without side effects.
// Errors are joined so one pass reports all problems.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	if _, err := c.PollTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ReminderSettings(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.NotifierSettings(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Chat.Enabled && c.Telegram.LogChat == 0 {
		errs = append(errs, errors.New("logging.chat.enabled requires telegram.log_chat"))
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
