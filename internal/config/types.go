package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1h") so the file stays readable; Validate parses them.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Reminders RemindersConfig `json:"reminders"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	HTTP      HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	// Token may be left empty when BOT_TOKEN is set in the environment or
	// in a .env file next to the config.
	Token string `json:"token"`
	// OwnerUserIDs restricts commands to these users. Empty allows everyone.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
	// LogChat receives warn+ log lines when logging.chat is enabled.
	LogChat int64 `json:"log_chat,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool    `json:"enabled"`
	ThreadID   int     `json:"thread_id"`
	MinLevel   string  `json:"min_level"`
	RatePerSec float64 `json:"rate_per_sec"`
}

// RemindersConfig controls the dispatch loop and the interval parser.
//
// Example:
//
//	"reminders": { "tick": "1s", "workers": 4, "presets": { "standup": "24h" } }
type RemindersConfig struct {
	Tick        string            `json:"tick,omitempty"`
	Workers     int               `json:"workers,omitempty"`
	SendTimeout string            `json:"send_timeout,omitempty"`
	Presets     map[string]string `json:"presets,omitempty"`
}

// NotifierConfig controls delivery rate limiting and retries. If the whole
// section is omitted the notifier uses its defaults.
type NotifierConfig struct {
	RatePerSec     float64 `json:"rate_per_sec"`
	RetryMax       int     `json:"retry_max"`
	RetryBase      string  `json:"retry_base"`
	RetryMaxDelay  string  `json:"retry_max_delay"`
	AttemptTimeout string  `json:"attempt_timeout,omitempty"`
	HistorySize    int     `json:"history_size"`
}

// StorageConfig controls the audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/bot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// HTTPConfig controls the read-only status API.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback Addr needs Token, or AllowInsecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof.
	Pprof bool `json:"pprof,omitempty"`
}
