package notifier

import "time"

// Config controls rate limiting and retries.
type Config struct {
	RatePerSec     float64
	RetryMax       int
	RetryBase      time.Duration
	RetryMaxDelay  time.Duration
	AttemptTimeout time.Duration
	HistorySize    int
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	ChatID   int64     `json:"chat_id"`
	Text     string    `json:"text"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// DeliveryEvent is the Data payload of notifier.sent and notifier.failed.
type DeliveryEvent struct {
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
