package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines next to Path
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action or a delivery outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id,omitempty"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Action        string    `json:"action"`
	Key           string    `json:"key,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
}

// Store is the persistence API.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
