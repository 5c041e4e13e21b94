package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "notificationbot/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	at             TEXT    NOT NULL,
	actor_id       INTEGER NOT NULL DEFAULT 0,
	actor_username TEXT,
	chat_id        INTEGER NOT NULL DEFAULT 0,
	thread_id      INTEGER NOT NULL DEFAULT 0,
	action         TEXT    NOT NULL,
	key            TEXT,
	ok             INTEGER NOT NULL,
	err            TEXT,
	detail         TEXT,
	request_id     TEXT
);
CREATE INDEX IF NOT EXISTS audit_key ON audit(key);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Debug("sqlite opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, action, key, ok, err, detail, request_id)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Action, nullStr(e.Key), e.OK, nullStr(e.Error), nullStr(e.Detail), nullStr(e.RequestID),
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, actor_id, actor_username, chat_id, thread_id, action, key, ok, err, detail, request_id
		 FROM audit ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e                                    AuditEntry
			at                                   string
			user, key, errStr, detail, requestID sql.NullString
		)
		if err := rows.Scan(&at, &e.ActorID, &user, &e.ChatID, &e.ThreadID, &e.Action, &key, &e.OK, &errStr, &detail, &requestID); err != nil {
			return nil, err
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("audit row time %q: %w", at, err)
		}
		e.ActorUsername = user.String
		e.Key = key.String
		e.Error = errStr.String
		e.Detail = detail.String
		e.RequestID = requestID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
