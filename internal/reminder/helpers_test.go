package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"notificationbot/internal/transport"
)

type sentMsg struct {
	To   transport.ChatTarget
	Text string
}

// fakeNotifier records sends and optionally fails or blocks.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentMsg
	err     error
	block   chan struct{} // when set, Send waits for it to close
	entered chan struct{}
}

func (f *fakeNotifier) Send(ctx context.Context, to transport.ChatTarget, text string) error {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMsg{To: to, Text: text})
	return nil
}

func (f *fakeNotifier) Sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

var errBoom = errors.New("boom")

var chat = transport.ChatTarget{ChatID: 42}

func newTestRegistry(t *testing.T, n Notifier) (*Registry, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	return NewRegistry(n, WithClock(mock), WithTick(time.Second)), mock
}

// ready creates a running reminder with text and interval.
func ready(t *testing.T, reg *Registry, key string, every time.Duration) *Reminder {
	t.Helper()
	r, err := reg.Create(key, chat, CreateOptions{
		Text:     key + " text",
		Interval: Interval{Duration: every, Magnitude: every.Seconds(), Unit: "second"},
	})
	if err != nil {
		t.Fatalf("Create(%q): %v", key, err)
	}
	r.SetRunning(true)
	return r
}
