package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notificationbot/internal/eventbus"
	kit "notificationbot/internal/transport"
	logx "notificationbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	err   error // returned instead of the generic failure
	fails int   // fail the first n sends
	calls int
	texts []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		if f.err != nil {
			return kit.MessageRef{}, f.err
		}
		return kit.MessageRef{}, errors.New("telegram: 502 bad gateway")
	}
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.calls}, nil
}

func fastConfig() Config {
	return Config{
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		HistorySize:   2,
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fails: 2}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	s := New(fastConfig(), ad, logx.Nop(), bus)

	if err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ad.calls != 3 {
		t.Fatalf("calls = %d, want 3", ad.calls)
	}
	ev := <-ch
	if ev.Type != eventbus.NotifierSent {
		t.Fatalf("event = %q, want %q", ev.Type, eventbus.NotifierSent)
	}
	if d := ev.Data.(DeliveryEvent); d.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", d.Attempts)
	}
}

func TestSendGivesUp(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fails: 10}
	s := New(fastConfig(), ad, logx.Nop(), nil)

	err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if ad.calls != 3 {
		t.Fatalf("calls = %d, want 1 + RetryMax", ad.calls)
	}
	h := s.History()
	if len(h) != 1 || h[0].Error == "" {
		t.Fatalf("history = %+v, want one failed item", h)
	}
}

func TestSendHonorsCanceledContext(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(fastConfig(), ad, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, kit.ChatTarget{ChatID: 1}, "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ad.calls != 0 {
		t.Fatalf("adapter called %d times after cancel", ad.calls)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), &fakeAdapter{}, logx.Nop(), nil)
	for _, txt := range []string{"a", "b", "c"} {
		if err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, txt); err != nil {
			t.Fatal(err)
		}
	}
	h := s.History()
	if len(h) != 2 || h[0].Text != "b" || h[1].Text != "c" {
		t.Fatalf("history = %+v, want [b c]", h)
	}
}

func TestNoAdapter(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	if err := s.Send(context.Background(), kit.ChatTarget{}, "x"); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 3 * time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}

func TestSendStopsOnPermanentError(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fails: 10, err: &kit.SendError{Err: errors.New("bot was blocked by the user"), Permanent: true}}
	s := New(fastConfig(), ad, logx.Nop(), nil)

	err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "hello")
	if !kit.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if ad.calls != 1 {
		t.Fatalf("calls = %d, want 1", ad.calls)
	}
	if h := s.History(); len(h) != 1 || h[0].Attempts != 1 {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendWaitsForFloodControl(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fails: 1, err: &kit.SendError{Err: errors.New("retry after 1"), RetryAfter: 50 * time.Millisecond}}
	s := New(fastConfig(), ad, logx.Nop(), nil)

	start := time.Now()
	if err := s.Send(context.Background(), kit.ChatTarget{ChatID: 1}, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if el := time.Since(start); el < 50*time.Millisecond {
		t.Fatalf("retried after %s, want at least the flood wait", el)
	}
}
