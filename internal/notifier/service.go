package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"notificationbot/internal/eventbus"
	kit "notificationbot/internal/transport"
	logx "notificationbot/pkg/logx"
)

var ErrNoAdapter = errors.New("notifier has no adapter")

// Service sends text through an adapter with rate limit and retry.
// It implements reminder.Notifier and is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	cfg     Config
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the config. Sends already waiting keep the old limiter.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg
	// Token bucket: burst = ceil(rate) so short spikes don't block too hard.
	burst := int(cfg.RatePerSec)
	if float64(burst) < cfg.RatePerSec {
		burst++
	}
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Send delivers text to the target, retrying failed attempts until RetryMax
// is exhausted or ctx ends. It returns the last adapter error.
func (s *Service) Send(ctx context.Context, to kit.ChatTarget, text string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ad := s.adapter
	s.mu.Unlock()

	if ad == nil {
		return ErrNoAdapter
	}

	maxAttempts := 1 + cfg.RetryMax
	var (
		lastErr  error
		attempts int
	)
retry:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		_, err := ad.SendText(callCtx, to, text, nil)
		cancel()
		if err == nil {
			s.record(to, text, attempts, nil)
			return nil
		}
		lastErr = err
		s.log.Debug("send attempt failed",
			logx.Int64("chat_id", to.ChatID), logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts), logx.Err(err))

		if kit.IsPermanent(err) {
			s.log.Warn("destination unreachable; not retrying", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			break
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		t := time.NewTimer(max(retryDelay(cfg, attempt), kit.RetryAfter(err)))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			break retry
		}
	}

	err := fmt.Errorf("send to %d after %d attempt(s): %w", to.ChatID, attempts, lastErr)
	s.record(to, text, attempts, err)
	return err
}

func (s *Service) record(to kit.ChatTarget, text string, attempts int, err error) {
	now := time.Now()
	item := HistoryItem{At: now, ChatID: to.ChatID, Text: text, Attempts: attempts}
	ev := DeliveryEvent{ChatID: to.ChatID, ThreadID: to.ThreadID, Attempts: attempts, At: now}
	typ := eventbus.NotifierSent
	if err != nil {
		item.Error = err.Error()
		ev.Error = err.Error()
		typ = eventbus.NotifierFailed
	}

	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()

	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	return min(d, cfg.RetryMaxDelay)
}
