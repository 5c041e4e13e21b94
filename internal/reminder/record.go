package reminder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"notificationbot/internal/transport"
)

// Notifier delivers a composed reminder message to a destination.
type Notifier interface {
	Send(ctx context.Context, to transport.ChatTarget, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, to transport.ChatTarget, text string) error

func (f NotifierFunc) Send(ctx context.Context, to transport.ChatTarget, text string) error {
	return f(ctx, to, text)
}

// Reminder is one named recurring message.
//
// Every mutable field has its own lock so a command editing the link never
// waits on a dispatch reading the text. No method holds more than one field
// lock at a time and none holds a lock across the notifier call.
type Reminder struct {
	key      string
	clock    clock.Clock
	notifier Notifier
	tick     time.Duration

	textMu sync.Mutex
	text   string

	linkMu sync.Mutex
	link   string

	intervalMu sync.Mutex
	interval   Interval

	runningMu sync.Mutex
	running   bool

	firedMu   sync.Mutex
	lastFired time.Time

	destMu sync.Mutex
	dest   transport.ChatTarget

	removed atomic.Bool
}

func newReminder(key string, dest transport.ChatTarget, n Notifier, clk clock.Clock, tick time.Duration) *Reminder {
	return &Reminder{
		key:      key,
		dest:     dest,
		notifier: n,
		clock:    clk,
		tick:     tick,
	}
}

func (r *Reminder) Key() string { return r.key }

func (r *Reminder) Text() string {
	r.textMu.Lock()
	defer r.textMu.Unlock()
	return r.text
}

// SetText replaces the message. An empty string unsets it.
func (r *Reminder) SetText(text string) {
	r.textMu.Lock()
	r.text = text
	r.textMu.Unlock()
}

func (r *Reminder) Link() string {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	return r.link
}

func (r *Reminder) SetLink(link string) {
	r.linkMu.Lock()
	r.link = link
	r.linkMu.Unlock()
}

func (r *Reminder) Interval() Interval {
	r.intervalMu.Lock()
	defer r.intervalMu.Unlock()
	return r.interval
}

// SetInterval replaces the period. lastFired is kept, so a shorter interval
// can make the reminder due on the next tick.
func (r *Reminder) SetInterval(iv Interval) {
	r.intervalMu.Lock()
	r.interval = iv
	r.intervalMu.Unlock()
}

func (r *Reminder) Running() bool {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	return r.running
}

func (r *Reminder) SetRunning(running bool) {
	r.runningMu.Lock()
	r.running = running
	r.runningMu.Unlock()
}

// LastFired returns the time of the last dispatch attempt, zero if none.
func (r *Reminder) LastFired() time.Time {
	r.firedMu.Lock()
	defer r.firedMu.Unlock()
	return r.lastFired
}

func (r *Reminder) Destination() transport.ChatTarget {
	r.destMu.Lock()
	defer r.destMu.Unlock()
	return r.dest
}

func (r *Reminder) SetDestination(dest transport.ChatTarget) {
	r.destMu.Lock()
	r.dest = dest
	r.destMu.Unlock()
}

// Removed reports whether the reminder was deleted from its registry.
func (r *Reminder) Removed() bool { return r.removed.Load() }

// Dispatchable reports whether the reminder has everything it needs to be
// sent: text and an interval longer than the tick.
func (r *Reminder) Dispatchable() bool {
	return r.Text() != "" && r.Interval().Duration > r.tick
}

// Due reports whether the reminder should fire at now. Each field is read
// under its own lock, so the answer may be stale by the time Fire runs.
func (r *Reminder) Due(now time.Time) bool {
	if r.Removed() || !r.Running() || !r.Dispatchable() {
		return false
	}
	last := r.LastFired()
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= r.Interval().Duration
}

// NextDue returns when the reminder becomes due, zero when it never will in
// its current state.
func (r *Reminder) NextDue() time.Time {
	if !r.Running() || !r.Dispatchable() {
		return time.Time{}
	}
	last := r.LastFired()
	if last.IsZero() {
		return r.clock.Now()
	}
	return last.Add(r.Interval().Duration)
}

// Fire sends the reminder once. It returns false without touching lastFired
// when no text is set.
//
// lastFired is stamped before delivery, so a failed send still waits a full
// interval before the next attempt.
func (r *Reminder) Fire(ctx context.Context) (bool, error) {
	text := r.Text()
	if text == "" {
		return false, nil
	}
	msg := text + "\n" + r.Link()

	r.stamp(r.clock.Now())

	dest := r.Destination()
	if err := r.notifier.Send(ctx, dest, msg); err != nil {
		return true, fmt.Errorf("reminder %q: %w: %w", r.key, ErrDeliveryFailed, err)
	}
	return true, nil
}

func (r *Reminder) stamp(now time.Time) {
	r.firedMu.Lock()
	if now.After(r.lastFired) {
		r.lastFired = now
	}
	r.firedMu.Unlock()
}
