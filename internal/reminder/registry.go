package reminder

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/benbjohnson/clock"

	"notificationbot/internal/transport"
)

const maxKeyLen = 64

// Registry maps keys to reminders and remembers insertion order.
//
// mu guards only the map and the order slice. It is never held while a
// reminder field lock is taken or a notifier call is in flight.
type Registry struct {
	notifier Notifier
	clock    clock.Clock
	tick     time.Duration

	mu    sync.RWMutex
	items map[string]*Reminder
	order []string
}

type RegistryOption func(*Registry)

// WithClock replaces the wall clock. Tests pass clock.NewMock().
func WithClock(c clock.Clock) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithTick sets the tick every reminder interval must exceed.
func WithTick(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.tick = d
		}
	}
}

func NewRegistry(n Notifier, opts ...RegistryOption) *Registry {
	r := &Registry{
		notifier: n,
		clock:    clock.New(),
		tick:     DefaultTick,
		items:    map[string]*Reminder{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Clock() clock.Clock  { return r.clock }
func (r *Registry) Tick() time.Duration { return r.tick }

// CreateOptions seeds a new reminder. Zero values leave fields unset.
type CreateOptions struct {
	Text     string
	Link     string
	Interval Interval
}

// Create inserts a stopped reminder. The existence check and the insert are
// one critical section, so two racing creates for the same key yield exactly
// one success and one ErrDuplicateKey.
func (r *Registry) Create(key string, dest transport.ChatTarget, opts CreateOptions) (*Reminder, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	rem := newReminder(key, dest, r.notifier, r.clock, r.tick)
	rem.text = opts.Text
	rem.link = opts.Link
	rem.interval = opts.Interval

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	r.items[key] = rem
	r.order = append(r.order, key)
	return rem, nil
}

// Delete removes key. A dispatch already holding the reminder finishes its
// send; later ticks no longer see it.
func (r *Registry) Delete(key string) error {
	r.mu.Lock()
	rem, ok := r.items[key]
	if ok {
		delete(r.items, key)
		for i, k := range r.order {
			if k == key {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	rem.removed.Store(true)
	return nil
}

func (r *Registry) Lookup(key string) (*Reminder, error) {
	r.mu.RLock()
	rem, ok := r.items[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return rem, nil
}

// Snapshot returns the reminders in insertion order. The slice is a copy;
// the reminders are shared.
func (r *Registry) Snapshot() []*Reminder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Reminder, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.items[k])
	}
	return out
}

func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// ValidateKey accepts 1..64 printable characters without whitespace.
// Length counts runes, not bytes.
func ValidateKey(key string) error {
	if key == "" || utf8.RuneCountInString(key) > maxKeyLen {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.IndexFunc(key, func(c rune) bool {
		return unicode.IsSpace(c) || !unicode.IsPrint(c)
	}) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
