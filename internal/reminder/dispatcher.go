package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"notificationbot/internal/eventbus"
	logx "notificationbot/pkg/logx"
)

const defaultSendTimeout = 30 * time.Second

// TickReport summarizes one pass over the registry.
type TickReport struct {
	Scanned int `json:"scanned"`
	Due     int `json:"due"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Dispatcher fires due reminders once per tick.
//
// One goroutine owns the ticker, so ticks never overlap: a slow tick delays
// the next one. Fires run on a context detached from the loop, so Stop waits
// for an in-flight send instead of cutting it off.
type Dispatcher struct {
	reg         *Registry
	clock       clock.Clock
	tick        time.Duration
	workers     int
	sendTimeout time.Duration
	log         logx.Logger
	bus         eventbus.Bus

	mu       sync.Mutex
	cancel   context.CancelFunc // nil while idle
	done     chan struct{}      // open until the newest loop goroutine exits
	launcher Launcher

	// tickMu serializes Tick, including a tick still draining after a Stop
	// that timed out.
	tickMu sync.Mutex

	ticks atomic.Uint64
	last  atomic.Pointer[TickReport]
}

type DispatcherOption func(*Dispatcher)

// Launcher runs a named goroutine. *supervisor.Supervisor satisfies it.
type Launcher interface {
	Go0(name string, fn func(ctx context.Context))
}

type goLauncher struct{}

func (goLauncher) Go0(_ string, fn func(ctx context.Context)) { go fn(context.Background()) }

func WithLogger(log logx.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

func WithBus(b eventbus.Bus) DispatcherOption {
	return func(d *Dispatcher) {
		if b != nil {
			d.bus = b
		}
	}
}

// WithWorkers bounds how many reminders fire concurrently inside one tick.
// 1 fires sequentially.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

// NewDispatcher uses the registry's clock and tick.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:         reg,
		clock:       reg.Clock(),
		tick:        reg.Tick(),
		workers:     1,
		sendTimeout: defaultSendTimeout,
		log:         logx.Nop(),
		bus:         eventbus.Nop{},
		launcher:    goLauncher{},
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With(logx.String("comp", "reminder.dispatch"))
	return d
}

// SetLauncher makes later Starts run the loop through l, so it shows up in
// the owner's goroutine accounting. The loop still stops with Start's ctx.
func (d *Dispatcher) SetLauncher(l Launcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l == nil {
		l = goLauncher{}
	}
	d.launcher = l
}

// Start moves the loop from idle to running. It returns false when the loop
// is already running. The loop also stops when ctx is canceled.
//
// When a previous loop is still finishing a tick (its Stop timed out), the
// new loop waits for it before ticking.
func (d *Dispatcher) Start(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	prev := d.done
	done := make(chan struct{})
	// The ticker exists before Start returns so a mock clock advanced right
	// after Start is observed.
	ticker := d.clock.Ticker(d.tick)
	d.cancel = cancel
	d.done = done

	d.launcher.Go0("reminder.dispatch", func(context.Context) {
		defer close(done)
		defer d.exited(done)
		defer cancel()
		defer ticker.Stop()
		if prev != nil {
			select {
			case <-prev:
			case <-loopCtx.Done():
				return
			}
		}
		d.loop(loopCtx, ticker)
	})
	d.log.Info("dispatch loop started", logx.Duration("tick", d.tick), logx.Int("workers", d.workers))
	return true
}

// exited returns the dispatcher to idle when the loop that owns done ends on
// its own, e.g. because Start's ctx was canceled.
func (d *Dispatcher) exited(done chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == done {
		d.cancel, d.done = nil, nil
	}
}

// Stop moves the loop back to idle and waits for the current tick to finish
// or ctx to end. It returns false when the loop was not running.
func (d *Dispatcher) Stop(ctx context.Context) bool {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil // done stays until the goroutine exits
	d.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	select {
	case <-done:
		d.log.Info("dispatch loop stopped", logx.Uint64("ticks", d.ticks.Load()))
	case <-ctx.Done():
		d.log.Warn("dispatch loop stop timed out; tick still draining", logx.Err(ctx.Err()))
	}
	return true
}

func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Ticks returns how many ticks have completed.
func (d *Dispatcher) Ticks() uint64 { return d.ticks.Load() }

// LastReport returns the report of the most recent tick.
func (d *Dispatcher) LastReport() TickReport {
	if p := d.last.Load(); p != nil {
		return *p
	}
	return TickReport{}
}

func (d *Dispatcher) loop(ctx context.Context, ticker *clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one pass: snapshot the registry, evaluate every reminder and fire
// the due ones. Failures are logged per reminder and never abort the pass.
// Once ctx is canceled no new fires start; fires already started finish.
func (d *Dispatcher) Tick(ctx context.Context) TickReport {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	now := d.clock.Now()
	snap := d.reg.Snapshot()

	var (
		rep    = TickReport{Scanned: len(snap)}
		sent   atomic.Int64
		failed atomic.Int64
	)
	g := new(errgroup.Group)
	g.SetLimit(d.workers)

	for _, r := range snap {
		if ctx.Err() != nil {
			break
		}
		if !r.Due(now) {
			continue
		}
		rep.Due++
		g.Go(func() error {
			// Queued behind the worker limit while Stop canceled the tick.
			if ctx.Err() != nil {
				return nil
			}
			switch ok, err := d.fire(ctx, r); {
			case err != nil:
				failed.Add(1)
			case ok:
				sent.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Sent = int(sent.Load())
	rep.Failed = int(failed.Load())
	d.ticks.Add(1)
	d.last.Store(&rep)
	if rep.Due > 0 {
		d.log.Debug("tick",
			logx.Int("scanned", rep.Scanned), logx.Int("due", rep.Due),
			logx.Int("sent", rep.Sent), logx.Int("failed", rep.Failed))
	}
	return rep
}

func (d *Dispatcher) fire(ctx context.Context, r *Reminder) (ok bool, err error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()

	start := d.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("panic during fire")
			d.log.Error("reminder fire panicked", logx.String("key", r.Key()), logx.Any("panic", p))
			d.publish(eventbus.ReminderFailed, r, err)
		}
	}()

	ok, err = r.Fire(fctx)
	if err != nil {
		d.log.Warn("reminder delivery failed",
			logx.String("key", r.Key()),
			logx.Int64("chat_id", r.Destination().ChatID),
			logx.Err(err))
		d.publish(eventbus.ReminderFailed, r, err)
		return ok, err
	}
	if ok {
		d.log.Info("reminder sent",
			logx.String("key", r.Key()),
			logx.Duration("took", d.clock.Since(start)))
		d.publish(eventbus.ReminderSent, r, nil)
	}
	return ok, nil
}

// FireEvent is the Data payload of reminder.sent and reminder.failed.
type FireEvent struct {
	Key    string `json:"key"`
	ChatID int64  `json:"chat_id"`
	Error  string `json:"error,omitempty"`
}

func (d *Dispatcher) publish(typ string, r *Reminder, err error) {
	ev := FireEvent{Key: r.Key(), ChatID: r.Destination().ChatID}
	if err != nil {
		ev.Error = err.Error()
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: d.clock.Now(), Data: ev})
}
