package countdown

import (
	"sync"
	"time"

	"storefront-checkout/internal/common/enum"
)

const DefaultTick = time.Second

// Windows overrides the per-family default payment windows used when the
// gateway does not return an explicit deadline. Zero fields fall back to
// enum.PaymentFamilyEnum.DefaultWindow.
type Windows struct {
	Push   time.Duration
	Poll   time.Duration
	Manual time.Duration
}

func (w Windows) For(family enum.PaymentFamilyEnum) time.Duration {
	var d time.Duration
	switch family {
	case enum.PUSH:
		d = w.Push
	case enum.POLL:
		d = w.Poll
	case enum.MANUAL:
		d = w.Manual
	}
	if d <= 0 {
		d = family.DefaultWindow()
	}
	return d
}

// Deadline resolves the absolute deadline of a transaction created at
// createdAt: the explicit expiresAt when present, the family window otherwise.
func Deadline(expiresAt *time.Time, family enum.PaymentFamilyEnum, createdAt time.Time, windows Windows) time.Time {
	if expiresAt != nil && !expiresAt.IsZero() {
		return *expiresAt
	}
	return createdAt.Add(windows.For(family))
}

// Timer counts down to a deadline. It emits the remaining time on Ticks once
// per tick and closes Expired exactly once when the deadline passes. After
// Dispose returns nothing is emitted and Expired is never closed.
type Timer struct {
	deadline time.Time
	tick     time.Duration

	ticks   chan time.Duration
	expired chan struct{}
	stop    chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	disposed bool
	fired    bool
	last     time.Duration
}

type Option func(*Timer)

// WithTick changes the tick interval. Tests use sub-second ticks.
func WithTick(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.tick = d
		}
	}
}

// New starts a timer. A deadline that already passed fires before New returns.
func New(deadline time.Time, opts ...Option) *Timer {
	t := &Timer{
		deadline: deadline,
		tick:     DefaultTick,
		ticks:    make(chan time.Duration, 1),
		expired:  make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.last = time.Until(deadline)

	if t.last <= 0 {
		t.last = 0
		t.fire()
		close(t.done)
		return t
	}

	go t.run()
	return t
}

func (t *Timer) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	deadline := time.NewTimer(time.Until(t.deadline))
	defer deadline.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-deadline.C:
			t.fire()
			return
		case <-ticker.C:
			remaining := time.Until(t.deadline)
			if remaining <= 0 {
				t.fire()
				return
			}
			t.emit(remaining)
		}
	}
}

func (t *Timer) emit(remaining time.Duration) {
	t.mu.Lock()
	if t.disposed || t.fired {
		t.mu.Unlock()
		return
	}
	if remaining > t.last {
		remaining = t.last
	}
	t.last = remaining
	t.mu.Unlock()

	// keep only the freshest value for slow readers
	select {
	case <-t.ticks:
	default:
	}
	select {
	case t.ticks <- remaining:
	default:
	}
}

func (t *Timer) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed || t.fired {
		return
	}
	t.fired = true
	t.last = 0
	select {
	case <-t.ticks:
	default:
	}
	close(t.expired)
}

// Ticks delivers the remaining time once per tick.
func (t *Timer) Ticks() <-chan time.Duration {
	return t.ticks
}

// Expired is closed when the deadline passes.
func (t *Timer) Expired() <-chan struct{} {
	return t.expired
}

func (t *Timer) Deadline() time.Time {
	return t.deadline
}

// Remaining is the last observed remaining time, never increasing.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return 0
	}
	if r := time.Until(t.deadline); r < t.last {
		if r < 0 {
			r = 0
		}
		t.last = r
	}
	return t.last
}

// HasFired reports whether the expiry event was delivered.
func (t *Timer) HasFired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Dispose stops the timer. It is idempotent and waits for the internal
// goroutine to exit.
func (t *Timer) Dispose() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		<-t.done
		return
	}
	t.disposed = true
	t.mu.Unlock()

	select {
	case <-t.done:
	default:
		close(t.stop)
	}
	<-t.done
}
