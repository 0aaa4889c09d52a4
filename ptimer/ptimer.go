// Package ptimer emulates POSIX per-timer semantics on top of a dedicated
// goroutine: a timer is armed one shot or periodic, invokes its callback on
// expiry and counts overruns. Consumers that want to multiplex expiries attach
// a timer backed condition to a wait set instead of handling the callback
// directly.
package ptimer

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"waitmux/errcode"
)

const (
	// ModuleID identifies this package in the errcode space.
	ModuleID errcode.ModuleID = 3

	CodeClosedTimer     errcode.Code = 1
	CodeCallbackPanic   errcode.Code = 2
	CodeInvalidInterval errcode.Code = 3
)

var (
	ErrClosedTimer     = errcode.New(ModuleID, CodeClosedTimer, "operation on a closed timer")
	ErrCallbackPanic   = errcode.New(ModuleID, CodeCallbackPanic, "timer callback panicked")
	ErrInvalidInterval = errcode.New(ModuleID, CodeInvalidInterval, "periodic interval must be positive")
)

func init() {
	errcode.Register(ModuleID, "ptimer")
}

// Callback runs on the timer's own goroutine. It must not block for longer
// than the timer period or expirations will be counted as overruns.
type Callback func()

// Timer fires a callback once or periodically. The zero value is not usable,
// construct with New. A disarmed timer parks its goroutine without spinning.
type Timer struct {
	mu       sync.Mutex
	armed    bool
	periodic bool
	next     time.Time // deadline of the pending expiration, valid while armed
	interval time.Duration
	overruns int
	closed   bool

	callback Callback
	reporter errcode.Reporter

	// kick wakes the run loop after any settings change, capacity one so a
	// disarmed loop never blocks the caller.
	kick chan struct{}
	done chan struct{}
}

func New(cb Callback) *Timer {
	return NewWithReporter(cb, errcode.NewReporter(zerolog.Nop()))
}

// NewWithReporter is New with an explicit sink for callback panics.
func NewWithReporter(cb Callback, reporter errcode.Reporter) *Timer {
	t := &Timer{
		callback: cb,
		reporter: reporter,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go t.run()
	return t
}

// Arm schedules a single expiration delay from now. Re-arming an armed timer
// replaces the previous schedule.
func (t *Timer) Arm(delay time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosedTimer
	}

	t.armed = true
	t.periodic = false
	t.next = time.Now().Add(delay)
	t.overruns = 0
	t.poke()
	return nil
}

// ArmPeriodic schedules the first expiration delay from now and every interval
// after that.
func (t *Timer) ArmPeriodic(delay, interval time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosedTimer
	}
	if interval <= 0 {
		return ErrInvalidInterval
	}

	t.armed = true
	t.periodic = true
	t.next = time.Now().Add(delay)
	t.interval = interval
	t.overruns = 0
	t.poke()
	return nil
}

// Disarm stops future expirations. A callback already in flight finishes.
func (t *Timer) Disarm() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosedTimer
	}

	t.armed = false
	t.poke()
	return nil
}

// Remaining returns the time until the next expiration, zero when disarmed.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return 0
	}
	if d := time.Until(t.next); d > 0 {
		return d
	}
	return 0
}

// Overruns returns the number of expirations that were skipped because the
// callback was still running when they came due, like timer_getoverrun.
func (t *Timer) Overruns() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.overruns
}

// Close stops the timer goroutine and waits for it to exit. The timer cannot
// be used afterwards.
func (t *Timer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.armed = false
	t.poke()
	t.mu.Unlock()

	<-t.done
}

// poke wakes the run loop, caller holds t.mu.
func (t *Timer) poke() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Timer) run() {
	defer close(t.done)

	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		if !t.armed {
			t.mu.Unlock()
			<-t.kick
			continue
		}
		deadline := t.next
		t.mu.Unlock()

		if d := time.Until(deadline); d > 0 {
			expiry := time.NewTimer(d)
			select {
			case <-t.kick:
				expiry.Stop()
				continue
			case <-expiry.C:
			}
		}

		t.mu.Lock()
		// settings may have changed while sleeping, re-validate before firing
		if t.closed || !t.armed || !t.next.Equal(deadline) {
			t.mu.Unlock()
			continue
		}
		if t.periodic {
			t.next = t.next.Add(t.interval)
		} else {
			t.armed = false
		}
		cb := t.callback
		t.mu.Unlock()

		t.invoke(cb)

		// expirations that came due while the callback ran are folded into the
		// overrun count instead of being fired back to back
		t.mu.Lock()
		if t.armed && t.periodic {
			now := time.Now()
			for !t.next.After(now) {
				t.overruns++
				t.next = t.next.Add(t.interval)
			}
		}
		t.mu.Unlock()
	}
}

func (t *Timer) invoke(cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			t.reporter.Report(fmt.Errorf("%w: %v", ErrCallbackPanic, r))
		}
	}()

	cb()
}
