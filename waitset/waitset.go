package waitset

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"waitmux/condvar"
)

// DefaultCapacity is the registry size used by callers that have no reason to
// pick their own. One of the slots is always the guard's.
const DefaultCapacity = 128

// WaitSet multiplexes conditions over one shared condvar.Data bound at
// construction for the wait set's entire life. The registry is a fixed
// capacity, attach ordered arena: no growth, O(capacity) scans, which is fine
// because capacity is small and bounded by design.
//
// One registry slot is permanently reserved for an internal guard condition,
// so capacity-1 conditions are attachable externally. Notifying the guard via
// Interrupt is the only supported way to make an idle Wait return.
//
// AttachCondition, DetachCondition and Clear assume a single writer per wait
// set and never block. Wait and TimedWait are the only suspending operations
// and are safe against concurrent notifies from other threads and processes.
type WaitSet struct {
	data     *condvar.Data
	waiter   condvar.Waiter
	capacity int
	// conds holds the externally attached conditions in attach order. The
	// guard lives outside the slice but consumes one capacity slot.
	conds []Condition
	guard *GuardCondition

	logger  zerolog.Logger
	metrics *Metrics
}

// NewWaitSet creates a wait set bound to data with the given total registry
// capacity. Capacity below two could never attach anything beside the guard
// and is a programmer error.
func NewWaitSet(data *condvar.Data, capacity int) *WaitSet {
	return NewWaitSetWithObservers(data, capacity, zerolog.Nop(), nil)
}

// NewWaitSetWithObservers is NewWaitSet with a logger and optional metrics.
func NewWaitSetWithObservers(data *condvar.Data, capacity int, logger zerolog.Logger, m *Metrics) *WaitSet {
	if capacity < 2 {
		panic(fmt.Sprintf("waitset capacity must be at least 2, got: %v", capacity))
	}

	w := &WaitSet{
		data:     data,
		waiter:   condvar.NewWaiter(data),
		capacity: capacity,
		conds:    make([]Condition, 0, capacity-1),
		guard:    NewGuardCondition(),
		logger:   logger,
		metrics:  m,
	}
	if !w.guard.Attach(data) {
		panic("freshly created guard condition could not be attached")
	}

	return w
}

// Capacity returns the total registry capacity including the guard slot.
func (w *WaitSet) Capacity() int {
	return w.capacity
}

// Size returns the number of externally attached conditions.
func (w *WaitSet) Size() int {
	return len(w.conds)
}

// AttachCondition inserts c into the registry and binds it to the wait set's
// shared data. It fails without mutating anything when the registry is full,
// when c is already present, or when c is attached elsewhere.
func (w *WaitSet) AttachCondition(c Condition) bool {
	if len(w.conds) >= w.capacity-1 {
		w.logger.Debug().Int("capacity", w.capacity).Msg("attach rejected, registry is full")
		w.countRejected()
		return false
	}
	if w.indexOf(c) >= 0 {
		w.logger.Debug().Msg("attach rejected, condition already attached to this wait set")
		w.countRejected()
		return false
	}
	if !c.Attach(w.data) {
		w.logger.Debug().Msg("attach rejected, condition is attached elsewhere")
		w.countRejected()
		return false
	}

	w.conds = append(w.conds, c)
	if w.metrics != nil {
		w.metrics.Attached.Set(float64(len(w.conds)))
	}
	return true
}

// DetachCondition removes c from the registry. Fails when c is not present.
func (w *WaitSet) DetachCondition(c Condition) bool {
	idx := w.indexOf(c)
	if idx < 0 {
		return false
	}

	c.Detach()
	// keep attach order of the remaining conditions intact
	w.conds = append(w.conds[:idx], w.conds[idx+1:]...)
	if w.metrics != nil {
		w.metrics.Attached.Set(float64(len(w.conds)))
	}
	return true
}

// Clear detaches every currently attached condition. The conditions and the
// shared data stay alive, the guard stays attached.
func (w *WaitSet) Clear() {
	for _, c := range w.conds {
		c.Detach()
	}
	w.conds = w.conds[:0]
	if w.metrics != nil {
		w.metrics.Attached.Set(0)
	}
}

// Interrupt notifies the internal guard condition, forcing a blocked Wait or
// TimedWait to return. The resulting fulfilled set is empty unless other
// conditions latched in the meantime.
func (w *WaitSet) Interrupt() {
	if w.metrics != nil {
		w.metrics.Interrupts.Inc()
	}
	w.guard.Notify()
}

// Wait blocks until at least one attached condition has a latched trigger and
// returns all of them in attach order. A guard interrupt ends the wait with an
// empty result.
func (w *WaitSet) Wait() []Condition {
	return w.waitLoop(time.Time{})
}

// TimedWait is Wait bounded by a deadline computed once at entry, so internal
// wake and rescan cycles cannot stretch the overall wait. A non positive
// duration degenerates to a single non blocking poll. Expiry yields an empty
// result, not an error.
func (w *WaitSet) TimedWait(d time.Duration) []Condition {
	if d <= 0 {
		return w.fulfilled()
	}

	return w.waitLoop(time.Now().Add(d))
}

// waitLoop is the scan/block/rescan cycle shared by Wait and TimedWait. A zero
// deadline means no deadline. Rescanning the whole registry on every wake is
// deliberate: the shared wake carries no identity, and a full rescan coalesces
// every trigger latched before or during the block into one multi element
// result instead of one wakeup per notify.
func (w *WaitSet) waitLoop(deadline time.Time) []Condition {
	woken := false
	for {
		if fulfilled := w.fulfilled(); len(fulfilled) > 0 {
			// A notify racing this rescan has already latched its trigger by
			// the time its wake is observable, so draining every pending wake
			// and rescanning folds such stragglers into this result instead of
			// delivering them as a separate follow-up wakeup.
			for w.waiter.Poll() {
				fulfilled = w.fulfilled()
			}
			return fulfilled
		}
		if w.guard.HasTrigger() {
			// the guard is waitset owned, so consuming its trigger here keeps
			// the next wait cycle clean
			w.guard.ClearTrigger()
			w.logger.Debug().Msg("wait interrupted by guard condition")
			return []Condition{}
		}
		if woken && w.metrics != nil {
			w.metrics.EmptyWakeups.Inc()
		}

		if deadline.IsZero() {
			w.waiter.Wait()
		} else if !w.waiter.WaitUntil(deadline) {
			if w.metrics != nil {
				w.metrics.Timeouts.Inc()
			}
			// a notify can still have latched a trigger in the very last
			// moment, report it instead of dropping it
			return w.fulfilled()
		}

		woken = true
		if w.metrics != nil {
			w.metrics.Wakeups.Inc()
		}
	}
}

// fulfilled snapshots the attached conditions whose trigger is latched right
// now, in attach order.
func (w *WaitSet) fulfilled() []Condition {
	fulfilled := make([]Condition, 0, len(w.conds))
	for _, c := range w.conds {
		if c.HasTrigger() {
			fulfilled = append(fulfilled, c)
		}
	}

	return fulfilled
}

func (w *WaitSet) indexOf(c Condition) int {
	for i, attached := range w.conds {
		if attached == c {
			return i
		}
	}

	return -1
}

func (w *WaitSet) countRejected() {
	if w.metrics != nil {
		w.metrics.RejectedAttaches.Inc()
	}
}
