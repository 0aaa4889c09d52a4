//go:build linux

// Package condvar implements a process-shared wakeup primitive. Data is a flat,
// pointer-free block that can live in ordinary memory or in a MAP_SHARED mapping,
// so independent processes can signal and wait on the same instance. The wake
// flag is level style: a notify posted before anyone waits is remembered and
// consumed by the next wait, multiple notifies coalesce into one pending wake.
//
// Blocking is done with futex syscalls, hence the package is linux only.
package condvar

import (
	"errors"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	wakeNone    uint32 = 0
	wakePending uint32 = 1
)

// DataSize is the number of bytes a Data occupies. Callers placing a Data in a
// shared segment must provide at least this many bytes.
const DataSize = int(unsafe.Sizeof(Data{}))

var ErrBadPlacement = errors.New("memory block is too small or not 4 byte aligned")

// Data is the shared synchronization block. Its zero value is ready to use,
// which matters because fresh shared mappings are zero filled. It must not be
// copied after first use.
type Data struct {
	// word is the futex word. wakePending means a posted wake was not consumed
	// yet. Accessed only through atomics.
	word uint32
	_    [60]byte // keep instances on distinct cache lines inside a segment
}

// PlaceData overlays a Data on the given memory block, typically bytes of a
// shared memory segment. The block is used as is and is not zeroed, a freshly
// created segment is already in the correct initial state.
func PlaceData(b []byte) (*Data, error) {
	if len(b) < DataSize {
		return nil, ErrBadPlacement
	}
	if uintptr(unsafe.Pointer(&b[0]))%unsafe.Alignof(uint32(0)) != 0 {
		return nil, ErrBadPlacement
	}

	return (*Data)(unsafe.Pointer(&b[0])), nil
}

// Signaler is the notify facade over a Data. It is cheap to construct and safe
// to use concurrently from any thread or process mapping the same Data.
type Signaler struct {
	data *Data
}

func NewSignaler(data *Data) Signaler {
	return Signaler{data: data}
}

// NotifyOne posts a single wake. If a waiter is blocked it is woken, otherwise
// the wake stays pending so a wait that starts later still observes it. Posting
// while a wake is already pending is a no-op, notifies coalesce.
func (s Signaler) NotifyOne() {
	// The transition to pending is the only moment a waiter can be asleep, so
	// waking only on a successful swap is enough. A failed swap means the flag
	// is already pending and no waiter can block before consuming it.
	if atomic.CompareAndSwapUint32(&s.data.word, wakeNone, wakePending) {
		futexWake(&s.data.word, 1)
	}
}

// Waiter is the blocking facade over a Data.
type Waiter struct {
	data *Data
}

func NewWaiter(data *Data) Waiter {
	return Waiter{data: data}
}

// consume takes a pending wake if there is one.
func (w Waiter) consume() bool {
	return atomic.CompareAndSwapUint32(&w.data.word, wakePending, wakeNone)
}

// Poll consumes a pending wake without ever blocking. It returns true when a
// wake was pending and is now consumed.
func (w Waiter) Poll() bool {
	return w.consume()
}

// Wait blocks the calling thread until a wake is consumed. A wake posted
// before the call returns immediately. The block is futex based, there is no
// spinning while idle.
func (w Waiter) Wait() {
	for {
		if w.consume() {
			return
		}

		// If a notify lands between consume and here the word is non zero and
		// the kernel refuses to sleep, which is exactly the no-lost-wakeup
		// guarantee. EINTR and EAGAIN both just mean "check the flag again".
		futexWait(&w.data.word, wakeNone, nil)
	}
}

// WaitUntil behaves like Wait but gives up at the absolute deadline. It
// returns true when a wake was consumed and false on deadline expiry.
func (w Waiter) WaitUntil(deadline time.Time) bool {
	for {
		if w.consume() {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			// one last chance for a notify that raced the deadline
			return w.consume()
		}

		futexWaitTimeout(&w.data.word, wakeNone, remaining)
	}
}

// Reset drops an already posted but unconsumed wake so a new cycle starts
// clean. It must not be called while another thread is waiting on the Data.
func (w Waiter) Reset() {
	atomic.StoreUint32(&w.data.word, wakeNone)
}
