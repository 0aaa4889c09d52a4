//go:build linux

package condvar

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// x/sys/unix only exports the futex syscall numbers, not the operation codes,
// so the two ops used here are spelled out. These are the plain shared
// variants on purpose, the word may be mapped into several address spaces.
const (
	futexOpWait = 0
	futexOpWake = 1
)

// futexWait blocks while *addr == expect. Returns with no error on wake and
// with EAGAIN, EINTR or ETIMEDOUT otherwise, callers are expected to re-check
// the word in a loop either way.
func futexWait(addr *uint32, expect uint32, ts *unix.Timespec) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWait),
		uintptr(expect),
		uintptr(unsafe.Pointer(ts)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// futexWaitTimeout is futexWait bounded by a relative timeout.
func futexWaitTimeout(addr *uint32, expect uint32, d time.Duration) error {
	ts := unix.NsecToTimespec(d.Nanoseconds())
	return futexWait(addr, expect, &ts)
}

// futexWake wakes up to n threads blocked on addr, across all processes that
// mapped the word.
func futexWake(addr *uint32, n int) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexOpWake),
		uintptr(n),
		0, 0, 0,
	)
}
