// Package waitset multiplexes many independently signaled event sources over a
// single process-shared wakeup primitive. Endpoint owners (e.g. subscribers)
// expose a Condition, a wait set registers conditions in a bounded arena and
// blocks until at least one of them latched a trigger.
package waitset

import "waitmux/condvar"

// Condition is an attachable, pollable event source. Attach and Detach follow
// an exactly once policy: a condition can be bound to at most one
// condvar.Data at a time and both calls report failure instead of mutating
// anything when the policy is violated.
//
// HasTrigger is a side effect free read of the level triggered latch. The
// latch is owned by the condition's endpoint; consuming the event and clearing
// the latch is the owner's business, never the wait set's.
type Condition interface {
	IsAttached() bool
	Attach(data *condvar.Data) bool
	Detach() bool
	HasTrigger() bool
}
