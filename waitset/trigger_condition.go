package waitset

import (
	"sync/atomic"

	"waitmux/condvar"
)

var _ Condition = &TriggerCondition{}

// TriggerCondition is the data bearing Condition variant. The owning endpoint
// calls Notify whenever its internal event state changes (a message arrived, a
// queue became non empty, ...) and ClearTrigger once the event is consumed.
//
// Attach and Detach are meant for the wait set side and assume a single
// writer. Notify and HasTrigger are safe from any goroutine concurrently with
// a wait in progress.
type TriggerCondition struct {
	attached atomic.Bool
	latch    atomic.Bool
	// data is the shared block wakes are posted to, nil while detached. Read
	// by Notify from the owner's thread, hence the atomic pointer.
	data atomic.Pointer[condvar.Data]
}

func NewTriggerCondition() *TriggerCondition {
	return &TriggerCondition{}
}

func (c *TriggerCondition) IsAttached() bool {
	return c.attached.Load()
}

func (c *TriggerCondition) Attach(data *condvar.Data) bool {
	if c.attached.Load() {
		return false
	}

	c.data.Store(data)
	c.attached.Store(true)
	return true
}

func (c *TriggerCondition) Detach() bool {
	if !c.attached.Load() {
		return false
	}

	c.attached.Store(false)
	c.data.Store(nil)
	return true
}

func (c *TriggerCondition) HasTrigger() bool {
	return c.latch.Load()
}

// Notify latches the trigger and posts a wake on the attached shared block.
// The latch is set first so a waiter woken by the signal always observes it.
// Notifying a detached condition just latches, there is nobody to wake.
func (c *TriggerCondition) Notify() {
	c.latch.Store(true)
	if data := c.data.Load(); data != nil {
		condvar.NewSignaler(data).NotifyOne()
	}
}

// ClearTrigger resets the latch. Only the owning endpoint should call it.
func (c *TriggerCondition) ClearTrigger() {
	c.latch.Store(false)
}
