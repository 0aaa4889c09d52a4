package waitset

import (
	"time"

	"waitmux/ptimer"
)

var _ Condition = &TimerCondition{}

// TimerCondition is a Condition whose trigger source is a ptimer.Timer: every
// expiry latches the trigger and wakes the wait set. Deadline driven work can
// this way be multiplexed together with message driven conditions in one Wait
// call.
type TimerCondition struct {
	TriggerCondition
	timer *ptimer.Timer
}

func NewTimerCondition() *TimerCondition {
	tc := &TimerCondition{}
	tc.timer = ptimer.New(tc.Notify)
	return tc
}

// Arm schedules a single trigger after delay.
func (c *TimerCondition) Arm(delay time.Duration) error {
	return c.timer.Arm(delay)
}

// ArmPeriodic schedules a trigger after delay and then every interval.
func (c *TimerCondition) ArmPeriodic(delay, interval time.Duration) error {
	return c.timer.ArmPeriodic(delay, interval)
}

// Disarm stops future triggers, an already latched one stays observable until
// cleared.
func (c *TimerCondition) Disarm() error {
	return c.timer.Disarm()
}

func (c *TimerCondition) Remaining() time.Duration {
	return c.timer.Remaining()
}

func (c *TimerCondition) Overruns() int {
	return c.timer.Overruns()
}

// Close releases the backing timer. The condition must be detached first.
func (c *TimerCondition) Close() {
	c.timer.Close()
}
