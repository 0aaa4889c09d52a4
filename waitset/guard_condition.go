package waitset

var _ Condition = &GuardCondition{}

// GuardCondition is a synthetic Condition with no event source behind it. Its
// only purpose is forcing a blocked wait call to return, typically on shutdown
// or reconfiguration. Every WaitSet keeps one in a reserved registry slot.
type GuardCondition struct {
	TriggerCondition
}

func NewGuardCondition() *GuardCondition {
	return &GuardCondition{}
}
