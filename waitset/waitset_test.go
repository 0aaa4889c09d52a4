package waitset

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waitmux/condvar"
)

const testCapacity = 8

func newTestWaitSet() *WaitSet {
	return NewWaitSet(&condvar.Data{}, testCapacity)
}

func newConditions(n int) []*TriggerCondition {
	conds := make([]*TriggerCondition, n)
	for i := range conds {
		conds[i] = NewTriggerCondition()
	}
	return conds
}

func TestWaitSet_Attach_Single_Condition(t *testing.T) {
	ws := newTestWaitSet()

	assert.True(t, ws.AttachCondition(NewTriggerCondition()))
	assert.Equal(t, 1, ws.Size())
}

func TestWaitSet_Attach_Same_Condition_Twice_Fails(t *testing.T) {
	ws := newTestWaitSet()
	c := NewTriggerCondition()

	require.True(t, ws.AttachCondition(c))
	assert.False(t, ws.AttachCondition(c))
	assert.Equal(t, 1, ws.Size())
}

func TestWaitSet_Attach_Up_To_Capacity_Minus_Guard_Slot(t *testing.T) {
	ws := newTestWaitSet()

	// one slot belongs to the internal guard condition
	for _, c := range newConditions(testCapacity - 1) {
		assert.True(t, ws.AttachCondition(c))
	}

	assert.False(t, ws.AttachCondition(NewTriggerCondition()))
	assert.Equal(t, testCapacity-1, ws.Size())
}

func TestWaitSet_Attach_Condition_Attached_Elsewhere_Fails(t *testing.T) {
	ws1 := newTestWaitSet()
	ws2 := newTestWaitSet()
	c := NewTriggerCondition()

	require.True(t, ws1.AttachCondition(c))
	assert.False(t, ws2.AttachCondition(c))
	assert.Equal(t, 0, ws2.Size())
}

func TestWaitSet_Detach_Condition(t *testing.T) {
	ws := newTestWaitSet()
	c := NewTriggerCondition()

	require.True(t, ws.AttachCondition(c))
	assert.True(t, ws.DetachCondition(c))
	assert.Equal(t, 0, ws.Size())
	assert.False(t, c.IsAttached())
}

func TestWaitSet_Detach_Never_Attached_Condition_Fails(t *testing.T) {
	ws := newTestWaitSet()

	assert.False(t, ws.DetachCondition(NewTriggerCondition()))
	assert.Equal(t, 0, ws.Size())
}

func TestWaitSet_Detach_Unknown_Condition_Fails(t *testing.T) {
	ws := newTestWaitSet()
	require.True(t, ws.AttachCondition(NewTriggerCondition()))

	assert.False(t, ws.DetachCondition(NewTriggerCondition()))
	assert.Equal(t, 1, ws.Size())
}

func TestWaitSet_Attach_Detach_Attach_Again(t *testing.T) {
	ws := newTestWaitSet()
	for _, c := range newConditions(3) {
		require.True(t, ws.AttachCondition(c))
	}
	before := ws.Size()

	c := NewTriggerCondition()
	assert.True(t, ws.AttachCondition(c))
	assert.True(t, ws.DetachCondition(c))
	assert.True(t, ws.AttachCondition(c))
	assert.Equal(t, before+1, ws.Size())
}

func TestWaitSet_Clear_Detaches_All(t *testing.T) {
	ws := newTestWaitSet()
	conds := newConditions(4)
	for _, c := range conds {
		require.True(t, ws.AttachCondition(c))
	}

	ws.Clear()

	assert.Equal(t, 0, ws.Size())
	for _, c := range conds {
		assert.False(t, c.IsAttached())
	}
}

func TestWaitSet_TimedWait_Zero_Duration_Is_A_Poll(t *testing.T) {
	ws := newTestWaitSet()

	start := time.Now()
	assert.Empty(t, ws.TimedWait(0))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitSet_TimedWait_Empty_Registry_Returns_Promptly(t *testing.T) {
	ws := newTestWaitSet()

	start := time.Now()
	assert.Empty(t, ws.TimedWait(time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitSet_TimedWait_Notify_Before_Wait_Returns_Immediately(t *testing.T) {
	ws := newTestWaitSet()
	c := NewTriggerCondition()
	require.True(t, ws.AttachCondition(c))

	c.Notify()

	start := time.Now()
	fulfilled := ws.TimedWait(10 * time.Second)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, fulfilled, 1)
	assert.Same(t, c, fulfilled[0])
}

func TestWaitSet_TimedWait_Timeout_Returns_Empty_Result(t *testing.T) {
	ws := newTestWaitSet()
	require.True(t, ws.AttachCondition(NewTriggerCondition()))

	assert.Empty(t, ws.TimedWait(10*time.Millisecond))
}

func TestWaitSet_Wait_Notify_While_Blocked(t *testing.T) {
	ws := newTestWaitSet()
	c := NewTriggerCondition()
	require.True(t, ws.AttachCondition(c))

	ready := make(chan struct{})
	done := make(chan []Condition)
	go func() {
		close(ready)
		done <- ws.Wait()
	}()

	// the notifier waits for the waiter's readiness signal before notifying,
	// so the notify-during-wait ordering is actually exercised
	<-ready
	time.Sleep(20 * time.Millisecond)
	c.Notify()

	select {
	case fulfilled := <-done:
		require.Len(t, fulfilled, 1)
		assert.Same(t, c, fulfilled[0])
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after notify")
	}
}

func TestWaitSet_Wait_Two_Notifies_Before_Wait_Coalesce(t *testing.T) {
	ws := newTestWaitSet()
	conds := newConditions(2)
	for _, c := range conds {
		require.True(t, ws.AttachCondition(c))
	}

	// two wakeup credits posted up front must still surface as one result
	conds[0].Notify()
	conds[1].Notify()

	fulfilled := ws.Wait()
	require.Len(t, fulfilled, 2)
	assert.Same(t, conds[0], fulfilled[0])
	assert.Same(t, conds[1], fulfilled[1])
}

func TestWaitSet_Wait_Two_Notifies_While_Blocked_Coalesce(t *testing.T) {
	ws := newTestWaitSet()
	conds := newConditions(2)
	for _, c := range conds {
		require.True(t, ws.AttachCondition(c))
	}

	// repeated rounds because the interesting interleaving is the second
	// notify landing while the woken waiter is already rescanning
	for round := 0; round < 25; round++ {
		ready := make(chan struct{})
		done := make(chan []Condition)
		go func() {
			close(ready)
			done <- ws.Wait()
		}()

		// the waiter signals readiness and gets a moment to actually block
		// before both notifies are posted back to back
		<-ready
		time.Sleep(5 * time.Millisecond)
		conds[0].Notify()
		conds[1].Notify()

		select {
		case fulfilled := <-done:
			require.Len(t, fulfilled, 2, "round %d", round)
		case <-time.After(5 * time.Second):
			t.Fatalf("round %d: wait did not return after notifies", round)
		}

		conds[0].ClearTrigger()
		conds[1].ClearTrigger()
	}
}

func TestWaitSet_Fulfilled_Set_Is_In_Attach_Order(t *testing.T) {
	ws := newTestWaitSet()
	conds := newConditions(3)
	for _, c := range conds {
		require.True(t, ws.AttachCondition(c))
	}

	// notified in reverse, reported in attach order
	conds[2].Notify()
	conds[0].Notify()

	fulfilled := ws.TimedWait(time.Second)
	require.Len(t, fulfilled, 2)
	assert.Same(t, conds[0], fulfilled[0])
	assert.Same(t, conds[2], fulfilled[1])
}

func TestWaitSet_Clear_Then_Wait_Blocks_Until_Interrupt(t *testing.T) {
	ws := newTestWaitSet()
	conds := newConditions(2)
	for _, c := range conds {
		require.True(t, ws.AttachCondition(c))
	}
	ws.Clear()

	done := make(chan []Condition)
	go func() {
		done <- ws.Wait()
	}()

	select {
	case <-done:
		t.Fatal("wait on an empty registry returned without a notify")
	case <-time.After(100 * time.Millisecond):
	}

	ws.Interrupt()
	select {
	case fulfilled := <-done:
		assert.Empty(t, fulfilled)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after interrupt")
	}
}

func TestWaitSet_Interrupt_Does_Not_Report_Guard_As_Fulfilled(t *testing.T) {
	ws := newTestWaitSet()
	require.True(t, ws.AttachCondition(NewTriggerCondition()))

	ws.Interrupt()

	fulfilled := ws.Wait()
	assert.Empty(t, fulfilled)
	assert.NotNil(t, fulfilled)
}

func TestWaitSet_Level_Triggered_Result_Repeats_Until_Cleared(t *testing.T) {
	ws := newTestWaitSet()
	c := NewTriggerCondition()
	require.True(t, ws.AttachCondition(c))

	c.Notify()
	require.Len(t, ws.TimedWait(time.Second), 1)

	// trigger was not cleared by the owner, a second wait sees it again
	require.Len(t, ws.TimedWait(time.Second), 1)

	c.ClearTrigger()
	assert.Empty(t, ws.TimedWait(0))
}

func TestWaitSet_Metrics_Count_Rejected_Attaches(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	ws := NewWaitSetWithObservers(&condvar.Data{}, 2, zerolog.Nop(), m)

	require.True(t, ws.AttachCondition(NewTriggerCondition()))
	require.False(t, ws.AttachCondition(NewTriggerCondition()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedAttaches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attached))
}
