package advisor

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestIdleTimer_FiresAfterIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	fired := make(chan struct{}, 1)
	timer := NewIdleTimer(20*time.Millisecond, func() { fired <- struct{}{} })
	timer.Touch()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}
	timer.Stop()
}

func TestIdleTimer_TouchResets(t *testing.T) {
	defer goleak.VerifyNone(t)

	var count atomic.Int32
	timer := NewIdleTimer(60*time.Millisecond, func() { count.Add(1) })
	for i := 0; i < 5; i++ {
		timer.Touch()
		time.Sleep(20 * time.Millisecond)
	}
	if got := count.Load(); got != 0 {
		t.Fatalf("timer fired %d times while active", got)
	}
	timer.Stop()
}

func TestIdleTimer_StopReleases(t *testing.T) {
	defer goleak.VerifyNone(t)

	var count atomic.Int32
	timer := NewIdleTimer(10*time.Millisecond, func() { count.Add(1) })
	timer.Touch()
	timer.Stop()
	timer.Touch()
	time.Sleep(40 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Fatalf("stopped timer fired %d times", got)
	}
}

func TestIdleTimer_Disabled(t *testing.T) {
	timer := NewIdleTimer(0, func() { t.Fatalf("disabled timer fired") })
	timer.Touch()
	timer.Stop()

	var nilTimer *IdleTimer
	nilTimer.Touch()
	nilTimer.Stop()
}
