package advisor

import (
	"sync"
	"time"
)

// IdleTimer 客户空闲一段时间后触发一次回调；每次活动都会重新计时。
//
// Stop 之后不再触发，也不会留下后台 goroutine。
type IdleTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fire    func()
	timer   *time.Timer
	stopped bool
}

// NewIdleTimer 创建计时器。delay <= 0 时计时器不工作。
func NewIdleTimer(delay time.Duration, fire func()) *IdleTimer {
	return &IdleTimer{delay: delay, fire: fire}
}

// Touch 记录一次活动并重新开始计时。
func (t *IdleTimer) Touch() {
	if t == nil || t.delay <= 0 || t.fire == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, t.fire)
}

// Stop 取消计时，可重复调用。
func (t *IdleTimer) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
