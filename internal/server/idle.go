package server

import (
	"sync"
	"time"
)

// IdleTimer fires a shutdown signal after a configurable period with no
// active stacks. StackCreated/StackDestroyed keep the count; once the count
// returns to zero the countdown restarts.
type IdleTimer struct {
	mu       sync.Mutex
	active   int
	timeout  time.Duration
	timer    *time.Timer
	shutdown chan struct{}
	once     sync.Once
}

// NewIdleTimer creates an IdleTimer that will fire after timeout if no
// stacks are created first. Pass zero to disable (the timer never fires).
func NewIdleTimer(timeout time.Duration) *IdleTimer {
	t := &IdleTimer{
		timeout:  timeout,
		shutdown: make(chan struct{}),
	}
	if timeout > 0 {
		t.timer = time.AfterFunc(timeout, t.fire)
	}
	return t
}

func (t *IdleTimer) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == 0 {
		t.once.Do(func() { close(t.shutdown) })
	}
}

// StackCreated records a new active stack and stops the countdown.
func (t *IdleTimer) StackCreated() {
	if t.timeout == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active++
	t.timer.Stop()
}

// StackDestroyed records a stack teardown. If no stacks remain the
// countdown restarts.
func (t *IdleTimer) StackDestroyed() {
	if t.timeout == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.active == 0 {
		t.timer.Reset(t.timeout)
	}
}

// ShutdownCh returns a channel that is closed when the idle timeout fires.
func (t *IdleTimer) ShutdownCh() <-chan struct{} {
	return t.shutdown
}
