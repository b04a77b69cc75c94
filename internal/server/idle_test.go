package server

import (
	"testing"
	"time"
)

func TestIdleTimer_FiresWhenIdle(t *testing.T) {
	timer := NewIdleTimer(50 * time.Millisecond)
	select {
	case <-timer.ShutdownCh():
	case <-time.After(2 * time.Second):
		t.Fatal("idle timer never fired")
	}
}

func TestIdleTimer_ActiveStackHoldsShutdown(t *testing.T) {
	timer := NewIdleTimer(50 * time.Millisecond)
	timer.StackCreated()

	select {
	case <-timer.ShutdownCh():
		t.Fatal("fired while a stack was active")
	case <-time.After(150 * time.Millisecond):
	}

	timer.StackDestroyed()
	select {
	case <-timer.ShutdownCh():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not restart after last stack")
	}
}

func TestIdleTimer_ZeroDisables(t *testing.T) {
	timer := NewIdleTimer(0)
	select {
	case <-timer.ShutdownCh():
		t.Fatal("disabled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}
