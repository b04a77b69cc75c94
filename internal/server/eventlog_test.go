package server

import (
	"context"
	"testing"
	"time"
)

func TestEventLog_PublishAssignsSequence(t *testing.T) {
	log := NewEventLog()
	log.Publish(Event{Type: EventPoolCreated, Service: "backend"})
	log.Publish(Event{Type: EventPoolCreated, Service: "frontend"})

	events := log.Events()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2", events[0].Seq, events[1].Seq)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestEventLog_Since(t *testing.T) {
	log := NewEventLog()
	for i := 0; i < 5; i++ {
		log.Publish(Event{Type: EventReplicaStarting})
	}

	if got := log.Since(3); len(got) != 2 || got[0].Seq != 4 {
		t.Errorf("Since(3) = %d events starting at %d, want 2 starting at 4", len(got), got[0].Seq)
	}
	if got := log.Since(5); got != nil {
		t.Errorf("Since(5) = %v, want nil", got)
	}
}

func TestEventLog_SubscribeReplaysAndStreams(t *testing.T) {
	log := NewEventLog()
	log.Publish(Event{Type: EventPoolCreated, Service: "backend"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := log.Subscribe(ctx, 0, nil)

	// Replayed event.
	e := <-ch
	if e.Type != EventPoolCreated || e.Seq != 1 {
		t.Fatalf("replayed event = %+v", e)
	}

	// Live event.
	log.Publish(Event{Type: EventServiceReady, Service: "backend"})
	select {
	case e = <-ch:
		if e.Type != EventServiceReady {
			t.Fatalf("live event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no live event delivered")
	}
}

func TestEventLog_SubscribeFilter(t *testing.T) {
	log := NewEventLog()
	log.Publish(Event{Type: EventReplicaLog})
	log.Publish(Event{Type: EventServiceReady})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := log.Subscribe(ctx, 0, func(e Event) bool { return e.Type != EventReplicaLog })
	e := <-ch
	if e.Type != EventServiceReady {
		t.Fatalf("filtered subscription delivered %s", e.Type)
	}
}

func TestEventLog_WaitForExisting(t *testing.T) {
	log := NewEventLog()
	log.Publish(Event{Type: EventServiceReady, Service: "backend"})

	e, err := log.WaitFor(context.Background(), func(e Event) bool {
		return e.Type == EventServiceReady && e.Service == "backend"
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Seq != 1 {
		t.Errorf("Seq = %d, want 1", e.Seq)
	}
}

func TestEventLog_WaitForFuture(t *testing.T) {
	log := NewEventLog()

	done := make(chan Event, 1)
	go func() {
		e, err := log.WaitFor(context.Background(), func(e Event) bool {
			return e.Type == EventStackUp
		})
		if err == nil {
			done <- e
		}
	}()

	log.Publish(Event{Type: EventReplicaStarting})
	log.Publish(Event{Type: EventStackUp, Stack: "agent-app"})

	select {
	case e := <-done:
		if e.Stack != "agent-app" {
			t.Errorf("matched event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor did not observe the published event")
	}
}

func TestEventLog_WaitForCancelled(t *testing.T) {
	log := NewEventLog()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := log.WaitFor(ctx, func(Event) bool { return false }); err == nil {
		t.Fatal("expected context error")
	}
}

func TestEventLog_LifecycleEventsFiltersNoise(t *testing.T) {
	log := NewEventLog()
	log.Publish(Event{Type: EventReplicaLog})
	log.Publish(Event{Type: EventRequestCompleted})
	log.Publish(Event{Type: EventServiceReady})

	got := log.LifecycleEvents()
	if len(got) != 1 || got[0].Type != EventServiceReady {
		t.Errorf("LifecycleEvents = %+v", got)
	}
}
