package server

import (
	"context"
	"sync"
	"time"

	"github.com/matgreaves/gantry/internal/router"
	"github.com/matgreaves/gantry/spec"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Image phase.
	EventImagePulling EventType = "image.pulling"
	EventImagePulled  EventType = "image.pulled"
	EventImageFailed  EventType = "image.failed"

	// Edge wiring.
	EventPoolCreated    EventType = "pool.created"
	EventRuleRegistered EventType = "rule.registered"

	// Replica lifecycle.
	EventReplicaStarting  EventType = "replica.starting"
	EventReplicaHealthy   EventType = "replica.healthy"
	EventReplicaUnhealthy EventType = "replica.unhealthy"
	EventReplicaFailed    EventType = "replica.failed"
	EventReplicaStopped   EventType = "replica.stopped"
	EventReplicaLog       EventType = "replica.log"

	// Service lifecycle and autoscaling.
	EventServiceReady EventType = "service.ready"
	EventScaleOut     EventType = "scale.out"
	EventScaleIn      EventType = "scale.in"

	// Stack lifecycle.
	EventStackUp      EventType = "stack.up"
	EventStackDown    EventType = "stack.down"
	EventStackFailing EventType = "stack.failing"

	// Edge traffic and diagnostics.
	EventRequestCompleted EventType = "request.completed"
	EventProgressStall    EventType = "progress.stall"
)

// LogEntry holds a line of replica output.
type LogEntry struct {
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
}

// RequestInfo describes one request proxied through the edge.
type RequestInfo struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// Event is a single entry in the event log.
type Event struct {
	Seq       uint64           `json:"seq"`
	Type      EventType        `json:"type"`
	Stack     string           `json:"stack,omitempty"`
	Service   string           `json:"service,omitempty"`
	Replica   string           `json:"replica,omitempty"`
	Endpoint  *spec.Endpoint   `json:"endpoint,omitempty"`
	Image     string           `json:"image,omitempty"`
	Rule      *router.RuleInfo `json:"rule,omitempty"`
	Desired   int              `json:"desired,omitempty"`
	Log       *LogEntry        `json:"log,omitempty"`
	Request   *RequestInfo     `json:"request,omitempty"`
	Error     string           `json:"error,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventLog is an append-only, ordered event log. Events are appended with
// monotonically increasing sequence numbers. Subscribers can replay from
// any point. WaitFor scans the existing log before blocking.
type EventLog struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
	notify chan struct{} // closed and replaced on each new event
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{
		notify: make(chan struct{}),
	}
}

// Publish appends an event to the log with the next sequence number and
// the current timestamp, then wakes all waiters.
func (l *EventLog) Publish(event Event) {
	l.mu.Lock()
	l.seq++
	event.Seq = l.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.events = append(l.events, event)
	ch := l.notify
	l.notify = make(chan struct{})
	l.mu.Unlock()

	close(ch) // wake all waiters
}

// Events returns a snapshot of all events in the log.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Since returns all events with sequence number > seq.
func (l *EventLog) Since(seq uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventsSince(seq)
}

// LifecycleEvents returns all events except the high-volume replica.log
// and request.completed streams.
func (l *EventLog) LifecycleEvents() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if e.Type == EventReplicaLog || e.Type == EventRequestCompleted {
			continue
		}
		out = append(out, e)
	}
	return out
}

// eventsSince returns events with Seq > seq. Caller must hold l.mu.
// Seq numbers are 1-indexed and contiguous, so events after seq start
// at slice index seq.
func (l *EventLog) eventsSince(seq uint64) []Event {
	start := int(seq)
	if start >= len(l.events) {
		return nil
	}
	out := make([]Event, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// Subscribe returns a channel that receives events starting from fromSeq.
// It replays all existing events with Seq > fromSeq, then streams new events
// as they arrive. The channel is closed when ctx is cancelled.
//
// The channel is buffered (256). If a subscriber falls behind and the buffer
// fills, new events are dropped for that subscriber (publishers never block).
func (l *EventLog) Subscribe(ctx context.Context, fromSeq uint64, filter func(Event) bool) <-chan Event {
	ch := make(chan Event, 256)

	go func() {
		defer close(ch)

		cursor := fromSeq

		for {
			// Grab current state under lock.
			l.mu.Lock()
			batch := l.eventsSince(cursor)
			notify := l.notify
			l.mu.Unlock()

			// Deliver buffered events.
			for _, e := range batch {
				if filter != nil && !filter(e) {
					cursor = e.Seq
					continue
				}
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				default:
					// subscriber fell behind — drop event
				}
				cursor = e.Seq
			}

			// Wait for new events or cancellation.
			select {
			case <-notify:
				// new event published, loop again
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// WaitFor scans the existing log for a matching event. If found, returns it
// immediately. Otherwise blocks until a matching event is published or the
// context is cancelled.
func (l *EventLog) WaitFor(ctx context.Context, match func(Event) bool) (Event, error) {
	// First, scan existing events under lock.
	l.mu.Lock()
	for _, e := range l.events {
		if match(e) {
			l.mu.Unlock()
			return e, nil
		}
	}
	cursor := l.seq
	notify := l.notify
	l.mu.Unlock()

	// Not found in existing log — wait for new events.
	for {
		select {
		case <-notify:
			l.mu.Lock()
			batch := l.eventsSince(cursor)
			notify = l.notify
			l.mu.Unlock()

			for _, e := range batch {
				if match(e) {
					return e, nil
				}
				cursor = e.Seq
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}
