package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matgreaves/gantry/spec"
)

// DiagnosticSnapshot describes which services are stuck when a deploy
// stalls, carried on progress.stall events.
type DiagnosticSnapshot struct {
	StalledFor string            `json:"stalled_for"`
	Services   []ServiceSnapshot `json:"services"`
}

// ServiceSnapshot is one service's position in the deploy at stall time.
type ServiceSnapshot struct {
	Name  string `json:"name"`
	Phase string `json:"phase"`
}

// progressWatchdog monitors the event log for progress stalls. If no new
// lifecycle events appear within stallTimeout, it publishes a
// progress.stall event with a diagnostic snapshot showing which services
// are stuck.
//
// The goroutine exits when ctx is cancelled (i.e. the stack is torn down)
// or when all services have reached a terminal phase.
func progressWatchdog(ctx context.Context, log *EventLog, stackName string, services map[string]spec.Service, stallTimeout time.Duration) {
	ticker := time.NewTicker(stallTimeout)
	defer ticker.Stop()

	// Track the max lifecycle seq seen on the previous tick.
	var lastMaxSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		events := log.LifecycleEvents()
		var maxSeq uint64
		for _, e := range events {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}

		if maxSeq == lastMaxSeq && len(events) > 0 {
			// No progress since last tick — build snapshot.
			snapshot := buildDiagnosticSnapshot(events, services, stallTimeout)
			if len(snapshot.Services) == 0 {
				// All services are in terminal phases — nothing is stuck.
				return
			}
			log.Publish(Event{
				Type:    EventProgressStall,
				Stack:   stackName,
				Message: formatStallMessage(&snapshot),
			})
		}

		lastMaxSeq = maxSeq
	}
}

// phaseFromEvents returns the current phase string for a service based on
// the most recent lifecycle event for that service.
func phaseFromEvents(serviceName string, events []Event) string {
	phase := "pending"
	starting := 0
	for _, e := range events {
		if e.Service != serviceName {
			continue
		}
		switch e.Type {
		case EventPoolCreated:
			phase = "pool_created"
		case EventReplicaStarting:
			starting++
			phase = "starting"
		case EventReplicaHealthy:
			phase = "replicas_healthy"
		case EventServiceReady:
			phase = "ready"
		case EventStackFailing, EventReplicaFailed:
			phase = "failing"
		case EventReplicaStopped:
			if phase != "ready" {
				phase = "stopped"
			}
		}
	}
	if phase == "pending" && starting == 0 {
		return "pending"
	}
	return phase
}

// buildDiagnosticSnapshot scans lifecycle events to determine each
// service's current phase, skipping services already in terminal phases.
func buildDiagnosticSnapshot(events []Event, services map[string]spec.Service, stalledFor time.Duration) DiagnosticSnapshot {
	var snapshots []ServiceSnapshot
	for _, name := range sortedKeys(services) {
		phase := phaseFromEvents(name, events)
		if phase == "ready" || phase == "stopped" {
			continue
		}
		snapshots = append(snapshots, ServiceSnapshot{Name: name, Phase: phase})
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })

	return DiagnosticSnapshot{
		StalledFor: stalledFor.String(),
		Services:   snapshots,
	}
}

// formatStallMessage renders a DiagnosticSnapshot as a human-readable
// string so clients can print it without reimplementing the formatting.
func formatStallMessage(d *DiagnosticSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "no progress for %s:", d.StalledFor)
	for _, svc := range d.Services {
		fmt.Fprintf(&b, "\n  %s: %s", svc.Name, svc.Phase)
	}
	return b.String()
}
