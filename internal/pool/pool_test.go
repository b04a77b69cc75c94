package pool

import (
	"testing"

	"github.com/matgreaves/gantry/spec"
)

func ep(port int) spec.Endpoint {
	return spec.Endpoint{Host: "127.0.0.1", Port: port, Protocol: spec.HTTP}
}

func TestPick_OnlyHealthyMembers(t *testing.T) {
	p := New("backend", 8000, spec.HTTP, nil)

	p.Add("r1", ep(9001))
	p.Add("r2", ep(9002))

	// New members start out of rotation.
	if _, ok := p.Pick(); ok {
		t.Fatal("Pick returned an endpoint before any member was healthy")
	}

	p.SetHealthy("r1", true)
	got, ok := p.Pick()
	if !ok || got.Port != 9001 {
		t.Fatalf("Pick = %+v, %v, want r1", got, ok)
	}

	// Health failure removes from rotation but not from the pool.
	p.SetHealthy("r1", false)
	if _, ok := p.Pick(); ok {
		t.Fatal("unhealthy member still in rotation")
	}
	if p.Size() != 2 {
		t.Errorf("Size = %d, want 2 (health gates traffic, not existence)", p.Size())
	}
}

func TestPick_RoundRobin(t *testing.T) {
	p := New("backend", 8000, spec.HTTP, nil)
	for i, id := range []string{"r1", "r2", "r3"} {
		p.Add(id, ep(9001+i))
		p.SetHealthy(id, true)
	}
	p.SetHealthy("r2", false)

	// Rotation must cycle the two healthy members and skip r2.
	var ports []int
	for i := 0; i < 4; i++ {
		got, ok := p.Pick()
		if !ok {
			t.Fatal("Pick failed")
		}
		ports = append(ports, got.Port)
	}
	for _, port := range ports {
		if port == 9002 {
			t.Fatalf("picked unhealthy r2: %v", ports)
		}
	}
	if ports[0] == ports[1] {
		t.Errorf("no rotation: %v", ports)
	}
}

func TestSetHealthy_ReportsTransitions(t *testing.T) {
	p := New("backend", 8000, spec.HTTP, nil)
	p.Add("r1", ep(9001))

	if !p.SetHealthy("r1", true) {
		t.Error("first transition not reported")
	}
	if p.SetHealthy("r1", true) {
		t.Error("repeat transition reported")
	}
	if !p.SetHealthy("r1", false) {
		t.Error("downward transition not reported")
	}
	if p.SetHealthy("missing", true) {
		t.Error("unknown member reported a transition")
	}
}

func TestRemove(t *testing.T) {
	p := New("backend", 8000, spec.HTTP, nil)
	p.Add("r1", ep(9001))
	p.Add("r2", ep(9002))
	p.SetHealthy("r1", true)
	p.SetHealthy("r2", true)

	p.Remove("r1")
	if p.Size() != 1 || p.HealthyCount() != 1 {
		t.Errorf("Size = %d, HealthyCount = %d after remove", p.Size(), p.HealthyCount())
	}
	got, ok := p.Pick()
	if !ok || got.Port != 9002 {
		t.Errorf("Pick = %+v, %v, want r2", got, ok)
	}
}

func TestHealthDefaults(t *testing.T) {
	p := New("frontend", 8501, spec.HTTP, &spec.HealthSpec{Path: "/_stcore/health"})
	h := p.Health()
	if h.Path != "/_stcore/health" {
		t.Errorf("path = %q", h.Path)
	}
	if len(h.ExpectedCodes) != 1 || h.ExpectedCodes[0] != 200 {
		t.Errorf("expected codes = %v", h.ExpectedCodes)
	}
}
