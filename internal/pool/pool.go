// Package pool implements target pools: named, health-checked groups of
// replica endpoints the edge can forward traffic to. A pool is created
// once per service, bound 1:1, and destroyed with it.
package pool

import (
	"sync"

	"github.com/matgreaves/gantry/spec"
)

type member struct {
	endpoint spec.Endpoint
	healthy  bool
}

// Pool tracks the replicas backing one service. Membership records replica
// existence; the healthy flag gates traffic. Pick only ever returns
// healthy endpoints.
type Pool struct {
	service  string
	port     int // container-side traffic port
	protocol spec.Protocol
	health   spec.HealthSpec

	mu      sync.Mutex
	members map[string]*member
	order   []string // insertion order, for stable round-robin
	next    int
}

// New creates an empty pool for the named service. The health spec is
// stored with defaults applied.
func New(service string, port int, protocol spec.Protocol, health *spec.HealthSpec) *Pool {
	return &Pool{
		service:  service,
		port:     port,
		protocol: protocol,
		health:   health.WithDefaults(),
		members:  make(map[string]*member),
	}
}

// Name returns the owning service's name. Satisfies router.Target.
func (p *Pool) Name() string { return p.service }

// Port returns the container-side traffic port.
func (p *Pool) Port() int { return p.port }

// Protocol returns the pool's traffic protocol.
func (p *Pool) Protocol() spec.Protocol { return p.protocol }

// Health returns the pool's health check spec (defaults applied).
func (p *Pool) Health() spec.HealthSpec { return p.health }

// Add registers a replica endpoint. New members start unhealthy and join
// the rotation only after SetHealthy(id, true).
func (p *Pool) Add(id string, ep spec.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.members[id]; ok {
		return
	}
	p.members[id] = &member{endpoint: ep}
	p.order = append(p.order, id)
}

// Remove deregisters a replica entirely.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.members[id]; !ok {
		return
	}
	delete(p.members, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// SetHealthy flips a replica's traffic gate. Returns true if the state
// actually changed, so callers can emit transition events exactly once.
func (p *Pool) SetHealthy(id string, healthy bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.members[id]
	if !ok || m.healthy == healthy {
		return false
	}
	m.healthy = healthy
	return true
}

// Pick returns the next healthy endpoint in round-robin order. The second
// return is false when the pool has no healthy members.
func (p *Pool) Pick() (spec.Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.order)
	for i := 0; i < n; i++ {
		id := p.order[p.next%n]
		p.next++
		if m := p.members[id]; m.healthy {
			return m.endpoint, true
		}
	}
	return spec.Endpoint{}, false
}

// Size returns the total member count, healthy or not.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// HealthyCount returns the number of members in rotation.
func (p *Pool) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.members {
		if m.healthy {
			n++
		}
	}
	return n
}

// Snapshot returns the pool's replicas in insertion order for status
// reporting.
func (p *Pool) Snapshot() []spec.Replica {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]spec.Replica, 0, len(p.order))
	for _, id := range p.order {
		m := p.members[id]
		status := spec.ReplicaUnhealthy
		if m.healthy {
			status = spec.ReplicaHealthy
		}
		out = append(out, spec.Replica{ID: id, Endpoint: m.endpoint, Status: status})
	}
	return out
}
