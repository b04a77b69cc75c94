package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matgreaves/gantry/internal/driver"
	"github.com/matgreaves/gantry/internal/metrics"
	"github.com/matgreaves/gantry/internal/pool"
	"github.com/matgreaves/gantry/internal/probe"
	"github.com/matgreaves/gantry/internal/scale"
	"github.com/matgreaves/gantry/spec"
	"github.com/matgreaves/run"
)

// replaceDelay spaces out replacement attempts when a replica fails
// immediately after starting, so a crash-looping image does not spin.
const replaceDelay = 500 * time.Millisecond

// replicaPorts is the slice of the port allocator the manager uses:
// allocate a replica's host port at launch, return it at retirement.
type replicaPorts interface {
	Allocate(instanceID string, n int) ([]int, error)
	ReleasePort(instanceID string, port int)
}

type managerParams struct {
	stack           string
	instanceID      string
	name            string
	spec            spec.Service
	pool            *pool.Pool
	driver          driver.Driver
	ports           replicaPorts
	log             *EventLog
	secretEnv       map[string]string
	observeInterval time.Duration
}

// serviceManager keeps one service at its desired replica count: it
// starts the initial replicas, replaces failed ones, and applies the
// service's scaling policy.
type serviceManager struct {
	stack      string
	instanceID string
	name       string
	spec       spec.Service
	pool       *pool.Pool
	drv        driver.Driver
	ports      replicaPorts
	log        *EventLog
	secretEnv  map[string]string

	observeInterval time.Duration

	mu      sync.Mutex
	desired int
	status  spec.ServiceStatus
	ready   bool
	handles map[string]*replicaHandle
	order   []string // start order; scale-in removes from the tail
	nextID  int
	wg      sync.WaitGroup
}

type replicaHandle struct {
	id     string
	cancel context.CancelFunc
}

func newServiceManager(p managerParams) *serviceManager {
	return &serviceManager{
		stack:           p.stack,
		instanceID:      p.instanceID,
		name:            p.name,
		spec:            p.spec,
		pool:            p.pool,
		drv:             p.driver,
		ports:           p.ports,
		log:             p.log,
		secretEnv:       p.secretEnv,
		observeInterval: p.observeInterval,
		status:          spec.StatusPending,
		handles:         make(map[string]*replicaHandle),
	}
}

// Desired returns the current desired replica count.
func (m *serviceManager) Desired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desired
}

// Status returns the service's current lifecycle status. Degradation is
// derived live: a ready service with fewer healthy replicas than desired
// reports degraded without leaving the ready state machine.
func (m *serviceManager) Status() spec.ServiceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready && m.status == spec.StatusReady && m.pool.HealthyCount() < m.desired {
		return spec.StatusDegraded
	}
	return m.status
}

// Snapshot returns the service's replicas for status reporting.
func (m *serviceManager) Snapshot() []spec.Replica {
	return m.pool.Snapshot()
}

// Runner returns the manager's lifecycle. It starts the initial replicas,
// runs the scaling loop if a policy is attached, and blocks until ctx is
// cancelled. Individual replica failures do not propagate — they are
// replaced — so the only error paths are startup failures and teardown.
func (m *serviceManager) Runner() run.Runner {
	return run.Func(func(ctx context.Context) error {
		initial := m.spec.Replicas

		var scaler *scale.Scaler
		if m.spec.Scaling != nil {
			scaler = scale.New(m.name, *m.spec.Scaling, initial)
			initial = scaler.Desired()
		}

		m.mu.Lock()
		m.desired = initial
		m.status = spec.StatusDeploying
		m.mu.Unlock()
		metrics.ReplicasDesired.WithLabelValues(m.stack, m.name).Set(float64(initial))

		for i := 0; i < initial; i++ {
			if err := m.launch(ctx); err != nil {
				return fmt.Errorf("service %q: %w", m.name, err)
			}
		}

		if scaler != nil {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				scaler.Loop(ctx, m, m.observeInterval, m.resize, nil)
			}()
		}

		<-ctx.Done()

		m.mu.Lock()
		m.status = spec.StatusStopping
		m.mu.Unlock()

		m.wg.Wait()

		m.mu.Lock()
		m.status = spec.StatusStopped
		m.mu.Unlock()
		return ctx.Err()
	})
}

// Utilization averages the driver-reported CPU use across the service's
// live replicas. Satisfies scale.MetricSource.
func (m *serviceManager) Utilization(ctx context.Context, _ string) (float64, error) {
	m.mu.Lock()
	ids := append([]string(nil), m.order...)
	m.mu.Unlock()

	var sum float64
	var n int
	for _, id := range ids {
		u, err := m.drv.Usage(ctx, id)
		if err != nil {
			// A replica that just started has no stats yet; skip it.
			continue
		}
		sum += u
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("service %q: no replica stats available", m.name)
	}
	return sum / float64(n), nil
}

// resize moves the service to n replicas. Called by the scaling loop.
func (m *serviceManager) resize(ctx context.Context, n int) error {
	m.mu.Lock()
	old := m.desired
	m.desired = n
	m.mu.Unlock()

	if n == old {
		return nil
	}
	metrics.ReplicasDesired.WithLabelValues(m.stack, m.name).Set(float64(n))

	if n > old {
		m.log.Publish(Event{Type: EventScaleOut, Stack: m.stack, Service: m.name, Desired: n})
		metrics.ScaleActions.WithLabelValues(m.stack, m.name, "out").Inc()
		for i := old; i < n; i++ {
			if err := m.launch(ctx); err != nil {
				return fmt.Errorf("service %q: scale out: %w", m.name, err)
			}
		}
		return nil
	}

	m.log.Publish(Event{Type: EventScaleIn, Stack: m.stack, Service: m.name, Desired: n})
	metrics.ScaleActions.WithLabelValues(m.stack, m.name, "in").Inc()

	// Retire the newest replicas first.
	m.mu.Lock()
	var retire []*replicaHandle
	for len(m.order) > n {
		id := m.order[len(m.order)-1]
		m.order = m.order[:len(m.order)-1]
		if h, ok := m.handles[id]; ok {
			retire = append(retire, h)
			delete(m.handles, id)
		}
	}
	m.mu.Unlock()

	for _, h := range retire {
		h.cancel()
	}
	return nil
}

// launch starts one replica and its supervision goroutine.
func (m *serviceManager) launch(ctx context.Context) error {
	ports, err := m.ports.Allocate(m.instanceID, 1)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.nextID++
	id := fmt.Sprintf("%s-%d", m.name, m.nextID)
	rctx, cancel := context.WithCancel(ctx)
	h := &replicaHandle{id: id, cancel: cancel}
	m.handles[id] = h
	m.order = append(m.order, id)
	m.mu.Unlock()

	ep := spec.Endpoint{Host: "127.0.0.1", Port: ports[0], Protocol: m.pool.Protocol()}

	m.log.Publish(Event{
		Type:     EventReplicaStarting,
		Stack:    m.stack,
		Service:  m.name,
		Replica:  id,
		Endpoint: &ep,
	})
	m.pool.Add(id, ep)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := m.runReplica(rctx, id, ep)
		cancel()

		m.pool.Remove(id)
		m.ports.ReleasePort(m.instanceID, ep.Port)
		metrics.ReplicasHealthy.WithLabelValues(m.stack, m.name).Set(float64(m.pool.HealthyCount()))

		m.mu.Lock()
		_, live := m.handles[id]
		delete(m.handles, id)
		for i, o := range m.order {
			if o == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		short := len(m.order) < m.desired
		m.mu.Unlock()

		if ctx.Err() != nil || !live {
			// Teardown or deliberate scale-in.
			m.log.Publish(Event{Type: EventReplicaStopped, Stack: m.stack, Service: m.name, Replica: id})
			return
		}

		m.log.Publish(Event{
			Type:    EventReplicaFailed,
			Stack:   m.stack,
			Service: m.name,
			Replica: id,
			Error:   errString(err),
		})

		// Self-heal: the desired count still calls for this replica.
		if short {
			select {
			case <-time.After(replaceDelay):
			case <-ctx.Done():
				return
			}
			if err := m.launch(ctx); err != nil {
				m.log.Publish(Event{
					Type:    EventReplicaFailed,
					Stack:   m.stack,
					Service: m.name,
					Error:   fmt.Sprintf("replacement for %s: %v", id, err),
				})
			}
		}
	}()

	return nil
}

// runReplica runs the container alongside its health supervision. The
// container starting, becoming healthy, flapping, and stopping all flow
// through the pool's traffic gate and the event log.
func (m *serviceManager) runReplica(ctx context.Context, id string, ep spec.Endpoint) error {
	env := make(map[string]string, len(m.spec.Env)+len(m.secretEnv))
	for k, v := range m.spec.Env {
		env[k] = v
	}
	for k, v := range m.secretEnv {
		env[k] = v
	}

	container := m.drv.StartReplica(driver.StartParams{
		Stack:     m.stack,
		Service:   m.name,
		ReplicaID: id,
		Spec:      m.spec,
		HostPort:  ep.Port,
		Env:       env,
		Stdout:    &logWriter{log: m.log, stack: m.stack, service: m.name, replica: id, stream: "stdout"},
		Stderr:    &logWriter{log: m.log, stack: m.stack, service: m.name, replica: id, stream: "stderr"},
	})

	health := m.pool.Health()
	checker := probe.ForSpec(health)

	supervise := run.Func(func(ctx context.Context) error {
		if err := probe.Poll(ctx, ep, health, checker); err != nil {
			return fmt.Errorf("replica %q: %w", id, err)
		}
		m.setHealthy(id, true)

		// Steady state: flip the traffic gate on every transition until
		// teardown. An unhealthy replica leaves rotation but keeps
		// running; only the container exiting ends this replica.
		probe.Watch(ctx, ep, health, checker, func(healthy bool) {
			m.setHealthy(id, healthy)
		})
		return ctx.Err()
	})

	return run.Group{
		"container": container,
		"health":    supervise,
	}.Run(ctx)
}

// setHealthy flips the pool's traffic gate and publishes the transition
// exactly once.
func (m *serviceManager) setHealthy(id string, healthy bool) {
	if !m.pool.SetHealthy(id, healthy) {
		return
	}
	metrics.ReplicasHealthy.WithLabelValues(m.stack, m.name).Set(float64(m.pool.HealthyCount()))

	typ := EventReplicaUnhealthy
	if healthy {
		typ = EventReplicaHealthy
	}
	m.log.Publish(Event{Type: typ, Stack: m.stack, Service: m.name, Replica: id})

	if healthy {
		m.maybeReady()
	}
}

// maybeReady publishes service.ready once, the first time every desired
// replica is in rotation.
func (m *serviceManager) maybeReady() {
	m.mu.Lock()
	fire := !m.ready && m.pool.HealthyCount() >= m.desired
	if fire {
		m.ready = true
		m.status = spec.StatusReady
	}
	m.mu.Unlock()

	if fire {
		m.log.Publish(Event{Type: EventServiceReady, Stack: m.stack, Service: m.name})
	}
}

func errString(err error) string {
	if err == nil {
		// A service container that exits cleanly is still gone.
		return "container exited"
	}
	return err.Error()
}

// logWriter publishes replica output to the event log.
type logWriter struct {
	log     *EventLog
	stack   string
	service string
	replica string
	stream  string // "stdout" or "stderr"
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Publish(Event{
		Type:    EventReplicaLog,
		Stack:   w.stack,
		Service: w.service,
		Replica: w.replica,
		Log: &LogEntry{
			Stream: w.stream,
			Data:   string(p),
		},
	})
	return len(p), nil
}
