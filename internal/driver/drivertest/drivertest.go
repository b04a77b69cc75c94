// Package drivertest provides an in-process fake driver for tests. Each
// replica is a real HTTP listener on its assigned host port, so pools,
// probes, and the edge proxy exercise their actual network paths.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/matgreaves/gantry/internal/driver"
	"github.com/matgreaves/run"
)

// Driver implements driver.Driver with in-process HTTP servers.
type Driver struct {
	mu       sync.Mutex
	handler  func(params driver.StartParams) http.Handler
	usage    map[string]float64 // service name → scripted utilization
	prepared []string
	started  []string
	replicas map[string]*fakeReplica

	// PrepareErr, when set, fails every Prepare call.
	PrepareErr error
}

type fakeReplica struct {
	listener net.Listener
	killed   chan struct{}
	killOnce sync.Once
}

func New() *Driver {
	return &Driver{
		usage:    make(map[string]float64),
		replicas: make(map[string]*fakeReplica),
	}
}

// SetHandler overrides the per-replica HTTP handler. The default serves
// 200 with a body naming the replica, which satisfies default health
// checks and lets proxy tests see which replica answered.
func (d *Driver) SetHandler(fn func(params driver.StartParams) http.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = fn
}

// SetUsage scripts the utilization reported for a service's replicas.
func (d *Driver) SetUsage(service string, utilization float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.usage[service] = utilization
}

// Prepared returns the images prepared so far, in order.
func (d *Driver) Prepared() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.prepared...)
}

// Started returns the replica IDs started so far, in order.
func (d *Driver) Started() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.started...)
}

// Running reports whether the replica's listener is currently up.
func (d *Driver) Running(replicaID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.replicas[replicaID]
	return ok
}

// Kill makes the replica's runner return an error, as a crashed
// container would.
func (d *Driver) Kill(replicaID string) error {
	d.mu.Lock()
	r, ok := d.replicas[replicaID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("replica %q not running", replicaID)
	}
	r.killOnce.Do(func() { close(r.killed) })
	return nil
}

func (d *Driver) Prepare(_ context.Context, image string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PrepareErr != nil {
		return d.PrepareErr
	}
	d.prepared = append(d.prepared, image)
	return nil
}

func (d *Driver) StartReplica(params driver.StartParams) run.Runner {
	return run.Func(func(ctx context.Context) error {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", params.HostPort))
		if err != nil {
			return fmt.Errorf("replica %q: listen: %w", params.ReplicaID, err)
		}

		d.mu.Lock()
		handler := d.handler
		r := &fakeReplica{listener: ln, killed: make(chan struct{})}
		d.replicas[params.ReplicaID] = r
		d.started = append(d.started, params.ReplicaID)
		d.mu.Unlock()

		defer func() {
			d.mu.Lock()
			delete(d.replicas, params.ReplicaID)
			d.mu.Unlock()
		}()

		var h http.Handler
		if handler != nil {
			h = handler(params)
		} else {
			h = defaultHandler(params)
		}

		srv := &http.Server{Handler: h}
		serveErr := make(chan error, 1)
		go func() { serveErr <- srv.Serve(ln) }()

		select {
		case <-ctx.Done():
			srv.Close()
			<-serveErr
			return ctx.Err()
		case <-r.killed:
			srv.Close()
			<-serveErr
			return fmt.Errorf("replica %q: killed", params.ReplicaID)
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})
}

func (d *Driver) Usage(_ context.Context, replicaID string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.replicas[replicaID]; !ok {
		return 0, fmt.Errorf("replica %q: no running container", replicaID)
	}
	// Scripted per service; the replica ID's service prefix keys the map.
	for service, u := range d.usage {
		if matchesService(replicaID, service) {
			return u, nil
		}
	}
	return 0, nil
}

func matchesService(replicaID, service string) bool {
	return len(replicaID) > len(service) && replicaID[:len(service)] == service && replicaID[len(service)] == '-'
}

func defaultHandler(params driver.StartParams) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%s/%s\n", params.Service, params.ReplicaID)
	})
}
