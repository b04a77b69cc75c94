package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matgreaves/gantry/internal/driver"
	"github.com/matgreaves/gantry/internal/edge"
	"github.com/matgreaves/gantry/internal/pool"
	"github.com/matgreaves/gantry/internal/router"
	"github.com/matgreaves/gantry/internal/secret"
	"github.com/matgreaves/gantry/spec"
	"github.com/matgreaves/run"
)

// DefaultStallTimeout is how long the deploy may go without a new
// lifecycle event before a progress.stall diagnostic is published.
const DefaultStallTimeout = 30 * time.Second

// Orchestrator coordinates the lifecycle of all services in a stack.
type Orchestrator struct {
	Ports           *PortAllocator
	Driver          driver.Driver
	Secrets         secret.Store
	Log             *EventLog
	StallTimeout    time.Duration // 0 → DefaultStallTimeout
	ObserveInterval time.Duration // scaling sample interval; 0 → scale.DefaultObserveInterval
}

// Deployment is a converged stack ready to run: the lifecycle runner plus
// the handles the API server reads live status from.
type Deployment struct {
	ID       string
	Runner   run.Runner
	managers map[string]*serviceManager
}

// Manager returns the named service's manager, or nil.
func (d *Deployment) Manager(name string) *serviceManager {
	return d.managers[name]
}

// Converge builds a Deployment that manages the full lifecycle of the
// given stack. Work that can fail fast — secret resolution and routing
// table construction — happens synchronously here, so a broken spec is
// rejected before anything starts. The runner then executes two phases:
//
//  1. Image phase: prepares every distinct image in parallel.
//  2. Serve phase: starts all service managers, the edge listener, and
//     the progress watchdog concurrently. Each manager keeps its service
//     at the desired replica count (self-healing failed replicas, acting
//     on its scaling policy) until teardown.
//
// If either phase fails, the runner emits stack.failing with the root
// cause before returning.
func (o *Orchestrator) Converge(ctx context.Context, st *spec.Stack) (*Deployment, error) {
	instanceID := generateID()

	// Resolve every secret reference up front. Resolution is
	// all-or-nothing per service; a dangling reference fails the deploy
	// before any replica starts.
	secretEnvs := make(map[string]map[string]string, len(st.Services))
	for _, name := range sortedKeys(st.Services) {
		env, err := secret.ResolveAll(ctx, o.Secrets, st.Services[name].Secrets)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		secretEnvs[name] = env
	}

	// One pool per service, bound for the stack's lifetime.
	pools := make(map[string]*pool.Pool, len(st.Services))
	for name, svc := range st.Services {
		pools[name] = pool.New(name, svc.ContainerPort, spec.HTTP, svc.Health)
	}

	table := router.New()
	for _, rule := range st.Edge.Rules {
		if err := table.AddRule(rule.Priority, rule.Patterns, pools[rule.Service]); err != nil {
			return nil, fmt.Errorf("edge: %w", err)
		}
	}
	if err := table.SetDefault(pools[st.Edge.Default]); err != nil {
		return nil, fmt.Errorf("edge: %w", err)
	}
	if err := table.Finalize(); err != nil {
		return nil, fmt.Errorf("edge: %w", err)
	}

	proxy := edge.New(st.Edge.Port, table, func(r edge.Request) {
		o.Log.Publish(Event{
			Type:    EventRequestCompleted,
			Stack:   st.Name,
			Service: r.Service,
			Request: &RequestInfo{
				Method:     r.Method,
				Path:       r.Path,
				Status:     r.Status,
				DurationMS: r.Duration.Milliseconds(),
			},
		})
	})

	managers := make(map[string]*serviceManager, len(st.Services))
	for name, svc := range st.Services {
		managers[name] = newServiceManager(managerParams{
			stack:           st.Name,
			instanceID:      instanceID,
			name:            name,
			spec:            svc,
			pool:            pools[name],
			driver:          o.Driver,
			ports:           o.Ports,
			log:             o.Log,
			secretEnv:       secretEnvs[name],
			observeInterval: o.ObserveInterval,
		})
	}

	lifecycle := run.Func(func(ctx context.Context) error {
		// Announce the wiring so status and events reflect the routing
		// topology before any replica exists.
		for _, name := range sortedKeys(st.Services) {
			o.Log.Publish(Event{Type: EventPoolCreated, Stack: st.Name, Service: name})
		}
		for _, ri := range table.Rules() {
			riCopy := ri
			o.Log.Publish(Event{
				Type:    EventRuleRegistered,
				Stack:   st.Name,
				Service: ri.Target,
				Rule:    &riCopy,
			})
		}

		if err := o.imagePhase(ctx, st); err != nil {
			if ctx.Err() == nil {
				o.Log.Publish(Event{Type: EventStackFailing, Stack: st.Name, Error: err.Error()})
			}
			return err
		}

		// Watchdog runs outside the group so it can't hold teardown open.
		watchCtx, watchCancel := context.WithCancel(ctx)
		defer watchCancel()
		stall := o.StallTimeout
		if stall == 0 {
			stall = DefaultStallTimeout
		}
		go progressWatchdog(watchCtx, o.Log, st.Name, st.Services, stall)

		group := run.Group{"edge": proxy.Runner()}
		for name, m := range managers {
			group["service:"+name] = m.Runner()
		}

		err := group.Run(ctx)
		if err != nil && ctx.Err() == nil {
			o.Log.Publish(Event{Type: EventStackFailing, Stack: st.Name, Error: err.Error()})
		}
		return err
	})

	return &Deployment{ID: instanceID, Runner: lifecycle, managers: managers}, nil
}

// imagePhase prepares every distinct image in parallel.
func (o *Orchestrator) imagePhase(ctx context.Context, st *spec.Stack) error {
	images := distinctImages(st.Services)

	var wg sync.WaitGroup
	errs := make(chan error, len(images))

	for _, img := range images {
		o.Log.Publish(Event{Type: EventImagePulling, Stack: st.Name, Image: img})
		wg.Add(1)
		go func(img string) {
			defer wg.Done()
			if err := o.Driver.Prepare(ctx, img); err != nil {
				o.Log.Publish(Event{
					Type:  EventImageFailed,
					Stack: st.Name,
					Image: img,
					Error: err.Error(),
				})
				errs <- fmt.Errorf("image %s: %w", img, err)
				return
			}
			o.Log.Publish(Event{Type: EventImagePulled, Stack: st.Name, Image: img})
		}(img)
	}

	wg.Wait()
	close(errs)

	// Only the first failure is reported; the rest are its siblings.
	return <-errs
}

func distinctImages(services map[string]spec.Service) []string {
	seen := make(map[string]bool)
	var images []string
	for _, name := range sortedKeys(services) {
		img := services[name].Image
		if !seen[img] {
			seen[img] = true
			images = append(images, img)
		}
	}
	sort.Strings(images)
	return images
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
