// Package server implements gantryd: the HTTP API, the event log, and
// the orchestration that converges declared stacks into running
// replicas behind the edge listener.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/matgreaves/gantry/internal/driver"
	"github.com/matgreaves/gantry/internal/metrics"
	"github.com/matgreaves/gantry/internal/secret"
	"github.com/matgreaves/gantry/spec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the gantry HTTP API server. It manages the lifecycle of one
// or more concurrent stacks, each with its own event log and runner.
type Server struct {
	mux     *http.ServeMux
	ports   *PortAllocator
	driver  driver.Driver
	secrets secret.Store

	mu     sync.Mutex
	stacks map[string]*stackInstance // keyed by instance ID
	byName map[string]string         // stack name → instance ID

	idle *IdleTimer
}

// stackInstance holds the runtime state of a single active stack.
type stackInstance struct {
	id          string
	spec        *spec.Stack
	fingerprint string
	log         *EventLog
	deployment  *Deployment

	cancel context.CancelFunc
	done   <-chan error // receives runner's terminal error (buffered 1)
}

// NewServer creates a Server and registers all HTTP routes.
// Pass idleTimeout = 0 to disable automatic shutdown.
func NewServer(ports *PortAllocator, drv driver.Driver, secrets secret.Store, idleTimeout time.Duration) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		ports:   ports,
		driver:  drv,
		secrets: secrets,
		stacks:  make(map[string]*stackInstance),
		byName:  make(map[string]string),
		idle:    NewIdleTimer(idleTimeout),
	}

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	s.mux.HandleFunc("POST /stacks", s.handleCreateStack)
	s.mux.HandleFunc("GET /stacks/{id}", s.handleGetStack)
	s.mux.HandleFunc("GET /stacks/{id}/events", s.handleSSE)
	s.mux.HandleFunc("DELETE /stacks/{id}", s.handleDeleteStack)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ShutdownCh returns a channel that is closed when the idle timer fires.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.idle.ShutdownCh()
}

// handleCreateStack handles POST /stacks.
//
// Validates the spec and converges the stack, returning the instance ID
// immediately while replicas start in the background. Applying is
// idempotent by stack name: re-posting an identical spec returns the
// existing instance with 200, while a different spec under an active
// name is a 409 — the caller must delete the old stack first.
func (s *Server) handleCreateStack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	st, err := spec.DecodeStack(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "decode: "+err.Error())
		return
	}

	if errs := ValidateStack(&st); len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":             "spec validation failed",
			"validation_errors": errs,
		})
		return
	}

	fingerprint := stackFingerprint(&st)

	s.mu.Lock()
	if existingID, ok := s.byName[st.Name]; ok {
		existing := s.stacks[existingID]
		s.mu.Unlock()
		if existing.fingerprint == fingerprint {
			writeJSON(w, http.StatusOK, map[string]string{"id": existing.id})
			return
		}
		writeError(w, http.StatusConflict,
			"stack "+st.Name+" is already deployed with a different spec; delete it first")
		return
	}
	s.mu.Unlock()

	stackLog := NewEventLog()
	orch := &Orchestrator{
		Ports:   s.ports,
		Driver:  s.driver,
		Secrets: s.secrets,
		Log:     stackLog,
	}

	dep, err := orch.Converge(r.Context(), &st)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "converge: "+err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	inst := &stackInstance{
		id:          dep.ID,
		spec:        &st,
		fingerprint: fingerprint,
		log:         stackLog,
		deployment:  dep,
		cancel:      cancel,
		done:        done,
	}

	s.mu.Lock()
	// Re-check under lock: a concurrent POST for the same name may have
	// won the race.
	if _, ok := s.byName[st.Name]; ok {
		s.mu.Unlock()
		cancel()
		writeError(w, http.StatusConflict, "stack "+st.Name+" is already being deployed")
		return
	}
	s.stacks[dep.ID] = inst
	s.byName[st.Name] = dep.ID
	s.mu.Unlock()

	s.idle.StackCreated()

	go func() {
		// Watch for all services becoming ready then emit stack.up.
		// watchCtx is cancelled when the runner exits, preventing the
		// watcher from blocking forever if some services never get there.
		watchCtx, watchCancel := context.WithCancel(ctx)
		defer watchCancel()

		go func() {
			need := len(st.Services)
			ch := stackLog.Subscribe(watchCtx, 0, func(e Event) bool {
				return e.Type == EventServiceReady
			})
			count := 0
			for range ch {
				count++
				if count >= need {
					stackLog.Publish(Event{Type: EventStackUp, Stack: st.Name})
					return
				}
			}
		}()

		err := dep.Runner.Run(ctx)

		// Emit stack.down before signalling done so that SSE clients see
		// the terminal event before DELETE returns.
		stackLog.Publish(Event{Type: EventStackDown, Stack: st.Name})

		done <- err
	}()

	writeJSON(w, http.StatusCreated, map[string]string{"id": dep.ID})
}

// handleGetStack handles GET /stacks/{id}. The {id} segment accepts
// either the instance ID or the stack name.
func (s *Server) handleGetStack(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.getInstance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, buildResolvedStack(inst))
}

// handleDeleteStack handles DELETE /stacks/{id}.
//
// Cancels the runner, blocks until every replica is torn down, releases
// ports, then removes the stack from the active set. Returns once
// teardown is complete.
func (s *Server) handleDeleteStack(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("id")

	// Remove from the maps immediately so concurrent DELETEs get 404.
	s.mu.Lock()
	inst, ok := s.lookupLocked(key)
	if ok {
		delete(s.stacks, inst.id)
		delete(s.byName, inst.spec.Name)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "stack not found")
		return
	}

	inst.cancel()
	<-inst.done

	s.ports.Release(inst.id)
	s.idle.StackDestroyed()

	writeJSON(w, http.StatusOK, map[string]string{"id": inst.id, "status": "destroyed"})
}

// getInstance looks up a stack by the {id} path value (instance ID or
// name), writing a 404 and returning false if not found.
func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) (*stackInstance, bool) {
	key := r.PathValue("id")
	s.mu.Lock()
	inst, ok := s.lookupLocked(key)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "stack not found")
		return nil, false
	}
	return inst, true
}

// lookupLocked resolves an instance ID or stack name. Caller holds s.mu.
func (s *Server) lookupLocked(key string) (*stackInstance, bool) {
	if inst, ok := s.stacks[key]; ok {
		return inst, true
	}
	if id, ok := s.byName[key]; ok {
		return s.stacks[id], true
	}
	return nil, false
}

// buildResolvedStack assembles a point-in-time snapshot of the stack from
// the live service managers: status, desired counts, and replica
// rotation state.
func buildResolvedStack(inst *stackInstance) spec.ResolvedStack {
	services := make(map[string]spec.ResolvedService, len(inst.spec.Services))
	for name := range inst.spec.Services {
		m := inst.deployment.Manager(name)
		if m == nil {
			services[name] = spec.ResolvedService{Status: spec.StatusPending}
			continue
		}
		services[name] = spec.ResolvedService{
			Status:   m.Status(),
			Desired:  m.Desired(),
			Replicas: m.Snapshot(),
		}
	}

	return spec.ResolvedStack{
		ID:       inst.id,
		Name:     inst.spec.Name,
		Services: services,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
