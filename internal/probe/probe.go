// Package probe implements health checks for pool members: a startup poll
// that gates a replica's first entry into rotation, and a steady-state
// watch that flips the traffic gate in both directions afterwards.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/matgreaves/gantry/spec"
)

const (
	// DefaultInitialInterval is the starting startup-poll interval.
	DefaultInitialInterval = 10 * time.Millisecond

	// DefaultMaxInterval is the maximum startup-poll interval after backoff.
	DefaultMaxInterval = 1 * time.Second

	// DefaultTimeout is the default maximum wait for first health.
	DefaultTimeout = 30 * time.Second

	// DefaultWatchInterval is the steady-state probe interval.
	DefaultWatchInterval = 5 * time.Second
)

// Checker performs a single health probe against an endpoint.
type Checker interface {
	Check(ctx context.Context, host string, port int) error
}

// ForSpec returns a Checker for the given health spec (defaults already
// applied via WithDefaults).
func ForSpec(hs spec.HealthSpec) Checker {
	switch hs.Type {
	case string(spec.GRPC):
		return &GRPC{}
	case string(spec.TCP):
		return &TCP{}
	default:
		return &HTTP{Path: hs.Path, ExpectedCodes: hs.ExpectedCodes}
	}
}

// probePort returns the port probes should hit: the health spec's override
// if set, otherwise the traffic port.
func probePort(hs spec.HealthSpec, ep spec.Endpoint) int {
	if hs.Port != 0 {
		return hs.Port
	}
	return ep.Port
}

// Poll repeatedly checks the endpoint with exponential backoff until the
// check succeeds, the health spec's timeout elapses, or ctx is cancelled.
// It gates a replica's first entry into traffic rotation.
func Poll(ctx context.Context, ep spec.Endpoint, hs spec.HealthSpec, checker Checker) error {
	timeout := DefaultTimeout
	if hs.Timeout.Duration > 0 {
		timeout = hs.Timeout.Duration
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	port := probePort(hs, ep)
	interval := DefaultInitialInterval
	var lastErr error

	for {
		if err := checker.Check(ctx, ep.Host, port); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("health check failed after %s (last error: %v)", timeout, lastErr)
			}
			return fmt.Errorf("health check failed: %w", ctx.Err())
		case <-time.After(interval):
		}

		interval *= 2
		if interval > DefaultMaxInterval {
			interval = DefaultMaxInterval
		}
	}
}

// Watch probes the endpoint at the health spec's interval until ctx is
// cancelled, calling onChange on every health transition. The replica is
// assumed healthy on entry (Watch runs after a successful Poll).
func Watch(ctx context.Context, ep spec.Endpoint, hs spec.HealthSpec, checker Checker, onChange func(healthy bool)) {
	interval := DefaultWatchInterval
	if hs.Interval.Duration > 0 {
		interval = hs.Interval.Duration
	}

	port := probePort(hs, ep)
	healthy := true

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := checker.Check(ctx, ep.Host, port)
		if ctx.Err() != nil {
			return
		}
		if ok := err == nil; ok != healthy {
			healthy = ok
			onChange(healthy)
		}
	}
}
