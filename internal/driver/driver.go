// Package driver abstracts how replicas actually run. The daemon talks
// to a Driver; the docker subpackage is the production implementation
// and drivertest provides an in-process fake for tests.
package driver

import (
	"context"
	"io"

	"github.com/matgreaves/gantry/spec"
	"github.com/matgreaves/run"
)

// StartParams carries everything a driver needs to start one replica.
type StartParams struct {
	// Stack and Service name the owning stack and service.
	Stack   string
	Service string

	// ReplicaID is unique within the stack, e.g. "backend-1".
	ReplicaID string

	// Spec is the service definition (image, resources, container port).
	Spec spec.Service

	// HostPort is the host port mapped to the container port. The pool
	// routes traffic to it and probes hit it.
	HostPort int

	// Env is the full environment for the replica: spec env merged with
	// resolved secret values.
	Env map[string]string

	// Stdout and Stderr receive the replica's output.
	Stdout io.Writer
	Stderr io.Writer
}

// Driver starts and observes replicas.
type Driver interface {
	// Prepare makes an image available before any replica of it starts.
	// Called once per distinct image per converge.
	Prepare(ctx context.Context, image string) error

	// StartReplica returns a runner whose Run starts the replica, blocks
	// while it lives, and tears it down when ctx is cancelled. A non-nil
	// error from Run other than ctx.Err() means the replica failed.
	StartReplica(params StartParams) run.Runner

	// Usage reports the replica's CPU utilization as a percentage of its
	// reservation. Returns an error if the replica is gone or stats are
	// not available yet.
	Usage(ctx context.Context, replicaID string) (float64, error)
}
