// Package docker runs replicas as Docker containers with host-mapped
// ports and resource limits derived from the service spec.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/matgreaves/gantry/internal/driver"
	"github.com/matgreaves/gantry/spec"
	"github.com/matgreaves/run"
	"github.com/matgreaves/run/onexit"
)

// cpuSharesPerCore matches the spec's CPU unit: 1024 shares = one core.
const cpuSharesPerCore = 1024

// ContainerName returns the Docker container name for a replica.
func ContainerName(stack, replicaID string) string {
	return fmt.Sprintf("gantry-%s-%s", stack, replicaID)
}

type containerRef struct {
	id        string
	cpuShares int
}

// Driver implements driver.Driver on the local Docker daemon.
type Driver struct {
	mu         sync.Mutex
	containers map[string]containerRef // replica ID → running container
}

func New() *Driver {
	return &Driver{containers: make(map[string]containerRef)}
}

func (d *Driver) track(replicaID, containerID string, cpuShares int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containers[replicaID] = containerRef{id: containerID, cpuShares: cpuShares}
}

func (d *Driver) untrack(replicaID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.containers, replicaID)
}

func (d *Driver) lookup(replicaID string) (containerRef, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, ok := d.containers[replicaID]
	return ref, ok
}

// Prepare pulls the image. The pull isn't done until the response body
// is fully read.
func (d *Driver) Prepare(ctx context.Context, img string) error {
	cli, err := sharedCli()
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	rc, err := cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker pull %s: %w", img, err)
	}
	if _, err := io.Copy(io.Discard, rc); err != nil {
		rc.Close()
		return fmt.Errorf("docker pull %s: read response: %w", img, err)
	}
	return rc.Close()
}

// StartReplica returns a runner that creates, starts, and manages a
// Docker container. The container is stopped and removed when ctx is
// cancelled.
func (d *Driver) StartReplica(params driver.StartParams) run.Runner {
	return run.Func(func(ctx context.Context) error {
		cli, err := sharedCli()
		if err != nil {
			return fmt.Errorf("replica %q: docker client: %w", params.ReplicaID, err)
		}

		// Verify Docker is reachable.
		if _, err := cli.Ping(ctx); err != nil {
			return fmt.Errorf("replica %q: cannot connect to Docker daemon (is Docker running?): %w", params.ReplicaID, err)
		}

		portBindings, exposedPorts := portBinding(params.Spec.ContainerPort, params.HostPort)

		config := &container.Config{
			Image:        params.Spec.Image,
			Env:          envMapToSlice(params.Env),
			ExposedPorts: exposedPorts,
		}

		hostConfig := &container.HostConfig{
			PortBindings: portBindings,
			Resources:    resources(params.Spec),
		}
		// On Linux, ensure host.docker.internal resolves to the host.
		if runtime.GOOS == "linux" {
			hostConfig.ExtraHosts = []string{"host.docker.internal:host-gateway"}
		}

		containerName := ContainerName(params.Stack, params.ReplicaID)
		resp, err := cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
		if err != nil {
			return fmt.Errorf("replica %q: create container: %w", params.ReplicaID, err)
		}
		containerID := resp.ID

		// Register backup cleanup with onexit so the container is removed
		// even if the daemon is killed (SIGKILL, OOM, CI timeout, etc.).
		cancelOnexit, _ := onexit.OnExitF("docker rm -f %s", containerID)

		d.track(params.ReplicaID, containerID, params.Spec.CPU)

		// Ensure cleanup: stop + remove on exit.
		defer func() {
			d.untrack(params.ReplicaID)
			// Use a background context for cleanup — the original ctx may already be cancelled.
			cleanCtx := context.Background()
			timeout := 10 // seconds
			cli.ContainerStop(cleanCtx, containerID, container.StopOptions{Timeout: &timeout})
			cli.ContainerRemove(cleanCtx, containerID, container.RemoveOptions{Force: true})
			// Graceful cleanup succeeded — cancel the onexit backup.
			if cancelOnexit != nil {
				cancelOnexit()
			}
		}()

		if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("replica %q: start container: %w", params.ReplicaID, err)
		}

		// Stream container logs to the replica's stdout/stderr writers.
		logReader, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			return fmt.Errorf("replica %q: attach logs: %w", params.ReplicaID, err)
		}

		// Copy logs in the background.
		logDone := make(chan struct{})
		go func() {
			defer close(logDone)
			stdcopy.StdCopy(params.Stdout, params.Stderr, logReader)
			logReader.Close()
		}()

		// Wait for the container to exit or the context to be cancelled.
		waitCh, errCh := cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

		select {
		case result := <-waitCh:
			<-logDone // drain remaining logs
			if result.StatusCode != 0 {
				return fmt.Errorf("replica %q: container exited with code %d", params.ReplicaID, result.StatusCode)
			}
			return nil
		case err := <-errCh:
			<-logDone
			if ctx.Err() != nil {
				// Context cancelled — teardown path. Not an error.
				return ctx.Err()
			}
			return fmt.Errorf("replica %q: container wait: %w", params.ReplicaID, err)
		case <-ctx.Done():
			<-logDone
			return ctx.Err()
		}
	})
}

// Usage reports CPU use as a percentage of the replica's reservation.
// A replica reserving 512 shares (half a core) that burns half a core
// reports 100.
func (d *Driver) Usage(ctx context.Context, replicaID string) (float64, error) {
	ref, ok := d.lookup(replicaID)
	if !ok {
		return 0, fmt.Errorf("replica %q: no running container", replicaID)
	}

	cli, err := sharedCli()
	if err != nil {
		return 0, err
	}

	// stream=false still yields two internal samples, so the precpu
	// fields carry a usable delta.
	resp, err := cli.ContainerStats(ctx, ref.id, false)
	if err != nil {
		return 0, fmt.Errorf("replica %q: stats: %w", replicaID, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("replica %q: decode stats: %w", replicaID, err)
	}

	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta < 0 {
		return 0, nil
	}

	online := float64(stats.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	coresUsed := cpuDelta / sysDelta * online

	reserved := float64(ref.cpuShares) / cpuSharesPerCore
	if reserved <= 0 {
		reserved = 1
	}
	return coresUsed / reserved * 100, nil
}

// resources maps the spec's CPU shares and memory MiB onto Docker
// resource limits.
func resources(s spec.Service) container.Resources {
	r := container.Resources{}
	if s.CPU > 0 {
		r.NanoCPUs = int64(s.CPU) * 1e9 / cpuSharesPerCore
	}
	if s.Memory > 0 {
		r.Memory = int64(s.Memory) * 1024 * 1024
	}
	return r
}

// portBinding maps one host port to the container's traffic port.
func portBinding(containerPort, hostPort int) (nat.PortMap, nat.PortSet) {
	if containerPort == 0 {
		containerPort = hostPort
	}
	p := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
	bindings := nat.PortMap{
		p: []nat.PortBinding{{
			HostIP:   "127.0.0.1",
			HostPort: strconv.Itoa(hostPort),
		}},
	}
	return bindings, nat.PortSet{p: struct{}{}}
}

// envMapToSlice converts a map of env vars to a slice of "KEY=VALUE" strings.
func envMapToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
