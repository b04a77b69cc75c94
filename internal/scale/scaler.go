// Package scale implements per-service autoscaling: a target-tracking
// scaler that watches average CPU utilization and adjusts the desired
// replica count within the policy's bounds, one step at a time.
package scale

import (
	"context"
	"time"

	"github.com/matgreaves/gantry/spec"
)

const (
	// DefaultScaleInCooldown applies when the policy omits one.
	DefaultScaleInCooldown = 5 * time.Minute

	// DefaultScaleOutCooldown applies when the policy omits one.
	DefaultScaleOutCooldown = 1 * time.Minute

	// DefaultObserveInterval is how often the Loop samples utilization.
	DefaultObserveInterval = 15 * time.Second
)

// State is the scaler's current posture.
type State string

const (
	// Stable means utilization is within target and no breach is tracked.
	Stable State = "stable"

	// ScalingOut means utilization has been above target and the scaler
	// is waiting out the scale-out cooldown.
	ScalingOut State = "scaling_out"

	// ScalingIn means utilization has been below target and the scaler
	// is waiting out the scale-in cooldown.
	ScalingIn State = "scaling_in"
)

// MetricSource supplies the utilization signal for a service, averaged
// across its replicas, as a percentage of the per-replica reservation.
type MetricSource interface {
	Utilization(ctx context.Context, service string) (float64, error)
}

// Scaler tracks one service against one scaling policy. It is not safe
// for concurrent use; the owning Loop serializes observations.
type Scaler struct {
	service string
	policy  spec.ScalingSpec
	now     func() time.Time

	state       State
	breachSince time.Time
	lastAction  time.Time
	desired     int
}

// New returns a scaler starting at the given replica count, clamped into
// the policy's bounds.
func New(service string, policy spec.ScalingSpec, initial int) *Scaler {
	s := &Scaler{
		service: service,
		policy:  policy,
		now:     time.Now,
		state:   Stable,
		desired: initial,
	}
	s.desired = s.clamp(s.desired)
	return s
}

// Desired returns the current desired replica count.
func (s *Scaler) Desired() int { return s.desired }

// CurrentState returns the scaler's current posture.
func (s *Scaler) CurrentState() State { return s.state }

func (s *Scaler) clamp(n int) int {
	if n < s.policy.MinReplicas {
		n = s.policy.MinReplicas
	}
	if n > s.policy.MaxReplicas {
		n = s.policy.MaxReplicas
	}
	return n
}

func (s *Scaler) outCooldown() time.Duration {
	if d := s.policy.ScaleOutCooldown.Duration; d > 0 {
		return d
	}
	return DefaultScaleOutCooldown
}

func (s *Scaler) inCooldown() time.Duration {
	if d := s.policy.ScaleInCooldown.Duration; d > 0 {
		return d
	}
	return DefaultScaleInCooldown
}

// Observe feeds one utilization sample to the scaler and returns the
// desired replica count plus whether it changed. A scaling step fires
// only when the breach has been sustained for the direction's full
// cooldown and at least one cooldown has passed since the last action,
// so a flapping metric resets the clock instead of thrashing replicas.
func (s *Scaler) Observe(utilization float64) (desired int, changed bool) {
	now := s.now()

	var dir State
	switch {
	case utilization > s.policy.TargetValue:
		dir = ScalingOut
	case utilization < s.policy.TargetValue:
		dir = ScalingIn
	default:
		dir = Stable
	}

	if dir != s.state {
		s.state = dir
		s.breachSince = now
		return s.desired, false
	}
	if dir == Stable {
		return s.desired, false
	}

	cooldown := s.outCooldown()
	step := 1
	if dir == ScalingIn {
		cooldown = s.inCooldown()
		step = -1
	}

	if now.Sub(s.breachSince) < cooldown {
		return s.desired, false
	}
	if !s.lastAction.IsZero() && now.Sub(s.lastAction) < cooldown {
		return s.desired, false
	}

	next := s.clamp(s.desired + step)
	if next == s.desired {
		return s.desired, false
	}

	s.desired = next
	s.lastAction = now
	s.breachSince = now
	return s.desired, true
}

// Loop samples the metric source at interval and calls resize with the
// new desired count after every scaling action. It runs until ctx is
// cancelled. Sampling errors are reported through onError and skipped;
// a replica that has just started has no stats yet and that is routine.
func (s *Scaler) Loop(ctx context.Context, src MetricSource, interval time.Duration, resize func(ctx context.Context, n int) error, onError func(error)) error {
	if interval <= 0 {
		interval = DefaultObserveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		u, err := src.Utilization(ctx, s.service)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if onError != nil {
				onError(err)
			}
			continue
		}

		if n, ok := s.Observe(u); ok {
			if err := resize(ctx, n); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}
}
