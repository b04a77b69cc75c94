package spec

// MetricCPUUtilization is the only scaling metric currently supported:
// average CPU use across a service's replicas as a percentage of the
// per-replica reservation.
const MetricCPUUtilization = "cpu_utilization"

// ScalingSpec is an autoscaling policy bound to one service. The scaler
// raises the replica count when the metric stays above TargetValue for a
// full ScaleOutCooldown since the last scaling action, and lowers it when
// the metric stays below for ScaleInCooldown. The count never leaves
// [MinReplicas, MaxReplicas].
type ScalingSpec struct {
	// MinReplicas is the floor. Must be ≥ 1 so the service never scales
	// to zero and cold-starts on the next request.
	MinReplicas int `json:"min_replicas"`

	// MaxReplicas is the ceiling. Must be ≥ MinReplicas.
	MaxReplicas int `json:"max_replicas"`

	// Metric names the utilization signal. Only "cpu_utilization".
	Metric string `json:"metric"`

	// TargetValue is the metric target, in percent (0–100].
	TargetValue float64 `json:"target_value"`

	// ScaleInCooldown is the minimum sustained under-target window (and
	// minimum gap after any scaling action) before removing a replica.
	// Default 5m.
	ScaleInCooldown Duration `json:"scale_in_cooldown,omitempty"`

	// ScaleOutCooldown is the equivalent window for adding a replica.
	// Default 1m.
	ScaleOutCooldown Duration `json:"scale_out_cooldown,omitempty"`
}
