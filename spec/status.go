package spec

// ServiceStatus tracks a service through its lifecycle phases.
type ServiceStatus string

const (
	StatusPending   ServiceStatus = "pending"
	StatusDeploying ServiceStatus = "deploying"
	StatusReady     ServiceStatus = "ready"
	StatusDegraded  ServiceStatus = "degraded"
	StatusFailed    ServiceStatus = "failed"
	StatusStopping  ServiceStatus = "stopping"
	StatusStopped   ServiceStatus = "stopped"
)

// ReplicaStatus tracks a single replica. Health gates traffic only: an
// unhealthy replica stays out of its pool's rotation but keeps running.
type ReplicaStatus string

const (
	ReplicaStarting  ReplicaStatus = "starting"
	ReplicaHealthy   ReplicaStatus = "healthy"
	ReplicaUnhealthy ReplicaStatus = "unhealthy"
	ReplicaStopped   ReplicaStatus = "stopped"
)
