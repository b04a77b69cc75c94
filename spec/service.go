package spec

// Service defines a single containerized service within a stack.
type Service struct {
	// Image is the container image reference (e.g. "registry/backend:1.4").
	Image string `json:"image"`

	// CPU is the CPU reservation in shares, 1024 = one core. Zero means
	// no reservation.
	CPU int `json:"cpu,omitempty"`

	// Memory is the memory limit in MiB. Zero means no limit.
	Memory int `json:"memory,omitempty"`

	// ContainerPort is the port the container listens on. Each replica's
	// host port is allocated at deploy time and mapped to it.
	ContainerPort int `json:"container_port"`

	// Env sets plain environment variables on every replica.
	Env map[string]string `json:"env,omitempty"`

	// Secrets maps environment variable names to references into the
	// external secret store. References are resolved at deploy time; the
	// spec never carries secret values.
	Secrets map[string]SecretRef `json:"secrets,omitempty"`

	// Replicas is the initial desired replica count. Defaults to 1.
	// When Scaling is set, the count is clamped into its bounds.
	Replicas int `json:"replicas,omitempty"`

	// Health overrides the default health check for this service's pool.
	Health *HealthSpec `json:"health,omitempty"`

	// Scaling attaches an autoscaling policy to this service.
	Scaling *ScalingSpec `json:"scaling,omitempty"`
}

// SecretRef names a secret in the external store. Key selects a field
// within the secret for stores that hold structured secrets.
type SecretRef struct {
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}
