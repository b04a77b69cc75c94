package spec

// Stack is the top-level declarative description of a deployment: a set of
// services and the edge that routes public traffic to them. This is the JSON
// wire format sent from SDKs and the CLI to gantryd.
type Stack struct {
	// Name identifies the stack. Re-applying an identical spec under the
	// same name is a no-op.
	Name string `json:"name"`

	// Services maps service names to their specs.
	Services map[string]Service `json:"services"`

	// Edge declares the single public entry point and its routing rules.
	Edge Edge `json:"edge"`
}

// ResolvedStack is the runtime view of a stack after replicas have been
// started and pools populated.
type ResolvedStack struct {
	ID       string                     `json:"id"`
	Name     string                     `json:"name"`
	Services map[string]ResolvedService `json:"services"`
}

// ResolvedService is the runtime view of a single service.
type ResolvedService struct {
	Status   ServiceStatus `json:"status"`
	Desired  int           `json:"desired"`
	Replicas []Replica     `json:"replicas,omitempty"`
}

// Replica is one running instance of a service's container.
type Replica struct {
	ID       string        `json:"id"`
	Endpoint Endpoint      `json:"endpoint"`
	Status   ReplicaStatus `json:"status"`
}
