package spec

// HealthSpec configures the health check attached to a service's target
// pool. Health state gates traffic: replicas failing the check leave the
// pool's rotation but are not destroyed.
//
// If omitted, an HTTP check against "/" expecting a 200 is used.
type HealthSpec struct {
	// Type overrides the check type ("http", "tcp", "grpc").
	// Defaults to "http".
	Type string `json:"type,omitempty"`

	// Path is the HTTP GET path for HTTP checks. Default "/".
	Path string `json:"path,omitempty"`

	// ExpectedCodes are the HTTP status codes considered healthy.
	// Default [200].
	ExpectedCodes []int `json:"expected_codes,omitempty"`

	// Port overrides the probe port. Zero means the replica's traffic port.
	Port int `json:"port,omitempty"`

	// Interval is the steady-state probe interval. Default 5s.
	Interval Duration `json:"interval,omitempty"`

	// Timeout is the maximum wait for a replica to become healthy after
	// start. Default 30s.
	Timeout Duration `json:"timeout,omitempty"`
}

// WithDefaults returns a copy of the spec with zero fields filled in.
// A nil receiver yields the full default check.
func (h *HealthSpec) WithDefaults() HealthSpec {
	out := HealthSpec{}
	if h != nil {
		out = *h
	}
	if out.Type == "" {
		out.Type = string(HTTP)
	}
	if out.Path == "" {
		out.Path = "/"
	}
	if len(out.ExpectedCodes) == 0 {
		out.ExpectedCodes = []int{200}
	}
	return out
}
