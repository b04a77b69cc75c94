package spec

// Edge declares the single public entry point for a stack: one HTTP port,
// a default target, and prioritized path-pattern rules.
type Edge struct {
	// Port is the public listen port.
	Port int `json:"port"`

	// Default names the service that receives traffic matching no rule.
	// Exactly one default must be set; it is the listener's catch-all.
	Default string `json:"default"`

	// Rules are prioritized path-match rules. Lower priority wins.
	// Registration order is irrelevant — only Priority matters.
	Rules []Rule `json:"rules,omitempty"`
}

// Rule forwards requests whose path matches one of Patterns to the named
// service's target pool.
type Rule struct {
	// Priority orders rules; lower values take precedence. Must be unique
	// across the edge and ≥ 1.
	Priority int `json:"priority"`

	// Patterns are glob-style path patterns ("/api/*" matches any path
	// starting with "/api/"). A rule matches if any pattern matches.
	Patterns []string `json:"patterns"`

	// Service names the target service.
	Service string `json:"service"`
}
