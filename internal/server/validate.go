package server

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/matgreaves/gantry/spec"
)

// ValidateStack checks a stack spec for structural errors. It calls
// ResolveDefaults first to fill in default values, then validates.
// Returns all errors found (not just the first) so the user can fix them
// in one pass.
func ValidateStack(st *spec.Stack) []string {
	ResolveDefaults(st)

	var errs []string

	if st.Name == "" {
		errs = append(errs, "stack name is required")
	}

	if len(st.Services) == 0 {
		errs = append(errs, "stack must have at least one service")
	}

	// Sort service names for deterministic error ordering.
	for _, name := range sortedKeys(st.Services) {
		errs = append(errs, validateService(name, st.Services[name])...)
	}

	errs = append(errs, validateEdge(&st.Edge, st.Services)...)

	return errs
}

// ResolveDefaults fills in default values on the stack spec. Called
// automatically by ValidateStack.
func ResolveDefaults(st *spec.Stack) {
	for name, svc := range st.Services {
		if svc.Replicas == 0 {
			svc.Replicas = 1
		}
		st.Services[name] = svc
	}
}

func sortedKeys(services map[string]spec.Service) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateService(name string, svc spec.Service) []string {
	var errs []string

	if svc.Image == "" {
		errs = append(errs, fmt.Sprintf("service %q: image is required", name))
	}

	if svc.ContainerPort < 1 || svc.ContainerPort > 65535 {
		errs = append(errs, fmt.Sprintf(
			"service %q: container_port %d out of range (1–65535)", name, svc.ContainerPort))
	}

	if svc.CPU < 0 {
		errs = append(errs, fmt.Sprintf("service %q: cpu must be ≥ 0", name))
	}
	if svc.Memory < 0 {
		errs = append(errs, fmt.Sprintf("service %q: memory must be ≥ 0", name))
	}
	if svc.Replicas < 1 {
		errs = append(errs, fmt.Sprintf("service %q: replicas must be ≥ 1", name))
	}

	// Secret references need a name; the key may be empty for flat stores.
	// Sorted for deterministic output.
	secretEnvs := make([]string, 0, len(svc.Secrets))
	for env := range svc.Secrets {
		secretEnvs = append(secretEnvs, env)
	}
	sort.Strings(secretEnvs)
	for _, env := range secretEnvs {
		if svc.Secrets[env].Name == "" {
			errs = append(errs, fmt.Sprintf(
				"service %q: secret %q: secret name is required", name, env))
		}
		if _, ok := svc.Env[env]; ok {
			errs = append(errs, fmt.Sprintf(
				"service %q: %q is declared in both env and secrets", name, env))
		}
	}

	if svc.Health != nil {
		h := svc.Health.WithDefaults()
		switch h.Type {
		case string(spec.HTTP), string(spec.TCP), string(spec.GRPC):
		default:
			errs = append(errs, fmt.Sprintf(
				"service %q: health: invalid type %q (must be one of: http, tcp, grpc)", name, h.Type))
		}
		if h.Port < 0 || h.Port > 65535 {
			errs = append(errs, fmt.Sprintf(
				"service %q: health: port %d out of range", name, h.Port))
		}
	}

	if svc.Scaling != nil {
		errs = append(errs, validateScaling(name, svc.Scaling)...)
	}

	return errs
}

func validateScaling(name string, sc *spec.ScalingSpec) []string {
	var errs []string

	// Floor of 1 so the service never scales to zero and cold-starts on
	// the next request.
	if sc.MinReplicas < 1 {
		errs = append(errs, fmt.Sprintf(
			"service %q: scaling: min_replicas must be ≥ 1, got %d", name, sc.MinReplicas))
	}
	if sc.MaxReplicas < sc.MinReplicas {
		errs = append(errs, fmt.Sprintf(
			"service %q: scaling: max_replicas (%d) must be ≥ min_replicas (%d)",
			name, sc.MaxReplicas, sc.MinReplicas))
	}
	if sc.Metric != spec.MetricCPUUtilization {
		errs = append(errs, fmt.Sprintf(
			"service %q: scaling: unknown metric %q (only %q is supported)",
			name, sc.Metric, spec.MetricCPUUtilization))
	}
	if sc.TargetValue <= 0 || sc.TargetValue > 100 {
		errs = append(errs, fmt.Sprintf(
			"service %q: scaling: target_value must be in (0, 100], got %v", name, sc.TargetValue))
	}
	if sc.ScaleInCooldown.Duration < 0 || sc.ScaleOutCooldown.Duration < 0 {
		errs = append(errs, fmt.Sprintf("service %q: scaling: cooldowns must be ≥ 0", name))
	}

	return errs
}

func validateEdge(edge *spec.Edge, services map[string]spec.Service) []string {
	var errs []string

	if edge.Port < 1 || edge.Port > 65535 {
		errs = append(errs, fmt.Sprintf("edge: port %d out of range (1–65535)", edge.Port))
	}

	if edge.Default == "" {
		errs = append(errs, "edge: a default service is required")
	} else if _, ok := services[edge.Default]; !ok {
		msg := fmt.Sprintf("edge: default references unknown service %q", edge.Default)
		if suggestion := closestMatch(edge.Default, services); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}
		errs = append(errs, msg)
	}

	seen := make(map[int]int) // priority → rule index
	for i, rule := range edge.Rules {
		if rule.Priority < 1 {
			errs = append(errs, fmt.Sprintf(
				"edge: rule %d: priority must be ≥ 1, got %d", i, rule.Priority))
		}
		if prev, ok := seen[rule.Priority]; ok {
			errs = append(errs, fmt.Sprintf(
				"edge: rule %d: priority %d already used by rule %d", i, rule.Priority, prev))
		} else {
			seen[rule.Priority] = i
		}

		if len(rule.Patterns) == 0 {
			errs = append(errs, fmt.Sprintf("edge: rule %d: at least one pattern is required", i))
		}
		for _, p := range rule.Patterns {
			if p == "" || p[0] != '/' {
				errs = append(errs, fmt.Sprintf(
					"edge: rule %d: pattern %q must start with /", i, p))
			}
			if p == "/*" {
				errs = append(errs, fmt.Sprintf(
					"edge: rule %d: pattern \"/*\" is a catch-all — use the default service instead", i))
			}
		}

		if rule.Service == "" {
			errs = append(errs, fmt.Sprintf("edge: rule %d: service is required", i))
		} else if _, ok := services[rule.Service]; !ok {
			msg := fmt.Sprintf("edge: rule %d: references unknown service %q", i, rule.Service)
			if suggestion := closestMatch(rule.Service, services); suggestion != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			errs = append(errs, msg)
		}
	}

	return errs
}

// closestMatch returns the service name closest to target using simple
// edit distance, or "" if no name is close enough.
func closestMatch(target string, services map[string]spec.Service) string {
	best := ""
	bestDist := len(target)/2 + 1 // threshold: must be within half the length

	for name := range services {
		d := editDistance(target, name)
		if d < bestDist {
			bestDist = d
			best = name
		}
	}
	return best
}

func editDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// stackFingerprint canonically serializes a stack spec so re-applies can
// be compared for equality. encoding/json sorts map keys, so two specs
// differing only in declaration order fingerprint identically.
func stackFingerprint(st *spec.Stack) string {
	b, err := json.Marshal(st)
	if err != nil {
		return ""
	}
	return string(b)
}
