// Package router implements the edge's dispatch table: prioritized
// glob-pattern rules over one default catch-all target.
//
// The table is built once at deploy time (AddRule/SetDefault/Finalize) and
// is read-only afterwards, so Match is safe for concurrent use without
// locking.
package router

import (
	"fmt"
	"sort"
)

// Target is anything a rule can forward to. The router never inspects
// targets beyond their identity.
type Target interface {
	Name() string
}

// ConflictError is returned when a rule's priority is already in use.
// No traffic-affecting state changes before the conflict is reported.
type ConflictError struct {
	Priority int
	Existing string // target of the rule holding the priority
	Rejected string // target of the rule being added
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("priority %d already in use by rule for %q (rejected rule for %q)",
		e.Priority, e.Existing, e.Rejected)
}

type rule struct {
	priority int
	patterns []string
	target   Target
}

// Table dispatches request paths to targets. Zero value is not usable;
// create with New.
type Table struct {
	rules      []rule
	byPriority map[int]Target
	def        Target
	finalized  bool
}

// New creates an empty, unfinalized table.
func New() *Table {
	return &Table{byPriority: make(map[int]Target)}
}

// AddRule registers a prioritized path-pattern rule. It fails with a
// *ConflictError if the priority is already in use, and with a plain error
// for malformed input (priority < 1, no patterns, non-rooted pattern).
func (t *Table) AddRule(priority int, patterns []string, target Target) error {
	if t.finalized {
		return fmt.Errorf("table already finalized")
	}
	if priority < 1 {
		return fmt.Errorf("rule for %q: priority must be ≥ 1, got %d", target.Name(), priority)
	}
	if len(patterns) == 0 {
		return fmt.Errorf("rule for %q: at least one pattern is required", target.Name())
	}
	for _, p := range patterns {
		if p == "" || p[0] != '/' {
			return fmt.Errorf("rule for %q: pattern %q must start with /", target.Name(), p)
		}
	}
	if existing, ok := t.byPriority[priority]; ok {
		return &ConflictError{Priority: priority, Existing: existing.Name(), Rejected: target.Name()}
	}

	t.byPriority[priority] = target
	t.rules = append(t.rules, rule{priority: priority, patterns: patterns, target: target})
	return nil
}

// SetDefault binds the catch-all target. The setter is idempotent: binding
// the same target again is a no-op. Rebinding to a different target is an
// error — the default is assigned exactly once, not mutated across
// construction steps.
func (t *Table) SetDefault(target Target) error {
	if t.finalized {
		return fmt.Errorf("table already finalized")
	}
	if t.def != nil {
		if t.def.Name() == target.Name() {
			return nil
		}
		return fmt.Errorf("default target already bound to %q (rejected %q)",
			t.def.Name(), target.Name())
	}
	t.def = target
	return nil
}

// Finalize validates the table and freezes it for evaluation:
//
//   - exactly one default must be bound;
//   - no rule may carry a "/*" pattern — that is a second catch-all in
//     disguise, competing with the default, and is rejected rather than
//     silently double-defined.
//
// Rules are sorted by ascending priority so Match is deterministic
// regardless of registration order.
func (t *Table) Finalize() error {
	if t.def == nil {
		return fmt.Errorf("no default target bound")
	}
	for _, r := range t.rules {
		for _, p := range r.patterns {
			if p == "/*" {
				return fmt.Errorf(
					"rule priority %d for %q: pattern \"/*\" is a catch-all and duplicates the default target %q",
					r.priority, r.target.Name(), t.def.Name())
			}
		}
	}
	sort.Slice(t.rules, func(i, j int) bool {
		return t.rules[i].priority < t.rules[j].priority
	})
	t.finalized = true
	return nil
}

// Match returns the target for a request path: the lowest-priority rule
// whose pattern set matches, or the default if none match. Must only be
// called after Finalize.
func (t *Table) Match(path string) Target {
	if !t.finalized {
		panic("router: Match called before Finalize")
	}
	for _, r := range t.rules {
		for _, p := range r.patterns {
			if matchPattern(p, path) {
				return r.target
			}
		}
	}
	return t.def
}

// Rules returns the finalized rules in evaluation order, for event
// reporting. Targets are returned by name.
func (t *Table) Rules() []RuleInfo {
	out := make([]RuleInfo, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, RuleInfo{
			Priority: r.priority,
			Patterns: append([]string(nil), r.patterns...),
			Target:   r.target.Name(),
		})
	}
	return out
}

// Default returns the bound catch-all target, or nil before SetDefault.
func (t *Table) Default() Target {
	return t.def
}

// RuleInfo is the reporting view of a registered rule.
type RuleInfo struct {
	Priority int      `json:"priority"`
	Patterns []string `json:"patterns"`
	Target   string   `json:"target"`
}
