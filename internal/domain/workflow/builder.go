package workflow

import (
	"fmt"
	"sort"
)

// Guard evaluates whether a conditional transition applies for the given context
type Guard[C any] func(c C) bool

// transition represents a state transition with optional guard
type transition[S ~string, C any] struct {
	to    S
	guard Guard[C]
}

// Edge is a read-only view of one configured transition.
type Edge[S ~string, A ~string] struct {
	From        S
	Action      A
	To          S
	Conditional bool
}

// StateConfig configures transitions for a specific state
type StateConfig[S ~string, A ~string, C any] struct {
	from        S
	valid       func(S) bool
	actions     []A
	transitions map[A][]transition[S, C]
}

// Builder builds an immutable transition table.
// States are checked with the validator passed to NewBuilder; configuring an
// unknown state panics so that a broken table never reaches runtime.
type Builder[S ~string, A ~string, C any] struct {
	valid          func(S) bool
	order          []S
	configurations map[S]*StateConfig[S, A, C]
}

// NewBuilder creates a new transition table builder. A nil validator accepts every state.
func NewBuilder[S ~string, A ~string, C any](valid func(S) bool) *Builder[S, A, C] {
	if valid == nil {
		valid = func(S) bool { return true }
	}
	return &Builder[S, A, C]{
		valid:          valid,
		configurations: make(map[S]*StateConfig[S, A, C]),
	}
}

// Configure returns a state configuration for the given state
func (b *Builder[S, A, C]) Configure(state S) *StateConfig[S, A, C] {
	if !b.valid(state) {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &StateConfig[S, A, C]{
			from:        state,
			valid:       b.valid,
			transitions: make(map[A][]transition[S, C]),
		}
		b.configurations[state] = config
		b.order = append(b.order, state)
	}

	return config
}

// Permit allows an action to transition to the target state
func (c *StateConfig[S, A, C]) Permit(action A, to S) *StateConfig[S, A, C] {
	return c.PermitIf(action, to, nil)
}

// PermitIf allows an action to transition to the target state if the guard passes.
// Transitions sharing an action are tried in the order they were added.
func (c *StateConfig[S, A, C]) PermitIf(action A, to S, guard Guard[C]) *StateConfig[S, A, C] {
	if !c.valid(to) {
		panic(fmt.Sprintf("invalid target state: %s", to))
	}

	if _, seen := c.transitions[action]; !seen {
		c.actions = append(c.actions, action)
	}
	c.transitions[action] = append(c.transitions[action], transition[S, C]{
		to:    to,
		guard: guard,
	})

	return c
}

// Build creates an immutable table from the current configuration
func (b *Builder[S, A, C]) Build() *Table[S, A, C] {
	// Deep copy configurations so later builder calls cannot mutate the table
	configs := make(map[S]map[A][]transition[S, C], len(b.configurations))
	actions := make(map[S][]A, len(b.configurations))
	for state, config := range b.configurations {
		copied := make(map[A][]transition[S, C], len(config.transitions))
		for action, transitions := range config.transitions {
			copied[action] = append([]transition[S, C]{}, transitions...)
		}
		configs[state] = copied
		actions[state] = append([]A{}, config.actions...)
	}

	return &Table[S, A, C]{
		order:       append([]S{}, b.order...),
		actions:     actions,
		transitions: configs,
	}
}

// Table is an immutable (state, action) -> state mapping with optional guarded branches.
// It holds no current state, so one table is shared by every request of a kind.
type Table[S ~string, A ~string, C any] struct {
	order       []S
	actions     map[S][]A
	transitions map[S]map[A][]transition[S, C]
}

// Resolve returns the target state for the action, trying guarded transitions in order
func (t *Table[S, A, C]) Resolve(from S, action A, c C) (S, error) {
	var zero S

	config, exists := t.transitions[from]
	if !exists {
		return zero, fmt.Errorf("%w: cannot fire %s from %s (no configuration)", ErrNoTransition, action, from)
	}

	transitions := config[action]
	if len(transitions) == 0 {
		return zero, fmt.Errorf("%w: cannot fire %s from %s", ErrNoTransition, action, from)
	}

	for _, tr := range transitions {
		if tr.guard == nil || tr.guard(c) {
			return tr.to, nil
		}
	}

	// All guards failed
	return zero, fmt.Errorf("%w: %s from %s", ErrGuardFailed, action, from)
}

// Permits returns true if at least one transition is configured for the pair
func (t *Table[S, A, C]) Permits(from S, action A) bool {
	return len(t.transitions[from][action]) > 0
}

// Actions returns the configured actions of a state in configuration order
func (t *Table[S, A, C]) Actions(from S) []A {
	return append([]A{}, t.actions[from]...)
}

// Edges returns every configured transition, ordered by source state then action
func (t *Table[S, A, C]) Edges() []Edge[S, A] {
	var edges []Edge[S, A]
	for _, from := range t.order {
		for _, action := range t.actions[from] {
			for _, tr := range t.transitions[from][action] {
				edges = append(edges, Edge[S, A]{From: from, Action: action, To: tr.to, Conditional: tr.guard != nil})
			}
		}
	}
	return edges
}

// Targets returns the distinct states reachable from a state, sorted
func (t *Table[S, A, C]) Targets(from S) []S {
	seen := make(map[S]bool)
	var out []S
	for _, transitions := range t.transitions[from] {
		for _, tr := range transitions {
			if !seen[tr.to] {
				seen[tr.to] = true
				out = append(out, tr.to)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
