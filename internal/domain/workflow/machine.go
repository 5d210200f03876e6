package workflow

import "context"

// Transition records a single fired edge
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

// Changed reports whether the edge moved the machine to a different state
func (t Transition) Changed() bool {
	return t.From != t.To
}

// StateMachine tracks the current state and validates transitions against its table
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger has an edge from the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger. On error the state is left unchanged.
	Fire(ctx context.Context, trigger Trigger) (Transition, error)

	// PermittedTriggers returns the triggers with an edge from the current state, sorted
	PermittedTriggers() []Trigger
}
