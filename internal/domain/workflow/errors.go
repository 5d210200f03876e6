package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when the current state has no edge for a trigger
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not part of a table
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when every guarded edge for a trigger refused
	ErrGuardFailed = errors.New("guard condition failed")
)
