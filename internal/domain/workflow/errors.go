package workflow

import "errors"

var (
	// ErrNoTransition is returned when the transition table has no entry for a (stage, action) pair
	ErrNoTransition = errors.New("no transition configured")

	// ErrGuardFailed is returned when every conditional transition for a (stage, action) pair is rejected
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrUnknownStage is returned when a stage is not part of the catalog for its request kind
	ErrUnknownStage = errors.New("unknown stage")

	// ErrUnknownKind is returned when no workflow definition is registered for a request kind
	ErrUnknownKind = errors.New("unknown request kind")

	// ErrActionNotAllowed is returned when an action is not in the current stage's allowed actions
	ErrActionNotAllowed = errors.New("action not allowed at current stage")

	// ErrNotAuthorized is returned when the actor does not satisfy the stage's role requirements
	ErrNotAuthorized = errors.New("actor not authorized for this action")
)
