package convo

import "fmt"

// ValidationError covers missing or malformed caller input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PersistenceError wraps session store write failures.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// formatError is internal only: an itinerary reply that never validated.
// It is always recovered via demotion and never reaches the caller.
type formatError struct {
	reason string
}

func (e *formatError) Error() string { return "itinerary format: " + e.reason }
