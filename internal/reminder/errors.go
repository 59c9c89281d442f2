package reminder

import "errors"

// Error taxonomy shared by the store, the service, and the dispatcher.
// Callers match with errors.Is; wrap with fmt.Errorf("...: %w", Err...).
var (
	// ErrValidation marks bad input at the API boundary (non-future date,
	// malformed frequency, unknown priority).
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition marks a state machine violation. The record is
	// left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned to the loser of a compare-and-swap race.
	// The caller should re-read and decide whether its transition still
	// makes sense.
	ErrConflict = errors.New("status changed concurrently")

	ErrNotFound = errors.New("reminder not found")

	// ErrTransport marks a delivery failure. It never rolls back a status
	// transition.
	ErrTransport = errors.New("delivery failed")

	// ErrStore marks a persistence I/O failure.
	ErrStore = errors.New("store failure")
)
