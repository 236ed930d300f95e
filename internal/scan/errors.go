package scan

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is called in a lifecycle
	// state that does not allow it: Start while a session is active, Tick
	// without an active session, Cancel before any session was started.
	ErrInvalidState = errors.New("scan: invalid state")

	// ErrStartFailure matches any *StartError.
	ErrStartFailure = errors.New("scan: start failure")

	// ErrInvalidBatchSize is returned by Start when BatchSize < 1.
	ErrInvalidBatchSize = errors.New("scan: batch size must be at least 1")
)

// StartError reports that the corpus could not be enumerated. The session
// never reached Running.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("scan: enumerate corpus: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

func (e *StartError) Is(target error) bool { return target == ErrStartFailure }

// SoftItemError records an item that could not be read or matched.
type SoftItemError struct {
	Item Item
	Err  error
}

func (e *SoftItemError) Error() string {
	return fmt.Sprintf("scan: item %s: %v", e.Item.ID, e.Err)
}

func (e *SoftItemError) Unwrap() error { return e.Err }

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, s)
}
