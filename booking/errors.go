/*
errors.go - Centralized error types for the booking engine

PURPOSE:
  All booking-side errors in one place. Callers classify with errors.Is
  against the sentinels; structured types carry detail and Unwrap to them.

ERROR CATEGORIES:
  1. Validation errors  - malformed input, rejected synchronously
  2. State errors       - business-rule violations (wrong status, too late)
  3. Store errors       - lookup and compare-and-swap failures

USAGE:
  if errors.Is(err, booking.ErrAlreadyOccurred) {
      // class already started; no refund path exists
  }

SEE ALSO:
  - settlement/errors.go: ledger-side errors
  - api/handlers.go: HTTP status mapping via the helper predicates
*/
package booking

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed create input, e.g. zero
	// participants. Never retried.
	ErrValidation = errors.New("invalid booking input")

	// ErrInvalidState is returned when an operation is attempted on a
	// booking whose status does not permit it.
	ErrInvalidState = errors.New("invalid booking state")

	// ErrAlreadyOccurred is returned when cancelling a class that has
	// already started or ended. Not a refund case.
	ErrAlreadyOccurred = errors.New("class already occurred")

	// ErrNotFound is returned when a booking id is unknown.
	ErrNotFound = errors.New("booking not found")

	// ErrStatusConflict is returned by Store.UpdateStatus when the
	// compare-and-swap precondition fails (concurrent transition won).
	ErrStatusConflict = errors.New("booking status changed concurrently")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError explains which create-input rule was violated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid booking input: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidStateError reports the status that blocked an operation.
type InvalidStateError struct {
	BookingID string
	Status    Status
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s booking %s: status is %s", e.Operation, e.BookingID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// AlreadyOccurredError reports a cancellation attempted after start time.
type AlreadyOccurredError struct {
	BookingID string
	StartTime time.Time
	Now       time.Time
}

func (e *AlreadyOccurredError) Error() string {
	return fmt.Sprintf("booking %s started at %s, cannot cancel at %s",
		e.BookingID, e.StartTime.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

func (e *AlreadyOccurredError) Unwrap() error { return ErrAlreadyOccurred }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is the caller's fault and should
// not be retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAlreadyOccurred)
}

// IsNotFound returns true if the error indicates a missing booking.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
