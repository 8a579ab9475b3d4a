/*
errors.go - Centralized error types for the settlement ledger

PURPOSE:
  All ledger-side errors in one place. Same pattern as booking/errors.go:
  sentinels for errors.Is classification, structured types for context.

SEE ALSO:
  - booking/errors.go: lifecycle-side errors
  - api/handlers.go: HTTP status mapping
*/
package settlement

import (
	"errors"
	"fmt"

	"github.com/classly/booking-engine/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientFunds is returned when a withdrawal exceeds the
	// available balance at request time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownAccount is returned when a bank account id does not
	// belong to the provider.
	ErrUnknownAccount = errors.New("unknown bank account")

	// ErrNoDefaultAccount is returned when an operation needs a default
	// payout account and the provider has none.
	ErrNoDefaultAccount = errors.New("no default bank account")

	// ErrDuplicateEntry is returned by the store when a settlement entry
	// for the booking already exists. The ledger treats it as a
	// successful no-op to keep completion idempotent.
	ErrDuplicateEntry = errors.New("settlement entry already exists")

	// ErrEntryNotFound is returned when no entry exists for a booking.
	ErrEntryNotFound = errors.New("settlement entry not found")

	// ErrDisputeNotOpen is returned when resolving a dispute that isn't
	// open.
	ErrDisputeNotOpen = errors.New("no open dispute on entry")

	// ErrWithdrawalNotFound is returned when a withdrawal id is unknown.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")

	// ErrInvalidAmount is returned for zero or negative withdrawal
	// amounts.
	ErrInvalidAmount = errors.New("withdrawal amount must be positive")

	// ErrContention is returned when the per-provider lock cannot be
	// acquired in time. Transient; safe to retry with backoff.
	ErrContention = errors.New("ledger busy, retry")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError details a withdrawal shortfall.
type InsufficientFundsError struct {
	ProviderID string
	Available  money.Money
	Requested  money.Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s",
		e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Shortfall is how much the request exceeded the balance by.
func (e *InsufficientFundsError) Shortfall() money.Money {
	return e.Requested.Sub(e.Available)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsClientError returns true if the error is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNoDefaultAccount) ||
		errors.Is(err, ErrDisputeNotOpen) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record: an
// entry, a withdrawal, or a bank account the provider does not own.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrWithdrawalNotFound) ||
		errors.Is(err, ErrUnknownAccount)
}
