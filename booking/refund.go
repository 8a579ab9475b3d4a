/*
refund.go - Cancellation refund policy

PURPOSE:
  Pure functions mapping (now, class start time) to a refund outcome.
  No clock, no store, no side effects - the lifecycle engine supplies
  both timestamps and the snapshot prices.

POLICY:
  >= 24h before start:  refund the base price; the service fee is never
                        refunded.
  0h  < t < 24h:        refund nothing.
  t  <= 0 (started):    not a refund case at all - the cancel operation
                        is rejected with ErrAlreadyOccurred.

  Provider-initiated cancellation refunds the base price unconditionally,
  regardless of notice, since the failure is not the customer's.

BOUNDARY SEMANTICS:
  The 24-hour window is exact to the second and INCLUSIVE at 24h0m0s.
  Cancelling at exactly 24h before start earns the full base price;
  at 23h59m59s it earns nothing. Both timestamps must be in the same
  reference frame; no timezone conversion happens here.

SEE ALSO:
  - lifecycle.go: Cancel and CancelByProvider call sites
*/
package booking

import (
	"time"

	"github.com/classly/booking-engine/money"
)

// =============================================================================
// REFUND OUTCOME
// =============================================================================

type RefundPolicy string

const (
	// RefundFull: cancelled with at least 24h notice; base price returned.
	RefundFull RefundPolicy = "full"
	// RefundNone: cancelled inside the 24h window; nothing returned.
	RefundNone RefundPolicy = "none"
	// RefundProviderFault: provider cancelled; base price returned
	// regardless of notice.
	RefundProviderFault RefundPolicy = "provider_fault"
)

type RefundOutcome struct {
	Policy      RefundPolicy
	Amount      money.Money
	FeeWithheld money.Money
}

// =============================================================================
// CALCULATOR
// =============================================================================

const fullRefundNotice = 24 * time.Hour

// ComputeRefund decides the refund for a user-initiated cancellation.
// Returns ErrAlreadyOccurred if the class has already started.
func ComputeRefund(now, classStart time.Time, basePrice, serviceFee money.Money) (RefundOutcome, error) {
	notice := classStart.Sub(now)
	if notice <= 0 {
		return RefundOutcome{}, ErrAlreadyOccurred
	}
	if notice >= fullRefundNotice {
		return RefundOutcome{
			Policy:      RefundFull,
			Amount:      basePrice,
			FeeWithheld: serviceFee,
		}, nil
	}
	return RefundOutcome{
		Policy:      RefundNone,
		Amount:      money.Zero,
		FeeWithheld: serviceFee,
	}, nil
}

// ProviderRefund decides the refund when the PROVIDER cancels: always the
// base price, with the fee still withheld. Elapsed notice is irrelevant.
func ProviderRefund(basePrice, serviceFee money.Money) RefundOutcome {
	return RefundOutcome{
		Policy:      RefundProviderFault,
		Amount:      basePrice,
		FeeWithheld: serviceFee,
	}
}
