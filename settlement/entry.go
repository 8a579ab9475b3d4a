/*
entry.go - Settlement entry construction and escrow state

PURPOSE:
  Builds entries with the commission split done exactly once, and
  answers whether an entry's net amount is held or available at a given
  instant.

ESCROW STATES (per entry, at time "now"):
  forfeited:            contributes nothing, ever
  dispute open:         held, regardless of the holding period
  now <  heldUntil:     held (72h escrow by default)
  now >= heldUntil:     available

SEE ALSO:
  - ledger.go: sums these contributions into Summary
  - money/money.go: Split, the single rounding point
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/classly/booking-engine/money"
)

// DefaultHoldingPeriod is how long a completed booking's net amount stays
// in escrow before the provider can withdraw it.
const DefaultHoldingPeriod = 72 * time.Hour

// DefaultCommissionRate is the platform's cut of gross revenue.
var DefaultCommissionRate = decimal.NewFromFloat(0.10)

// NewEntry builds the settlement entry for a completed booking.
// Commission is computed once, rounded half-up to the penny; net is
// derived by subtraction so the three amounts reconcile exactly.
func NewEntry(bookingID, providerID string, gross money.Money, completedAt time.Time, rate decimal.Decimal, holdingPeriod time.Duration) Entry {
	commission, net := gross.Split(rate)
	return Entry{
		BookingID:        bookingID,
		ProviderID:       providerID,
		GrossAmount:      gross,
		CommissionAmount: commission,
		NetAmount:        net,
		CompletedAt:      completedAt,
		HeldUntil:        completedAt.Add(holdingPeriod),
	}
}

// Available reports whether the entry's net amount counts toward the
// provider's withdrawable balance at now.
func (e Entry) Available(now time.Time) bool {
	return !e.Forfeited && !e.DisputeOpen && !now.Before(e.HeldUntil)
}

// Held reports whether the entry's net amount is in escrow at now,
// either inside the holding period or frozen by an open dispute.
// Forfeited entries are neither held nor available.
func (e Entry) Held(now time.Time) bool {
	if e.Forfeited {
		return false
	}
	return e.DisputeOpen || now.Before(e.HeldUntil)
}
