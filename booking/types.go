/*
Package booking provides the booking lifecycle engine.

PURPOSE:
  Owns a purchased class booking from creation through automatic
  completion, user cancellation, or provider cancellation. Completion
  feeds the settlement ledger; cancellation computes the refund the
  customer is owed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking: the mutable lifecycle record (status, attendance)
  - ClassSnapshot: class details frozen at booking time
  - EnhancedBooking: Booking + ClassSnapshot, created together atomically
  - Status: the three-state machine (upcoming -> completed | cancelled)

STATE MACHINE:
  upcoming --[class end-time passes]--> completed   (terminal)
  upcoming --[user/provider cancels]--> cancelled   (terminal)

  No transition ever moves backward, and a booking reaches at most one
  terminal state. Enforcement lives in lifecycle.go (per-booking locks)
  and Store.UpdateStatus (compare-and-swap).

WHY A SNAPSHOT?
  Refund and settlement math must reproduce HISTORICAL prices. If a
  provider edits a class after it has been booked, existing bookings keep
  the price and details they were sold at. The snapshot is written once
  with the booking and never follows later edits.

SEE ALSO:
  - lifecycle.go: the Engine and its transitions
  - refund.go: cancellation refund policy
  - scheduler.go: the background completion sweep
  - store.go: persistence contract
*/
package booking

import (
	"time"

	"github.com/classly/booking-engine/money"
)

// =============================================================================
// STATUS - The state machine's three states
// =============================================================================

type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// =============================================================================
// BOOKING - The lifecycle record
// =============================================================================

type Booking struct {
	ID                  string
	ClassID             string
	UserID              string
	Status              Status
	StartTime           time.Time
	Duration            time.Duration
	ParticipantCount    int
	SelectedChildIDs    []string
	SpecialRequirements string
	Attended            bool
	CreatedAt           time.Time
}

// EndTime is when the class finishes; completion becomes possible from
// this instant.
func (b Booking) EndTime() time.Time {
	return b.StartTime.Add(b.Duration)
}

// =============================================================================
// CLASS SNAPSHOT - Frozen at booking time
// =============================================================================

// ClassSnapshot captures the class as it was sold. Settlement and refunds
// read prices from here, never from the live class record.
type ClassSnapshot struct {
	ProviderID       string
	ClassName        string
	BasePrice        money.Money
	ServiceFee       money.Money
	Location         string
	RequiresChildren bool
}

// GrossAmount is what the customer paid: base price plus service fee.
func (s ClassSnapshot) GrossAmount() money.Money {
	return s.BasePrice.Add(s.ServiceFee)
}

// =============================================================================
// ENHANCED BOOKING - Booking + snapshot, owned 1:1
// =============================================================================

type EnhancedBooking struct {
	Booking
	Class ClassSnapshot
}

// =============================================================================
// CREATE INPUT
// =============================================================================

type CreateInput struct {
	ClassID             string
	UserID              string
	StartTime           time.Time
	Duration            time.Duration
	ParticipantCount    int
	SelectedChildIDs    []string
	SpecialRequirements string
}
