/*
lifecycle.go - The booking state machine

PURPOSE:
  The Engine owns every status transition a booking can make. It is the
  ONLY component allowed to mutate a booking after creation.

TRANSITIONS:
  Create:           -> upcoming     (validates input, writes snapshot)
  AttemptComplete:  upcoming -> completed, once end-time has passed
  Cancel:           upcoming -> cancelled, with refund computation
  CancelByProvider: upcoming -> cancelled, unconditional refund

CONCURRENCY:
  The scheduler's AttemptComplete and a user's Cancel can race on the
  same booking. Two defenses, both required:
  1. A per-booking mutex serializes the two operations; whichever takes
     the lock first decides the outcome, the loser observes the terminal
     state and becomes a no-op.
  2. Store.UpdateStatus is a compare-and-swap, so even a buggy caller
     that bypasses the lock cannot produce a backward transition.

SETTLEMENT:
  Completion creates exactly one settlement entry. AttemptComplete is
  idempotent: a second call on a completed booking is a no-op, not an
  error, and never duplicates the entry. If the ledger append fails the
  status change is rolled back, so the booking stays upcoming and the
  next sweep retries both halves.

EVENTS:
  Every successful transition emits a notification event. Emission is
  advisory: a sink failure is logged and never rolls back the transition.

SEE ALSO:
  - refund.go: the policy Cancel applies
  - scheduler.go: the background caller of AttemptComplete
  - settlement/ledger.go: the Settlements implementation
*/
package booking

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/classly/booking-engine/internal/keylock"
	"github.com/classly/booking-engine/money"
	"github.com/classly/booking-engine/notify"
)

// =============================================================================
// SETTLEMENTS - What the engine needs from the provider ledger
// =============================================================================

// Settlements records completed bookings into the provider payout ledger.
// Implementations must be idempotent per booking id.
type Settlements interface {
	RecordCompletion(ctx context.Context, bookingID, providerID string, gross money.Money, completedAt time.Time) error
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store       Store
	settlements Settlements
	notifier    notify.Notifier
	clock       func() time.Time
	locks       *keylock.KeyLock
}

// NewEngine wires the lifecycle engine. notifier may be nil (no events
// emitted); settlements may be nil only in tests that don't complete
// bookings.
func NewEngine(store Store, settlements Settlements, notifier notify.Notifier) *Engine {
	return &Engine{
		store:       store,
		settlements: settlements,
		notifier:    notifier,
		clock:       time.Now,
		locks:       keylock.New(),
	}
}

// WithClock replaces the engine's clock. Tests inject a fixed time here;
// the clock only stamps CreatedAt - transition operations take an
// explicit now so callers control temporal semantics.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// =============================================================================
// CREATE
// =============================================================================

// Create validates the input, persists the booking together with its
// class snapshot, and emits BookingCreated.
func (e *Engine) Create(ctx context.Context, in CreateInput, class ClassSnapshot) (EnhancedBooking, error) {
	if in.ParticipantCount < 1 {
		return EnhancedBooking{}, &ValidationError{Field: "participantCount", Reason: "must be at least 1"}
	}
	if class.RequiresChildren && len(in.SelectedChildIDs) == 0 {
		return EnhancedBooking{}, &ValidationError{Field: "selectedChildIds", Reason: "required for this class"}
	}
	if in.StartTime.IsZero() {
		return EnhancedBooking{}, &ValidationError{Field: "startTime", Reason: "is required"}
	}
	if in.Duration <= 0 {
		return EnhancedBooking{}, &ValidationError{Field: "duration", Reason: "must be positive"}
	}

	b := EnhancedBooking{
		Booking: Booking{
			ID:                  uuid.NewString(),
			ClassID:             in.ClassID,
			UserID:              in.UserID,
			Status:              StatusUpcoming,
			StartTime:           in.StartTime,
			Duration:            in.Duration,
			ParticipantCount:    in.ParticipantCount,
			SelectedChildIDs:    in.SelectedChildIDs,
			SpecialRequirements: in.SpecialRequirements,
			CreatedAt:           e.clock(),
		},
		Class: class,
	}

	if err := e.store.Create(ctx, b); err != nil {
		return EnhancedBooking{}, fmt.Errorf("create booking: %w", err)
	}

	e.emit(ctx, b, notify.BookingCreated, b.CreatedAt, nil)
	return b, nil
}

// =============================================================================
// ATTEMPT COMPLETE
// =============================================================================

// AttemptComplete transitions upcoming -> completed once the class
// end-time has passed. Returns true only when THIS call performed the
// transition. Calling it on an already-terminal booking is a no-op.
func (e *Engine) AttemptComplete(ctx context.Context, id string, now time.Time) (bool, error) {
	release := e.locks.Acquire(id)
	defer release()

	b, err := e.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if b.Status != StatusUpcoming {
		// Already completed or cancelled; idempotent no-op.
		return false, nil
	}
	if now.Before(b.EndTime()) {
		return false, nil
	}

	if err := e.store.UpdateStatus(ctx, id, StatusUpcoming, StatusCompleted, true); err != nil {
		return false, fmt.Errorf("complete booking %s: %w", id, err)
	}

	// The per-booking lock guarantees no cancel slipped between the CAS
	// above and this append, so the entry is created exactly once. If the
	// ledger fails (e.g. transient ErrContention), roll the status back so
	// the next sweep retries the whole transition; the ledger swallows
	// duplicate appends, so a retry after a partial failure is safe.
	if e.settlements != nil {
		err := e.settlements.RecordCompletion(ctx, id, b.Class.ProviderID, b.Class.GrossAmount(), now)
		if err != nil {
			if rbErr := e.store.UpdateStatus(ctx, id, StatusCompleted, StatusUpcoming, false); rbErr != nil {
				log.Printf("[Lifecycle] rollback of booking %s after settlement failure also failed: %v", id, rbErr)
			}
			return false, fmt.Errorf("record settlement for booking %s: %w", id, err)
		}
	}

	e.emit(ctx, b, notify.BookingCompleted, now, map[string]string{
		"gross": b.Class.GrossAmount().String(),
	})
	return true, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel performs a user-initiated cancellation, computing the refund
// from the snapshot prices. Fails with ErrInvalidState if the booking is
// already terminal and ErrAlreadyOccurred once the class has started.
func (e *Engine) Cancel(ctx context.Context, id string, now time.Time) (RefundOutcome, error) {
	release := e.locks.Acquire(id)
	defer release()

	b, err := e.store.Get(ctx, id)
	if err != nil {
		return RefundOutcome{}, err
	}
	if b.Status != StatusUpcoming {
		return RefundOutcome{}, &InvalidStateError{BookingID: id, Status: b.Status, Operation: "cancel"}
	}

	outcome, err := ComputeRefund(now, b.StartTime, b.Class.BasePrice, b.Class.ServiceFee)
	if err != nil {
		return RefundOutcome{}, &AlreadyOccurredError{BookingID: id, StartTime: b.StartTime, Now: now}
	}

	return e.cancelLocked(ctx, b, outcome, now)
}

// CancelByProvider cancels on the provider's behalf. The customer gets
// the base price back unconditionally - the missed class is not their
// fault - but the booking must still be upcoming.
func (e *Engine) CancelByProvider(ctx context.Context, id string, now time.Time) (RefundOutcome, error) {
	release := e.locks.Acquire(id)
	defer release()

	b, err := e.store.Get(ctx, id)
	if err != nil {
		return RefundOutcome{}, err
	}
	if b.Status != StatusUpcoming {
		return RefundOutcome{}, &InvalidStateError{BookingID: id, Status: b.Status, Operation: "cancel"}
	}

	return e.cancelLocked(ctx, b, ProviderRefund(b.Class.BasePrice, b.Class.ServiceFee), now)
}

// cancelLocked applies the cancelled status and emits the event. The
// caller must hold the booking's lock.
func (e *Engine) cancelLocked(ctx context.Context, b EnhancedBooking, outcome RefundOutcome, now time.Time) (RefundOutcome, error) {
	if err := e.store.UpdateStatus(ctx, b.ID, StatusUpcoming, StatusCancelled, false); err != nil {
		return RefundOutcome{}, fmt.Errorf("cancel booking %s: %w", b.ID, err)
	}

	e.emit(ctx, b, notify.BookingCancelled, now, map[string]string{
		"refund": outcome.Amount.String(),
		"policy": string(outcome.Policy),
	})
	return outcome, nil
}

// =============================================================================
// QUERIES (pass-through to the store)
// =============================================================================

func (e *Engine) Get(ctx context.Context, id string) (EnhancedBooking, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) ListByUser(ctx context.Context, userID string) ([]EnhancedBooking, error) {
	return e.store.ListByUser(ctx, userID)
}

// =============================================================================
// EVENT EMISSION
// =============================================================================

func (e *Engine) emit(ctx context.Context, b EnhancedBooking, typ notify.EventType, at time.Time, detail map[string]string) {
	if e.notifier == nil {
		return
	}
	ev := notify.NewEvent(typ, at)
	ev.BookingID = b.ID
	ev.UserID = b.UserID
	ev.ProviderID = b.Class.ProviderID
	ev.Detail = detail
	if err := e.notifier.Notify(ctx, ev); err != nil {
		log.Printf("[Lifecycle] notify %s for booking %s failed: %v", typ, b.ID, err)
	}
}
