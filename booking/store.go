/*
store.go - Persistence interface for bookings

PURPOSE:
  Defines the contract between the lifecycle engine and the database.
  Different implementations can use SQLite or in-memory storage.

LIFECYCLE CONTRACT:
  - Create writes the Booking AND its ClassSnapshot atomically. There is
    never a booking without its snapshot.
  - Bookings are NEVER deleted. Cancelled bookings remain as history.
  - The ONLY mutation is UpdateStatus, and it is a compare-and-swap: the
    write succeeds only if the stored status still equals the expected
    one. This is the last line of defense against a cancel/complete race.

SCHEDULER SUPPORT:
  ListUpcoming enumerates ids only. The sweep loads and locks each record
  individually so a long sweep never holds a store-wide lock.

IMPLEMENTATIONS:
  - store/memory: in-memory for tests and dev
  - store/sqlite: production SQLite

SEE ALSO:
  - lifecycle.go: the engine driving these calls
  - scheduler.go: ListUpcoming consumer
*/
package booking

import "context"

// =============================================================================
// STORE - Booking persistence
// =============================================================================

type Store interface {
	// Create persists a booking together with its class snapshot,
	// atomically. Fails if the id already exists.
	Create(ctx context.Context, b EnhancedBooking) error

	// Get returns the booking with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (EnhancedBooking, error)

	// ListByUser returns all bookings for a user, newest start time first.
	ListByUser(ctx context.Context, userID string) ([]EnhancedBooking, error)

	// ListUpcoming returns the ids of all bookings still in
	// StatusUpcoming. Used by the completion scheduler.
	ListUpcoming(ctx context.Context) ([]string, error)

	// UpdateStatus transitions id from expected to next, also recording
	// attendance. Returns ErrStatusConflict if the stored status is no
	// longer expected, ErrNotFound if the id is unknown.
	UpdateStatus(ctx context.Context, id string, expected, next Status, attended bool) error
}
