/*
Package memory provides in-memory Store implementations for tests and dev.

PURPOSE:
  Implements booking.Store and settlement.Store with maps behind an
  RWMutex. Semantics match store/sqlite exactly - the test suites run
  against both.

SEE ALSO:
  - store/sqlite: the production implementation
*/
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/classly/booking-engine/booking"
)

// =============================================================================
// BOOKING STORE - In-memory implementation
// =============================================================================

type BookingStore struct {
	mu       sync.RWMutex
	bookings map[string]booking.EnhancedBooking
}

func NewBookingStore() *BookingStore {
	return &BookingStore{bookings: make(map[string]booking.EnhancedBooking)}
}

func (s *BookingStore) Create(_ context.Context, b booking.EnhancedBooking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bookings[b.ID]; exists {
		return booking.ErrStatusConflict
	}
	s.bookings[b.ID] = copyBooking(b)
	return nil
}

func (s *BookingStore) Get(_ context.Context, id string) (booking.EnhancedBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return booking.EnhancedBooking{}, booking.ErrNotFound
	}
	return copyBooking(b), nil
}

func (s *BookingStore) ListByUser(_ context.Context, userID string) ([]booking.EnhancedBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []booking.EnhancedBooking
	for _, b := range s.bookings {
		if b.UserID == userID {
			out = append(out, copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}

func (s *BookingStore) ListUpcoming(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, b := range s.bookings {
		if b.Status == booking.StatusUpcoming {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *BookingStore) UpdateStatus(_ context.Context, id string, expected, next booking.Status, attended bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return booking.ErrNotFound
	}
	// Compare-and-swap: the write applies only if nothing raced us.
	if b.Status != expected {
		return booking.ErrStatusConflict
	}
	b.Status = next
	b.Attended = attended
	s.bookings[id] = b
	return nil
}

func copyBooking(b booking.EnhancedBooking) booking.EnhancedBooking {
	children := make([]string, len(b.SelectedChildIDs))
	copy(children, b.SelectedChildIDs)
	b.SelectedChildIDs = children
	return b
}
