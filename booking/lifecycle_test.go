package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classly/booking-engine/booking"
	"github.com/classly/booking-engine/money"
	"github.com/classly/booking-engine/notify"
	"github.com/classly/booking-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// recordingSettlements counts RecordCompletion calls per booking so tests
// can assert the exactly-once property.
type recordingSettlements struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecordingSettlements() *recordingSettlements {
	return &recordingSettlements{calls: make(map[string]int)}
}

func (r *recordingSettlements) RecordCompletion(_ context.Context, bookingID, _ string, _ money.Money, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[bookingID]++
	return nil
}

func (r *recordingSettlements) count(bookingID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[bookingID]
}

// flakySettlements fails the first failuresLeft RecordCompletion calls,
// then succeeds, counting successful appends.
type flakySettlements struct {
	mu           sync.Mutex
	failuresLeft int
	succeeded    int
}

func (f *flakySettlements) RecordCompletion(_ context.Context, _, _ string, _ money.Money, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("ledger busy")
	}
	f.succeeded++
	return nil
}

func newTestEngine(t *testing.T) (*booking.Engine, *memory.BookingStore, *recordingSettlements, *notify.Recorder) {
	t.Helper()
	store := memory.NewBookingStore()
	settlements := newRecordingSettlements()
	recorder := notify.NewRecorder()
	engine := booking.NewEngine(store, settlements, recorder)
	return engine, store, settlements, recorder
}

func classSnapshot() booking.ClassSnapshot {
	return booking.ClassSnapshot{
		ProviderID: "provider-1",
		ClassName:  "Toddler Gymnastics",
		BasePrice:  money.MustParse("25.00"),
		ServiceFee: money.MustParse("1.99"),
		Location:   "Leeds Studio",
	}
}

func createUpcoming(t *testing.T, engine *booking.Engine, start time.Time) booking.EnhancedBooking {
	t.Helper()
	b, err := engine.Create(context.Background(), booking.CreateInput{
		ClassID:          "class-1",
		UserID:           "user-1",
		StartTime:        start,
		Duration:         time.Hour,
		ParticipantCount: 1,
	}, classSnapshot())
	require.NoError(t, err)
	return b
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_ValidInput(t *testing.T) {
	engine, _, _, recorder := newTestEngine(t)
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)

	b := createUpcoming(t, engine, start)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, booking.StatusUpcoming, b.Status)
	assert.False(t, b.Attended)
	assert.Equal(t, start.Add(time.Hour), b.EndTime())
	assert.True(t, b.Class.GrossAmount().Equal(money.MustParse("26.99")))

	created := recorder.OfType(notify.BookingCreated)
	require.Len(t, created, 1)
	assert.Equal(t, b.ID, created[0].BookingID)
	assert.Equal(t, "provider-1", created[0].ProviderID)
}

func TestCreate_ZeroParticipants_Rejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.Create(context.Background(), booking.CreateInput{
		ClassID:          "class-1",
		UserID:           "user-1",
		StartTime:        time.Now().Add(48 * time.Hour),
		Duration:         time.Hour,
		ParticipantCount: 0,
	}, classSnapshot())

	assert.ErrorIs(t, err, booking.ErrValidation)
	var vErr *booking.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, "participantCount", vErr.Field)
}

func TestCreate_ChildSelectionRequired_Rejected(t *testing.T) {
	// GIVEN: A class that requires selecting which children attend
	// WHEN: Creating a booking with no children selected
	// THEN: ValidationError

	engine, _, _, _ := newTestEngine(t)
	class := classSnapshot()
	class.RequiresChildren = true

	_, err := engine.Create(context.Background(), booking.CreateInput{
		ClassID:          "class-1",
		UserID:           "user-1",
		StartTime:        time.Now().Add(48 * time.Hour),
		Duration:         time.Hour,
		ParticipantCount: 1,
	}, class)

	assert.ErrorIs(t, err, booking.ErrValidation)
}

func TestCreate_ChildSelectionProvided_Accepted(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	class := classSnapshot()
	class.RequiresChildren = true

	b, err := engine.Create(context.Background(), booking.CreateInput{
		ClassID:          "class-1",
		UserID:           "user-1",
		StartTime:        time.Now().Add(48 * time.Hour),
		Duration:         time.Hour,
		ParticipantCount: 2,
		SelectedChildIDs: []string{"child-2", "child-1"},
	}, class)

	require.NoError(t, err)
	// Selection order is preserved, not sorted.
	assert.Equal(t, []string{"child-2", "child-1"}, b.SelectedChildIDs)
}

func TestCreate_SnapshotFrozenAtBookingTime(t *testing.T) {
	// GIVEN: A booking created against a class priced at £25.00
	// WHEN: The caller's snapshot struct is modified afterwards
	// THEN: The stored booking keeps the price it was sold at

	engine, _, _, _ := newTestEngine(t)
	class := classSnapshot()

	b, err := engine.Create(context.Background(), booking.CreateInput{
		ClassID:          "class-1",
		UserID:           "user-1",
		StartTime:        time.Now().Add(48 * time.Hour),
		Duration:         time.Hour,
		ParticipantCount: 1,
	}, class)
	require.NoError(t, err)

	class.BasePrice = money.MustParse("99.00")

	stored, err := engine.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, stored.Class.BasePrice.Equal(money.MustParse("25.00")))
}

// =============================================================================
// ATTEMPT COMPLETE
// =============================================================================

func TestAttemptComplete_BeforeEndTime_NoOp(t *testing.T) {
	engine, _, settlements, _ := newTestEngine(t)
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	b := createUpcoming(t, engine, start)

	// One second before the class ends: not completable yet.
	done, err := engine.AttemptComplete(context.Background(), b.ID, b.EndTime().Add(-time.Second))
	require.NoError(t, err)

	assert.False(t, done)
	assert.Equal(t, 0, settlements.count(b.ID))
}

func TestAttemptComplete_AtEndTime_Completes(t *testing.T) {
	engine, _, settlements, recorder := newTestEngine(t)
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	b := createUpcoming(t, engine, start)

	done, err := engine.AttemptComplete(context.Background(), b.ID, b.EndTime())
	require.NoError(t, err)
	assert.True(t, done)

	stored, err := engine.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, stored.Status)
	assert.True(t, stored.Attended)
	assert.Equal(t, 1, settlements.count(b.ID))
	assert.Len(t, recorder.OfType(notify.BookingCompleted), 1)
}

func TestAttemptComplete_Idempotent(t *testing.T) {
	// GIVEN: An already-completed booking
	// WHEN: AttemptComplete runs again (e.g. overlapping sweeps)
	// THEN: No-op, no error, and no duplicate settlement entry

	engine, _, settlements, _ := newTestEngine(t)
	b := createUpcoming(t, engine, time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC))
	after := b.EndTime().Add(time.Minute)

	done, err := engine.AttemptComplete(context.Background(), b.ID, after)
	require.NoError(t, err)
	require.True(t, done)

	done, err = engine.AttemptComplete(context.Background(), b.ID, after)
	require.NoError(t, err)
	assert.False(t, done, "second call must be a no-op")
	assert.Equal(t, 1, settlements.count(b.ID), "no duplicate settlement entry")
}

func TestAttemptComplete_SettlementFailureRetriedBySweep(t *testing.T) {
	// GIVEN: A ledger that fails transiently on the first append
	// WHEN: AttemptComplete runs, then runs again (the next sweep)
	// THEN: The first call rolls the status back and reports the error;
	//       the retry completes and records exactly one entry

	store := memory.NewBookingStore()
	settlements := &flakySettlements{failuresLeft: 1}
	engine := booking.NewEngine(store, settlements, notify.NewRecorder())

	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	b, err := engine.Create(context.Background(), booking.CreateInput{
		ClassID:          "class-1",
		UserID:           "user-1",
		StartTime:        start,
		Duration:         time.Hour,
		ParticipantCount: 1,
	}, classSnapshot())
	require.NoError(t, err)
	after := b.EndTime().Add(time.Minute)

	done, err := engine.AttemptComplete(context.Background(), b.ID, after)
	require.Error(t, err)
	assert.False(t, done)

	stored, err := engine.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusUpcoming, stored.Status,
		"failed settlement must not leave the booking completed without an entry")

	done, err = engine.AttemptComplete(context.Background(), b.ID, after)
	require.NoError(t, err)
	assert.True(t, done, "retry must complete the booking")
	assert.Equal(t, 1, settlements.succeeded, "exactly one settlement entry recorded")

	stored, err = engine.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, stored.Status)
}

func TestAttemptComplete_UnknownBooking(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	_, err := engine.AttemptComplete(context.Background(), "no-such-id", time.Now())
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_WithFullNotice_RefundsBasePrice(t *testing.T) {
	engine, _, _, recorder := newTestEngine(t)
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	b := createUpcoming(t, engine, start)

	outcome, err := engine.Cancel(context.Background(), b.ID, start.Add(-25*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, booking.RefundFull, outcome.Policy)
	assert.True(t, outcome.Amount.Equal(money.MustParse("25.00")))
	assert.True(t, outcome.FeeWithheld.Equal(money.MustParse("1.99")))

	stored, err := engine.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, stored.Status)
	assert.Len(t, recorder.OfType(notify.BookingCancelled), 1)
}

func TestCancel_InsideWindow_RefundsNothing(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	b := createUpcoming(t, engine, start)

	// 1h before start: inside the 24h window.
	outcome, err := engine.Cancel(context.Background(), b.ID, start.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, booking.RefundNone, outcome.Policy)
	assert.True(t, outcome.Amount.IsZero())

	stored, err := engine.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, stored.Status, "zero refund still cancels")
}

func TestCancel_AfterStart_Rejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	b := createUpcoming(t, engine, start)

	_, err := engine.Cancel(context.Background(), b.ID, start.Add(time.Minute))
	assert.ErrorIs(t, err, booking.ErrAlreadyOccurred)

	// Rejection must not have touched the status.
	stored, err := engine.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusUpcoming, stored.Status)
}

func TestCancel_AlreadyCancelled_Rejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	b := createUpcoming(t, engine, start)

	_, err := engine.Cancel(context.Background(), b.ID, start.Add(-48*time.Hour))
	require.NoError(t, err)

	_, err = engine.Cancel(context.Background(), b.ID, start.Add(-47*time.Hour))
	assert.ErrorIs(t, err, booking.ErrInvalidState)
}

func TestCancel_AfterCompletion_Rejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	b := createUpcoming(t, engine, time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC))

	_, err := engine.AttemptComplete(context.Background(), b.ID, b.EndTime())
	require.NoError(t, err)

	_, err = engine.Cancel(context.Background(), b.ID, b.EndTime().Add(time.Hour))
	assert.ErrorIs(t, err, booking.ErrInvalidState)

	var stateErr *booking.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, booking.StatusCompleted, stateErr.Status)
}

func TestCancelByProvider_InsideWindow_StillRefundsBasePrice(t *testing.T) {
	// The provider pulled the class an hour before start. The customer
	// is made whole regardless of the 24h policy.

	engine, _, _, _ := newTestEngine(t)
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
	b := createUpcoming(t, engine, start)

	outcome, err := engine.CancelByProvider(context.Background(), b.ID, start.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, booking.RefundProviderFault, outcome.Policy)
	assert.True(t, outcome.Amount.Equal(money.MustParse("25.00")))

	stored, err := engine.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, stored.Status)
}

// =============================================================================
// CANCEL vs COMPLETE RACE - At most one terminal state, ever
// =============================================================================

func TestCancelCompleteRace_ExactlyOneWins(t *testing.T) {
	// GIVEN: A user cancelling (their clock says the class is >24h away)
	//        while a skewed scheduler believes the end-time has passed
	// WHEN: Both operations run concurrently on the same booking
	// THEN: Exactly one succeeds; the loser observes the terminal state;
	//       a settlement entry exists only if completion won

	for i := 0; i < 50; i++ {
		engine, _, settlements, _ := newTestEngine(t)
		start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)
		b := createUpcoming(t, engine, start)

		var (
			wg          sync.WaitGroup
			completed   bool
			completeErr error
			cancelErr   error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			completed, completeErr = engine.AttemptComplete(context.Background(), b.ID, b.EndTime().Add(time.Second))
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = engine.Cancel(context.Background(), b.ID, start.Add(-25*time.Hour))
		}()
		wg.Wait()

		require.NoError(t, completeErr)

		stored, err := engine.Get(context.Background(), b.ID)
		require.NoError(t, err)
		require.True(t, stored.Status.Terminal())

		if completed {
			assert.Equal(t, booking.StatusCompleted, stored.Status)
			assert.ErrorIs(t, cancelErr, booking.ErrInvalidState, "cancel must observe the completion")
			assert.Equal(t, 1, settlements.count(b.ID))
		} else {
			assert.Equal(t, booking.StatusCancelled, stored.Status)
			assert.NoError(t, cancelErr)
			assert.Equal(t, 0, settlements.count(b.ID), "cancelled booking must not settle")
		}
	}
}
