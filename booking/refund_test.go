package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classly/booking-engine/booking"
	"github.com/classly/booking-engine/money"
)

var (
	basePrice  = money.MustParse("25.00")
	serviceFee = money.MustParse("1.99")
)

// =============================================================================
// 24-HOUR BOUNDARY - Exact to the second, inclusive at 24h
// =============================================================================

func TestComputeRefund_Boundary(t *testing.T) {
	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		now    time.Time
		policy booking.RefundPolicy
		amount money.Money
	}{
		{
			name:   "exactly 24h before start refunds base price",
			now:    start.Add(-24 * time.Hour),
			policy: booking.RefundFull,
			amount: basePrice,
		},
		{
			name:   "24h0m1s before start refunds base price",
			now:    start.Add(-24*time.Hour - time.Second),
			policy: booking.RefundFull,
			amount: basePrice,
		},
		{
			name:   "23h59m59s before start refunds nothing",
			now:    start.Add(-24*time.Hour + time.Second),
			policy: booking.RefundNone,
			amount: money.Zero,
		},
		{
			name:   "23h59m before start refunds nothing",
			now:    start.Add(-23*time.Hour - 59*time.Minute),
			policy: booking.RefundNone,
			amount: money.Zero,
		},
		{
			name:   "one second before start refunds nothing",
			now:    start.Add(-time.Second),
			policy: booking.RefundNone,
			amount: money.Zero,
		},
		{
			name:   "a week before start refunds base price",
			now:    start.Add(-7 * 24 * time.Hour),
			policy: booking.RefundFull,
			amount: basePrice,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, err := booking.ComputeRefund(tc.now, start, basePrice, serviceFee)
			require.NoError(t, err)

			assert.Equal(t, tc.policy, outcome.Policy)
			assert.True(t, outcome.Amount.Equal(tc.amount),
				"expected %s, got %s", tc.amount, outcome.Amount)
			// The service fee is never refunded, under any policy.
			assert.True(t, outcome.FeeWithheld.Equal(serviceFee))
		})
	}
}

func TestComputeRefund_ClassAlreadyStarted_Rejected(t *testing.T) {
	// GIVEN: A class that started (or ended) in the past
	// WHEN: Computing a refund
	// THEN: The operation is rejected, not silently zero

	start := time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)

	for _, now := range []time.Time{
		start,                      // starting this instant
		start.Add(time.Second),     // just started
		start.Add(2 * time.Hour),   // already finished
		start.Add(48 * time.Hour),  // long gone
	} {
		_, err := booking.ComputeRefund(now, start, basePrice, serviceFee)
		assert.ErrorIs(t, err, booking.ErrAlreadyOccurred, "now=%s", now)
	}
}

// =============================================================================
// PROVIDER-INITIATED CANCELLATION - Unconditional refund
// =============================================================================

func TestProviderRefund_Unconditional(t *testing.T) {
	// The provider cancelled; the customer gets the base price back no
	// matter how little notice was given. The fee is still withheld.

	outcome := booking.ProviderRefund(basePrice, serviceFee)

	assert.Equal(t, booking.RefundProviderFault, outcome.Policy)
	assert.True(t, outcome.Amount.Equal(basePrice))
	assert.True(t, outcome.FeeWithheld.Equal(serviceFee))
}
