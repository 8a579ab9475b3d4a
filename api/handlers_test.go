package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classly/booking-engine/booking"
	"github.com/classly/booking-engine/money"
	"github.com/classly/booking-engine/notify"
	"github.com/classly/booking-engine/settlement"
	"github.com/classly/booking-engine/store/memory"
)

func mustMoney(s string) money.Money { return money.MustParse(s) }

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router  http.Handler
	handler *Handler
	engine  *booking.Engine
	ledger  *settlement.Ledger
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	recorder := notify.NewRecorder()
	ledger := settlement.NewLedger(memory.NewSettlementStore(), recorder)
	engine := booking.NewEngine(memory.NewBookingStore(), ledger, recorder)

	ts := &testServer{
		engine: engine,
		ledger: ledger,
		now:    time.Date(2026, time.March, 5, 10, 0, 0, 0, time.UTC),
	}
	ts.handler = NewHandler(engine, ledger)
	ts.handler.Clock = func() time.Time { return ts.now }
	ts.router = NewRouter(ts.handler)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func createBookingReq(start time.Time) CreateBookingRequest {
	return CreateBookingRequest{
		ClassID:          "class-1",
		UserID:           "user-1",
		StartTime:        start.Format(time.RFC3339),
		DurationMinutes:  60,
		ParticipantCount: 1,
		Class: ClassSnapshotDTO{
			ProviderID: "provider-1",
			ClassName:  "Toddler Gymnastics",
			BasePrice:  mustMoney("25.00"),
			ServiceFee: mustMoney("1.99"),
		},
	}
}

// =============================================================================
// BOOKING ENDPOINTS
// =============================================================================

func TestAPI_CreateAndGetBooking(t *testing.T) {
	ts := newTestServer(t)
	start := ts.now.Add(48 * time.Hour)

	w := ts.do(t, http.MethodPost, "/api/bookings", createBookingReq(start))
	require.Equal(t, http.StatusCreated, w.Code)

	created := decode[BookingDTO](t, w)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "upcoming", created.Status)
	assert.True(t, created.GrossAmount.Equal(mustMoney("26.99")))

	w = ts.do(t, http.MethodGet, "/api/bookings/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[BookingDTO](t, w)
	assert.Equal(t, created.ID, got.ID)
}

func TestAPI_CreateBooking_ValidationRejected(t *testing.T) {
	ts := newTestServer(t)

	req := createBookingReq(ts.now.Add(48 * time.Hour))
	req.ParticipantCount = 0

	w := ts.do(t, http.MethodPost, "/api/bookings", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_GetBooking_NotFound(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/bookings/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_ListBookings_RequiresUserID(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/bookings", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/bookings?user_id=user-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_CancelBooking_FullNotice(t *testing.T) {
	ts := newTestServer(t)
	start := ts.now.Add(48 * time.Hour)

	created := decode[BookingDTO](t, ts.do(t, http.MethodPost, "/api/bookings", createBookingReq(start)))

	w := ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[CancelResponseDTO](t, w)
	assert.Equal(t, "full", resp.Policy)
	assert.True(t, resp.Refund.Equal(mustMoney("25.00")))
	assert.True(t, resp.FeeWithheld.Equal(mustMoney("1.99")))
}

func TestAPI_CancelBooking_InsideWindow(t *testing.T) {
	ts := newTestServer(t)
	start := ts.now.Add(2 * time.Hour)

	created := decode[BookingDTO](t, ts.do(t, http.MethodPost, "/api/bookings", createBookingReq(start)))

	w := ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[CancelResponseDTO](t, w)
	assert.Equal(t, "none", resp.Policy)
	assert.True(t, resp.Refund.IsZero())
}

func TestAPI_CancelBooking_ByProvider(t *testing.T) {
	// Provider cancels two hours out; refund is unconditional.

	ts := newTestServer(t)
	start := ts.now.Add(2 * time.Hour)

	created := decode[BookingDTO](t, ts.do(t, http.MethodPost, "/api/bookings", createBookingReq(start)))

	w := ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/cancel",
		CancelRequest{CancelledBy: "provider"})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[CancelResponseDTO](t, w)
	assert.True(t, resp.Refund.Equal(mustMoney("25.00")))
}

func TestAPI_CancelBooking_TwiceConflicts(t *testing.T) {
	ts := newTestServer(t)
	start := ts.now.Add(48 * time.Hour)

	created := decode[BookingDTO](t, ts.do(t, http.MethodPost, "/api/bookings", createBookingReq(start)))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/cancel", nil).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/cancel", nil).Code)
}

func TestAPI_CancelBooking_AfterStartConflicts(t *testing.T) {
	ts := newTestServer(t)
	start := ts.now.Add(time.Hour)

	created := decode[BookingDTO](t, ts.do(t, http.MethodPost, "/api/bookings", createBookingReq(start)))

	ts.now = start.Add(time.Minute) // the class has started
	w := ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

// completeBooking creates a booking, advances the clock past its end and
// completes it directly through the engine.
func (ts *testServer) completeBooking(t *testing.T) BookingDTO {
	t.Helper()

	start := ts.now.Add(time.Hour)
	created := decode[BookingDTO](t, ts.do(t, http.MethodPost, "/api/bookings", createBookingReq(start)))

	ts.now = start.Add(2 * time.Hour)
	done, err := ts.engine.AttemptComplete(context.Background(), created.ID, ts.now)
	require.NoError(t, err)
	require.True(t, done)
	return created
}

func TestAPI_Ledger_AfterCompletion(t *testing.T) {
	ts := newTestServer(t)
	ts.completeBooking(t)

	w := ts.do(t, http.MethodGet, "/api/providers/provider-1/ledger", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ledger := decode[LedgerDTO](t, w)
	assert.True(t, ledger.TotalEarnings.Equal(mustMoney("26.99")))
	assert.True(t, ledger.CommissionPaid.Equal(mustMoney("2.70")))
	assert.True(t, ledger.HeldFunds.Equal(mustMoney("24.29")), "inside the holding period")
	assert.True(t, ledger.AvailableBalance.IsZero())
	require.Len(t, ledger.Entries, 1)

	// The escrow clears after 72 hours.
	ts.now = ts.now.Add(72 * time.Hour)
	ledger = decode[LedgerDTO](t, ts.do(t, http.MethodGet, "/api/providers/provider-1/ledger", nil))
	assert.True(t, ledger.AvailableBalance.Equal(mustMoney("24.29")))
	assert.True(t, ledger.HeldFunds.IsZero())
}

func TestAPI_DisputeLifecycle(t *testing.T) {
	ts := newTestServer(t)
	created := ts.completeBooking(t)
	ts.now = ts.now.Add(100 * time.Hour) // escrow long cleared

	w := ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/dispute", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ledger := decode[LedgerDTO](t, ts.do(t, http.MethodGet, "/api/providers/provider-1/ledger", nil))
	assert.True(t, ledger.AvailableBalance.IsZero(), "dispute freezes the funds")

	w = ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/dispute/resolve",
		ResolveDisputeRequest{Outcome: "upheld"})
	require.Equal(t, http.StatusOK, w.Code)

	ledger = decode[LedgerDTO](t, ts.do(t, http.MethodGet, "/api/providers/provider-1/ledger", nil))
	assert.True(t, ledger.AvailableBalance.IsZero())
	assert.True(t, ledger.HeldFunds.IsZero())
	assert.True(t, ledger.Entries[0].Forfeited)
}

func TestAPI_ResolveDispute_BadOutcome(t *testing.T) {
	ts := newTestServer(t)
	created := ts.completeBooking(t)

	w := ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/dispute/resolve",
		ResolveDisputeRequest{Outcome: "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ResolveDispute_NotOpenConflicts(t *testing.T) {
	ts := newTestServer(t)
	created := ts.completeBooking(t)

	w := ts.do(t, http.MethodPost, "/api/bookings/"+created.ID+"/dispute/resolve",
		ResolveDisputeRequest{Outcome: "rejected"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_WithdrawalFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.completeBooking(t)
	ts.now = ts.now.Add(73 * time.Hour)

	account := decode[BankAccountDTO](t, ts.do(t, http.MethodPost, "/api/providers/provider-1/accounts",
		AddAccountRequest{AccountName: "J Smith", AccountNumber: "12345678", SortCode: "04-00-04", BankName: "Monzo"}))
	assert.True(t, account.IsDefault, "first account becomes the default")
	assert.Equal(t, "5678", account.NumberEnd)

	w := ts.do(t, http.MethodPost, "/api/providers/provider-1/withdrawals",
		WithdrawRequest{BankAccountID: account.ID, Amount: mustMoney("24.29")})
	require.Equal(t, http.StatusCreated, w.Code)
	wd := decode[WithdrawalDTO](t, w)
	assert.Equal(t, "pending", wd.Status)

	// Over-withdrawing the now-zero balance is rejected.
	w = ts.do(t, http.MethodPost, "/api/providers/provider-1/withdrawals",
		WithdrawRequest{BankAccountID: account.ID, Amount: mustMoney("0.01")})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// The transfer fails; the funds come back.
	w = ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/providers/provider-1/withdrawals/%s/mark", wd.ID),
		MarkWithdrawalRequest{Status: "failed"})
	require.Equal(t, http.StatusOK, w.Code)

	ledger := decode[LedgerDTO](t, ts.do(t, http.MethodGet, "/api/providers/provider-1/ledger", nil))
	assert.True(t, ledger.AvailableBalance.Equal(mustMoney("24.29")))
}

func TestAPI_Withdrawal_UnknownAccount(t *testing.T) {
	ts := newTestServer(t)
	ts.completeBooking(t)
	ts.now = ts.now.Add(73 * time.Hour)

	w := ts.do(t, http.MethodPost, "/api/providers/provider-1/withdrawals",
		WithdrawRequest{BankAccountID: "no-such-account", Amount: mustMoney("1.00")})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_AccountManagement(t *testing.T) {
	ts := newTestServer(t)

	first := decode[BankAccountDTO](t, ts.do(t, http.MethodPost, "/api/providers/provider-1/accounts",
		AddAccountRequest{AccountName: "J Smith", AccountNumber: "12345678", SortCode: "04-00-04"}))
	second := decode[BankAccountDTO](t, ts.do(t, http.MethodPost, "/api/providers/provider-1/accounts",
		AddAccountRequest{AccountName: "J Smith", AccountNumber: "87654321", SortCode: "04-00-04"}))

	w := ts.do(t, http.MethodPost,
		fmt.Sprintf("/api/providers/provider-1/accounts/%s/default", second.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	accounts := decode[[]BankAccountDTO](t, ts.do(t, http.MethodGet, "/api/providers/provider-1/accounts", nil))
	require.Len(t, accounts, 2)
	for _, a := range accounts {
		assert.Equal(t, a.ID == second.ID, a.IsDefault)
	}

	w = ts.do(t, http.MethodDelete,
		fmt.Sprintf("/api/providers/provider-1/accounts/%s", first.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	accounts = decode[[]BankAccountDTO](t, ts.do(t, http.MethodGet, "/api/providers/provider-1/accounts", nil))
	assert.Len(t, accounts, 1)
}

func TestAPI_AddAccount_MissingFields(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/providers/provider-1/accounts",
		AddAccountRequest{AccountName: "J Smith"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
