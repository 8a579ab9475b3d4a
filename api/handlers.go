/*
handlers.go - HTTP API handlers for the booking and settlement engine

PURPOSE:
  Exposes the lifecycle engine and provider ledger via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Bookings:
    POST   /api/bookings                       Create booking
    GET    /api/bookings?user_id=              List a user's bookings
    GET    /api/bookings/{id}                  Get booking details
    POST   /api/bookings/{id}/cancel           Cancel with refund computation
    POST   /api/bookings/{id}/dispute          Open a dispute on the settlement
    POST   /api/bookings/{id}/dispute/resolve  Resolve the dispute

  Providers:
    GET    /api/providers/{id}/ledger          Balances + settlement entries
    GET    /api/providers/{id}/withdrawals     Withdrawal history
    POST   /api/providers/{id}/withdrawals     Request a withdrawal
    POST   /api/providers/{id}/withdrawals/{wid}/mark  Record transfer result
    GET    /api/providers/{id}/accounts        List bank accounts
    POST   /api/providers/{id}/accounts        Add bank account
    POST   /api/providers/{id}/accounts/{aid}/default  Set default account
    DELETE /api/providers/{id}/accounts/{aid}  Remove bank account

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, ledger)
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Domain errors are classified with the packages' helper predicates:
  - 400: validation errors, malformed input
  - 404: unknown booking / entry / withdrawal
  - 409: invalid state, class already occurred, no open dispute
  - 422: insufficient funds
  - 503 + Retry-After: ledger contention (transient, retryable)
  - 500: everything else

TIME:
  Transition endpoints stamp "now" from the handler clock. Tests inject a
  fixed clock; production uses time.Now.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/classly/booking-engine/booking"
	"github.com/classly/booking-engine/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *booking.Engine
	Ledger *settlement.Ledger

	// Clock stamps "now" on transition endpoints; injectable for tests.
	Clock func() time.Time
}

// NewHandler creates a handler over the lifecycle engine and ledger.
func NewHandler(engine *booking.Engine, ledger *settlement.Ledger) *Handler {
	return &Handler{
		Engine: engine,
		Ledger: ledger,
		Clock:  time.Now,
	}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking creates a booking with its class snapshot.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_time, want RFC3339", err)
		return
	}

	b, err := h.Engine.Create(r.Context(), booking.CreateInput{
		ClassID:             req.ClassID,
		UserID:              req.UserID,
		StartTime:           startTime,
		Duration:            time.Duration(req.DurationMinutes) * time.Minute,
		ParticipantCount:    req.ParticipantCount,
		SelectedChildIDs:    req.SelectedChildIDs,
		SpecialRequirements: req.SpecialRequirements,
	}, booking.ClassSnapshot{
		ProviderID:       req.Class.ProviderID,
		ClassName:        req.Class.ClassName,
		BasePrice:        req.Class.BasePrice,
		ServiceFee:       req.Class.ServiceFee,
		Location:         req.Class.Location,
		RequiresChildren: req.Class.RequiresChildren,
	})
	if err != nil {
		writeBookingError(w, "Failed to create booking", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

// GetBooking returns a single booking.
// GET /api/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBookingError(w, "Failed to get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ListBookings returns a user's bookings, newest start time first.
// GET /api/bookings?user_id=
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required", nil)
		return
	}

	bookings, err := h.Engine.ListByUser(r.Context(), userID)
	if err != nil {
		writeBookingError(w, "Failed to list bookings", err)
		return
	}

	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CancelBooking cancels an upcoming booking and reports the refund.
// POST /api/bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CancelRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	var (
		outcome booking.RefundOutcome
		err     error
	)
	if req.CancelledBy == "provider" {
		outcome, err = h.Engine.CancelByProvider(r.Context(), id, h.Clock())
	} else {
		outcome, err = h.Engine.Cancel(r.Context(), id, h.Clock())
	}
	if err != nil {
		writeBookingError(w, "Failed to cancel booking", err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResponseDTO{
		BookingID:   id,
		Status:      string(booking.StatusCancelled),
		Policy:      string(outcome.Policy),
		Refund:      outcome.Amount,
		FeeWithheld: outcome.FeeWithheld,
	})
}

// =============================================================================
// DISPUTE HANDLERS
// =============================================================================

// OpenDispute freezes a settled booking's funds pending resolution.
// POST /api/bookings/{id}/dispute
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Ledger.OpenDispute(r.Context(), id); err != nil {
		writeLedgerError(w, "Failed to open dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking_id": id, "dispute_open": true})
}

// ResolveDispute closes an open dispute.
// POST /api/bookings/{id}/dispute/resolve
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var outcome settlement.DisputeOutcome
	switch req.Outcome {
	case string(settlement.DisputeUpheld):
		outcome = settlement.DisputeUpheld
	case string(settlement.DisputeRejected):
		outcome = settlement.DisputeRejected
	default:
		writeError(w, http.StatusBadRequest, "outcome must be \"upheld\" or \"rejected\"", nil)
		return
	}

	if err := h.Ledger.ResolveDispute(r.Context(), id, outcome); err != nil {
		writeLedgerError(w, "Failed to resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking_id": id, "outcome": req.Outcome})
}

// =============================================================================
// PROVIDER LEDGER HANDLERS
// =============================================================================

// GetLedger returns the provider's derived balances and entries.
// GET /api/providers/{id}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")
	now := h.Clock()

	summary, err := h.Ledger.SummaryAt(r.Context(), providerID, now)
	if err != nil {
		writeLedgerError(w, "Failed to compute ledger summary", err)
		return
	}
	entries, err := h.Ledger.Entries(r.Context(), providerID)
	if err != nil {
		writeLedgerError(w, "Failed to list entries", err)
		return
	}

	dto := LedgerDTO{
		ProviderID:       providerID,
		TotalEarnings:    summary.TotalEarnings,
		CommissionPaid:   summary.CommissionPaid,
		HeldFunds:        summary.HeldFunds,
		AvailableBalance: summary.AvailableBalance,
		Entries:          make([]EntryDTO, len(entries)),
	}
	for i, e := range entries {
		dto.Entries[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListWithdrawals returns the provider's withdrawal history.
// GET /api/providers/{id}/withdrawals
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.Ledger.Withdrawals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to list withdrawals", err)
		return
	}

	dtos := make([]WithdrawalDTO, len(withdrawals))
	for i, wd := range withdrawals {
		dtos[i] = toWithdrawalDTO(wd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RequestWithdrawal creates a pending withdrawal.
// POST /api/providers/{id}/withdrawals
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wd, err := h.Ledger.RequestWithdrawal(r.Context(), providerID, req.BankAccountID, req.Amount, h.Clock())
	if err != nil {
		writeLedgerError(w, "Failed to request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(wd))
}

// MarkWithdrawal records the external transfer result.
// POST /api/providers/{id}/withdrawals/{wid}/mark
func (h *Handler) MarkWithdrawal(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")
	withdrawalID := chi.URLParam(r, "wid")

	var req MarkWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var status settlement.WithdrawalStatus
	switch req.Status {
	case string(settlement.WithdrawalCompleted):
		status = settlement.WithdrawalCompleted
	case string(settlement.WithdrawalFailed):
		status = settlement.WithdrawalFailed
	default:
		writeError(w, http.StatusBadRequest, "status must be \"completed\" or \"failed\"", nil)
		return
	}

	if err := h.Ledger.MarkWithdrawal(r.Context(), providerID, withdrawalID, status); err != nil {
		writeLedgerError(w, "Failed to mark withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": withdrawalID, "status": req.Status})
}

// =============================================================================
// BANK ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the provider's bank accounts.
// GET /api/providers/{id}/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Ledger.Accounts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, "Failed to list accounts", err)
		return
	}

	dtos := make([]BankAccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddAccount registers a payout destination.
// POST /api/providers/{id}/accounts
func (h *Handler) AddAccount(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")

	var req AddAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountName == "" || req.AccountNumber == "" || req.SortCode == "" {
		writeError(w, http.StatusBadRequest, "account_name, account_number and sort_code are required", nil)
		return
	}

	a, err := h.Ledger.AddAccount(r.Context(), settlement.BankAccount{
		ProviderID:    providerID,
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
		SortCode:      req.SortCode,
		BankName:      req.BankName,
		IsDefault:     req.IsDefault,
		CreatedAt:     h.Clock(),
	})
	if err != nil {
		writeLedgerError(w, "Failed to add account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

// SetDefaultAccount makes the account the provider's default.
// POST /api/providers/{id}/accounts/{aid}/default
func (h *Handler) SetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")
	accountID := chi.URLParam(r, "aid")

	if err := h.Ledger.SetDefaultAccount(r.Context(), providerID, accountID); err != nil {
		writeLedgerError(w, "Failed to set default account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": accountID, "is_default": true})
}

// RemoveAccount deletes a bank account.
// DELETE /api/providers/{id}/accounts/{aid}
func (h *Handler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "id")
	accountID := chi.URLParam(r, "aid")

	if err := h.Ledger.RemoveAccount(r.Context(), providerID, accountID); err != nil {
		writeLedgerError(w, "Failed to remove account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func writeBookingError(w http.ResponseWriter, message string, err error) {
	switch {
	case booking.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, booking.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	case booking.IsClientError(err):
		// Wrong status or the class already started: a conflict with the
		// booking's current state, not a malformed request.
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeLedgerError(w http.ResponseWriter, message string, err error) {
	switch {
	case settlement.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, message, err)
	case errors.Is(err, settlement.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case errors.Is(err, settlement.ErrDisputeNotOpen):
		writeError(w, http.StatusConflict, message, err)
	case settlement.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case settlement.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
