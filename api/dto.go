/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Bookings:
    BookingDTO, CreateBookingRequest, ClassSnapshotDTO, CancelRequest,
    CancelResponseDTO

  Settlement:
    LedgerDTO, EntryDTO, WithdrawalDTO, WithdrawRequest,
    MarkWithdrawalRequest, BankAccountDTO, AddAccountRequest,
    ResolveDisputeRequest

MONEY:
  Money fields marshal as plain decimal strings ("26.99"), never floats.
  See money.Money.MarshalJSON.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs. DTOs
  are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - booking/types.go, settlement/types.go: the domain shapes behind them
*/
package api

import (
	"time"

	"github.com/classly/booking-engine/booking"
	"github.com/classly/booking-engine/money"
	"github.com/classly/booking-engine/settlement"
)

// =============================================================================
// BOOKING TYPES
// =============================================================================

// ClassSnapshotDTO carries the class details frozen onto a booking.
type ClassSnapshotDTO struct {
	ProviderID       string      `json:"provider_id"`
	ClassName        string      `json:"class_name"`
	BasePrice        money.Money `json:"base_price"`
	ServiceFee       money.Money `json:"service_fee"`
	Location         string      `json:"location,omitempty"`
	RequiresChildren bool        `json:"requires_children,omitempty"`
}

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID                  string           `json:"id"`
	ClassID             string           `json:"class_id"`
	UserID              string           `json:"user_id"`
	Status              string           `json:"status"`
	StartTime           string           `json:"start_time"`
	EndTime             string           `json:"end_time"`
	DurationMinutes     int64            `json:"duration_minutes"`
	ParticipantCount    int              `json:"participant_count"`
	SelectedChildIDs    []string         `json:"selected_child_ids,omitempty"`
	SpecialRequirements string           `json:"special_requirements,omitempty"`
	Attended            bool             `json:"attended"`
	GrossAmount         money.Money      `json:"gross_amount"`
	Class               ClassSnapshotDTO `json:"class"`
	CreatedAt           string           `json:"created_at"`
}

func toBookingDTO(b booking.EnhancedBooking) BookingDTO {
	return BookingDTO{
		ID:                  b.ID,
		ClassID:             b.ClassID,
		UserID:              b.UserID,
		Status:              string(b.Status),
		StartTime:           b.StartTime.Format(time.RFC3339),
		EndTime:             b.EndTime().Format(time.RFC3339),
		DurationMinutes:     int64(b.Duration / time.Minute),
		ParticipantCount:    b.ParticipantCount,
		SelectedChildIDs:    b.SelectedChildIDs,
		SpecialRequirements: b.SpecialRequirements,
		Attended:            b.Attended,
		GrossAmount:         b.Class.GrossAmount(),
		Class: ClassSnapshotDTO{
			ProviderID:       b.Class.ProviderID,
			ClassName:        b.Class.ClassName,
			BasePrice:        b.Class.BasePrice,
			ServiceFee:       b.Class.ServiceFee,
			Location:         b.Class.Location,
			RequiresChildren: b.Class.RequiresChildren,
		},
		CreatedAt: b.CreatedAt.Format(time.RFC3339),
	}
}

// CreateBookingRequest is the request to create a booking. The class
// details are snapshotted onto the booking at creation time.
type CreateBookingRequest struct {
	ClassID             string           `json:"class_id"`
	UserID              string           `json:"user_id"`
	StartTime           string           `json:"start_time"` // RFC3339
	DurationMinutes     int64            `json:"duration_minutes"`
	ParticipantCount    int              `json:"participant_count"`
	SelectedChildIDs    []string         `json:"selected_child_ids,omitempty"`
	SpecialRequirements string           `json:"special_requirements,omitempty"`
	Class               ClassSnapshotDTO `json:"class"`
}

// CancelRequest optionally identifies who is cancelling. "provider"
// grants the customer an unconditional refund.
type CancelRequest struct {
	CancelledBy string `json:"cancelled_by,omitempty"` // "user" (default) or "provider"
}

// CancelResponseDTO reports the refund decision.
type CancelResponseDTO struct {
	BookingID   string      `json:"booking_id"`
	Status      string      `json:"status"`
	Policy      string      `json:"refund_policy"`
	Refund      money.Money `json:"refund_amount"`
	FeeWithheld money.Money `json:"fee_withheld"`
}

// =============================================================================
// SETTLEMENT TYPES
// =============================================================================

// EntryDTO represents one settled booking in the provider's ledger.
type EntryDTO struct {
	BookingID   string      `json:"booking_id"`
	Gross       money.Money `json:"gross_amount"`
	Commission  money.Money `json:"commission_amount"`
	Net         money.Money `json:"net_amount"`
	CompletedAt string      `json:"completed_at"`
	HeldUntil   string      `json:"held_until"`
	DisputeOpen bool        `json:"dispute_open"`
	Forfeited   bool        `json:"forfeited"`
}

func toEntryDTO(e settlement.Entry) EntryDTO {
	return EntryDTO{
		BookingID:   e.BookingID,
		Gross:       e.GrossAmount,
		Commission:  e.CommissionAmount,
		Net:         e.NetAmount,
		CompletedAt: e.CompletedAt.Format(time.RFC3339),
		HeldUntil:   e.HeldUntil.Format(time.RFC3339),
		DisputeOpen: e.DisputeOpen,
		Forfeited:   e.Forfeited,
	}
}

// LedgerDTO is the provider's full settlement view: derived totals plus
// the entries behind them.
type LedgerDTO struct {
	ProviderID       string      `json:"provider_id"`
	TotalEarnings    money.Money `json:"total_earnings"`
	CommissionPaid   money.Money `json:"commission_paid"`
	HeldFunds        money.Money `json:"held_funds"`
	AvailableBalance money.Money `json:"available_balance"`
	Entries          []EntryDTO  `json:"entries"`
}

// WithdrawalDTO represents a payout request in API responses.
type WithdrawalDTO struct {
	ID            string      `json:"id"`
	BankAccountID string      `json:"bank_account_id"`
	Amount        money.Money `json:"amount"`
	RequestedAt   string      `json:"requested_at"`
	Status        string      `json:"status"`
}

func toWithdrawalDTO(w settlement.WithdrawalRecord) WithdrawalDTO {
	return WithdrawalDTO{
		ID:            w.ID,
		BankAccountID: w.BankAccountID,
		Amount:        w.Amount,
		RequestedAt:   w.RequestedAt.Format(time.RFC3339),
		Status:        string(w.Status),
	}
}

// WithdrawRequest asks for a payout to a bank account.
type WithdrawRequest struct {
	BankAccountID string      `json:"bank_account_id"`
	Amount        money.Money `json:"amount"`
}

// MarkWithdrawalRequest records the external transfer result.
type MarkWithdrawalRequest struct {
	Status string `json:"status"` // "completed" or "failed"
}

// BankAccountDTO represents a payout destination. The account number is
// masked to its last four digits.
type BankAccountDTO struct {
	ID          string `json:"id"`
	AccountName string `json:"account_name"`
	NumberEnd   string `json:"account_number_last4"`
	SortCode    string `json:"sort_code"`
	BankName    string `json:"bank_name"`
	IsDefault   bool   `json:"is_default"`
	CreatedAt   string `json:"created_at"`
}

func toAccountDTO(a settlement.BankAccount) BankAccountDTO {
	last4 := a.AccountNumber
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return BankAccountDTO{
		ID:          a.ID,
		AccountName: a.AccountName,
		NumberEnd:   last4,
		SortCode:    a.SortCode,
		BankName:    a.BankName,
		IsDefault:   a.IsDefault,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
}

// AddAccountRequest registers a payout destination.
type AddAccountRequest struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	SortCode      string `json:"sort_code"`
	BankName      string `json:"bank_name"`
	IsDefault     bool   `json:"is_default,omitempty"`
}

// ResolveDisputeRequest closes a dispute with the given outcome.
type ResolveDisputeRequest struct {
	Outcome string `json:"outcome"` // "upheld" or "rejected"
}

// ErrorResponse is the JSON shape of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
