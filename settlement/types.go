/*
Package settlement provides the provider payout ledger.

PURPOSE:
  Answers the one question providers care about: "how much can I withdraw
  right now?" Every completed booking becomes exactly one settlement
  entry; entries sit in a 72-hour holding escrow, can be frozen by
  disputes, and - once clear - fund withdrawals to a bank account.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: one completed booking's money, split into commission and net
  - BankAccount: payout destination; exactly one default per provider
  - WithdrawalRecord: append-only history of payout requests
  - Summary: the derived per-provider totals (never stored)

MONEY CORRECTNESS:
  Commission is computed ONCE (10% of gross, rounded half-up to the
  penny) and net is derived by subtraction, so gross == commission + net
  always holds exactly. See money.Split.

DERIVED BALANCES:
  Summary is recomputed from entries + withdrawals on every read; there
  is no stored balance field that can drift out of sync.

SEE ALSO:
  - ledger.go: operations and concurrency rules
  - entry.go: entry construction and the escrow/dispute state tests
  - store.go: persistence contract
*/
package settlement

import (
	"time"

	"github.com/classly/booking-engine/money"
)

// =============================================================================
// ENTRY - One completed booking's settlement
// =============================================================================

type Entry struct {
	BookingID  string
	ProviderID string

	GrossAmount      money.Money
	CommissionAmount money.Money
	NetAmount        money.Money

	CompletedAt time.Time
	HeldUntil   time.Time

	DisputeOpen bool
	// Forfeited is permanent: an upheld dispute zeroes this entry's
	// contribution to the provider's balance forever.
	Forfeited bool
}

// =============================================================================
// BANK ACCOUNT - Payout destination
// =============================================================================

type BankAccount struct {
	ID            string
	ProviderID    string
	AccountName   string
	AccountNumber string
	SortCode      string
	BankName      string
	IsDefault     bool
	CreatedAt     time.Time
}

// =============================================================================
// WITHDRAWAL RECORD - Append-only payout history
// =============================================================================

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalFailed    WithdrawalStatus = "failed"
)

type WithdrawalRecord struct {
	ID            string
	ProviderID    string
	BankAccountID string
	Amount        money.Money
	RequestedAt   time.Time
	Status        WithdrawalStatus
}

// =============================================================================
// DISPUTE OUTCOME
// =============================================================================

type DisputeOutcome string

const (
	// DisputeUpheld: the customer wins; the provider forfeits the entry's
	// net amount permanently.
	DisputeUpheld DisputeOutcome = "upheld"
	// DisputeRejected: the dispute fails; the entry returns to normal
	// holding-period treatment.
	DisputeRejected DisputeOutcome = "rejected"
)

// =============================================================================
// SUMMARY - Derived per-provider totals
// =============================================================================

type Summary struct {
	TotalEarnings    money.Money
	CommissionPaid   money.Money
	HeldFunds        money.Money
	AvailableBalance money.Money
}
