/*
store.go - Persistence interface for the settlement ledger

PURPOSE:
  Defines the contract between the ledger and the database.

MUTABILITY CONTRACT:
  - Entries are created once (AppendEntry) and only their dispute flags
    ever change (SetDispute). Amounts are immutable after the append.
  - Withdrawals are append-only; only their status advances.
  - SetDefaultAccount must clear any previous default ATOMICALLY - two
    defaults observed simultaneously is an invariant violation.

ALL-OR-NOTHING:
  AppendEntry is atomic: a reader never observes a partially applied
  entry (e.g. gross without commission).

IMPLEMENTATIONS:
  - store/memory: in-memory for tests and dev
  - store/sqlite: production SQLite (unique index on booking_id is the
    last line of defense for entry uniqueness)

SEE ALSO:
  - ledger.go: the operations driving these calls
*/
package settlement

import "context"

// =============================================================================
// STORE - Ledger persistence
// =============================================================================

type Store interface {
	// AppendEntry persists a settlement entry. Returns ErrDuplicateEntry
	// if one already exists for the booking.
	AppendEntry(ctx context.Context, e Entry) error

	// EntryByBooking returns the entry for a booking, or ErrEntryNotFound.
	EntryByBooking(ctx context.Context, bookingID string) (Entry, error)

	// EntriesByProvider returns all entries for a provider, oldest first.
	EntriesByProvider(ctx context.Context, providerID string) ([]Entry, error)

	// SetDispute updates the dispute flags on an entry.
	SetDispute(ctx context.Context, bookingID string, open, forfeited bool) error

	// AppendWithdrawal persists a withdrawal record.
	AppendWithdrawal(ctx context.Context, w WithdrawalRecord) error

	// WithdrawalsByProvider returns all withdrawals, oldest first.
	WithdrawalsByProvider(ctx context.Context, providerID string) ([]WithdrawalRecord, error)

	// SetWithdrawalStatus advances a withdrawal's status. Returns
	// ErrWithdrawalNotFound for unknown ids.
	SetWithdrawalStatus(ctx context.Context, id string, status WithdrawalStatus) error

	// SaveAccount inserts or updates a bank account.
	SaveAccount(ctx context.Context, a BankAccount) error

	// Account returns a provider's account, or ErrUnknownAccount.
	Account(ctx context.Context, providerID, accountID string) (BankAccount, error)

	// AccountsByProvider returns all of a provider's accounts, oldest
	// first.
	AccountsByProvider(ctx context.Context, providerID string) ([]BankAccount, error)

	// SetDefaultAccount marks accountID as the provider's default,
	// clearing any previous default in the same atomic step.
	SetDefaultAccount(ctx context.Context, providerID, accountID string) error

	// DeleteAccount removes an account unconditionally.
	DeleteAccount(ctx context.Context, providerID, accountID string) error
}
