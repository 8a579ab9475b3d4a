/*
ledger.go - The provider payout ledger

PURPOSE:
  Records completed bookings, tracks disputes, manages bank accounts,
  and executes withdrawals against the derived available balance.

CONCURRENCY:
  Mutations are serialized PER PROVIDER through a keyed lock acquired
  with a short timeout; on timeout the caller gets ErrContention and may
  retry with backoff. The lock covers the read-check-write sequence in
  RequestWithdrawal, so the balance can never be overdrawn by concurrent
  requests. Reads (Summary, AvailableBalance) take no lock - they may be
  eventually consistent with in-flight writes, but the store's
  all-or-nothing append means they never see a partial entry.

IDEMPOTENCY:
  RecordCompletion swallows ErrDuplicateEntry: the lifecycle engine's
  compare-and-swap already guarantees at most one completion per
  booking, so a duplicate append can only be a retry and must not fail.

BALANCE DEFINITIONS (see SummaryAt):
  totalEarnings    = sum of gross over all entries
  commissionPaid   = sum of commission over all entries
  heldFunds        = sum of net where held (escrow window or open dispute)
  availableBalance = sum of net where available, minus all withdrawals
                     that are not failed

SEE ALSO:
  - entry.go: per-entry escrow state
  - store.go: persistence contract
  - booking/lifecycle.go: the RecordCompletion caller
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/classly/booking-engine/internal/keylock"
	"github.com/classly/booking-engine/money"
	"github.com/classly/booking-engine/notify"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	HoldingPeriod  time.Duration
	CommissionRate decimal.Decimal
	LockTimeout    time.Duration

	store    Store
	notifier notify.Notifier
	locks    *keylock.KeyLock
}

// NewLedger wires the settlement ledger with default policy: 72h holding
// period, 10% commission, 2s lock acquisition timeout. notifier may be
// nil.
func NewLedger(store Store, notifier notify.Notifier) *Ledger {
	return &Ledger{
		HoldingPeriod:  DefaultHoldingPeriod,
		CommissionRate: DefaultCommissionRate,
		LockTimeout:    2 * time.Second,
		store:          store,
		notifier:       notifier,
		locks:          keylock.New(),
	}
}

func (l *Ledger) lockProvider(providerID string) (func(), error) {
	release, ok := l.locks.AcquireTimeout(providerID, l.LockTimeout)
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", providerID, ErrContention)
	}
	return release, nil
}

// =============================================================================
// RECORD COMPLETION
// =============================================================================

// RecordCompletion appends the settlement entry for a completed booking.
// Idempotent per booking id. This is the method the lifecycle engine's
// Settlements interface binds to.
func (l *Ledger) RecordCompletion(ctx context.Context, bookingID, providerID string, gross money.Money, completedAt time.Time) error {
	release, err := l.lockProvider(providerID)
	if err != nil {
		return err
	}
	defer release()

	entry := NewEntry(bookingID, providerID, gross, completedAt, l.CommissionRate, l.HoldingPeriod)

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			// Retry of an already-recorded completion.
			return nil
		}
		return fmt.Errorf("record completion for booking %s: %w", bookingID, err)
	}

	log.Printf("[Ledger] Recorded booking %s for provider %s: gross=%s commission=%s net=%s held until %s",
		bookingID, providerID, entry.GrossAmount, entry.CommissionAmount, entry.NetAmount,
		entry.HeldUntil.Format(time.RFC3339))
	return nil
}

// =============================================================================
// DISPUTES
// =============================================================================

// OpenDispute freezes an entry's net amount out of the available balance
// until the dispute is resolved, regardless of the holding period.
func (l *Ledger) OpenDispute(ctx context.Context, bookingID string) error {
	entry, err := l.store.EntryByBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	release, err := l.lockProvider(entry.ProviderID)
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock; the pre-lock snapshot may be stale against
	// a concurrent resolution.
	entry, err = l.store.EntryByBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if entry.DisputeOpen {
		return nil // already open; nothing to do
	}
	if err := l.store.SetDispute(ctx, bookingID, true, entry.Forfeited); err != nil {
		return err
	}

	l.emit(ctx, notify.DisputeOpened, entry, nil)
	return nil
}

// ResolveDispute closes an open dispute. DisputeUpheld forfeits the
// entry's net amount permanently; DisputeRejected restores normal
// holding-period treatment.
func (l *Ledger) ResolveDispute(ctx context.Context, bookingID string, outcome DisputeOutcome) error {
	entry, err := l.store.EntryByBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	release, err := l.lockProvider(entry.ProviderID)
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock; see OpenDispute.
	entry, err = l.store.EntryByBooking(ctx, bookingID)
	if err != nil {
		return err
	}

	if !entry.DisputeOpen {
		return fmt.Errorf("booking %s: %w", bookingID, ErrDisputeNotOpen)
	}

	forfeited := entry.Forfeited || outcome == DisputeUpheld
	if err := l.store.SetDispute(ctx, bookingID, false, forfeited); err != nil {
		return err
	}

	l.emit(ctx, notify.DisputeResolved, entry, map[string]string{"outcome": string(outcome)})
	return nil
}

// =============================================================================
// BALANCES
// =============================================================================

// SummaryAt computes the derived totals for a provider as of now.
func (l *Ledger) SummaryAt(ctx context.Context, providerID string, now time.Time) (Summary, error) {
	entries, err := l.store.EntriesByProvider(ctx, providerID)
	if err != nil {
		return Summary{}, err
	}
	withdrawals, err := l.store.WithdrawalsByProvider(ctx, providerID)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, e := range entries {
		s.TotalEarnings = s.TotalEarnings.Add(e.GrossAmount)
		s.CommissionPaid = s.CommissionPaid.Add(e.CommissionAmount)
		if e.Held(now) {
			s.HeldFunds = s.HeldFunds.Add(e.NetAmount)
		}
		if e.Available(now) {
			s.AvailableBalance = s.AvailableBalance.Add(e.NetAmount)
		}
	}
	for _, w := range withdrawals {
		// Failed transfers return the funds; pending and completed
		// withdrawals both reduce what can still be taken out.
		if w.Status != WithdrawalFailed {
			s.AvailableBalance = s.AvailableBalance.Sub(w.Amount)
		}
	}
	return s, nil
}

// AvailableBalance is the amount the provider may withdraw as of now.
func (l *Ledger) AvailableBalance(ctx context.Context, providerID string, now time.Time) (money.Money, error) {
	s, err := l.SummaryAt(ctx, providerID, now)
	if err != nil {
		return money.Money{}, err
	}
	return s.AvailableBalance, nil
}

// Entries returns all settlement entries for a provider, oldest first.
func (l *Ledger) Entries(ctx context.Context, providerID string) ([]Entry, error) {
	return l.store.EntriesByProvider(ctx, providerID)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// RequestWithdrawal creates a pending withdrawal against the available
// balance. The balance check and the append happen under the provider
// lock, so concurrent requests can never jointly overdraw.
func (l *Ledger) RequestWithdrawal(ctx context.Context, providerID, bankAccountID string, amount money.Money, now time.Time) (WithdrawalRecord, error) {
	if !amount.IsPositive() {
		return WithdrawalRecord{}, ErrInvalidAmount
	}

	release, err := l.lockProvider(providerID)
	if err != nil {
		return WithdrawalRecord{}, err
	}
	defer release()

	if _, err := l.store.Account(ctx, providerID, bankAccountID); err != nil {
		return WithdrawalRecord{}, err
	}

	available, err := l.AvailableBalance(ctx, providerID, now)
	if err != nil {
		return WithdrawalRecord{}, err
	}
	if amount.GreaterThan(available) {
		return WithdrawalRecord{}, &InsufficientFundsError{
			ProviderID: providerID,
			Available:  available,
			Requested:  amount,
		}
	}

	w := WithdrawalRecord{
		ID:            uuid.NewString(),
		ProviderID:    providerID,
		BankAccountID: bankAccountID,
		Amount:        amount,
		RequestedAt:   now,
		Status:        WithdrawalPending,
	}
	if err := l.store.AppendWithdrawal(ctx, w); err != nil {
		return WithdrawalRecord{}, fmt.Errorf("append withdrawal: %w", err)
	}

	log.Printf("[Ledger] Withdrawal %s requested: provider=%s amount=%s", w.ID, providerID, amount)
	return w, nil
}

// MarkWithdrawal records the external transfer result: pending ->
// completed or pending -> failed. A failed transfer stops reducing the
// available balance.
func (l *Ledger) MarkWithdrawal(ctx context.Context, providerID, withdrawalID string, status WithdrawalStatus) error {
	if status != WithdrawalCompleted && status != WithdrawalFailed {
		return fmt.Errorf("cannot mark withdrawal %s as %q", withdrawalID, status)
	}

	release, err := l.lockProvider(providerID)
	if err != nil {
		return err
	}
	defer release()

	withdrawals, err := l.store.WithdrawalsByProvider(ctx, providerID)
	if err != nil {
		return err
	}
	for _, w := range withdrawals {
		if w.ID != withdrawalID {
			continue
		}
		if w.Status != WithdrawalPending {
			return fmt.Errorf("withdrawal %s is %s, not pending", withdrawalID, w.Status)
		}
		return l.store.SetWithdrawalStatus(ctx, withdrawalID, status)
	}
	return fmt.Errorf("provider %s: %w", providerID, ErrWithdrawalNotFound)
}

// Withdrawals returns the provider's withdrawal history, oldest first.
func (l *Ledger) Withdrawals(ctx context.Context, providerID string) ([]WithdrawalRecord, error) {
	return l.store.WithdrawalsByProvider(ctx, providerID)
}

// =============================================================================
// BANK ACCOUNTS
// =============================================================================

// AddAccount registers a payout destination. The provider's first
// account becomes the default automatically.
func (l *Ledger) AddAccount(ctx context.Context, a BankAccount) (BankAccount, error) {
	release, err := l.lockProvider(a.ProviderID)
	if err != nil {
		return BankAccount{}, err
	}
	defer release()

	existing, err := l.store.AccountsByProvider(ctx, a.ProviderID)
	if err != nil {
		return BankAccount{}, err
	}

	a.ID = uuid.NewString()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	makeDefault := a.IsDefault || len(existing) == 0
	a.IsDefault = false
	if err := l.store.SaveAccount(ctx, a); err != nil {
		return BankAccount{}, err
	}
	if makeDefault {
		if err := l.store.SetDefaultAccount(ctx, a.ProviderID, a.ID); err != nil {
			return BankAccount{}, err
		}
		a.IsDefault = true
	}
	return a, nil
}

// SetDefaultAccount makes accountID the provider's default, clearing the
// previous default in the same atomic store operation.
func (l *Ledger) SetDefaultAccount(ctx context.Context, providerID, accountID string) error {
	release, err := l.lockProvider(providerID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := l.store.Account(ctx, providerID, accountID); err != nil {
		return err
	}
	return l.store.SetDefaultAccount(ctx, providerID, accountID)
}

// RemoveAccount deletes an account unconditionally. If it was the
// default, the provider is left with no default rather than an arbitrary
// reassignment.
func (l *Ledger) RemoveAccount(ctx context.Context, providerID, accountID string) error {
	release, err := l.lockProvider(providerID)
	if err != nil {
		return err
	}
	defer release()

	if _, err := l.store.Account(ctx, providerID, accountID); err != nil {
		return err
	}
	return l.store.DeleteAccount(ctx, providerID, accountID)
}

// Accounts returns the provider's bank accounts, oldest first.
func (l *Ledger) Accounts(ctx context.Context, providerID string) ([]BankAccount, error) {
	accounts, err := l.store.AccountsByProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// DefaultAccount returns the provider's default payout account, or
// ErrNoDefaultAccount.
func (l *Ledger) DefaultAccount(ctx context.Context, providerID string) (BankAccount, error) {
	accounts, err := l.store.AccountsByProvider(ctx, providerID)
	if err != nil {
		return BankAccount{}, err
	}
	for _, a := range accounts {
		if a.IsDefault {
			return a, nil
		}
	}
	return BankAccount{}, fmt.Errorf("provider %s: %w", providerID, ErrNoDefaultAccount)
}

// =============================================================================
// EVENT EMISSION
// =============================================================================

func (l *Ledger) emit(ctx context.Context, typ notify.EventType, entry Entry, detail map[string]string) {
	if l.notifier == nil {
		return
	}
	ev := notify.NewEvent(typ, time.Now())
	ev.BookingID = entry.BookingID
	ev.ProviderID = entry.ProviderID
	ev.Detail = detail
	if err := l.notifier.Notify(ctx, ev); err != nil {
		log.Printf("[Ledger] notify %s for booking %s failed: %v", typ, entry.BookingID, err)
	}
}
