package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/classly/booking-engine/settlement"
)

// =============================================================================
// SETTLEMENT STORE - In-memory implementation
// =============================================================================

type SettlementStore struct {
	mu          sync.RWMutex
	entries     map[string]settlement.Entry // keyed by booking id
	withdrawals []settlement.WithdrawalRecord
	accounts    map[string]settlement.BankAccount // keyed by account id
}

func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		entries:  make(map[string]settlement.Entry),
		accounts: make(map[string]settlement.BankAccount),
	}
}

// -----------------------------------------------------------------------------
// Entries
// -----------------------------------------------------------------------------

func (s *SettlementStore) AppendEntry(_ context.Context, e settlement.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.BookingID]; exists {
		return settlement.ErrDuplicateEntry
	}
	s.entries[e.BookingID] = e
	return nil
}

func (s *SettlementStore) EntryByBooking(_ context.Context, bookingID string) (settlement.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[bookingID]
	if !ok {
		return settlement.Entry{}, settlement.ErrEntryNotFound
	}
	return e, nil
}

func (s *SettlementStore) EntriesByProvider(_ context.Context, providerID string) ([]settlement.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []settlement.Entry
	for _, e := range s.entries {
		if e.ProviderID == providerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(out[j].CompletedAt)
	})
	return out, nil
}

func (s *SettlementStore) SetDispute(_ context.Context, bookingID string, open, forfeited bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[bookingID]
	if !ok {
		return settlement.ErrEntryNotFound
	}
	e.DisputeOpen = open
	e.Forfeited = forfeited
	s.entries[bookingID] = e
	return nil
}

// -----------------------------------------------------------------------------
// Withdrawals
// -----------------------------------------------------------------------------

func (s *SettlementStore) AppendWithdrawal(_ context.Context, w settlement.WithdrawalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawals = append(s.withdrawals, w)
	return nil
}

func (s *SettlementStore) WithdrawalsByProvider(_ context.Context, providerID string) ([]settlement.WithdrawalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []settlement.WithdrawalRecord
	for _, w := range s.withdrawals {
		if w.ProviderID == providerID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *SettlementStore) SetWithdrawalStatus(_ context.Context, id string, status settlement.WithdrawalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.withdrawals {
		if s.withdrawals[i].ID == id {
			s.withdrawals[i].Status = status
			return nil
		}
	}
	return settlement.ErrWithdrawalNotFound
}

// -----------------------------------------------------------------------------
// Bank accounts
// -----------------------------------------------------------------------------

func (s *SettlementStore) SaveAccount(_ context.Context, a settlement.BankAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *SettlementStore) Account(_ context.Context, providerID, accountID string) (settlement.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok || a.ProviderID != providerID {
		return settlement.BankAccount{}, settlement.ErrUnknownAccount
	}
	return a, nil
}

func (s *SettlementStore) AccountsByProvider(_ context.Context, providerID string) ([]settlement.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []settlement.BankAccount
	for _, a := range s.accounts {
		if a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SetDefaultAccount clears any previous default and sets the new one in
// one critical section - callers never observe two defaults.
func (s *SettlementStore) SetDefaultAccount(_ context.Context, providerID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.accounts[accountID]
	if !ok || target.ProviderID != providerID {
		return settlement.ErrUnknownAccount
	}
	for id, a := range s.accounts {
		if a.ProviderID == providerID && a.IsDefault {
			a.IsDefault = false
			s.accounts[id] = a
		}
	}
	target.IsDefault = true
	s.accounts[accountID] = target
	return nil
}

func (s *SettlementStore) DeleteAccount(_ context.Context, providerID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.ProviderID != providerID {
		return settlement.ErrUnknownAccount
	}
	delete(s.accounts, accountID)
	return nil
}
