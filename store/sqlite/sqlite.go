/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements booking.Store and settlement.Store using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  booking.Store:    booking + class snapshot persistence, CAS transitions
  settlement.Store: settlement entries, withdrawals, bank accounts

INVARIANTS ENFORCED AT THE DATABASE:
  - settlement_entries.booking_id PRIMARY KEY: at most one settlement
    entry per booking, even if application-level idempotency is bypassed
  - idx_accounts_one_default partial unique index: at most one default
    bank account per provider
  - Status transitions use UPDATE ... WHERE status = ?; zero rows
    affected means a concurrent transition won (compare-and-swap)

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

USAGE:
  store, err := sqlite.New("./data/bookings.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - booking/store.go, settlement/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/classly/booking-engine/booking"
	"github.com/classly/booking-engine/money"
	"github.com/classly/booking-engine/settlement"
)

// Store implements booking.Store and settlement.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Bookings with their class snapshot (written together, atomically)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		start_time TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		participant_count INTEGER NOT NULL,
		selected_child_ids TEXT,
		special_requirements TEXT,
		attended BOOLEAN NOT NULL DEFAULT FALSE,
		provider_id TEXT NOT NULL,
		class_name TEXT NOT NULL,
		base_price TEXT NOT NULL,
		service_fee TEXT NOT NULL,
		location TEXT,
		requires_children BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_user
		ON bookings(user_id, start_time DESC);

	-- The scheduler's hot path: enumerate upcoming bookings
	CREATE INDEX IF NOT EXISTS idx_bookings_status
		ON bookings(status) WHERE status = 'upcoming';

	-- Settlement entries (one per completed booking, amounts immutable)
	-- booking_id PRIMARY KEY is the last line of defense against a
	-- double completion creating a duplicate entry.
	CREATE TABLE IF NOT EXISTS settlement_entries (
		booking_id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		gross_amount TEXT NOT NULL,
		commission_amount TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		held_until TEXT NOT NULL,
		dispute_open BOOLEAN NOT NULL DEFAULT FALSE,
		forfeited BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_entries_provider
		ON settlement_entries(provider_id, completed_at);

	-- Withdrawals (append-only; only status advances)
	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		bank_account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_provider
		ON withdrawals(provider_id, requested_at);

	-- Bank accounts
	CREATE TABLE IF NOT EXISTS bank_accounts (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		account_name TEXT NOT NULL,
		account_number TEXT NOT NULL,
		sort_code TEXT NOT NULL,
		bank_name TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_provider
		ON bank_accounts(provider_id);

	-- CRITICAL: at most one default payout account per provider
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_one_default
		ON bank_accounts(provider_id) WHERE is_default;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BOOKING STORE (booking.Store interface)
// =============================================================================

// Create persists a booking together with its class snapshot.
func (s *Store) Create(ctx context.Context, b booking.EnhancedBooking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	childrenJSON, _ := json.Marshal(b.SelectedChildIDs)

	query := `
		INSERT INTO bookings
		(id, class_id, user_id, status, start_time, duration_seconds, participant_count,
		 selected_child_ids, special_requirements, attended,
		 provider_id, class_name, base_price, service_fee, location, requires_children, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID,
		b.ClassID,
		b.UserID,
		b.Status,
		b.StartTime.UTC().Format(time.RFC3339Nano),
		int64(b.Duration/time.Second),
		b.ParticipantCount,
		string(childrenJSON),
		b.SpecialRequirements,
		b.Attended,
		b.Class.ProviderID,
		b.Class.ClassName,
		b.Class.BasePrice.Decimal().String(),
		b.Class.ServiceFee.Decimal().String(),
		b.Class.Location,
		b.Class.RequiresChildren,
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrStatusConflict
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// Get returns the booking with the given id.
func (s *Store) Get(ctx context.Context, id string) (booking.EnhancedBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectBooking+" WHERE id = ?", id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return booking.EnhancedBooking{}, booking.ErrNotFound
	}
	return b, err
}

// ListByUser returns all bookings for a user, newest start time first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]booking.EnhancedBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectBooking+" WHERE user_id = ? ORDER BY start_time DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.EnhancedBooking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListUpcoming returns ids of all bookings still upcoming.
func (s *Store) ListUpcoming(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM bookings WHERE status = ? ORDER BY start_time ASC", booking.StatusUpcoming)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming bookings: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateStatus performs the compare-and-swap status transition.
func (s *Store) UpdateStatus(ctx context.Context, id string, expected, next booking.Status, attended bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET status = ?, attended = ? WHERE id = ? AND status = ?",
		next, attended, id, expected)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Zero rows: either the id is unknown or the CAS precondition failed.
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return booking.ErrNotFound
	}
	return booking.ErrStatusConflict
}

const selectBooking = `
	SELECT id, class_id, user_id, status, start_time, duration_seconds, participant_count,
	       selected_child_ids, special_requirements, attended,
	       provider_id, class_name, base_price, service_fee, location, requires_children, created_at
	FROM bookings`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (booking.EnhancedBooking, error) {
	var (
		b               booking.EnhancedBooking
		startTime       string
		durationSeconds int64
		childrenJSON    sql.NullString
		requirements    sql.NullString
		basePrice       string
		serviceFee      string
		location        sql.NullString
		createdAt       string
	)

	err := row.Scan(
		&b.ID, &b.ClassID, &b.UserID, &b.Status, &startTime, &durationSeconds,
		&b.ParticipantCount, &childrenJSON, &requirements, &b.Attended,
		&b.Class.ProviderID, &b.Class.ClassName, &basePrice, &serviceFee,
		&location, &b.Class.RequiresChildren, &createdAt,
	)
	if err != nil {
		return b, err
	}

	b.StartTime, _ = time.Parse(time.RFC3339Nano, startTime)
	b.Duration = time.Duration(durationSeconds) * time.Second
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.SpecialRequirements = requirements.String
	b.Class.Location = location.String
	if childrenJSON.Valid && childrenJSON.String != "" {
		json.Unmarshal([]byte(childrenJSON.String), &b.SelectedChildIDs)
	}
	if b.Class.BasePrice, err = money.Parse(basePrice); err != nil {
		return b, fmt.Errorf("failed to parse base price: %w", err)
	}
	if b.Class.ServiceFee, err = money.Parse(serviceFee); err != nil {
		return b, fmt.Errorf("failed to parse service fee: %w", err)
	}
	return b, nil
}

// =============================================================================
// SETTLEMENT STORE (settlement.Store interface)
// =============================================================================

// AppendEntry persists a settlement entry.
func (s *Store) AppendEntry(ctx context.Context, e settlement.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settlement_entries
		(booking_id, provider_id, gross_amount, commission_amount, net_amount,
		 completed_at, held_until, dispute_open, forfeited)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.BookingID,
		e.ProviderID,
		e.GrossAmount.Decimal().String(),
		e.CommissionAmount.Decimal().String(),
		e.NetAmount.Decimal().String(),
		e.CompletedAt.UTC().Format(time.RFC3339Nano),
		e.HeldUntil.UTC().Format(time.RFC3339Nano),
		e.DisputeOpen,
		e.Forfeited,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return settlement.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to insert settlement entry: %w", err)
	}
	return nil
}

// EntryByBooking returns the entry for a booking.
func (s *Store) EntryByBooking(ctx context.Context, bookingID string) (settlement.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectEntry+" WHERE booking_id = ?", bookingID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return settlement.Entry{}, settlement.ErrEntryNotFound
	}
	return e, err
}

// EntriesByProvider returns all entries for a provider, oldest first.
func (s *Store) EntriesByProvider(ctx context.Context, providerID string) ([]settlement.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectEntry+" WHERE provider_id = ? ORDER BY completed_at ASC", providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement entries: %w", err)
	}
	defer rows.Close()

	var out []settlement.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetDispute updates the dispute flags on an entry.
func (s *Store) SetDispute(ctx context.Context, bookingID string, open, forfeited bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE settlement_entries SET dispute_open = ?, forfeited = ? WHERE booking_id = ?",
		open, forfeited, bookingID)
	if err != nil {
		return fmt.Errorf("failed to update dispute flags: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return settlement.ErrEntryNotFound
	}
	return nil
}

const selectEntry = `
	SELECT booking_id, provider_id, gross_amount, commission_amount, net_amount,
	       completed_at, held_until, dispute_open, forfeited
	FROM settlement_entries`

func scanEntry(row rowScanner) (settlement.Entry, error) {
	var (
		e           settlement.Entry
		gross       string
		commission  string
		net         string
		completedAt string
		heldUntil   string
	)

	err := row.Scan(&e.BookingID, &e.ProviderID, &gross, &commission, &net,
		&completedAt, &heldUntil, &e.DisputeOpen, &e.Forfeited)
	if err != nil {
		return e, err
	}

	e.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
	e.HeldUntil, _ = time.Parse(time.RFC3339Nano, heldUntil)
	if e.GrossAmount, err = money.Parse(gross); err != nil {
		return e, err
	}
	if e.CommissionAmount, err = money.Parse(commission); err != nil {
		return e, err
	}
	if e.NetAmount, err = money.Parse(net); err != nil {
		return e, err
	}
	return e, nil
}

// -----------------------------------------------------------------------------
// Withdrawals
// -----------------------------------------------------------------------------

// AppendWithdrawal persists a withdrawal record.
func (s *Store) AppendWithdrawal(ctx context.Context, w settlement.WithdrawalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO withdrawals (id, provider_id, bank_account_id, amount, requested_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.ProviderID, w.BankAccountID,
		w.Amount.Decimal().String(),
		w.RequestedAt.UTC().Format(time.RFC3339Nano),
		w.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

// WithdrawalsByProvider returns all withdrawals, oldest first.
func (s *Store) WithdrawalsByProvider(ctx context.Context, providerID string) ([]settlement.WithdrawalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, bank_account_id, amount, requested_at, status
		 FROM withdrawals WHERE provider_id = ? ORDER BY requested_at ASC`, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var out []settlement.WithdrawalRecord
	for rows.Next() {
		var (
			w           settlement.WithdrawalRecord
			amount      string
			requestedAt string
		)
		if err := rows.Scan(&w.ID, &w.ProviderID, &w.BankAccountID, &amount, &requestedAt, &w.Status); err != nil {
			return nil, err
		}
		w.RequestedAt, _ = time.Parse(time.RFC3339Nano, requestedAt)
		if w.Amount, err = money.Parse(amount); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SetWithdrawalStatus advances a withdrawal's status.
func (s *Store) SetWithdrawalStatus(ctx context.Context, id string, status settlement.WithdrawalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE withdrawals SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return settlement.ErrWithdrawalNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Bank accounts
// -----------------------------------------------------------------------------

// SaveAccount inserts or updates a bank account.
func (s *Store) SaveAccount(ctx context.Context, a settlement.BankAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bank_accounts
		 (id, provider_id, account_name, account_number, sort_code, bank_name, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   account_name = excluded.account_name,
		   account_number = excluded.account_number,
		   sort_code = excluded.sort_code,
		   bank_name = excluded.bank_name`,
		a.ID, a.ProviderID, a.AccountName, a.AccountNumber, a.SortCode, a.BankName,
		a.IsDefault, a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save bank account: %w", err)
	}
	return nil
}

// Account returns a provider's account.
func (s *Store) Account(ctx context.Context, providerID, accountID string) (settlement.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		selectAccount+" WHERE id = ? AND provider_id = ?", accountID, providerID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return settlement.BankAccount{}, settlement.ErrUnknownAccount
	}
	return a, err
}

// AccountsByProvider returns all of a provider's accounts, oldest first.
func (s *Store) AccountsByProvider(ctx context.Context, providerID string) ([]settlement.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectAccount+" WHERE provider_id = ? ORDER BY created_at ASC, id ASC", providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank accounts: %w", err)
	}
	defer rows.Close()

	var out []settlement.BankAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetDefaultAccount clears the previous default and sets the new one in
// one database transaction.
func (s *Store) SetDefaultAccount(ctx context.Context, providerID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE bank_accounts SET is_default = FALSE WHERE provider_id = ? AND is_default", providerID); err != nil {
		return fmt.Errorf("failed to clear default account: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE bank_accounts SET is_default = TRUE WHERE id = ? AND provider_id = ?", accountID, providerID)
	if err != nil {
		return fmt.Errorf("failed to set default account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return settlement.ErrUnknownAccount
	}

	return tx.Commit()
}

// DeleteAccount removes an account unconditionally.
func (s *Store) DeleteAccount(ctx context.Context, providerID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM bank_accounts WHERE id = ? AND provider_id = ?", accountID, providerID)
	if err != nil {
		return fmt.Errorf("failed to delete bank account: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return settlement.ErrUnknownAccount
	}
	return nil
}

const selectAccount = `
	SELECT id, provider_id, account_name, account_number, sort_code, bank_name, is_default, created_at
	FROM bank_accounts`

func scanAccount(row rowScanner) (settlement.BankAccount, error) {
	var (
		a         settlement.BankAccount
		createdAt string
	)
	err := row.Scan(&a.ID, &a.ProviderID, &a.AccountName, &a.AccountNumber,
		&a.SortCode, &a.BankName, &a.IsDefault, &createdAt)
	if err != nil {
		return a, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
