// Package sqlite implements repository.Store on an embedded SQLite database
// through the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store is a repository.Store over database/sql.
type Store struct {
	db *sql.DB
}

// Migrations returns the schema statements; SQLite executes one at a time.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			email          TEXT NOT NULL,
			password_hash  BLOB NOT NULL,
			credit_balance INTEGER NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
			created_at     TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS accounts_email_key ON accounts (email COLLATE NOCASE)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id           TEXT PRIMARY KEY,
			account_id   TEXT NOT NULL REFERENCES accounts (id),
			plan_id      TEXT NOT NULL,
			credits      INTEGER NOT NULL CHECK (credits > 0),
			price_amount INTEGER NOT NULL CHECK (price_amount > 0),
			currency     TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			settled      INTEGER NOT NULL DEFAULT 0,
			settled_at   TEXT,
			external_ref TEXT UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_account_idx ON ledger_entries (account_id, created_at)`,
	}
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers, which is what makes the
	// conditional settle race-free on SQLite.
	db.SetMaxOpenConns(1)
	for _, stmt := range Migrations() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

const (
	accountColumns = `id, name, email, password_hash, credit_balance, created_at`
	entryColumns   = `id, account_id, plan_id, credits, price_amount, currency, created_at, settled, settled_at, external_ref`
)

// CreateAccount inserts an account.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, account.ID, account.Name, account.Email, account.PasswordHash, account.CreditBalance, formatTime(account.CreatedAt))
	return mapError(err)
}

// GetAccountByEmail fetches an account by email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE email = ? COLLATE NOCASE`
	return scanAccount(s.db.QueryRowContext(ctx, query, email))
}

// GetAccountByID fetches an account by identifier.
func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

// CreateLedgerEntry inserts a pending entry.
func (s *Store) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, account_id, plan_id, credits, price_amount, currency, created_at, settled)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`
	_, err := s.db.ExecContext(ctx, query, entry.ID, entry.AccountID, string(entry.PlanID), entry.Credits, entry.PriceAmount, entry.Currency, formatTime(entry.CreatedAt))
	return mapError(err)
}

// GetLedgerEntry fetches an entry by identifier.
func (s *Store) GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = ?`
	return scanEntry(s.db.QueryRowContext(ctx, query, id))
}

// ListLedgerEntriesByAccount returns recent entries for an account.
func (s *Store) ListLedgerEntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// AttachExternalRef records the processor reference once.
func (s *Store) AttachExternalRef(ctx context.Context, entryID, ref string) error {
	const query = `UPDATE ledger_entries SET external_ref = ?2
		WHERE id = ?1 AND (external_ref IS NULL OR external_ref = ?2)`
	res, err := s.db.ExecContext(ctx, query, entryID, ref)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetLedgerEntry(ctx, entryID); err != nil {
		return err
	}
	return repository.ErrConflict
}

// SettleLedgerEntry flips the entry and credits the account in one transaction.
func (s *Store) SettleLedgerEntry(ctx context.Context, entryID, ref string) (*domain.LedgerEntry, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	const flip = `UPDATE ledger_entries
		SET settled = 1,
			settled_at = ?3,
			external_ref = COALESCE(external_ref, NULLIF(?2, ''))
		WHERE id = ?1 AND settled = 0
		RETURNING ` + entryColumns
	entry, err := scanEntry(tx.QueryRowContext(ctx, flip, entryID, ref, formatTime(time.Now())))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, 0, err
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM ledger_entries WHERE id = ?`, entryID).Scan(&exists); err != nil {
			return nil, 0, err
		}
		if exists > 0 {
			return nil, 0, repository.ErrAlreadySettled
		}
		return nil, 0, repository.ErrNotFound
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `UPDATE accounts SET credit_balance = credit_balance + ? WHERE id = ? RETURNING credit_balance`,
		entry.Credits, entry.AccountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, repository.ErrAccountNotFound
		}
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return entry, balance, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*domain.Account, error) {
	var (
		a       domain.Account
		created string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.CreditBalance, &created); err != nil {
		return nil, mapError(err)
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}

func scanEntry(row scanner) (*domain.LedgerEntry, error) {
	var (
		e         domain.LedgerEntry
		planID    string
		created   string
		settled   int64
		settledAt sql.NullString
		ref       sql.NullString
	)
	if err := row.Scan(&e.ID, &e.AccountID, &planID, &e.Credits, &e.PriceAmount, &e.Currency, &created, &settled, &settledAt, &ref); err != nil {
		return nil, mapError(err)
	}
	e.PlanID = domain.PlanID(planID)
	e.CreatedAt = parseTime(created)
	e.Settled = settled != 0
	if settledAt.Valid {
		ts := parseTime(settledAt.String)
		e.SettledAt = &ts
	}
	e.ExternalRef = strings.TrimSpace(ref.String)
	return &e, nil
}

// timeLayout is fixed width so ORDER BY on the text column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return repository.ErrConflict
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return repository.ErrNotFound
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return repository.ErrInvalidArgument
		}
		if sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE") {
			return repository.ErrConflict
		}
	}
	return err
}
