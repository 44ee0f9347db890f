package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.AccountRepository = (*Repository)(nil)
	_ repository.LedgerRepository  = (*Repository)(nil)
	_ repository.Store             = (*Repository)(nil)
)

const (
	accountColumns = `id, name, email, password_hash, credit_balance, created_at`
	entryColumns   = `id, account_id, plan_id, credits, price_amount, currency, created_at, settled, settled_at, external_ref`
)

// CreateAccount inserts an account.
func (r *Repository) CreateAccount(ctx context.Context, account *domain.Account) error {
	const query = `INSERT INTO accounts (id, name, email, password_hash, credit_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, account.ID, account.Name, account.Email, account.PasswordHash, account.CreditBalance, account.CreatedAt)
	return mapWriteError(err)
}

// GetAccountByEmail fetches an account by email.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`
	return scanAccount(r.pool.QueryRow(ctx, query, email))
}

// GetAccountByID retrieves an account by identifier.
func (r *Repository) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, id))
}

// CreateLedgerEntry inserts a pending ledger entry.
func (r *Repository) CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, account_id, plan_id, credits, price_amount, currency, created_at, settled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`
	_, err := r.pool.Exec(ctx, query, entry.ID, entry.AccountID, string(entry.PlanID), entry.Credits, entry.PriceAmount, entry.Currency, entry.CreatedAt)
	return mapWriteError(err)
}

// GetLedgerEntry fetches an entry by identifier.
func (r *Repository) GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	return scanEntry(r.pool.QueryRow(ctx, query, id))
}

// ListLedgerEntriesByAccount returns recent entries for an account.
func (r *Repository) ListLedgerEntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, mapReadError(err)
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
func (r *Repository) AttachExternalRef(ctx context.Context, entryID, ref string) error {
	const query = `UPDATE ledger_entries
		SET external_ref = $2
		WHERE id = $1
			AND (external_ref IS NULL OR external_ref = $2)`
	tag, err := r.pool.Exec(ctx, query, entryID, ref)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetLedgerEntry(ctx, entryID); err != nil {
		return err
	}
	return repository.ErrConflict
}

// SettleLedgerEntry flips the entry to settled and credits the account in one
// transaction. The conditional UPDATE takes the row lock, so a concurrent
// settle blocks and then observes settled = TRUE.
func (r *Repository) SettleLedgerEntry(ctx context.Context, entryID, ref string) (*domain.LedgerEntry, int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	flip := `UPDATE ledger_entries
		SET settled = TRUE,
			settled_at = NOW(),
			external_ref = COALESCE(external_ref, NULLIF($2, ''))
		WHERE id = $1
			AND settled = FALSE
		RETURNING ` + entryColumns
	entry, err := scanEntry(tx.QueryRow(ctx, flip, entryID, ref))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, 0, err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE id = $1)`, entryID).Scan(&exists); err != nil {
			return nil, 0, err
		}
		if exists {
			return nil, 0, repository.ErrAlreadySettled
		}
		return nil, 0, repository.ErrNotFound
	}

	const credit = `UPDATE accounts
		SET credit_balance = credit_balance + $2
		WHERE id = $1
		RETURNING credit_balance`
	var balance int64
	if err := tx.QueryRow(ctx, credit, entry.AccountID, entry.Credits).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, repository.ErrAccountNotFound
		}
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return entry, balance, nil
}

// Ping checks pool connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *Repository) Close(context.Context) error {
	r.pool.Close()
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.CreditBalance, &a.CreatedAt); err != nil {
		return nil, mapReadError(err)
	}
	return &a, nil
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		e         domain.LedgerEntry
		planID    string
		settledAt sql.NullTime
		ref       sql.NullString
	)
	if err := row.Scan(&e.ID, &e.AccountID, &planID, &e.Credits, &e.PriceAmount, &e.Currency, &e.CreatedAt, &e.Settled, &settledAt, &ref); err != nil {
		return nil, mapReadError(err)
	}
	e.PlanID = domain.PlanID(planID)
	if settledAt.Valid {
		ts := settledAt.Time.UTC()
		e.SettledAt = &ts
	}
	e.ExternalRef = strings.TrimSpace(ref.String)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func mapReadError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		// malformed uuid can never match a row
		return repository.ErrNotFound
	}
	return err
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrConflict
		case "23503":
			return repository.ErrNotFound
		case "23514", "22P02":
			return fmt.Errorf("%w: %s", repository.ErrInvalidArgument, pgErr.Message)
		}
	}
	return err
}

// Connect opens a pgx pool with the limits the API runs with.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}
