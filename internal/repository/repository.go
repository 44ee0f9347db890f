package repository

import (
	"context"

	"github.com/splax/creditledger/internal/domain"
)

// AccountRepository persists accounts.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id string) (*domain.Account, error)
}

// LedgerRepository persists credit purchase attempts.
type LedgerRepository interface {
	CreateLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id string) (*domain.LedgerEntry, error)
	ListLedgerEntriesByAccount(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error)
	// AttachExternalRef records the processor reference. It succeeds when the
	// entry has no reference yet or already carries ref; any other reference
	// yields ErrConflict.
	AttachExternalRef(ctx context.Context, entryID, ref string) error
	// SettleLedgerEntry flips settled from false to true and adds the entry's
	// credits to the owning account in one atomic unit, returning the new
	// balance. A missing entry yields ErrNotFound, a lost race yields
	// ErrAlreadySettled and a missing account yields ErrAccountNotFound with
	// nothing applied.
	SettleLedgerEntry(ctx context.Context, entryID, ref string) (*domain.LedgerEntry, int64, error)
}

// Store bundles the repositories a backend provides.
type Store interface {
	AccountRepository
	LedgerRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
