// Package memory provides an in-process repository.Store used by tests and
// single-node development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store keeps accounts and ledger entries in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	emails   map[string]string
	entries  map[string]domain.LedgerEntry
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]domain.Account),
		emails:   make(map[string]string),
		entries:  make(map[string]domain.LedgerEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount inserts an account; emails are unique case-insensitively.
func (s *Store) CreateAccount(_ context.Context, account *domain.Account) error {
	if account == nil || account.ID == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(account.Email)
	if _, ok := s.accounts[account.ID]; ok {
		return repository.ErrConflict
	}
	if _, ok := s.emails[email]; ok && email != "" {
		return repository.ErrConflict
	}
	stored := *account
	stored.PasswordHash = append([]byte(nil), account.PasswordHash...)
	s.accounts[account.ID] = stored
	if email != "" {
		s.emails[email] = account.ID
	}
	return nil
}

// GetAccountByEmail fetches an account by email.
func (s *Store) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	account := s.accounts[id]
	return &account, nil
}

// GetAccountByID fetches an account by identifier.
func (s *Store) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &account, nil
}

// DeleteAccount removes an account. Only tests use it, to model an account
// disappearing between purchase and settlement.
func (s *Store) DeleteAccount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.accounts[id]; ok {
		delete(s.emails, strings.ToLower(account.Email))
		delete(s.accounts, id)
	}
}

// CreateLedgerEntry inserts an entry.
func (s *Store) CreateLedgerEntry(_ context.Context, entry *domain.LedgerEntry) error {
	if entry == nil || entry.ID == "" {
		return repository.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; ok {
		return repository.ErrConflict
	}
	s.entries[entry.ID] = *entry
	return nil
}

// GetLedgerEntry fetches an entry by identifier.
func (s *Store) GetLedgerEntry(_ context.Context, id string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &entry, nil
}

// ListLedgerEntriesByAccount returns the newest entries first.
func (s *Store) ListLedgerEntriesByAccount(_ context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]domain.LedgerEntry, 0)
	for _, entry := range s.entries {
		if entry.AccountID == accountID {
			items = append(items, entry)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// AttachExternalRef records the processor reference once.
func (s *Store) AttachExternalRef(_ context.Context, entryID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return repository.ErrNotFound
	}
	if entry.ExternalRef != "" && entry.ExternalRef != ref {
		return repository.ErrConflict
	}
	entry.ExternalRef = ref
	s.entries[entryID] = entry
	return nil
}

// SettleLedgerEntry applies the credit grant under the store lock.
func (s *Store) SettleLedgerEntry(_ context.Context, entryID, ref string) (*domain.LedgerEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return nil, 0, repository.ErrNotFound
	}
	if entry.Settled {
		return nil, 0, repository.ErrAlreadySettled
	}
	account, ok := s.accounts[entry.AccountID]
	if !ok {
		return nil, 0, repository.ErrAccountNotFound
	}
	now := s.now()
	entry.Settled = true
	entry.SettledAt = &now
	if entry.ExternalRef == "" {
		entry.ExternalRef = ref
	}
	account.CreditBalance += entry.Credits
	s.entries[entryID] = entry
	s.accounts[account.ID] = account
	return &entry, account.CreditBalance, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }
