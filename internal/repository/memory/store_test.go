package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	ctx := context.Background()
	if err := s.CreateAccount(ctx, &domain.Account{ID: "acct-1", Email: "Ada@example.com", Name: "Ada"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	entry := &domain.LedgerEntry{ID: "entry-1", AccountID: "acct-1", PlanID: domain.PlanBasic, Credits: 100, PriceAmount: 1000, CreatedAt: time.Now()}
	if err := s.CreateLedgerEntry(ctx, entry); err != nil {
		t.Fatalf("CreateLedgerEntry: %v", err)
	}
	return s
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	s := seed(t)
	err := s.CreateAccount(context.Background(), &domain.Account{ID: "acct-2", Email: "ada@EXAMPLE.com"})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := s.GetAccountByEmail(context.Background(), "ADA@example.com")
	if err != nil || got.ID != "acct-1" {
		t.Fatalf("GetAccountByEmail = %+v, %v", got, err)
	}
}

func TestAttachExternalRefIsSetOnce(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	if err := s.AttachExternalRef(ctx, "entry-1", "pi_1"); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := s.AttachExternalRef(ctx, "entry-1", "pi_1"); err != nil {
		t.Fatalf("repeat attach with same ref: %v", err)
	}
	if err := s.AttachExternalRef(ctx, "entry-1", "pi_2"); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSettleLedgerEntryConcurrentCallsCreditOnce(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		settled int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.SettleLedgerEntry(ctx, "entry-1", "pi_1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, repository.ErrAlreadySettled):
				settled++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || settled != workers-1 {
		t.Fatalf("wins=%d alreadySettled=%d", wins, settled)
	}
	account, _ := s.GetAccountByID(ctx, "acct-1")
	if account.CreditBalance != 100 {
		t.Fatalf("balance = %d, want 100", account.CreditBalance)
	}
	entry, _ := s.GetLedgerEntry(ctx, "entry-1")
	if !entry.Settled || entry.SettledAt == nil || entry.ExternalRef != "pi_1" {
		t.Fatalf("entry not settled: %+v", entry)
	}
}

func TestSettleLedgerEntryMissingAccountAppliesNothing(t *testing.T) {
	s := seed(t)
	s.DeleteAccount("acct-1")
	_, _, err := s.SettleLedgerEntry(context.Background(), "entry-1", "pi_1")
	if !errors.Is(err, repository.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	entry, _ := s.GetLedgerEntry(context.Background(), "entry-1")
	if entry.Settled {
		t.Fatalf("entry must stay pending when the account is gone")
	}
}
