package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository/memory"
	"github.com/splax/creditledger/pkg/config"
)

type fakeProcessor struct {
	mu        sync.Mutex
	intents   map[string]*domain.PaymentIntent
	requests  []PaymentIntentRequest
	createErr error
	getErr    error
	seq       int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{intents: make(map[string]*domain.PaymentIntent)}
}

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, req PaymentIntentRequest) (*domain.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	f.requests = append(f.requests, req)
	id := fmt.Sprintf("pi_%d", f.seq)
	intent := &domain.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       domain.PaymentStatusRequiresPaymentMethod,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
	}
	f.intents[id] = intent
	return intent, nil
}

func (f *fakeProcessor) RetrievePaymentIntent(_ context.Context, id string) (*domain.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	intent, ok := f.intents[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	copied := *intent
	return &copied, nil
}

func (f *fakeProcessor) setStatus(id string, status domain.PaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = status
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.SettlementEvent
}

func (r *recordingNotifier) PublishSettlement(event domain.SettlementEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	store     *memory.Store
	processor *fakeProcessor
	notifier  *recordingNotifier
	svc       Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	processor := newFakeProcessor()
	notifier := &recordingNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, store, processor, notifier, log, config.APIConfig{Currency: "usd", ProcessorTimeout: time.Second})
	return fixture{store: store, processor: processor, notifier: notifier, svc: svc}
}

func (f fixture) addAccount(t *testing.T, id string) {
	t.Helper()
	err := f.store.CreateAccount(context.Background(), &domain.Account{ID: id, Name: id, Email: id + "@example.com", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func (f fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	account, err := f.store.GetAccountByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.CreditBalance
}

func TestInitiatePurchaseCreatesPendingEntry(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	purchase, err := f.svc.InitiatePurchase(ctx, "acct-1", "Advanced")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	if purchase.ClientSecret == "" || purchase.PaymentIntentID == "" {
		t.Fatalf("expected processor handles, got %+v", purchase)
	}
	entries, err := f.store.ListLedgerEntriesByAccount(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Settled || entry.Credits != 500 || entry.PriceAmount != 5000 || entry.Currency != "usd" {
		t.Fatalf("unexpected entry snapshot %+v", entry)
	}
	if entry.ExternalRef != purchase.PaymentIntentID || entry.ID != purchase.EntryID {
		t.Fatalf("entry not linked to intent: %+v", entry)
	}
	req := f.processor.requests[0]
	if req.Amount != 5000 || req.IdempotencyKey != entry.ID {
		t.Fatalf("unexpected processor request %+v", req)
	}
	if req.Metadata[domain.MetadataLedgerEntryID] != entry.ID || req.Metadata[domain.MetadataAccountID] != "acct-1" {
		t.Fatalf("missing correlation metadata %v", req.Metadata)
	}
	if got := f.balance(t, "acct-1"); got != 0 {
		t.Fatalf("initiate must not change balance, got %d", got)
	}
}

func TestInitiatePurchaseValidation(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	cases := []struct {
		name    string
		account string
		plan    string
		want    error
	}{
		{name: "missing account", account: " ", plan: "Basic", want: domain.ErrMissingParameters},
		{name: "missing plan", account: "acct-1", plan: "", want: domain.ErrMissingParameters},
		{name: "unknown plan", account: "acct-1", plan: "Enterprise", want: domain.ErrPlanNotFound},
		{name: "case variant plan", account: "acct-1", plan: "basic", want: domain.ErrPlanNotFound},
		{name: "unknown account", account: "ghost", plan: "Basic", want: domain.ErrAccountNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.InitiatePurchase(ctx, tc.account, tc.plan)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	entries, _ := f.store.ListLedgerEntriesByAccount(ctx, "acct-1", 10)
	if len(entries) != 0 {
		t.Fatalf("rejected purchases must not create entries, got %d", len(entries))
	}
	if len(f.processor.requests) != 0 {
		t.Fatalf("processor must not be called, got %d requests", len(f.processor.requests))
	}
}

func TestInitiatePurchaseProcessorUnavailable(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	f.processor.createErr = errors.New("dial tcp: connection refused")

	_, err := f.svc.InitiatePurchase(context.Background(), "acct-1", "Basic")
	if !errors.Is(err, domain.ErrProcessorUnavailable) {
		t.Fatalf("expected processor unavailable, got %v", err)
	}
	if domain.KindOf(err) != domain.KindProcessorUnavailable {
		t.Fatalf("unexpected kind %s", domain.KindOf(err))
	}
}

func TestSettleCreditsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	purchase, err := f.svc.InitiatePurchase(ctx, "acct-1", "Basic")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	f.processor.setStatus(purchase.PaymentIntentID, domain.PaymentStatusSucceeded)

	first, err := f.svc.Settle(ctx, purchase.PaymentIntentID)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if !first.Credited || first.Outcome != OutcomeCredited || first.Balance != 100 {
		t.Fatalf("unexpected first settlement %+v", first)
	}
	entry, err := f.store.GetLedgerEntry(ctx, purchase.EntryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if !entry.Settled || entry.SettledAt == nil {
		t.Fatalf("entry should be settled: %+v", entry)
	}

	second, err := f.svc.Settle(ctx, purchase.PaymentIntentID)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if second.Credited || second.Outcome != OutcomeAlreadySettled {
		t.Fatalf("unexpected second settlement %+v", second)
	}
	if got := f.balance(t, "acct-1"); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected one settlement event, got %d", f.notifier.count())
	}
}

func TestSettleConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	purchase, err := f.svc.InitiatePurchase(ctx, "acct-1", "Business")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	f.processor.setStatus(purchase.PaymentIntentID, domain.PaymentStatusSucceeded)

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Settle(ctx, purchase.PaymentIntentID)
			if err != nil {
				t.Errorf("settle: %v", err)
				return
			}
			if res.Credited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if credited != 1 {
		t.Fatalf("expected exactly one credit, got %d", credited)
	}
	if got := f.balance(t, "acct-1"); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
}

func TestSettleNotCompletedLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	purchase, err := f.svc.InitiatePurchase(ctx, "acct-1", "Business")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	for _, status := range []domain.PaymentStatus{
		domain.PaymentStatusRequiresPaymentMethod,
		domain.PaymentStatusProcessing,
		domain.PaymentStatusCanceled,
	} {
		f.processor.setStatus(purchase.PaymentIntentID, status)
		res, err := f.svc.Settle(ctx, purchase.PaymentIntentID)
		if err != nil {
			t.Fatalf("settle with %s: %v", status, err)
		}
		if res.Outcome != OutcomePaymentNotCompleted || res.Credited || res.Status != status {
			t.Fatalf("unexpected settlement for %s: %+v", status, res)
		}
	}
	entry, _ := f.store.GetLedgerEntry(ctx, purchase.EntryID)
	if entry.Settled {
		t.Fatalf("entry must stay pending")
	}
	if got := f.balance(t, "acct-1"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestSettleAccountDeletedMidFlight(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	purchase, err := f.svc.InitiatePurchase(ctx, "acct-1", "Basic")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	f.processor.setStatus(purchase.PaymentIntentID, domain.PaymentStatusSucceeded)
	f.store.DeleteAccount("acct-1")

	_, err = f.svc.Settle(ctx, purchase.PaymentIntentID)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	entry, _ := f.store.GetLedgerEntry(ctx, purchase.EntryID)
	if entry.Settled {
		t.Fatalf("entry must stay pending when the account is gone")
	}
}

func TestSettleRejectsMismatchedIntent(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	purchase, err := f.svc.InitiatePurchase(ctx, "acct-1", "Basic")
	if err != nil {
		t.Fatalf("InitiatePurchase: %v", err)
	}
	f.processor.mu.Lock()
	f.processor.intents["pi_forged"] = &domain.PaymentIntent{
		ID:       "pi_forged",
		Status:   domain.PaymentStatusSucceeded,
		Metadata: map[string]string{domain.MetadataLedgerEntryID: purchase.EntryID},
	}
	f.processor.intents["pi_orphan"] = &domain.PaymentIntent{ID: "pi_orphan", Status: domain.PaymentStatusSucceeded}
	f.processor.mu.Unlock()

	for _, id := range []string{"pi_forged", "pi_orphan", "pi_unknown"} {
		if _, err := f.svc.Settle(ctx, id); !errors.Is(err, domain.ErrTransactionNotFound) {
			t.Fatalf("%s: expected transaction not found, got %v", id, err)
		}
	}
	if got := f.balance(t, "acct-1"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestSettleValidationAndProcessorErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Settle(ctx, "  "); !errors.Is(err, domain.ErrMissingParameters) {
		t.Fatalf("expected missing parameters, got %v", err)
	}
	f.processor.getErr = errors.New("timeout")
	if _, err := f.svc.Settle(ctx, "pi_1"); !errors.Is(err, domain.ErrProcessorUnavailable) {
		t.Fatalf("expected processor unavailable, got %v", err)
	}
}

func TestHistoryAndBalance(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	for _, plan := range []string{"Basic", "Advanced"} {
		if _, err := f.svc.InitiatePurchase(ctx, "acct-1", plan); err != nil {
			t.Fatalf("InitiatePurchase %s: %v", plan, err)
		}
	}
	entries, err := f.svc.History(ctx, "acct-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	account, err := f.svc.Balance(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if account.CreditBalance != 0 {
		t.Fatalf("unexpected balance %d", account.CreditBalance)
	}
	if _, err := f.svc.Balance(ctx, "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestHistoryLimitDefaultsAndCap(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 120; i++ {
		entry := &domain.LedgerEntry{
			ID:          fmt.Sprintf("entry-%d", i),
			AccountID:   "acct-1",
			PlanID:      domain.PlanBasic,
			Credits:     100,
			PriceAmount: 1000,
			Currency:    "usd",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if err := f.store.CreateLedgerEntry(ctx, entry); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}

	cases := []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 50},
		{limit: -3, want: 50},
		{limit: 70, want: 70},
		{limit: 100, want: 100},
		{limit: 500, want: 100},
	}
	for _, tc := range cases {
		entries, err := f.svc.History(ctx, "acct-1", tc.limit)
		if err != nil {
			t.Fatalf("History(%d): %v", tc.limit, err)
		}
		if len(entries) != tc.want {
			t.Fatalf("History(%d) returned %d entries, want %d", tc.limit, len(entries), tc.want)
		}
	}
}

func TestProcessorErrorClassification(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "acct-1")
	ctx := context.Background()

	f.processor.createErr = domain.Wrap(domain.ErrInternal, errors.New("stripe create payment intent: invalid api key"))
	_, err := f.svc.InitiatePurchase(ctx, "acct-1", "Basic")
	if domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("permanent processor failure kind = %s, want internal (%v)", domain.KindOf(err), err)
	}

	f.processor.createErr = context.DeadlineExceeded
	_, err = f.svc.InitiatePurchase(ctx, "acct-1", "Basic")
	if domain.KindOf(err) != domain.KindProcessorUnavailable {
		t.Fatalf("deadline kind = %s, want processor_unavailable", domain.KindOf(err))
	}

	f.processor.getErr = domain.Wrap(domain.ErrInternal, errors.New("stripe retrieve payment intent: invalid api key"))
	if _, err := f.svc.Settle(ctx, "pi_1"); domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("permanent retrieve failure kind = %s, want internal", domain.KindOf(err))
	}
}
