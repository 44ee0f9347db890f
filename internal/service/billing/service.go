package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splax/creditledger/internal/catalog"
	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/repository"
	"github.com/splax/creditledger/pkg/config"
)

// Outcome classifies a settlement attempt that did not fail.
type Outcome string

const (
	OutcomeCredited            Outcome = "credited"
	OutcomeAlreadySettled      Outcome = "already_settled"
	OutcomePaymentNotCompleted Outcome = "payment_not_completed"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Purchase is returned to the client so it can confirm the payment.
type Purchase struct {
	EntryID         string
	PaymentIntentID string
	ClientSecret    string
	Plan            domain.Plan
}

// Settlement reports what Settle did.
type Settlement struct {
	Outcome         Outcome
	Credited        bool
	PaymentIntentID string
	Status          domain.PaymentStatus
	EntryID         string
	AccountID       string
	Credits         int64
	Balance         int64
}

// Service opens and reconciles credit purchases.
type Service struct {
	accounts  repository.AccountRepository
	ledger    repository.LedgerRepository
	processor PaymentProcessor
	notifier  Notifier
	logger    *slog.Logger
	cfg       config.APIConfig
	now       func() time.Time
}

// New constructs a Service. notifier may be nil.
func New(accounts repository.AccountRepository, ledger repository.LedgerRepository, processor PaymentProcessor, notifier Notifier, logger *slog.Logger, cfg config.APIConfig) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return Service{
		accounts:  accounts,
		ledger:    ledger,
		processor: processor,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiatePurchase opens a pending ledger entry for planID and asks the
// processor for a payment intent tagged with the entry id.
func (s Service) InitiatePurchase(ctx context.Context, accountID, planID string) (*Purchase, error) {
	accountID = strings.TrimSpace(accountID)
	planID = strings.TrimSpace(planID)
	if accountID == "" || planID == "" {
		return nil, domain.ErrMissingParameters
	}
	plan, err := catalog.Resolve(planID)
	if err != nil {
		return nil, err
	}
	if _, err := s.accounts.GetAccountByID(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	entry := &domain.LedgerEntry{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		PlanID:      plan.ID,
		Credits:     plan.Credits,
		PriceAmount: plan.PriceAmount,
		Currency:    s.cfg.Currency,
		CreatedAt:   s.now(),
	}
	if err := s.ledger.CreateLedgerEntry(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}

	intent, err := s.createIntent(ctx, PaymentIntentRequest{
		Amount:         entry.PriceAmount,
		Currency:       entry.Currency,
		Description:    fmt.Sprintf("%s credit plan", plan.ID),
		IdempotencyKey: entry.ID,
		Metadata: map[string]string{
			domain.MetadataLedgerEntryID: entry.ID,
			domain.MetadataAccountID:     accountID,
		},
	})
	if err != nil {
		s.logger.Warn("payment intent creation failed", "entry_id", entry.ID, "account_id", accountID, "error", err)
		return nil, err
	}
	if err := s.ledger.AttachExternalRef(ctx, entry.ID, intent.ID); err != nil {
		return nil, fmt.Errorf("attach payment intent: %w", err)
	}

	s.logger.Info("purchase initiated", "entry_id", entry.ID, "account_id", accountID, "plan", plan.ID, "payment_intent", intent.ID)
	return &Purchase{
		EntryID:         entry.ID,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Plan:            plan,
	}, nil
}

// Settle reconciles the processor's view of paymentIntentID with the ledger
// and credits the account at most once.
func (s Service) Settle(ctx context.Context, paymentIntentID string) (Settlement, error) {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return Settlement{}, domain.ErrMissingParameters
	}
	intent, err := s.retrieveIntent(ctx, paymentIntentID)
	if err != nil {
		return Settlement{}, err
	}
	result := Settlement{PaymentIntentID: intent.ID, Status: intent.Status}
	if result.PaymentIntentID == "" {
		result.PaymentIntentID = paymentIntentID
	}
	if intent.Status != domain.PaymentStatusSucceeded {
		result.Outcome = OutcomePaymentNotCompleted
		s.logger.Info("payment not completed", "payment_intent", result.PaymentIntentID, "status", intent.Status)
		return result, nil
	}

	entry, err := s.entryForIntent(ctx, intent, result.PaymentIntentID)
	if err != nil {
		return Settlement{}, err
	}
	result.EntryID = entry.ID
	result.AccountID = entry.AccountID
	result.Credits = entry.Credits

	account, err := s.accounts.GetAccountByID(ctx, entry.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("settlement target account missing", "entry_id", entry.ID, "account_id", entry.AccountID)
			return Settlement{}, domain.ErrAccountNotFound
		}
		return Settlement{}, fmt.Errorf("load account: %w", err)
	}
	if entry.Settled {
		result.Outcome = OutcomeAlreadySettled
		result.Balance = account.CreditBalance
		s.logger.Info("ledger entry already settled", "entry_id", entry.ID)
		return result, nil
	}

	settled, balance, err := s.ledger.SettleLedgerEntry(ctx, entry.ID, result.PaymentIntentID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrAlreadySettled):
		result.Outcome = OutcomeAlreadySettled
		result.Balance = s.currentBalance(ctx, entry.AccountID, account.CreditBalance)
		s.logger.Info("ledger entry settled concurrently", "entry_id", entry.ID)
		return result, nil
	case errors.Is(err, repository.ErrAccountNotFound):
		s.logger.Error("settlement target account missing", "entry_id", entry.ID, "account_id", entry.AccountID)
		return Settlement{}, domain.ErrAccountNotFound
	case errors.Is(err, repository.ErrNotFound):
		return Settlement{}, domain.ErrTransactionNotFound
	default:
		return Settlement{}, fmt.Errorf("settle ledger entry: %w", err)
	}

	result.Outcome = OutcomeCredited
	result.Credited = true
	result.Balance = balance
	s.logger.Info("credits added", "entry_id", entry.ID, "account_id", entry.AccountID, "credits", entry.Credits, "balance", balance)

	if s.notifier != nil {
		settledAt := s.now()
		if settled != nil && settled.SettledAt != nil {
			settledAt = *settled.SettledAt
		}
		s.notifier.PublishSettlement(domain.SettlementEvent{
			EntryID:         entry.ID,
			AccountID:       entry.AccountID,
			PaymentIntentID: result.PaymentIntentID,
			PlanID:          entry.PlanID,
			Credits:         entry.Credits,
			Balance:         balance,
			SettledAt:       settledAt,
		})
	}
	return result, nil
}

// Balance returns the account's current credit balance.
func (s Service) Balance(ctx context.Context, accountID string) (*domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, domain.ErrMissingParameters
	}
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

// History lists the account's most recent ledger entries.
func (s Service) History(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, domain.ErrMissingParameters
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	entries, err := s.ledger.ListLedgerEntriesByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

func (s Service) entryForIntent(ctx context.Context, intent *domain.PaymentIntent, intentID string) (*domain.LedgerEntry, error) {
	entryID := strings.TrimSpace(intent.Metadata[domain.MetadataLedgerEntryID])
	if entryID == "" {
		s.logger.Warn("payment intent without ledger entry", "payment_intent", intentID)
		return nil, domain.ErrTransactionNotFound
	}
	entry, err := s.ledger.GetLedgerEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}
	if entry.ExternalRef != "" && entry.ExternalRef != intentID {
		s.logger.Warn("payment intent does not match ledger entry", "entry_id", entry.ID, "payment_intent", intentID, "external_ref", entry.ExternalRef)
		return nil, domain.ErrTransactionNotFound
	}
	if owner := intent.Metadata[domain.MetadataAccountID]; owner != "" && owner != entry.AccountID {
		s.logger.Warn("payment intent owner does not match ledger entry", "entry_id", entry.ID, "payment_intent", intentID)
		return nil, domain.ErrTransactionNotFound
	}
	return entry, nil
}

func (s Service) currentBalance(ctx context.Context, accountID string, fallback int64) int64 {
	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return fallback
	}
	return account.CreditBalance
}

func (s Service) createIntent(ctx context.Context, req PaymentIntentRequest) (*domain.PaymentIntent, error) {
	ctx, cancel := s.processorContext(ctx)
	defer cancel()
	intent, err := s.processor.CreatePaymentIntent(ctx, req)
	if err != nil {
		return nil, processorError(err)
	}
	return intent, nil
}

func (s Service) retrieveIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	ctx, cancel := s.processorContext(ctx)
	defer cancel()
	intent, err := s.processor.RetrievePaymentIntent(ctx, id)
	if err != nil {
		return nil, processorError(err)
	}
	if intent == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return intent, nil
}

func (s Service) processorContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ProcessorTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
}

// processorError keeps errors the processor already classified. Untagged
// errors are transport failures and deadlines, which are retryable.
func processorError(err error) error {
	var tagged *domain.Error
	if errors.As(err, &tagged) {
		return err
	}
	return domain.Wrap(domain.ErrProcessorUnavailable, err)
}
