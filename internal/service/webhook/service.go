package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	stripeapi "github.com/stripe/stripe-go/v76"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/splax/creditledger/internal/service/billing"
	"github.com/splax/creditledger/pkg/config"
)

const eventPaymentIntentSucceeded = "payment_intent.succeeded"

var (
	// ErrDisabled is returned when no signing secret is configured.
	ErrDisabled = errors.New("webhook signing secret not configured")
	// ErrInvalidSignature is returned for payloads that fail verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Settler reconciles a payment intent against the ledger.
type Settler interface {
	Settle(ctx context.Context, paymentIntentID string) (billing.Settlement, error)
}

// Result describes how a delivered event was handled.
type Result struct {
	EventID    string
	EventType  string
	Handled    bool
	Settlement billing.Settlement
}

// Service verifies processor webhooks and forwards payment events to the
// settlement reconciler.
type Service struct {
	settler Settler
	logger  *slog.Logger
	cfg     config.APIConfig
}

// New constructs a webhook service.
func New(settler Settler, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{settler: settler, logger: logger, cfg: cfg}
}

// Enabled reports whether deliveries can be verified.
func (s Service) Enabled() bool {
	return strings.TrimSpace(s.cfg.StripeWebhookSecret) != ""
}

// Handle verifies the Stripe-Signature header and settles succeeded payment
// intents. Other event types are acknowledged without action.
func (s Service) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	if !s.Enabled() {
		return Result{}, ErrDisabled
	}
	if strings.TrimSpace(signature) == "" {
		return Result{}, ErrInvalidSignature
	}
	event, err := stripewebhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.logger.Warn("webhook signature rejected", "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	result := Result{EventID: event.ID, EventType: string(event.Type)}
	if result.EventType != eventPaymentIntentSucceeded {
		s.logger.Debug("webhook event ignored", "event_id", event.ID, "type", event.Type)
		return result, nil
	}
	if event.Data == nil {
		return result, errors.New("webhook event without data")
	}
	var intent stripeapi.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return result, fmt.Errorf("decode payment intent: %w", err)
	}
	settlement, err := s.settler.Settle(ctx, intent.ID)
	if err != nil {
		return result, err
	}
	result.Handled = true
	result.Settlement = settlement
	s.logger.Info("webhook settled payment intent", "event_id", event.ID, "payment_intent", intent.ID, "outcome", settlement.Outcome)
	return result, nil
}
