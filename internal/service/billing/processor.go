package billing

import (
	"context"

	"github.com/splax/creditledger/internal/domain"
)

// PaymentIntentRequest describes the charge the processor should prepare.
type PaymentIntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentProcessor is the external payment-intent API. Implementations return
// errors tagged domain.KindProcessorUnavailable for transport failures and
// domain.KindTransactionNotFound for unknown intents.
type PaymentProcessor interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*domain.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
}

// Notifier receives settlement events after they commit.
type Notifier interface {
	PublishSettlement(event domain.SettlementEvent)
}
