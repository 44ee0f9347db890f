// Package stripe adapts the Stripe PaymentIntents API to billing.PaymentProcessor.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/splax/creditledger/internal/domain"
	"github.com/splax/creditledger/internal/service/billing"
)

var _ billing.PaymentProcessor = (*Processor)(nil)

// Processor talks to Stripe through a per-instance client.
type Processor struct {
	api *client.API
}

// Options tunes the underlying Stripe backend.
type Options struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int64
	Logger     *slog.Logger
}

// New builds a processor for secretKey.
func New(secretKey string, opts Options) (*Processor, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	cfg := &stripeapi.BackendConfig{
		MaxNetworkRetries: stripeapi.Int64(opts.MaxRetries),
		LeveledLogger:     leveledLogger{log: opts.Logger},
	}
	if opts.BaseURL != "" {
		cfg.URL = stripeapi.String(opts.BaseURL)
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	backends := &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, cfg),
		Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, cfg),
		Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, cfg),
	}
	return &Processor{api: client.New(secretKey, backends)}, nil
}

// CreatePaymentIntent opens a payment intent with automatic payment methods.
func (p *Processor) CreatePaymentIntent(ctx context.Context, req billing.PaymentIntentRequest) (*domain.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(req.Amount),
		Currency: stripeapi.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapError("create payment intent", err)
	}
	return toDomain(pi), nil
}

// RetrievePaymentIntent fetches the current state of an intent.
func (p *Processor) RetrievePaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, mapError("retrieve payment intent", err)
	}
	return toDomain(pi), nil
}

func toDomain(pi *stripeapi.PaymentIntent) *domain.PaymentIntent {
	metadata := make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		metadata[k] = v
	}
	return &domain.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       domain.PaymentStatus(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     metadata,
	}
}

func mapError(op string, err error) error {
	var stripeErr *stripeapi.Error
	if !errors.As(err, &stripeErr) {
		return domain.Wrap(domain.ErrProcessorUnavailable, fmt.Errorf("%s: %w", op, err))
	}
	switch {
	case stripeErr.Code == stripeapi.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound:
		return domain.Wrap(domain.ErrTransactionNotFound, fmt.Errorf("%s: %w", op, err))
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.Type == stripeapi.ErrorTypeAPI:
		return domain.Wrap(domain.ErrProcessorUnavailable, fmt.Errorf("%s: %w", op, err))
	}
	return domain.Wrap(domain.ErrInternal, fmt.Errorf("stripe %s: %w", op, err))
}

// leveledLogger routes stripe-go diagnostics into slog.
type leveledLogger struct {
	log *slog.Logger
}

func (l leveledLogger) logger() *slog.Logger {
	if l.log == nil {
		return slog.Default()
	}
	return l.log
}

func (l leveledLogger) Debugf(format string, v ...interface{}) {
	l.logger().Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l leveledLogger) Infof(format string, v ...interface{}) {
	l.logger().Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l leveledLogger) Warnf(format string, v ...interface{}) {
	l.logger().Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l leveledLogger) Errorf(format string, v ...interface{}) {
	l.logger().Error(fmt.Sprintf(format, v...), "component", "stripe")
}
