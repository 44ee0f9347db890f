package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/splax/creditledger/internal/service/billing"
	"github.com/splax/creditledger/pkg/config"
)

const testSecret = "whsec_test"

type stubSettler struct {
	calls []string
	err   error
}

func (s *stubSettler) Settle(_ context.Context, id string) (billing.Settlement, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return billing.Settlement{}, s.err
	}
	return billing.Settlement{Outcome: billing.OutcomeCredited, Credited: true, PaymentIntentID: id}, nil
}

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newService(settler Settler, secret string) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(settler, log, config.APIConfig{StripeWebhookSecret: secret})
}

func eventPayload(eventType, intentID string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2023-10-16","type":%q,"data":{"object":{"id":%q,"object":"payment_intent","status":"succeeded"}}}`, eventType, intentID))
}

func TestHandleSettlesSucceededIntent(t *testing.T) {
	settler := &stubSettler{}
	svc := newService(settler, testSecret)
	payload := eventPayload("payment_intent.succeeded", "pi_42")

	res, err := svc.Handle(context.Background(), payload, sign(payload, testSecret, time.Now()))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !res.Handled || len(settler.calls) != 1 || settler.calls[0] != "pi_42" {
		t.Fatalf("expected settle for pi_42, got %+v calls=%v", res, settler.calls)
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	settler := &stubSettler{}
	svc := newService(settler, testSecret)
	payload := eventPayload("payment_intent.created", "pi_42")

	res, err := svc.Handle(context.Background(), payload, sign(payload, testSecret, time.Now()))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.Handled || len(settler.calls) != 0 {
		t.Fatalf("event should be ignored, got %+v", res)
	}
}

func TestHandleRejectsBadSignature(t *testing.T) {
	settler := &stubSettler{}
	svc := newService(settler, testSecret)
	payload := eventPayload("payment_intent.succeeded", "pi_42")

	_, err := svc.Handle(context.Background(), payload, sign(payload, "whsec_other", time.Now()))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if _, err := svc.Handle(context.Background(), payload, ""); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for empty header, got %v", err)
	}
	if len(settler.calls) != 0 {
		t.Fatalf("settler must not run for rejected payloads")
	}
}

func TestHandleDisabledWithoutSecret(t *testing.T) {
	svc := newService(&stubSettler{}, "")
	if _, err := svc.Handle(context.Background(), []byte("{}"), "t=1,v1=00"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestHandlePropagatesSettleError(t *testing.T) {
	boom := errors.New("boom")
	svc := newService(&stubSettler{err: boom}, testSecret)
	payload := eventPayload("payment_intent.succeeded", "pi_42")
	if _, err := svc.Handle(context.Background(), payload, sign(payload, testSecret, time.Now())); !errors.Is(err, boom) {
		t.Fatalf("expected settle error, got %v", err)
	}
}
