package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedErrorsMatchSentinelByKind(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := fmt.Errorf("create intent: %w", Wrap(ErrProcessorUnavailable, cause))

	if !errors.Is(err, ErrProcessorUnavailable) {
		t.Fatalf("errors.Is should match by kind: %v", err)
	}
	if errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("errors.Is matched the wrong kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should remain reachable")
	}
	if got := KindOf(err); got != KindProcessorUnavailable {
		t.Fatalf("KindOf = %q", got)
	}
	if got := Message(err); got != "Payment processor unavailable" {
		t.Fatalf("Message = %q", got)
	}
}

func TestKindOfUntaggedError(t *testing.T) {
	err := errors.New("boom")
	if KindOf(err) != KindInternal {
		t.Fatalf("untagged errors should be internal")
	}
	if Message(err) != "Internal error" {
		t.Fatalf("untagged errors must not leak their text")
	}
}

func TestPlanDisplayPrice(t *testing.T) {
	p := Plan{ID: PlanBusiness, Credits: 5000, PriceAmount: 25000}
	if got := p.DisplayPrice(); got != "250.00" {
		t.Fatalf("DisplayPrice = %q, want 250.00", got)
	}
}
