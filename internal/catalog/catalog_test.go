package catalog

import (
	"errors"
	"testing"

	"github.com/splax/creditledger/internal/domain"
)

func TestResolveKnownPlans(t *testing.T) {
	tests := []struct {
		id      string
		credits int64
		price   int64
	}{
		{"Basic", 100, 1000},
		{"Advanced", 500, 5000},
		{"Business", 5000, 25000},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			plan, err := Resolve(tc.id)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tc.id, err)
			}
			if plan.Credits != tc.credits || plan.PriceAmount != tc.price {
				t.Fatalf("Resolve(%q) = %+v", tc.id, plan)
			}
		})
	}
}

func TestResolveRejectsUnknownPlans(t *testing.T) {
	for _, id := range []string{"", "basic", "Enterprise", "BUSINESS"} {
		if _, err := Resolve(id); !errors.Is(err, domain.ErrPlanNotFound) {
			t.Fatalf("Resolve(%q) = %v, want ErrPlanNotFound", id, err)
		}
	}
}

func TestAllReturnsCopy(t *testing.T) {
	list := All()
	list[0].Credits = 1
	if again := All(); again[0].Credits != 100 {
		t.Fatalf("All() exposed internal state: %+v", again[0])
	}
}
