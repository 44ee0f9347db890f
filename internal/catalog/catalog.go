// Package catalog holds the static set of purchasable credit plans.
package catalog

import (
	"strings"

	"github.com/splax/creditledger/internal/domain"
)

var plans = []domain.Plan{
	{ID: domain.PlanBasic, Credits: 100, PriceAmount: 1000},
	{ID: domain.PlanAdvanced, Credits: 500, PriceAmount: 5000},
	{ID: domain.PlanBusiness, Credits: 5000, PriceAmount: 25000},
}

// Resolve returns the plan for id. Identifiers are matched exactly.
func Resolve(id string) (domain.Plan, error) {
	id = strings.TrimSpace(id)
	for _, p := range plans {
		if string(p.ID) == id {
			return p, nil
		}
	}
	return domain.Plan{}, domain.ErrPlanNotFound
}

// All lists every plan in display order.
func All() []domain.Plan {
	return append([]domain.Plan(nil), plans...)
}
