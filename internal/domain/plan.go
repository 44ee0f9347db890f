package domain

import "github.com/shopspring/decimal"

// PlanID identifies a purchasable credit plan.
type PlanID string

const (
	PlanBasic    PlanID = "Basic"
	PlanAdvanced PlanID = "Advanced"
	PlanBusiness PlanID = "Business"
)

// Plan is an immutable catalog entry. PriceAmount is in minor currency units.
type Plan struct {
	ID          PlanID
	Credits     int64
	PriceAmount int64
}

// DisplayPrice renders the price in major units with two decimals.
func (p Plan) DisplayPrice() string {
	return decimal.New(p.PriceAmount, -2).StringFixed(2)
}
