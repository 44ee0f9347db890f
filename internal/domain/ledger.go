package domain

import "time"

// LedgerEntry records one credit purchase attempt. Credits, PriceAmount and
// Currency are copied from the plan when the entry is opened.
type LedgerEntry struct {
	ID          string
	AccountID   string
	PlanID      PlanID
	Credits     int64
	PriceAmount int64
	Currency    string
	CreatedAt   time.Time
	Settled     bool
	SettledAt   *time.Time
	ExternalRef string
}

// State reports the entry's position in the pending -> settled lifecycle.
func (e LedgerEntry) State() string {
	if e.Settled {
		return LedgerStateSettled
	}
	return LedgerStatePending
}

const (
	LedgerStatePending = "pending"
	LedgerStateSettled = "settled"
)

// SettlementEvent is published once an entry has been credited.
type SettlementEvent struct {
	EntryID         string    `json:"transactionId"`
	AccountID       string    `json:"accountId"`
	PaymentIntentID string    `json:"paymentIntentId"`
	PlanID          PlanID    `json:"planId"`
	Credits         int64     `json:"credits"`
	Balance         int64     `json:"creditBalance"`
	SettledAt       time.Time `json:"settledAt"`
}
