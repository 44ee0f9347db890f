package mongo

import (
	"time"

	"github.com/splax/creditledger/internal/domain"
)

type accountModel struct {
	ID            string    `bson:"_id"`
	Name          string    `bson:"name"`
	Email         string    `bson:"email"`
	EmailLower    string    `bson:"email_lower"`
	PasswordHash  []byte    `bson:"password_hash"`
	CreditBalance int64     `bson:"credit_balance"`
	CreatedAt     time.Time `bson:"created_at"`
}

type entryModel struct {
	ID          string     `bson:"_id"`
	AccountID   string     `bson:"account_id"`
	PlanID      string     `bson:"plan_id"`
	Credits     int64      `bson:"credits"`
	PriceAmount int64      `bson:"price_amount"`
	Currency    string     `bson:"currency"`
	CreatedAt   time.Time  `bson:"created_at"`
	Settled     bool       `bson:"settled"`
	SettledAt   *time.Time `bson:"settled_at,omitempty"`
	ExternalRef string     `bson:"external_ref,omitempty"`
}

func toAccountModel(a *domain.Account) accountModel {
	return accountModel{
		ID:            a.ID,
		Name:          a.Name,
		Email:         a.Email,
		EmailLower:    normalizeEmail(a.Email),
		PasswordHash:  a.PasswordHash,
		CreditBalance: a.CreditBalance,
		CreatedAt:     a.CreatedAt.UTC(),
	}
}

func fromAccountModel(m *accountModel) *domain.Account {
	return &domain.Account{
		ID:            m.ID,
		Name:          m.Name,
		Email:         m.Email,
		PasswordHash:  m.PasswordHash,
		CreditBalance: m.CreditBalance,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func toEntryModel(e *domain.LedgerEntry) entryModel {
	return entryModel{
		ID:          e.ID,
		AccountID:   e.AccountID,
		PlanID:      string(e.PlanID),
		Credits:     e.Credits,
		PriceAmount: e.PriceAmount,
		Currency:    e.Currency,
		CreatedAt:   e.CreatedAt.UTC(),
		Settled:     e.Settled,
		SettledAt:   e.SettledAt,
		ExternalRef: e.ExternalRef,
	}
}

func fromEntryModel(m *entryModel) *domain.LedgerEntry {
	e := &domain.LedgerEntry{
		ID:          m.ID,
		AccountID:   m.AccountID,
		PlanID:      domain.PlanID(m.PlanID),
		Credits:     m.Credits,
		PriceAmount: m.PriceAmount,
		Currency:    m.Currency,
		CreatedAt:   m.CreatedAt.UTC(),
		Settled:     m.Settled,
		ExternalRef: m.ExternalRef,
	}
	if m.SettledAt != nil {
		ts := m.SettledAt.UTC()
		e.SettledAt = &ts
	}
	return e
}
