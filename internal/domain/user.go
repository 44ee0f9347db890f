package domain

import "time"

// Account represents a registered user holding prepaid credits.
type Account struct {
	ID            string
	Name          string
	Email         string
	PasswordHash  []byte
	CreditBalance int64
	CreatedAt     time.Time
}
