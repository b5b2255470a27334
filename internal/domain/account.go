package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a presale participant. Fiat balances hold refunds and bonuses owed
// to the account; token holdings are tracked in TokensOwned.
type Account struct {
	ID            string
	Email         string
	ReferrerID    string
	Balances      map[string]decimal.Decimal
	TotalInvested decimal.Decimal
	TokensOwned   int64
	Suspended     bool
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Balance returns the balance held in currency.
func (a *Account) Balance(currency string) decimal.Decimal {
	if a.Balances == nil {
		return decimal.Zero
	}
	return a.Balances[currency]
}

// Credit adds amount to the currency balance and returns the new balance.
func (a *Account) Credit(currency string, amount decimal.Decimal) decimal.Decimal {
	if a.Balances == nil {
		a.Balances = make(map[string]decimal.Decimal)
	}
	next := a.Balances[currency].Add(amount)
	a.Balances[currency] = next
	return next
}

// AddTokens credits whole tokens and returns the new holding.
func (a *Account) AddTokens(tokens int64) int64 {
	a.TokensOwned += tokens
	return a.TokensOwned
}

// HasReferrer reports whether the account was referred by someone else.
func (a *Account) HasReferrer() bool {
	return a.ReferrerID != "" && a.ReferrerID != a.ID
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.Balances = make(map[string]decimal.Decimal, len(a.Balances))
	for k, v := range a.Balances {
		c.Balances[k] = v
	}
	return &c
}
