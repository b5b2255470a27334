package domain

import (
	"github.com/shopspring/decimal"
)

// SettlementStatus is the externally visible outcome of a settlement request.
type SettlementStatus string

const (
	SettlementSettled   SettlementStatus = "SETTLED"
	SettlementDuplicate SettlementStatus = "DUPLICATE"
	SettlementRejected  SettlementStatus = "REJECTED"
)

// SettlementResult is returned to the payment collaborator. A duplicate
// delivery receives the figures recorded by the original settlement.
type SettlementResult struct {
	Status             SettlementStatus  `json:"status"`
	DepositID          string            `json:"deposit_id"`
	AccountID          string            `json:"account_id"`
	Provider           string            `json:"provider"`
	ProviderOrderID    string            `json:"provider_order_id"`
	AmountPaid         decimal.Decimal   `json:"amount_paid"`
	Currency           string            `json:"currency"`
	TokensCredited     int64             `json:"tokens_credited"`
	NewTokenBalance    int64             `json:"new_token_balance"`
	NewFiatRaisedTotal decimal.Decimal   `json:"new_fiat_raised_total"`
	ShortfallAmount    decimal.Decimal   `json:"shortfall_amount"`
	ChangeAmount       decimal.Decimal   `json:"change_amount"`
	Transitions        []StageTransition `json:"transitions,omitempty"`
}

// ResultFromDeposit rebuilds the result of a settled deposit.
func ResultFromDeposit(d *Deposit, status SettlementStatus) *SettlementResult {
	return &SettlementResult{
		Status:             status,
		DepositID:          d.ID,
		AccountID:          d.AccountID,
		Provider:           d.Provider,
		ProviderOrderID:    d.ProviderOrderID,
		AmountPaid:         d.AmountPaid,
		Currency:           d.Currency,
		TokensCredited:     d.TokensCredited,
		NewTokenBalance:    d.TokenBalanceAfter,
		NewFiatRaisedTotal: d.FiatRaisedAfter,
		ShortfallAmount:    d.ShortfallAmount,
		ChangeAmount:       d.ChangeAmount,
	}
}

// Describes reports whether the result belongs to the given request.
func (r *SettlementResult) Describes(accountID string, amount decimal.Decimal, currency string) bool {
	return r.AccountID == accountID && r.AmountPaid.Equal(amount) && r.Currency == currency
}
