package dto

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/usecase"
)

// CreateAccountRequest represents a request to create an account.
type CreateAccountRequest struct {
	Email      string `json:"email"`
	ReferrerID string `json:"referrer_id,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateAccountRequest) ToUseCaseInput() usecase.CreateAccountInput {
	return usecase.CreateAccountInput{
		Email:      r.Email,
		ReferrerID: r.ReferrerID,
	}
}

// CreateStageRequest appends a stage to the schedule.
type CreateStageRequest struct {
	Ordinal         int             `json:"ordinal,omitempty"`
	PriceFiat       decimal.Decimal `json:"price_fiat"`
	PriceStable     decimal.Decimal `json:"price_stable"`
	TokensAvailable int64           `json:"tokens_available"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateStageRequest) ToUseCaseInput() usecase.CreateStageInput {
	return usecase.CreateStageInput{
		Ordinal:         r.Ordinal,
		PriceFiat:       r.PriceFiat,
		PriceStable:     r.PriceStable,
		TokensAvailable: r.TokensAvailable,
	}
}

// AdjustInventoryRequest changes the inventory of a stage that never opened.
type AdjustInventoryRequest struct {
	TokensAvailable int64 `json:"tokens_available"`
}

// CreateDepositRequest records a purchase intent.
type CreateDepositRequest struct {
	AccountID       string          `json:"account_id"`
	Provider        string          `json:"provider"`
	ProviderOrderID string          `json:"provider_order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateDepositRequest) ToUseCaseInput() usecase.CreateDepositInput {
	return usecase.CreateDepositInput{
		AccountID:       r.AccountID,
		Provider:        r.Provider,
		ProviderOrderID: r.ProviderOrderID,
		Amount:          r.Amount,
		Currency:        r.Currency,
	}
}

// TransitionRequest carries the reason for failing or refunding a deposit.
type TransitionRequest struct {
	Reason string `json:"reason"`
}

// SettleRequest is an already verified payment confirmation.
type SettleRequest struct {
	AccountID       string          `json:"account_id"`
	Provider        string          `json:"provider"`
	ProviderOrderID string          `json:"provider_order_id"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Currency        string          `json:"currency"`
}

// ToUseCaseInput converts to use case input.
func (r *SettleRequest) ToUseCaseInput() usecase.SettleInput {
	return usecase.SettleInput{
		AccountID:       r.AccountID,
		Provider:        r.Provider,
		ProviderOrderID: r.ProviderOrderID,
		AmountPaid:      r.AmountPaid,
		Currency:        r.Currency,
	}
}

// Webhook payment statuses.
const (
	PaymentFinished = "finished"
	PaymentFailed   = "failed"
	PaymentExpired  = "expired"
)

// WebhookPayload is the body a payment provider posts. Status is optional;
// an empty status means the payment finished.
type WebhookPayload struct {
	OrderID    string          `json:"order_id"`
	AccountID  string          `json:"account_id"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// PaymentStatus returns the lower-cased status, defaulting to finished.
func (p *WebhookPayload) PaymentStatus() string {
	s := strings.ToLower(strings.TrimSpace(p.Status))
	switch s {
	case "", "confirmed", "paid", "completed":
		return PaymentFinished
	}
	return s
}

// Final reports whether the payment will not change any more.
func (p *WebhookPayload) Final() bool {
	switch p.PaymentStatus() {
	case PaymentFinished, PaymentFailed, PaymentExpired:
		return true
	}
	return false
}

// ToSettleInput converts a finished payment for provider.
func (p *WebhookPayload) ToSettleInput(provider string) usecase.SettleInput {
	return usecase.SettleInput{
		AccountID:       p.AccountID,
		Provider:        provider,
		ProviderOrderID: p.OrderID,
		AmountPaid:      p.AmountPaid,
		Currency:        p.Currency,
	}
}

// IssueTokenRequest asks for an operator token.
type IssueTokenRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}
