package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
)

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	ID            string                     `json:"id"`
	Email         string                     `json:"email"`
	ReferrerID    string                     `json:"referrer_id,omitempty"`
	Balances      map[string]decimal.Decimal `json:"balances"`
	TotalInvested decimal.Decimal            `json:"total_invested"`
	TokensOwned   int64                      `json:"tokens_owned"`
	Suspended     bool                       `json:"suspended"`
	Version       int64                      `json:"version"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// AccountFromDomain converts domain account to response.
func AccountFromDomain(a *domain.Account) *AccountResponse {
	balances := a.Balances
	if balances == nil {
		balances = map[string]decimal.Decimal{}
	}
	return &AccountResponse{
		ID:            a.ID,
		Email:         a.Email,
		ReferrerID:    a.ReferrerID,
		Balances:      balances,
		TotalInvested: a.TotalInvested,
		TokensOwned:   a.TokensOwned,
		Suspended:     a.Suspended,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// AccountsFromDomain converts domain accounts to responses.
func AccountsFromDomain(accounts []*domain.Account) []*AccountResponse {
	result := make([]*AccountResponse, len(accounts))
	for i, a := range accounts {
		result[i] = AccountFromDomain(a)
	}
	return result
}

// ListAccountsResponse wraps a page of accounts.
type ListAccountsResponse struct {
	Accounts []*AccountResponse `json:"accounts"`
	Total    int64              `json:"total"`
}

// StageResponse represents a presale stage.
type StageResponse struct {
	Ordinal          int             `json:"ordinal"`
	PriceFiat        decimal.Decimal `json:"price_fiat"`
	PriceStable      decimal.Decimal `json:"price_stable"`
	TokensAvailable  int64           `json:"tokens_available"`
	TokensSold       int64           `json:"tokens_sold"`
	TokensRemaining  int64           `json:"tokens_remaining"`
	TotalRaised      decimal.Decimal `json:"total_raised"`
	ParticipantCount int64           `json:"participant_count"`
	Active           bool            `json:"active"`
	OpenedAt         *time.Time      `json:"opened_at,omitempty"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`
	CloseReason      string          `json:"close_reason,omitempty"`
}

// StageFromDomain converts a domain stage to response.
func StageFromDomain(s *domain.PresaleStage) *StageResponse {
	return &StageResponse{
		Ordinal:          s.Ordinal,
		PriceFiat:        s.PriceFiat,
		PriceStable:      s.PriceStable,
		TokensAvailable:  s.TokensAvailable,
		TokensSold:       s.TokensSold,
		TokensRemaining:  s.Remaining(),
		TotalRaised:      s.TotalRaised,
		ParticipantCount: s.ParticipantCount,
		Active:           s.Active,
		OpenedAt:         s.OpenedAt,
		ClosedAt:         s.ClosedAt,
		CloseReason:      string(s.CloseReason),
	}
}

// StagesFromDomain converts domain stages to responses.
func StagesFromDomain(stages []*domain.PresaleStage) []*StageResponse {
	result := make([]*StageResponse, len(stages))
	for i, s := range stages {
		result[i] = StageFromDomain(s)
	}
	return result
}

// StageTransitionsResponse lists the stage changes of an admin operation.
type StageTransitionsResponse struct {
	Transitions []domain.StageTransition `json:"transitions"`
}

// DepositResponse represents a deposit.
type DepositResponse struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	Provider        string          `json:"provider"`
	ProviderOrderID string          `json:"provider_order_id"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	StageOrdinal    int             `json:"stage_ordinal,omitempty"`
	TokensCredited  int64           `json:"tokens_credited"`
	ShortfallAmount decimal.Decimal `json:"shortfall_amount"`
	ChangeAmount    decimal.Decimal `json:"change_amount"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	SettledAt       *time.Time      `json:"settled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DepositFromDomain converts a domain deposit to response.
func DepositFromDomain(d *domain.Deposit) *DepositResponse {
	return &DepositResponse{
		ID:              d.ID,
		AccountID:       d.AccountID,
		Provider:        d.Provider,
		ProviderOrderID: d.ProviderOrderID,
		AmountPaid:      d.AmountPaid,
		Currency:        d.Currency,
		Status:          string(d.Status),
		StageOrdinal:    d.StageOrdinal,
		TokensCredited:  d.TokensCredited,
		ShortfallAmount: d.ShortfallAmount,
		ChangeAmount:    d.ChangeAmount,
		FailureReason:   d.FailureReason,
		SettledAt:       d.SettledAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// DepositsFromDomain converts domain deposits to responses.
func DepositsFromDomain(deposits []*domain.Deposit) []*DepositResponse {
	result := make([]*DepositResponse, len(deposits))
	for i, d := range deposits {
		result[i] = DepositFromDomain(d)
	}
	return result
}

// SettlementResponse is returned for settlement requests and webhooks.
type SettlementResponse struct {
	Status             string                   `json:"status"`
	DepositID          string                   `json:"deposit_id"`
	TokensCredited     int64                    `json:"tokens_credited"`
	NewTokenBalance    int64                    `json:"new_token_balance"`
	NewFiatRaisedTotal decimal.Decimal          `json:"new_fiat_raised_total"`
	ShortfallAmount    decimal.Decimal          `json:"shortfall_amount"`
	ChangeAmount       decimal.Decimal          `json:"change_amount"`
	Currency           string                   `json:"currency"`
	Transitions        []domain.StageTransition `json:"transitions,omitempty"`
}

// SettlementFromDomain converts a settlement result to response.
func SettlementFromDomain(r *domain.SettlementResult) *SettlementResponse {
	return &SettlementResponse{
		Status:             string(r.Status),
		DepositID:          r.DepositID,
		TokensCredited:     r.TokensCredited,
		NewTokenBalance:    r.NewTokenBalance,
		NewFiatRaisedTotal: r.NewFiatRaisedTotal,
		ShortfallAmount:    r.ShortfallAmount,
		ChangeAmount:       r.ChangeAmount,
		Currency:           r.Currency,
		Transitions:        r.Transitions,
	}
}

// WebhookAck answers webhooks that did not settle anything.
type WebhookAck struct {
	Status    string `json:"status"`
	DepositID string `json:"deposit_id,omitempty"`
}

// EntryResponse represents an entry in API responses.
type EntryResponse struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Currency       string          `json:"currency"`
	Kind           string          `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	ReferenceType  string          `json:"reference_type"`
	ReferenceID    string          `json:"reference_id"`
	AccountVersion int64           `json:"account_version"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EntryFromDomain converts domain entry to response.
func EntryFromDomain(e *domain.Entry) *EntryResponse {
	return &EntryResponse{
		ID:             e.ID,
		AccountID:      e.AccountID,
		Currency:       e.Currency,
		Kind:           string(e.Kind),
		Amount:         e.Amount,
		BalanceAfter:   e.BalanceAfter,
		ReferenceType:  string(e.ReferenceType),
		ReferenceID:    e.ReferenceID,
		AccountVersion: e.AccountVersion,
		CreatedAt:      e.CreatedAt,
	}
}

// EntriesFromDomain converts domain entries to responses.
func EntriesFromDomain(entries []*domain.Entry) []*EntryResponse {
	result := make([]*EntryResponse, len(entries))
	for i, e := range entries {
		result[i] = EntryFromDomain(e)
	}
	return result
}

// ReferralResponse represents a referral bonus.
type ReferralResponse struct {
	ID           string          `json:"id"`
	ReferrerID   string          `json:"referrer_id"`
	ReferredID   string          `json:"referred_id"`
	DepositID    string          `json:"deposit_id"`
	StageOrdinal int             `json:"stage_ordinal"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Capped       bool            `json:"capped"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ReferralsFromDomain converts domain referrals to responses.
func ReferralsFromDomain(referrals []*domain.Referral) []*ReferralResponse {
	result := make([]*ReferralResponse, len(referrals))
	for i, r := range referrals {
		result[i] = &ReferralResponse{
			ID:           r.ID,
			ReferrerID:   r.ReferrerID,
			ReferredID:   r.ReferredID,
			DepositID:    r.DepositID,
			StageOrdinal: r.StageOrdinal,
			Amount:       r.Amount,
			Currency:     r.Currency,
			Capped:       r.Capped,
			CreatedAt:    r.CreatedAt,
		}
	}
	return result
}

// TokenResponse carries an issued operator token.
type TokenResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
