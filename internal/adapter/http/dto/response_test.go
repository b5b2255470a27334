package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/presaleledger/internal/domain"
)

func TestAccountFromDomain(t *testing.T) {
	now := time.Now()
	account := &domain.Account{
		ID:            "acc-1",
		Email:         "a@example.com",
		TotalInvested: decimal.RequireFromString("495"),
		TokensOwned:   990,
		Version:       2,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	resp := AccountFromDomain(account)
	assert.Equal(t, "acc-1", resp.ID)
	assert.Equal(t, int64(990), resp.TokensOwned)
	assert.NotNil(t, resp.Balances)

	list := AccountsFromDomain([]*domain.Account{account})
	require.Len(t, list, 1)
	assert.Equal(t, account.ID, list[0].ID)
}

func TestStageFromDomain(t *testing.T) {
	stage := &domain.PresaleStage{
		Ordinal:         1,
		PriceFiat:       decimal.RequireFromString("0.50"),
		PriceStable:     decimal.RequireFromString("0.50"),
		TokensAvailable: 1000,
		TokensSold:      990,
		Active:          true,
	}

	resp := StageFromDomain(stage)
	assert.Equal(t, int64(10), resp.TokensRemaining)
	assert.True(t, resp.Active)
}

func TestSettlementFromDomain_JSONShape(t *testing.T) {
	result := &domain.SettlementResult{
		Status:             domain.SettlementSettled,
		DepositID:          "dep-1",
		TokensCredited:     20,
		NewTokenBalance:    20,
		NewFiatRaisedTotal: decimal.RequireFromString("505"),
		ShortfallAmount:    decimal.Zero,
		ChangeAmount:       decimal.Zero,
		Currency:           "USD",
		Transitions: []domain.StageTransition{
			{Ordinal: 1, Kind: domain.StageClosed, Reason: domain.StageCloseSoldOut},
			{Ordinal: 2, Kind: domain.StageActivated},
		},
	}

	raw, err := json.Marshal(SettlementFromDomain(result))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"status", "deposit_id", "tokens_credited", "new_token_balance", "new_fiat_raised_total", "shortfall_amount"} {
		assert.Contains(t, decoded, key)
	}
	assert.Equal(t, "SETTLED", decoded["status"])
	assert.Len(t, decoded["transitions"], 2)
}

func TestDepositsAndEntriesFromDomain(t *testing.T) {
	deposits := DepositsFromDomain([]*domain.Deposit{{ID: "d1", Status: domain.DepositFailed, FailureReason: "expired"}})
	require.Len(t, deposits, 1)
	assert.Equal(t, "FAILED", deposits[0].Status)
	assert.Equal(t, "expired", deposits[0].FailureReason)

	entries := EntriesFromDomain([]*domain.Entry{{ID: "e1", Kind: domain.EntryTokenPurchase, Currency: "TOKEN"}})
	require.Len(t, entries, 1)
	assert.Equal(t, "TOKEN_PURCHASE", entries[0].Kind)

	refs := ReferralsFromDomain([]*domain.Referral{{ID: "r1", Capped: true}})
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Capped)
}
