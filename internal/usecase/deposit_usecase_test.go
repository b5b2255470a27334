package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

func TestDepositUseCase_IntentThenSettle(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 100})
	buyer := h.newAccount(t, "buyer@example.com", "")
	ctx := context.Background()

	intent, err := h.deposit.CreatePurchaseIntent(ctx, usecase.CreateDepositInput{
		AccountID: buyer.ID, Provider: "nowpayments", ProviderOrderID: "o-1", Amount: dec("5.00"), Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DepositPending, intent.Status)
	assert.Equal(t, "USD", intent.Currency)

	_, err = h.deposit.CreatePurchaseIntent(ctx, usecase.CreateDepositInput{
		AccountID: buyer.ID, Provider: "nowpayments", ProviderOrderID: "o-1", Amount: dec("5.00"), Currency: "USD",
	})
	assert.ErrorIs(t, err, domain.ErrDepositExists)

	res := h.settle(t, buyer.ID, "o-1", "5.00")
	assert.Equal(t, intent.ID, res.DepositID)

	got, err := h.deposit.GetDeposit(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositSettled, got.Status)
	assert.Equal(t, int64(5), got.TokensCredited)
	assert.Equal(t, 1, got.StageOrdinal)

	// settled deposits are final
	_, err = h.deposit.Refund(ctx, intent.ID, "chargeback")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	list, err := h.deposit.ListByAccount(ctx, buyer.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDepositUseCase_FailAndRefund(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 100})
	buyer := h.newAccount(t, "buyer@example.com", "")
	ctx := context.Background()

	intent, err := h.deposit.CreatePurchaseIntent(ctx, usecase.CreateDepositInput{
		AccountID: buyer.ID, Provider: "nowpayments", ProviderOrderID: "o-1", Amount: dec("5.00"), Currency: "USD",
	})
	require.NoError(t, err)

	failed, err := h.deposit.FailByProviderOrder(ctx, "nowpayments", "o-1", "expired")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositFailed, failed.Status)
	assert.Equal(t, "expired", failed.FailureReason)

	// repeated provider callbacks are harmless
	_, err = h.deposit.FailByProviderOrder(ctx, "nowpayments", "o-1", "expired")
	require.NoError(t, err)

	refunded, err := h.deposit.Refund(ctx, intent.ID, "manual")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositRefunded, refunded.Status)

	_, err = h.deposit.MarkFailed(ctx, intent.ID, "late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.settlement.Settle(ctx, settleInput(buyer.ID, "o-1", "5.00"))
	assert.ErrorIs(t, err, domain.ErrDepositNotSettleable)

	_, err = h.deposit.FailByProviderOrder(ctx, "nowpayments", "unknown", "expired")
	assert.ErrorIs(t, err, domain.ErrDepositNotFound)

	events, err := h.outbox.GetUnpublished(ctx, 100)
	require.NoError(t, err)
	var kinds []string
	for _, e := range events {
		if e.AggregateType == domain.AggregateTypeDeposit {
			kinds = append(kinds, e.EventType)
		}
	}
	assert.Equal(t, []string{domain.EventTypeDepositFailed, domain.EventTypeDepositRefunded}, kinds)
}

func TestDepositUseCase_CreatePurchaseIntent_Validation(t *testing.T) {
	h := newHarness(t)
	buyer := h.newAccount(t, "buyer@example.com", "")
	ctx := context.Background()

	tests := []struct {
		name  string
		input usecase.CreateDepositInput
		want  error
	}{
		{"bad provider", usecase.CreateDepositInput{AccountID: buyer.ID, Provider: "", ProviderOrderID: "o", Amount: dec("1"), Currency: "USD"}, domain.ErrInvalidProvider},
		{"empty order", usecase.CreateDepositInput{AccountID: buyer.ID, Provider: "p", ProviderOrderID: " ", Amount: dec("1"), Currency: "USD"}, domain.ErrInvalidOrderID},
		{"bad currency", usecase.CreateDepositInput{AccountID: buyer.ID, Provider: "p", ProviderOrderID: "o", Amount: dec("1"), Currency: "U$"}, domain.ErrInvalidCurrency},
		{"unsupported currency", usecase.CreateDepositInput{AccountID: buyer.ID, Provider: "p", ProviderOrderID: "o", Amount: dec("1"), Currency: "EUR"}, domain.ErrUnsupportedCurrency},
		{"negative amount", usecase.CreateDepositInput{AccountID: buyer.ID, Provider: "p", ProviderOrderID: "o", Amount: dec("-1"), Currency: "USD"}, domain.ErrInvalidAmount},
		{"unknown account", usecase.CreateDepositInput{AccountID: "missing", Provider: "p", ProviderOrderID: "o", Amount: dec("1"), Currency: "USD"}, domain.ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.deposit.CreatePurchaseIntent(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
