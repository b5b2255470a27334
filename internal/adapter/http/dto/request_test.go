package dto

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/presaleledger/internal/usecase"
)

func TestCreateAccountRequest_ToUseCaseInput(t *testing.T) {
	req := &CreateAccountRequest{Email: "a@example.com", ReferrerID: "ref-1"}

	got := req.ToUseCaseInput()
	want := usecase.CreateAccountInput{Email: "a@example.com", ReferrerID: "ref-1"}

	if got != want {
		t.Fatalf("ToUseCaseInput() = %+v, want %+v", got, want)
	}
}

func TestSettleRequest_DecodesQuotedAndBareAmounts(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"quoted", `{"account_id":"a","provider":"nowpayments","provider_order_id":"o-1","amount_paid":"10.50","currency":"usd"}`},
		{"bare", `{"account_id":"a","provider":"nowpayments","provider_order_id":"o-1","amount_paid":10.50,"currency":"usd"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req SettleRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))

			in := req.ToUseCaseInput()
			assert.True(t, in.AmountPaid.Equal(decimal.RequireFromString("10.5")))
			assert.Equal(t, "o-1", in.ProviderOrderID)
			assert.Equal(t, "nowpayments", in.Provider)
			assert.Equal(t, "usd", in.Currency)
		})
	}
}

func TestWebhookPayload_PaymentStatus(t *testing.T) {
	tests := []struct {
		status string
		want   string
		final  bool
	}{
		{"", PaymentFinished, true},
		{"Finished", PaymentFinished, true},
		{"confirmed", PaymentFinished, true},
		{"FAILED", PaymentFailed, true},
		{"expired", PaymentExpired, true},
		{"waiting", "waiting", false},
		{"confirming", "confirming", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			p := &WebhookPayload{Status: tt.status}
			assert.Equal(t, tt.want, p.PaymentStatus())
			assert.Equal(t, tt.final, p.Final())
		})
	}
}

func TestWebhookPayload_ToSettleInput(t *testing.T) {
	p := &WebhookPayload{
		OrderID:    "o-9",
		AccountID:  "acc-1",
		AmountPaid: decimal.RequireFromString("5"),
		Currency:   "USDT",
	}

	in := p.ToSettleInput("nowpayments")
	assert.Equal(t, usecase.SettleInput{
		AccountID:       "acc-1",
		Provider:        "nowpayments",
		ProviderOrderID: "o-9",
		AmountPaid:      decimal.RequireFromString("5"),
		Currency:        "USDT",
	}, in)
}
