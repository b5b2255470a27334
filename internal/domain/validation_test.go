package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount string
		want   error
	}{
		{name: "valid", amount: "10.25", want: nil},
		{name: "zero", amount: "0", want: ErrInvalidAmount},
		{name: "negative", amount: "-1", want: ErrInvalidAmount},
		{name: "too precise", amount: "1.001", want: ErrAmountPrecision},
		{name: "too large", amount: "1000000000001", want: ErrAmountTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount), DefaultFiatScale)
			if tt.want == nil && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateCurrency(t *testing.T) {
	t.Parallel()

	for _, c := range []string{"USD", "usdt", " EUR "} {
		if err := ValidateCurrency(c); err != nil {
			t.Fatalf("expected %q to be valid, got %v", c, err)
		}
	}
	for _, c := range []string{"", "US", "DOLLARS", "U$D"} {
		if err := ValidateCurrency(c); !errors.Is(err, ErrInvalidCurrency) {
			t.Fatalf("expected %q to be rejected, got %v", c, err)
		}
	}
}

func TestValidateOrderAndProvider(t *testing.T) {
	t.Parallel()

	if err := ValidateOrderID("order-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateOrderID(strings.Repeat("x", MaxOrderIDLength+1)); !errors.Is(err, ErrInvalidOrderID) {
		t.Fatalf("expected ErrInvalidOrderID, got %v", err)
	}
	if err := ValidateProvider("nowpayments"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateProvider("Now Payments"); !errors.Is(err, ErrInvalidProvider) {
		t.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	if err := ValidateEmail("user@example.com"); err != nil {
		t.Fatalf("expected valid email, got %v", err)
	}
	if err := ValidateEmail("not-an-email"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestValidatePagination(t *testing.T) {
	t.Parallel()

	limit, offset, err := ValidatePagination(0, -5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limit != 50 || offset != 0 {
		t.Fatalf("expected defaults, got limit=%d offset=%d", limit, offset)
	}

	limit, _, _ = ValidatePagination(5000, 0)
	if limit != 1000 {
		t.Fatalf("expected limit to be capped at 1000, got %d", limit)
	}
}

func TestCurrencyPolicyBasis(t *testing.T) {
	t.Parallel()

	policy := CurrencyPolicy{Fiat: "USD", Stable: []string{"USDT", "USDC"}}

	if basis, err := policy.Basis("usd"); err != nil || basis != PriceBasisFiat {
		t.Fatalf("expected fiat basis, got %v %v", basis, err)
	}
	if basis, err := policy.Basis("USDC"); err != nil || basis != PriceBasisStable {
		t.Fatalf("expected stable basis, got %v %v", basis, err)
	}
	if _, err := policy.Basis("EUR"); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}
