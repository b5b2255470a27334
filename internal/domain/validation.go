package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrAmountTooLarge   = errors.New("amount exceeds maximum allowed")
	ErrAmountPrecision  = errors.New("amount has too many fractional digits")
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrInvalidIDFormat  = errors.New("invalid ID format")
	ErrInvalidProvider  = errors.New("invalid payment provider")
	ErrInvalidInventory = errors.New("tokens available must be positive")
)

// Validation constants
const (
	MaxPurchaseAmount  = "1000000000000" // 1 trillion
	MaxOrderIDLength   = 128
	MaxProviderLength  = 64
	MaxIDLength        = 64
	DefaultFiatScale   = 2
	DefaultTokenSymbol = "TOKEN"
)

var (
	currencyRegex = regexp.MustCompile(`^[A-Z]{3,5}$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	providerRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidateCurrency validates the shape of a currency code.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(NormalizeCurrency(currency)) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return nil
}

// ValidateAmount validates a payment amount against the fiat scale.
func ValidateAmount(amount decimal.Decimal, scale int32) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	maxAmount, _ := decimal.NewFromString(MaxPurchaseAmount)
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: maximum amount is %s", ErrAmountTooLarge, MaxPurchaseAmount)
	}

	if !amount.Equal(amount.Truncate(scale)) {
		return fmt.Errorf("%w: at most %d allowed", ErrAmountPrecision, scale)
	}

	return nil
}

// ValidateOrderID validates a provider order id.
func ValidateOrderID(orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || len(orderID) > MaxOrderIDLength {
		return ErrInvalidOrderID
	}
	return nil
}

// ValidateProvider validates a payment provider name.
func ValidateProvider(provider string) error {
	if len(provider) > MaxProviderLength || !providerRegex.MatchString(provider) {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
	}
	return nil
}

// ValidateID validates an entity identifier.
func ValidateID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return ErrInvalidIDFormat
	}
	return nil
}

// ValidateEmail validates email format
func ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int, error) {
	const MaxPageSize = 1000
	const DefaultPageSize = 50

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset, nil
}
