package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus is the lifecycle state of a deposit.
type DepositStatus string

const (
	DepositPending  DepositStatus = "PENDING"
	DepositSettled  DepositStatus = "SETTLED"
	DepositFailed   DepositStatus = "FAILED"
	DepositRefunded DepositStatus = "REFUNDED"
)

// Deposit is a payment made through an external provider for a token purchase.
// (Provider, ProviderOrderID) identifies it uniquely.
type Deposit struct {
	ID                  string
	AccountID           string
	Provider            string
	ProviderOrderID     string
	AmountPaid          decimal.Decimal
	Currency            string
	Status              DepositStatus
	StageOrdinal        int
	TokensCredited      int64
	ShortfallAmount     decimal.Decimal
	ChangeAmount        decimal.Decimal
	TokenBalanceAfter   int64
	FiatRaisedAfter     decimal.Decimal
	FailureReason       string
	SettledAt           *time.Time
	ReferralProcessedAt *time.Time
	ReferralAttempts    int        // failed payout attempts
	ReferralRetryAt     *time.Time // the sweep skips the deposit until then
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CanSettle reports whether the deposit may transition to SETTLED.
func (d *Deposit) CanSettle() error {
	switch d.Status {
	case DepositPending:
		return nil
	case DepositSettled:
		return ErrDuplicateSettlement
	default:
		return ErrDepositNotSettleable
	}
}

// Matches reports whether a settlement request describes this deposit.
func (d *Deposit) Matches(accountID string, amount decimal.Decimal, currency string) bool {
	return d.AccountID == accountID && d.AmountPaid.Equal(amount) && d.Currency == currency
}

// SpentAmount returns the part of the payment converted into tokens.
func (d *Deposit) SpentAmount() decimal.Decimal {
	return d.AmountPaid.Sub(d.ShortfallAmount).Sub(d.ChangeAmount)
}

// Transition moves the deposit to a terminal non-settled status.
func (d *Deposit) Transition(to DepositStatus) error {
	switch {
	case d.Status == DepositPending && (to == DepositFailed || to == DepositRefunded):
		return nil
	case d.Status == DepositFailed && to == DepositRefunded:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Clone returns a copy that shares no pointers with d.
func (d *Deposit) Clone() *Deposit {
	c := *d
	if d.SettledAt != nil {
		t := *d.SettledAt
		c.SettledAt = &t
	}
	if d.ReferralProcessedAt != nil {
		t := *d.ReferralProcessedAt
		c.ReferralProcessedAt = &t
	}
	if d.ReferralRetryAt != nil {
		t := *d.ReferralRetryAt
		c.ReferralRetryAt = &t
	}
	return &c
}
