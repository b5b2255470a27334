package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a balance mutation.
type EntryKind string

const (
	EntryTokenPurchase   EntryKind = "TOKEN_PURCHASE"
	EntryRefundShortfall EntryKind = "REFUND_SHORTFALL"
	EntryPurchaseChange  EntryKind = "PURCHASE_CHANGE"
	EntryReferralBonus   EntryKind = "REFERRAL_BONUS"
)

// ReferenceType names the record an entry was produced by.
type ReferenceType string

const (
	ReferenceDeposit    ReferenceType = "deposit"
	ReferenceReferral   ReferenceType = "referral"
	ReferenceAdjustment ReferenceType = "adjustment"
)

// Entry is an immutable ledger line. Replaying an account's entries from zero
// yields its balances.
type Entry struct {
	ID             string
	AccountID      string
	Currency       string
	Kind           EntryKind
	Amount         decimal.Decimal
	BalanceAfter   decimal.Decimal
	ReferenceType  ReferenceType
	ReferenceID    string
	AccountVersion int64
	CreatedAt      time.Time
}
