package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Referral is the bonus owed to a referrer for one deposit of a referred account.
// At most one exists per (ReferrerID, ReferredID, DepositID).
type Referral struct {
	ID           string
	ReferrerID   string
	ReferredID   string
	DepositID    string
	StageOrdinal int
	Amount       decimal.Decimal
	Currency     string
	Paid         bool
	Capped       bool
	CreatedAt    time.Time
}

// PayoutOutcome is the result of processing a deposit's referral.
type PayoutOutcome string

const (
	PayoutPaid        PayoutOutcome = "PAID"
	PayoutNoReferrer  PayoutOutcome = "NO_REFERRER"
	PayoutAlreadyPaid PayoutOutcome = "ALREADY_PAID"
)

// PayoutResult describes a referral payout.
type PayoutResult struct {
	Outcome    PayoutOutcome   `json:"outcome"`
	DepositID  string          `json:"deposit_id"`
	ReferralID string          `json:"referral_id,omitempty"`
	ReferrerID string          `json:"referrer_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	Capped     bool            `json:"capped"`
}

// ReferralBonus computes percent of base truncated to scale fractional digits,
// limited to what is left of capRemaining. A nil capRemaining means uncapped;
// a non-positive one yields a zero bonus reported as capped.
func ReferralBonus(base, percent decimal.Decimal, scale int32, capRemaining *decimal.Decimal) (decimal.Decimal, bool) {
	bonus := base.Mul(percent).Div(decimal.NewFromInt(100)).Truncate(scale)
	if bonus.IsNegative() {
		bonus = decimal.Zero
	}
	if capRemaining == nil {
		return bonus, false
	}
	room := *capRemaining
	if room.IsNegative() {
		room = decimal.Zero
	}
	if bonus.GreaterThan(room) {
		return room, true
	}
	return bonus, false
}
