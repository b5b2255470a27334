package usecase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
)

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction
	// This prevents long-running transactions from blocking tables
	DefaultTransactionTimeout = 10 * time.Second

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// SettlementCacheTTL is how long settled results are served from cache.
	SettlementCacheTTL = 7 * 24 * time.Hour

	// DefaultReferralBatchSize bounds one sweep of pending referral payouts.
	DefaultReferralBatchSize = 100

	// A failed referral payout is retried after an exponentially growing
	// delay between these bounds.
	ReferralRetryInitialInterval = 30 * time.Second
	ReferralRetryMaxInterval     = time.Hour
)

// Policy holds the presale business parameters.
type Policy struct {
	TokenSymbol          string
	Currencies           domain.CurrencyPolicy
	FiatScale            int32
	ReferralBonusPercent decimal.Decimal
	// ReferralCapPerStage limits the bonus a referrer earns within one stage;
	// zero disables the cap.
	ReferralCapPerStage decimal.Decimal
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		TokenSymbol: domain.DefaultTokenSymbol,
		Currencies: domain.CurrencyPolicy{
			Fiat:   "USD",
			Stable: []string{"USDT", "USDC"},
		},
		FiatScale:            domain.DefaultFiatScale,
		ReferralBonusPercent: decimal.NewFromInt(5),
		ReferralCapPerStage:  decimal.Zero,
	}
}
