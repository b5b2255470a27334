package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/metrics"
)

// ReferralUseCase pays referral bonuses for settled deposits. Pending work is
// derived from deposits whose referral has not been processed, so nothing
// is lost if the process stops between settlement and payout.
type ReferralUseCase struct {
	txManager    TransactionManager
	accountRepo  AccountRepository
	depositRepo  DepositRepository
	entryRepo    EntryRepository
	referralRepo ReferralRepository
	outboxRepo   OutboxRepository
	auditRepo    AuditRepository
	idGen        IDGenerator
	retrier      Retrier
	metrics      *metrics.Metrics
	policy       Policy
}

// NewReferralUseCase creates a new ReferralUseCase.
func NewReferralUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	depositRepo DepositRepository,
	entryRepo EntryRepository,
	referralRepo ReferralRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	retrier Retrier,
	metrics *metrics.Metrics,
	policy Policy,
) *ReferralUseCase {
	return &ReferralUseCase{
		txManager:    txManager,
		accountRepo:  accountRepo,
		depositRepo:  depositRepo,
		entryRepo:    entryRepo,
		referralRepo: referralRepo,
		outboxRepo:   outboxRepo,
		auditRepo:    auditRepo,
		idGen:        idGen,
		retrier:      retrier,
		metrics:      metrics,
		policy:       policy,
	}
}

// Payout processes the referral of one settled deposit. Calling it again for
// the same deposit returns ALREADY_PAID.
func (uc *ReferralUseCase) Payout(ctx context.Context, depositID string) (*domain.PayoutResult, error) {
	if err := domain.ValidateID(depositID); err != nil {
		return nil, err
	}

	var result *domain.PayoutResult
	op := func() error {
		r, err := uc.payoutOnce(ctx, depositID)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	var err error
	if uc.retrier != nil {
		err = uc.retrier.Retry(ctx, op)
	} else {
		err = op()
	}
	if err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.ReferralPayouts.WithLabelValues(string(result.Outcome)).Inc()
		if result.Outcome == domain.PayoutPaid {
			uc.metrics.ReferralAmount.WithLabelValues(result.Currency).Add(result.Amount.InexactFloat64())
		}
	}

	return result, nil
}

func (uc *ReferralUseCase) payoutOnce(ctx context.Context, depositID string) (*domain.PayoutResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	deposit, err := uc.depositRepo.GetByIDForUpdate(txCtx, tx, depositID)
	if err != nil {
		return nil, err
	}
	if deposit.Status != domain.DepositSettled {
		return nil, domain.ErrDepositNotSettled
	}

	result := &domain.PayoutResult{
		DepositID: deposit.ID,
		Amount:    decimal.Zero,
	}
	if deposit.ReferralProcessedAt != nil {
		result.Outcome = domain.PayoutAlreadyPaid
		return result, nil
	}

	now := time.Now().UTC()

	referred, err := uc.accountRepo.GetByID(txCtx, deposit.AccountID)
	if err != nil {
		return nil, err
	}

	var referrer *domain.Account
	if referred.HasReferrer() {
		referrer, err = uc.accountRepo.GetByIDForUpdate(txCtx, tx, referred.ReferrerID)
		if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
			return nil, err
		}
	}
	if referrer == nil || referrer.Suspended {
		if err := uc.depositRepo.MarkReferralProcessed(txCtx, tx, deposit.ID, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(txCtx); err != nil {
			return nil, err
		}
		result.Outcome = domain.PayoutNoReferrer
		return result, nil
	}

	var capRemaining *decimal.Decimal
	if uc.policy.ReferralCapPerStage.IsPositive() {
		paid, err := uc.referralRepo.SumForReferrerStage(txCtx, tx, referrer.ID, deposit.StageOrdinal, deposit.Currency)
		if err != nil {
			return nil, err
		}
		room := uc.policy.ReferralCapPerStage.Sub(paid)
		capRemaining = &room
	}

	amount, capped := domain.ReferralBonus(deposit.SpentAmount(), uc.policy.ReferralBonusPercent, uc.policy.FiatScale, capRemaining)

	referral := &domain.Referral{
		ID:           uc.idGen.Generate(),
		ReferrerID:   referrer.ID,
		ReferredID:   referred.ID,
		DepositID:    deposit.ID,
		StageOrdinal: deposit.StageOrdinal,
		Amount:       amount,
		Currency:     deposit.Currency,
		Paid:         amount.IsPositive(),
		Capped:       capped,
		CreatedAt:    now,
	}
	inserted, err := uc.referralRepo.Create(txCtx, tx, referral)
	if err != nil {
		return nil, err
	}
	if !inserted {
		if err := uc.depositRepo.MarkReferralProcessed(txCtx, tx, deposit.ID, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(txCtx); err != nil {
			return nil, err
		}
		result.Outcome = domain.PayoutAlreadyPaid
		return result, nil
	}

	before := referrer.Clone()

	if amount.IsPositive() {
		balance := referrer.Credit(deposit.Currency, amount)
		referrer.UpdatedAt = now
		if err := uc.accountRepo.Update(txCtx, tx, referrer); err != nil {
			return nil, err
		}
		entry := &domain.Entry{
			ID:             uc.idGen.Generate(),
			AccountID:      referrer.ID,
			Currency:       deposit.Currency,
			Kind:           domain.EntryReferralBonus,
			Amount:         amount,
			BalanceAfter:   balance,
			ReferenceType:  domain.ReferenceReferral,
			ReferenceID:    referral.ID,
			AccountVersion: referrer.Version,
			CreatedAt:      now,
		}
		if err := uc.entryRepo.Create(txCtx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := uc.depositRepo.MarkReferralProcessed(txCtx, tx, deposit.ID, now); err != nil {
		return nil, err
	}

	result.Outcome = domain.PayoutPaid
	result.ReferralID = referral.ID
	result.ReferrerID = referrer.ID
	result.Amount = amount
	result.Currency = deposit.Currency
	result.Capped = capped

	if err := writeAudit(txCtx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       domain.AuditActionReferralPayout,
		resourceType: domain.AggregateTypeReferral,
		resourceID:   referral.ID,
		before:       before,
		after:        result,
	}); err != nil {
		return nil, err
	}

	event := newEvent(uc.idGen, domain.AggregateTypeReferral, referral.ID, domain.EventTypeReferralPaid, map[string]any{
		"referral_id":   referral.ID,
		"referrer_id":   referrer.ID,
		"referred_id":   referred.ID,
		"deposit_id":    deposit.ID,
		"stage_ordinal": deposit.StageOrdinal,
		"amount":        amount.String(),
		"currency":      deposit.Currency,
		"capped":        capped,
	}, now)
	if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return result, nil
}

// ProcessPending pays out up to limit settled deposits whose referral has not
// been processed. A deposit whose payout fails is deferred with a growing
// delay so it cannot hold back the rest of the queue. It returns the number
// of deposits processed.
func (uc *ReferralUseCase) ProcessPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultReferralBatchSize
	}

	deposits, err := uc.depositRepo.ListPendingReferrals(ctx, limit)
	if err != nil {
		return 0, err
	}

	logger := zerolog.Ctx(ctx)
	processed := 0
	for _, d := range deposits {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		result, err := uc.Payout(ctx, d.ID)
		if err != nil {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			uc.deferPayout(ctx, d, err)
			continue
		}
		processed++
		if result.Outcome == domain.PayoutPaid {
			logger.Info().
				Str("deposit_id", d.ID).
				Str("referrer_id", result.ReferrerID).
				Str("amount", result.Amount.String()).
				Str("currency", result.Currency).
				Bool("capped", result.Capped).
				Msg("referral paid")
		}
	}

	return processed, nil
}

func (uc *ReferralUseCase) deferPayout(ctx context.Context, d *domain.Deposit, cause error) {
	retryAt := time.Now().UTC().Add(ReferralRetryDelay(d.ReferralAttempts))
	logger := zerolog.Ctx(ctx)
	logger.Error().Err(cause).
		Str("deposit_id", d.ID).
		Int("attempt", d.ReferralAttempts+1).
		Time("retry_at", retryAt).
		Msg("referral payout failed")

	if uc.metrics != nil {
		uc.metrics.ReferralPayouts.WithLabelValues("DEFERRED").Inc()
	}
	if err := uc.depositRepo.DeferReferral(ctx, d.ID, retryAt); err != nil {
		logger.Error().Err(err).Str("deposit_id", d.ID).Msg("failed to defer referral payout")
	}
}

// ReferralRetryDelay returns how long to wait before retrying a payout that
// has already failed attempts times.
func ReferralRetryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ReferralRetryInitialInterval
	b.MaxInterval = ReferralRetryMaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempts && delay < ReferralRetryMaxInterval; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// ListByReferrer returns the referrals earned by an account.
func (uc *ReferralUseCase) ListByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.Referral, error) {
	limit, offset, _ = domain.ValidatePagination(limit, offset)
	return uc.referralRepo.ListByReferrer(ctx, referrerID, limit, offset)
}
