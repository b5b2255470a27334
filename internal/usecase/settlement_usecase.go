package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/metrics"
)

// SettlementUseCase turns a verified payment into tokens. One call either
// commits every effect of the settlement or none of them.
type SettlementUseCase struct {
	txManager   TransactionManager
	guard       *IdempotencyGuard
	allocator   *StageAllocator
	accountRepo AccountRepository
	stageRepo   StageRepository
	depositRepo DepositRepository
	entryRepo   EntryRepository
	outboxRepo  OutboxRepository
	auditRepo   AuditRepository
	idGen       IDGenerator
	retrier     Retrier
	cache       SettlementCache
	cacheTTL    time.Duration
	metrics     *metrics.Metrics
	policy      Policy
}

// SettlementDeps groups the collaborators of SettlementUseCase.
type SettlementDeps struct {
	TxManager   TransactionManager
	AccountRepo AccountRepository
	StageRepo   StageRepository
	DepositRepo DepositRepository
	EntryRepo   EntryRepository
	OutboxRepo  OutboxRepository
	AuditRepo   AuditRepository
	IDGen       IDGenerator
	Retrier     Retrier
	Cache       SettlementCache
	CacheTTL    time.Duration // defaults to SettlementCacheTTL
	Metrics     *metrics.Metrics
}

// NewSettlementUseCase creates a new SettlementUseCase.
func NewSettlementUseCase(deps SettlementDeps, policy Policy) *SettlementUseCase {
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = SettlementCacheTTL
	}
	return &SettlementUseCase{
		txManager:   deps.TxManager,
		guard:       NewIdempotencyGuard(deps.DepositRepo, deps.IDGen),
		allocator:   NewStageAllocator(deps.StageRepo),
		accountRepo: deps.AccountRepo,
		stageRepo:   deps.StageRepo,
		depositRepo: deps.DepositRepo,
		entryRepo:   deps.EntryRepo,
		outboxRepo:  deps.OutboxRepo,
		auditRepo:   deps.AuditRepo,
		idGen:       deps.IDGen,
		retrier:     deps.Retrier,
		cache:       deps.Cache,
		cacheTTL:    deps.CacheTTL,
		metrics:     deps.Metrics,
		policy:      policy,
	}
}

// Settle credits tokens for a verified payment. Redelivery of a settled
// (provider, order id) pair is not an error: the original figures are
// returned with status DUPLICATE.
func (uc *SettlementUseCase) Settle(ctx context.Context, input SettleInput) (*domain.SettlementResult, error) {
	start := time.Now()

	input, basis, err := uc.normalize(input)
	if err != nil {
		uc.observe(domain.SettlementRejected, start)
		return nil, err
	}

	if cached := uc.fromCache(ctx, input); cached != nil {
		if uc.metrics != nil {
			uc.metrics.SettlementCacheHits.Inc()
		}
		uc.observe(domain.SettlementDuplicate, start)
		return cached, nil
	}

	var result *domain.SettlementResult
	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 && uc.metrics != nil {
			uc.metrics.SettlementRetries.Inc()
		}
		r, err := uc.settleOnce(ctx, input, basis)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	if uc.retrier != nil {
		err = uc.retrier.Retry(ctx, op)
	} else {
		err = op()
	}

	logger := zerolog.Ctx(ctx)
	if err != nil {
		uc.observe(domain.SettlementRejected, start)
		logger.Warn().Err(err).
			Str("provider", input.Provider).
			Str("order_id", input.ProviderOrderID).
			Int("attempts", attempts).
			Msg("settlement failed")
		return nil, err
	}

	uc.observe(result.Status, start)

	if result.Status == domain.SettlementSettled {
		if uc.metrics != nil {
			uc.metrics.TokensSold.Add(float64(result.TokensCredited))
			uc.metrics.SettlementAmount.WithLabelValues(result.Currency).Observe(result.AmountPaid.InexactFloat64())
			for _, t := range result.Transitions {
				uc.metrics.StageTransitions.WithLabelValues(string(t.Kind), string(t.Reason)).Inc()
			}
		}
		logger.Info().
			Str("deposit_id", result.DepositID).
			Str("account_id", result.AccountID).
			Int64("tokens", result.TokensCredited).
			Str("shortfall", result.ShortfallAmount.String()).
			Str("change", result.ChangeAmount.String()).
			Msg("deposit settled")
	}

	if uc.cache != nil {
		cached := *result
		cached.Status = domain.SettlementDuplicate
		if err := uc.cache.Put(ctx, &cached, uc.cacheTTL); err != nil {
			logger.Warn().Err(err).Str("deposit_id", result.DepositID).Msg("settlement cache write failed")
		}
	}

	return result, nil
}

func (uc *SettlementUseCase) normalize(input SettleInput) (SettleInput, domain.PriceBasis, error) {
	input.Currency = domain.NormalizeCurrency(input.Currency)

	if err := domain.ValidateProvider(input.Provider); err != nil {
		return input, "", err
	}
	if err := domain.ValidateOrderID(input.ProviderOrderID); err != nil {
		return input, "", err
	}
	if err := domain.ValidateID(input.AccountID); err != nil {
		return input, "", err
	}
	if err := domain.ValidateCurrency(input.Currency); err != nil {
		return input, "", err
	}
	if err := domain.ValidateAmount(input.AmountPaid, uc.policy.FiatScale); err != nil {
		return input, "", err
	}

	basis, err := uc.policy.Currencies.Basis(input.Currency)
	if err != nil {
		return input, "", err
	}
	return input, basis, nil
}

func (uc *SettlementUseCase) fromCache(ctx context.Context, input SettleInput) *domain.SettlementResult {
	if uc.cache == nil {
		return nil
	}
	cached, err := uc.cache.Get(ctx, input.Provider, input.ProviderOrderID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("settlement cache read failed")
		return nil
	}
	if cached == nil || !cached.Describes(input.AccountID, input.AmountPaid, input.Currency) {
		return nil
	}
	cached.Status = domain.SettlementDuplicate
	return cached
}

func (uc *SettlementUseCase) settleOnce(ctx context.Context, input SettleInput, basis domain.PriceBasis) (*domain.SettlementResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	// 1. Guard
	outcome, deposit, err := uc.guard.Acquire(txCtx, tx, input)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case GuardInProgress:
		return nil, domain.ErrSettlementInProgress
	case GuardAlreadySettled:
		return domain.ResultFromDeposit(deposit, domain.SettlementDuplicate), nil
	}

	// 2. Account
	account, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Suspended {
		return nil, domain.ErrAccountSuspended
	}
	before := account.Clone()

	// 3. Stages
	state, err := uc.stageRepo.GetState(txCtx, tx)
	if err != nil {
		return nil, err
	}
	if state.ActiveStage == 0 {
		return nil, domain.ErrStageExhausted
	}

	stages, err := uc.loadSellable(txCtx, tx, state.ActiveStage)
	if err != nil {
		return nil, err
	}

	alloc, err := domain.AllocatePurchase(input.AmountPaid, basis, stages)
	if err != nil {
		return nil, err
	}
	if !alloc.Conserves() {
		return nil, fmt.Errorf("allocation of %s leaves payment unaccounted for", alloc.Amount)
	}

	now := time.Now().UTC()
	transitions, err := uc.allocator.Apply(txCtx, tx, state, stages, alloc, account.ID, now)
	if err != nil {
		return nil, err
	}

	// 4. Balances and entries
	entries := uc.credit(account, deposit, alloc, input.Currency, now)
	if err := uc.accountRepo.Update(txCtx, tx, account); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		entry.AccountVersion = account.Version
		if err := uc.entryRepo.Create(txCtx, tx, entry); err != nil {
			return nil, err
		}
	}

	// 5. Deposit
	raised, err := uc.stageRepo.TotalRaised(txCtx, tx)
	if err != nil {
		return nil, err
	}
	deposit.Status = domain.DepositSettled
	deposit.StageOrdinal = alloc.Slices[0].Ordinal
	deposit.TokensCredited = alloc.Tokens
	deposit.ShortfallAmount = alloc.Shortfall
	deposit.ChangeAmount = alloc.Change
	deposit.TokenBalanceAfter = account.TokensOwned
	deposit.FiatRaisedAfter = raised
	deposit.SettledAt = &now
	deposit.UpdatedAt = now
	if err := uc.depositRepo.MarkSettled(txCtx, tx, deposit); err != nil {
		return nil, err
	}

	result := domain.ResultFromDeposit(deposit, domain.SettlementSettled)
	result.Transitions = transitions

	// 6. Audit and outbox
	if err := writeAudit(txCtx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       domain.AuditActionDepositSettle,
		resourceType: domain.AggregateTypeDeposit,
		resourceID:   deposit.ID,
		before:       before,
		after:        result,
	}); err != nil {
		return nil, err
	}

	events := append([]*domain.OutboxEvent{
		newEvent(uc.idGen, domain.AggregateTypeDeposit, deposit.ID, domain.EventTypeDepositSettled, map[string]any{
			"deposit_id":            deposit.ID,
			"account_id":            deposit.AccountID,
			"provider":              deposit.Provider,
			"provider_order_id":     deposit.ProviderOrderID,
			"amount_paid":           deposit.AmountPaid.String(),
			"currency":              deposit.Currency,
			"tokens_credited":       deposit.TokensCredited,
			"shortfall_amount":      deposit.ShortfallAmount.String(),
			"change_amount":         deposit.ChangeAmount.String(),
			"new_fiat_raised_total": raised.String(),
		}, now),
	}, stageEvents(uc.idGen, transitions, deposit.ID, now)...)
	for _, event := range events {
		if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
			return nil, err
		}
	}

	// 7. Commit
	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.ActiveStage.Set(float64(state.ActiveStage))
	}

	return result, nil
}

// loadSellable returns the active stage followed by the contiguous run of
// stages that have never been opened.
func (uc *SettlementUseCase) loadSellable(ctx context.Context, tx Transaction, active int) ([]*domain.PresaleStage, error) {
	all, err := uc.stageRepo.ListFrom(ctx, tx, active)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 || all[0].Ordinal != active || !all[0].Active {
		// presale state and stage rows disagree; another writer moved them
		return nil, fmt.Errorf("%w: active stage %d not found", domain.ErrConcurrencyConflict, active)
	}

	stages := []*domain.PresaleStage{all[0]}
	for _, s := range all[1:] {
		if s.EverOpened() || s.Ordinal != stages[len(stages)-1].Ordinal+1 {
			break
		}
		stages = append(stages, s)
	}
	return stages, nil
}

// credit applies the allocation to account and returns the entries that
// record it. AccountVersion is filled in by the caller after the update.
func (uc *SettlementUseCase) credit(
	account *domain.Account,
	deposit *domain.Deposit,
	alloc domain.Allocation,
	currency string,
	now time.Time,
) []*domain.Entry {
	var entries []*domain.Entry

	newEntry := func(cur string, kind domain.EntryKind, amount, after decimal.Decimal) *domain.Entry {
		return &domain.Entry{
			ID:            uc.idGen.Generate(),
			AccountID:     account.ID,
			Currency:      cur,
			Kind:          kind,
			Amount:        amount,
			BalanceAfter:  after,
			ReferenceType: domain.ReferenceDeposit,
			ReferenceID:   deposit.ID,
			CreatedAt:     now,
		}
	}

	tokens := account.AddTokens(alloc.Tokens)
	entries = append(entries, newEntry(
		uc.policy.TokenSymbol,
		domain.EntryTokenPurchase,
		decimal.NewFromInt(alloc.Tokens),
		decimal.NewFromInt(tokens),
	))

	if alloc.Shortfall.IsPositive() {
		after := account.Credit(currency, alloc.Shortfall)
		entries = append(entries, newEntry(currency, domain.EntryRefundShortfall, alloc.Shortfall, after))
	}
	if alloc.Change.IsPositive() {
		after := account.Credit(currency, alloc.Change)
		entries = append(entries, newEntry(currency, domain.EntryPurchaseChange, alloc.Change, after))
	}

	account.TotalInvested = account.TotalInvested.Add(alloc.RaisedFiat())
	account.UpdatedAt = now

	return entries
}

func (uc *SettlementUseCase) observe(status domain.SettlementStatus, start time.Time) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.SettlementsTotal.WithLabelValues(string(status)).Inc()
	uc.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
}

// IsSettlementRetryable reports whether a failed settlement may be redelivered.
func IsSettlementRetryable(err error) bool {
	return domain.IsRetryable(err) || errors.Is(err, domain.ErrStoreUnavailable)
}
