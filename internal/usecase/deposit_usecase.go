package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/metrics"
)

// DepositUseCase manages deposits outside of settlement: purchase intents
// registered before payment and the failure and refund transitions.
type DepositUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	depositRepo DepositRepository
	outboxRepo  OutboxRepository
	auditRepo   AuditRepository
	idGen       IDGenerator
	metrics     *metrics.Metrics
	policy      Policy
}

// NewDepositUseCase creates a new DepositUseCase.
func NewDepositUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	depositRepo DepositRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	metrics *metrics.Metrics,
	policy Policy,
) *DepositUseCase {
	return &DepositUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		depositRepo: depositRepo,
		outboxRepo:  outboxRepo,
		auditRepo:   auditRepo,
		idGen:       idGen,
		metrics:     metrics,
		policy:      policy,
	}
}

// CreateDepositInput represents a purchase intent.
type CreateDepositInput struct {
	AccountID       string
	Provider        string
	ProviderOrderID string
	Amount          decimal.Decimal
	Currency        string
}

// CreatePurchaseIntent records a PENDING deposit before the provider confirms
// payment. A later settlement for the same order must match it.
func (uc *DepositUseCase) CreatePurchaseIntent(ctx context.Context, input CreateDepositInput) (*domain.Deposit, error) {
	input.Currency = domain.NormalizeCurrency(input.Currency)
	if err := domain.ValidateProvider(input.Provider); err != nil {
		return nil, err
	}
	if err := domain.ValidateOrderID(input.ProviderOrderID); err != nil {
		return nil, err
	}
	if err := domain.ValidateCurrency(input.Currency); err != nil {
		return nil, err
	}
	if _, err := uc.policy.Currencies.Basis(input.Currency); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(input.Amount, uc.policy.FiatScale); err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	account, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Suspended {
		return nil, domain.ErrAccountSuspended
	}

	now := time.Now().UTC()
	deposit := &domain.Deposit{
		ID:              uc.idGen.Generate(),
		AccountID:       account.ID,
		Provider:        input.Provider,
		ProviderOrderID: input.ProviderOrderID,
		AmountPaid:      input.Amount,
		Currency:        input.Currency,
		Status:          domain.DepositPending,
		ShortfallAmount: decimal.Zero,
		ChangeAmount:    decimal.Zero,
		FiatRaisedAfter: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := uc.depositRepo.Create(txCtx, tx, deposit); err != nil {
		return nil, err
	}

	if err := writeAudit(txCtx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       domain.AuditActionDepositCreate,
		resourceType: domain.AggregateTypeDeposit,
		resourceID:   deposit.ID,
		after:        deposit,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.DepositTransition.WithLabelValues(string(domain.DepositPending)).Inc()
	}

	return deposit, nil
}

// GetDeposit retrieves a deposit by ID.
func (uc *DepositUseCase) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	return uc.depositRepo.GetByID(ctx, id)
}

// GetByProviderOrder retrieves a deposit by its provider order.
func (uc *DepositUseCase) GetByProviderOrder(ctx context.Context, provider, orderID string) (*domain.Deposit, error) {
	return uc.depositRepo.GetByProviderOrder(ctx, provider, orderID)
}

// ListByAccount lists an account's deposits, newest first.
func (uc *DepositUseCase) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error) {
	limit, offset, _ = domain.ValidatePagination(limit, offset)
	return uc.depositRepo.ListByAccount(ctx, accountID, limit, offset)
}

// MarkFailed moves a PENDING deposit to FAILED.
func (uc *DepositUseCase) MarkFailed(ctx context.Context, id, reason string) (*domain.Deposit, error) {
	return uc.transition(ctx, id, domain.DepositFailed, reason)
}

// Refund moves a PENDING or FAILED deposit to REFUNDED. Settled deposits
// cannot be refunded through this path.
func (uc *DepositUseCase) Refund(ctx context.Context, id, reason string) (*domain.Deposit, error) {
	return uc.transition(ctx, id, domain.DepositRefunded, reason)
}

// FailByProviderOrder marks the deposit of a provider order as FAILED, as
// reported by the provider. Repeated reports return the deposit unchanged.
func (uc *DepositUseCase) FailByProviderOrder(ctx context.Context, provider, orderID, reason string) (*domain.Deposit, error) {
	deposit, err := uc.depositRepo.GetByProviderOrder(ctx, provider, orderID)
	if err != nil {
		return nil, err
	}
	if deposit.Status == domain.DepositFailed {
		return deposit, nil
	}
	return uc.transition(ctx, deposit.ID, domain.DepositFailed, reason)
}

func (uc *DepositUseCase) transition(ctx context.Context, id string, to domain.DepositStatus, reason string) (*domain.Deposit, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	deposit, err := uc.depositRepo.GetByIDForUpdate(txCtx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := deposit.Transition(to); err != nil {
		return nil, err
	}

	before := deposit.Clone()
	now := time.Now().UTC()
	if err := uc.depositRepo.UpdateStatus(txCtx, tx, id, to, reason, now); err != nil {
		return nil, err
	}
	deposit.Status = to
	deposit.FailureReason = reason
	deposit.UpdatedAt = now

	eventType, action := domain.EventTypeDepositFailed, domain.AuditActionDepositFail
	if to == domain.DepositRefunded {
		eventType, action = domain.EventTypeDepositRefunded, domain.AuditActionDepositRefund
	}

	event := newEvent(uc.idGen, domain.AggregateTypeDeposit, deposit.ID, eventType, map[string]any{
		"deposit_id":        deposit.ID,
		"account_id":        deposit.AccountID,
		"provider":          deposit.Provider,
		"provider_order_id": deposit.ProviderOrderID,
		"amount_paid":       deposit.AmountPaid.String(),
		"currency":          deposit.Currency,
		"reason":            reason,
	}, now)
	if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
		return nil, err
	}

	if err := writeAudit(txCtx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       action,
		resourceType: domain.AggregateTypeDeposit,
		resourceID:   deposit.ID,
		before:       before,
		after:        deposit,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.DepositTransition.WithLabelValues(string(to)).Inc()
	}

	return deposit, nil
}
