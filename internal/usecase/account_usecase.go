package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/metrics"
)

// AccountUseCase handles account business logic.
type AccountUseCase struct {
	txManager   TransactionManager
	accountRepo AccountRepository
	outboxRepo  OutboxRepository
	auditRepo   AuditRepository
	idGen       IDGenerator
	metrics     *metrics.Metrics
}

// NewAccountUseCase creates a new AccountUseCase.
func NewAccountUseCase(
	txManager TransactionManager,
	accountRepo AccountRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	metrics *metrics.Metrics,
) *AccountUseCase {
	return &AccountUseCase{
		txManager:   txManager,
		accountRepo: accountRepo,
		outboxRepo:  outboxRepo,
		auditRepo:   auditRepo,
		idGen:       idGen,
		metrics:     metrics,
	}
}

// CreateAccountInput represents input for creating an account.
type CreateAccountInput struct {
	Email      string
	ReferrerID string
}

// CreateAccount registers a presale participant. A referrer, when given,
// must be an existing account.
func (uc *AccountUseCase) CreateAccount(ctx context.Context, input CreateAccountInput) (*domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	referrerID := strings.TrimSpace(input.ReferrerID)
	if referrerID != "" {
		if _, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, referrerID); err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				return nil, domain.ErrInvalidReferrer
			}
			return nil, err
		}
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:            uc.idGen.Generate(),
		Email:         email,
		ReferrerID:    referrerID,
		Balances:      map[string]decimal.Decimal{},
		TotalInvested: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := uc.accountRepo.Create(txCtx, tx, account); err != nil {
		return nil, err
	}

	event := newEvent(uc.idGen, domain.AggregateTypeAccount, account.ID, domain.EventTypeAccountCreated, map[string]any{
		"account_id":  account.ID,
		"referrer_id": account.ReferrerID,
	}, now)
	if err := uc.outboxRepo.Create(txCtx, tx, event); err != nil {
		return nil, err
	}

	if err := writeAudit(txCtx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       domain.AuditActionAccountCreate,
		resourceType: domain.AggregateTypeAccount,
		resourceID:   account.ID,
		after:        account,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.AccountsCreated.Inc()
	}

	return account, nil
}

// GetAccount retrieves an account by ID.
func (uc *AccountUseCase) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.accountRepo.GetByID(ctx, id)
}

// ListAccountsInput represents input for listing accounts.
type ListAccountsInput struct {
	Limit  int
	Offset int
}

// ListAccounts lists accounts with pagination.
func (uc *AccountUseCase) ListAccounts(ctx context.Context, input ListAccountsInput) ([]*domain.Account, error) {
	if input.Limit <= 0 {
		input.Limit = 20
	}
	if input.Limit > 100 {
		input.Limit = 100
	}
	return uc.accountRepo.List(ctx, input.Limit, input.Offset)
}

// SuspendAccount blocks further settlements for an account.
func (uc *AccountUseCase) SuspendAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.setSuspended(ctx, id, true)
}

// UnsuspendAccount lifts a suspension.
func (uc *AccountUseCase) UnsuspendAccount(ctx context.Context, id string) (*domain.Account, error) {
	return uc.setSuspended(ctx, id, false)
}

func (uc *AccountUseCase) setSuspended(ctx context.Context, id string, suspended bool) (*domain.Account, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	account, err := uc.accountRepo.GetByIDForUpdate(txCtx, tx, id)
	if err != nil {
		return nil, err
	}
	if account.Suspended == suspended {
		return account, nil
	}

	before := account.Clone()
	account.Suspended = suspended
	account.UpdatedAt = time.Now().UTC()
	if err := uc.accountRepo.Update(txCtx, tx, account); err != nil {
		return nil, err
	}

	action := domain.AuditActionAccountUnsuspend
	if suspended {
		action = domain.AuditActionAccountSuspend
	}
	if err := writeAudit(txCtx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       action,
		resourceType: domain.AggregateTypeAccount,
		resourceID:   account.ID,
		before:       before,
		after:        account,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	if uc.metrics != nil {
		uc.metrics.AccountOperations.WithLabelValues(string(action)).Inc()
	}

	return account, nil
}
