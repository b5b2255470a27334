package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/metrics"
)

// StageUseCase handles presale stage administration and queries.
type StageUseCase struct {
	txManager  TransactionManager
	stageRepo  StageRepository
	outboxRepo OutboxRepository
	auditRepo  AuditRepository
	idGen      IDGenerator
	metrics    *metrics.Metrics
}

// NewStageUseCase creates a new StageUseCase.
func NewStageUseCase(
	txManager TransactionManager,
	stageRepo StageRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	metrics *metrics.Metrics,
) *StageUseCase {
	return &StageUseCase{
		txManager:  txManager,
		stageRepo:  stageRepo,
		outboxRepo: outboxRepo,
		auditRepo:  auditRepo,
		idGen:      idGen,
		metrics:    metrics,
	}
}

// CreateStageInput represents input for creating a stage.
type CreateStageInput struct {
	// Ordinal must follow the highest existing ordinal; zero picks it.
	Ordinal         int
	PriceFiat       decimal.Decimal
	PriceStable     decimal.Decimal
	TokensAvailable int64
}

// CreateStage appends a stage to the schedule. New stages start inactive.
func (uc *StageUseCase) CreateStage(ctx context.Context, input CreateStageInput) (*domain.PresaleStage, error) {
	if input.PriceStable.IsZero() {
		input.PriceStable = input.PriceFiat
	}
	if input.TokensAvailable <= 0 {
		return nil, domain.ErrInvalidInventory
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	maxOrdinal, err := uc.stageRepo.MaxOrdinal(txCtx, tx)
	if err != nil {
		return nil, err
	}
	ordinal := input.Ordinal
	if ordinal == 0 {
		ordinal = maxOrdinal + 1
	}
	if ordinal != maxOrdinal+1 {
		return nil, domain.ErrInvalidStageOrdinal
	}

	now := time.Now().UTC()
	stage := &domain.PresaleStage{
		Ordinal:         ordinal,
		PriceFiat:       input.PriceFiat,
		PriceStable:     input.PriceStable,
		TokensAvailable: input.TokensAvailable,
		TotalRaised:     decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := stage.Validate(); err != nil {
		return nil, err
	}

	if err := uc.stageRepo.Create(txCtx, tx, stage); err != nil {
		return nil, err
	}

	if err := writeAudit(txCtx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       domain.AuditActionStageCreate,
		resourceType: domain.AggregateTypeStage,
		resourceID:   stageAggregateID(stage.Ordinal),
		after:        stage,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return stage, nil
}

// OpenStage activates a stage when no stage is selling. Stages open in
// ordinal order and never reopen.
func (uc *StageUseCase) OpenStage(ctx context.Context, ordinal int) (*domain.PresaleStage, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	state, err := uc.stageRepo.GetState(txCtx, tx)
	if err != nil {
		return nil, err
	}
	if state.ActiveStage != 0 {
		return nil, domain.ErrStageAlreadyActive
	}

	stage, err := uc.stageRepo.GetByOrdinalForUpdate(txCtx, tx, ordinal)
	if err != nil {
		return nil, err
	}
	if stage.EverOpened() {
		return nil, domain.ErrStageAlreadyOpened
	}
	if ordinal > 1 {
		prev, err := uc.stageRepo.GetByOrdinalForUpdate(txCtx, tx, ordinal-1)
		if err != nil {
			return nil, err
		}
		if !prev.EverOpened() {
			return nil, domain.ErrStageOutOfOrder
		}
	}

	now := time.Now().UTC()
	before := stage.Clone()
	if err := uc.stageRepo.Activate(txCtx, tx, ordinal, stage.Version, now); err != nil {
		return nil, err
	}
	if err := uc.stageRepo.SetActiveStage(txCtx, tx, state.Version, ordinal, now); err != nil {
		return nil, err
	}
	stage.Active = true
	stage.OpenedAt = &now
	stage.Version++
	stage.UpdatedAt = now

	transitions := []domain.StageTransition{{Ordinal: ordinal, Kind: domain.StageActivated}}
	if err := uc.record(txCtx, tx, domain.AuditActionStageOpen, before, stage, transitions, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	uc.observe(ordinal, transitions)
	return stage, nil
}

// CloseActiveStage ends the active stage early and opens the next stage if
// it exists and has never been opened.
func (uc *StageUseCase) CloseActiveStage(ctx context.Context) ([]domain.StageTransition, error) {
	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	state, err := uc.stageRepo.GetState(txCtx, tx)
	if err != nil {
		return nil, err
	}
	if state.ActiveStage == 0 {
		return nil, domain.ErrNoActiveStage
	}

	current, err := uc.stageRepo.GetByOrdinalForUpdate(txCtx, tx, state.ActiveStage)
	if err != nil {
		return nil, err
	}
	before := current.Clone()

	now := time.Now().UTC()
	if err := uc.stageRepo.Close(txCtx, tx, current.Ordinal, current.Version, domain.StageCloseClosedEarly, now); err != nil {
		return nil, err
	}
	transitions := []domain.StageTransition{{
		Ordinal: current.Ordinal,
		Kind:    domain.StageClosed,
		Reason:  domain.StageCloseClosedEarly,
	}}

	nextActive := 0
	next, err := uc.stageRepo.GetByOrdinalForUpdate(txCtx, tx, current.Ordinal+1)
	switch {
	case errors.Is(err, domain.ErrStageNotFound):
	case err != nil:
		return nil, err
	case !next.EverOpened():
		if err := uc.stageRepo.Activate(txCtx, tx, next.Ordinal, next.Version, now); err != nil {
			return nil, err
		}
		nextActive = next.Ordinal
		transitions = append(transitions, domain.StageTransition{Ordinal: next.Ordinal, Kind: domain.StageActivated})
	}

	if err := uc.stageRepo.SetActiveStage(txCtx, tx, state.Version, nextActive, now); err != nil {
		return nil, err
	}

	current.Active = false
	current.ClosedAt = &now
	current.CloseReason = domain.StageCloseClosedEarly
	current.Version++
	if err := uc.record(txCtx, tx, domain.AuditActionStageClose, before, current, transitions, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	uc.observe(nextActive, transitions)
	return transitions, nil
}

// AdjustInventory changes the token ceiling of a stage that has not opened yet.
func (uc *StageUseCase) AdjustInventory(ctx context.Context, ordinal int, tokensAvailable int64) (*domain.PresaleStage, error) {
	if tokensAvailable <= 0 {
		return nil, domain.ErrInvalidInventory
	}

	txCtx, cancel := context.WithTimeout(ctx, DefaultTransactionTimeout)
	defer cancel()

	tx, err := uc.txManager.Begin(txCtx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	stage, err := uc.stageRepo.GetByOrdinalForUpdate(txCtx, tx, ordinal)
	if err != nil {
		return nil, err
	}
	if stage.EverOpened() {
		return nil, domain.ErrStageAlreadyOpened
	}
	before := stage.Clone()

	now := time.Now().UTC()
	if err := uc.stageRepo.UpdateInventory(txCtx, tx, ordinal, stage.Version, tokensAvailable, now); err != nil {
		return nil, err
	}
	stage.TokensAvailable = tokensAvailable
	stage.Version++
	stage.UpdatedAt = now

	if err := writeAudit(txCtx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       domain.AuditActionStageAdjustInventory,
		resourceType: domain.AggregateTypeStage,
		resourceID:   stageAggregateID(ordinal),
		before:       before,
		after:        stage,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, err
	}

	return stage, nil
}

// GetActiveStage returns a snapshot of the selling stage.
func (uc *StageUseCase) GetActiveStage(ctx context.Context) (*domain.PresaleStage, error) {
	return uc.stageRepo.GetActive(ctx)
}

// GetStage returns one stage.
func (uc *StageUseCase) GetStage(ctx context.Context, ordinal int) (*domain.PresaleStage, error) {
	return uc.stageRepo.GetByOrdinal(ctx, ordinal)
}

// ListStages returns every stage in ordinal order.
func (uc *StageUseCase) ListStages(ctx context.Context) ([]*domain.PresaleStage, error) {
	return uc.stageRepo.List(ctx)
}

func (uc *StageUseCase) record(
	ctx context.Context,
	tx Transaction,
	action domain.AuditAction,
	before, after *domain.PresaleStage,
	transitions []domain.StageTransition,
	at time.Time,
) error {
	if err := writeAudit(ctx, tx, uc.auditRepo, uc.idGen, auditRecord{
		action:       action,
		resourceType: domain.AggregateTypeStage,
		resourceID:   stageAggregateID(after.Ordinal),
		before:       before,
		after:        after,
	}); err != nil {
		return err
	}

	for _, event := range stageEvents(uc.idGen, transitions, "", at) {
		if err := uc.outboxRepo.Create(ctx, tx, event); err != nil {
			return err
		}
	}
	return nil
}

func (uc *StageUseCase) observe(active int, transitions []domain.StageTransition) {
	if uc.metrics == nil {
		return
	}
	uc.metrics.ActiveStage.Set(float64(active))
	for _, t := range transitions {
		uc.metrics.StageTransitions.WithLabelValues(string(t.Kind), string(t.Reason)).Inc()
	}
}
