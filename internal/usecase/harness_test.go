package usecase_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iho/presaleledger/internal/adapter/repository/memory"
	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

type seqIDGenerator struct {
	n atomic.Int64
}

func (g *seqIDGenerator) Generate() string {
	return fmt.Sprintf("id-%08d", g.n.Add(1))
}

type harness struct {
	store     *memory.Store
	txManager *memory.TxManager
	accounts  *memory.AccountRepository
	stages    *memory.StageRepository
	deposits  *memory.DepositRepository
	entries   *memory.EntryRepository
	referrals *memory.ReferralRepository
	outbox    *memory.OutboxRepository
	audit     *memory.AuditRepository
	idGen     *seqIDGenerator
	policy    usecase.Policy

	settlement     *usecase.SettlementUseCase
	referral       *usecase.ReferralUseCase
	stage          *usecase.StageUseCase
	account        *usecase.AccountUseCase
	deposit        *usecase.DepositUseCase
	reconciliation *usecase.ReconciliationUseCase
}

func newHarness(t *testing.T, opts ...func(*usecase.Policy)) *harness {
	t.Helper()

	policy := usecase.DefaultPolicy()
	for _, opt := range opts {
		opt(&policy)
	}

	store := memory.NewStore()
	h := &harness{
		store:     store,
		txManager: memory.NewTxManager(store),
		accounts:  memory.NewAccountRepository(store),
		stages:    memory.NewStageRepository(store),
		deposits:  memory.NewDepositRepository(store),
		entries:   memory.NewEntryRepository(store),
		referrals: memory.NewReferralRepository(store),
		outbox:    memory.NewOutboxRepository(store),
		audit:     memory.NewAuditRepository(store),
		idGen:     &seqIDGenerator{},
		policy:    policy,
	}

	h.settlement = usecase.NewSettlementUseCase(usecase.SettlementDeps{
		TxManager:   h.txManager,
		AccountRepo: h.accounts,
		StageRepo:   h.stages,
		DepositRepo: h.deposits,
		EntryRepo:   h.entries,
		OutboxRepo:  h.outbox,
		AuditRepo:   h.audit,
		IDGen:       h.idGen,
	}, policy)
	h.referral = usecase.NewReferralUseCase(h.txManager, h.accounts, h.deposits, h.entries, h.referrals, h.outbox, h.audit, h.idGen, nil, nil, policy)
	h.stage = usecase.NewStageUseCase(h.txManager, h.stages, h.outbox, h.audit, h.idGen, nil)
	h.account = usecase.NewAccountUseCase(h.txManager, h.accounts, h.outbox, h.audit, h.idGen, nil)
	h.deposit = usecase.NewDepositUseCase(h.txManager, h.accounts, h.deposits, h.outbox, h.audit, h.idGen, nil, policy)
	h.reconciliation = usecase.NewReconciliationUseCase(h.accounts, h.entries, h.stages, policy)

	return h
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// addStages creates stages with the given prices and inventories and opens the first.
func (h *harness) addStages(t *testing.T, stages ...stageSpec) {
	t.Helper()
	ctx := context.Background()
	for _, s := range stages {
		_, err := h.stage.CreateStage(ctx, usecase.CreateStageInput{
			PriceFiat:       dec(s.price),
			TokensAvailable: s.available,
		})
		require.NoError(t, err)
	}
	_, err := h.stage.OpenStage(ctx, 1)
	require.NoError(t, err)
}

type stageSpec struct {
	price     string
	available int64
}

func (h *harness) newAccount(t *testing.T, email, referrerID string) *domain.Account {
	t.Helper()
	acc, err := h.account.CreateAccount(context.Background(), usecase.CreateAccountInput{
		Email:      email,
		ReferrerID: referrerID,
	})
	require.NoError(t, err)
	return acc
}

func (h *harness) settle(t *testing.T, accountID, orderID, amount string) *domain.SettlementResult {
	t.Helper()
	res, err := h.settlement.Settle(context.Background(), settleInput(accountID, orderID, amount))
	require.NoError(t, err)
	return res
}

func settleInput(accountID, orderID, amount string) usecase.SettleInput {
	return usecase.SettleInput{
		AccountID:       accountID,
		Provider:        "nowpayments",
		ProviderOrderID: orderID,
		AmountPaid:      dec(amount),
		Currency:        "USD",
	}
}

func (h *harness) requireConsistent(t *testing.T) {
	t.Helper()
	report, err := h.reconciliation.GenerateReconciliationReport(context.Background())
	require.NoError(t, err)
	require.True(t, report.LedgerConsistent, "discrepancies=%+v violations=%v", report.Discrepancies, report.StageViolations)
}
