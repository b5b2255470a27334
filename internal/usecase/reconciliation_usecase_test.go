package usecase_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/presaleledger/internal/adapter/repository/memory"
	"github.com/iho/presaleledger/internal/usecase"
)

// skewedEntries reports one extra token for every account.
type skewedEntries struct {
	*memory.EntryRepository
	symbol string
}

func (s skewedEntries) SumByAccount(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	sums, err := s.EntryRepository.SumByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sums[s.symbol] = sums[s.symbol].Add(decimal.NewFromInt(1))
	return sums, nil
}

func TestReconciliationUseCase_Consistent(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"0.30", 10}, stageSpec{"0.60", 10})
	a := h.newAccount(t, "a@example.com", "")
	b := h.newAccount(t, "b@example.com", a.ID)

	h.settle(t, a.ID, "o-1", "2.00")
	res := h.settle(t, b.ID, "o-2", "9.99")
	_, err := h.referral.Payout(context.Background(), res.DepositID)
	require.NoError(t, err)

	report, err := h.reconciliation.GenerateReconciliationReport(context.Background())
	require.NoError(t, err)
	assert.True(t, report.LedgerConsistent)
	assert.Equal(t, 2, report.TotalAccounts)
	assert.Equal(t, 2, report.ReconciledAccounts)
	assert.Empty(t, report.StageViolations)

	result, err := h.reconciliation.ReconcileAccount(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, result.IsReconciled)
	assert.True(t, result.CalculatedTokens.Equal(decimal.NewFromInt(result.RecordedTokens)))

	require.NoError(t, h.reconciliation.CheckLedgerConsistency(context.Background()))
}

func TestReconciliationUseCase_DetectsDrift(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 100})
	a := h.newAccount(t, "a@example.com", "")
	h.settle(t, a.ID, "o-1", "3.00")

	uc := usecase.NewReconciliationUseCase(h.accounts, skewedEntries{h.entries, h.policy.TokenSymbol}, h.stages, h.policy)

	result, err := uc.ReconcileAccount(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, result.IsReconciled)
	require.Len(t, result.Differences, 1)
	assert.Contains(t, result.Differences[0], "recorded=3 calculated=4")

	err = uc.CheckLedgerConsistency(context.Background())
	assert.ErrorIs(t, err, usecase.ErrInconsistentLedger)
}
