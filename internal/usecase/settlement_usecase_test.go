package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
	"github.com/iho/presaleledger/internal/usecase/mocks"
)

func TestSettlementUseCase_Settle_CrossesStageBoundary(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"0.50", 1000}, stageSpec{"1.00", 1000})

	whale := h.newAccount(t, "whale@example.com", "")
	buyer := h.newAccount(t, "buyer@example.com", "")

	first := h.settle(t, whale.ID, "order-1", "495.00")
	assert.Equal(t, int64(990), first.TokensCredited)

	res := h.settle(t, buyer.ID, "order-2", "10.00")

	assert.Equal(t, domain.SettlementSettled, res.Status)
	// 10 tokens close stage 1, the carried 5.00 buys 5 at stage 2
	assert.Equal(t, int64(15), res.TokensCredited)
	assert.Equal(t, int64(15), res.NewTokenBalance)
	assert.True(t, res.ShortfallAmount.IsZero())
	assert.True(t, res.ChangeAmount.IsZero())
	assert.True(t, res.NewFiatRaisedTotal.Equal(dec("505.00")))
	assert.Equal(t, []domain.StageTransition{
		{Ordinal: 1, Kind: domain.StageClosed, Reason: domain.StageCloseSoldOut},
		{Ordinal: 2, Kind: domain.StageActivated},
	}, res.Transitions)

	ctx := context.Background()
	s1, err := h.stages.GetByOrdinal(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), s1.TokensSold)
	assert.False(t, s1.Active)
	assert.Equal(t, int64(2), s1.ParticipantCount)

	s2, err := h.stages.GetByOrdinal(ctx, 2)
	require.NoError(t, err)
	assert.True(t, s2.Active)
	assert.Equal(t, int64(5), s2.TokensSold)
	assert.Equal(t, int64(1), s2.ParticipantCount)

	active, err := h.stage.GetActiveStage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Ordinal)

	acc, err := h.accounts.GetByID(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), acc.TokensOwned)
	assert.True(t, acc.TotalInvested.Equal(dec("10.00")))

	h.requireConsistent(t)
}

func TestSettlementUseCase_Settle_ChangeBelowNextPrice(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"0.50", 10}, stageSpec{"6.00", 100})
	buyer := h.newAccount(t, "buyer@example.com", "")

	res := h.settle(t, buyer.ID, "order-1", "10.00")

	assert.Equal(t, int64(10), res.TokensCredited)
	assert.True(t, res.ChangeAmount.Equal(dec("5.00")))

	acc, err := h.accounts.GetByID(context.Background(), buyer.ID)
	require.NoError(t, err)
	assert.True(t, acc.Balance("USD").Equal(dec("5.00")))
	assert.True(t, acc.TotalInvested.Equal(dec("5.00")))

	entries, err := h.entries.ListByAccount(context.Background(), buyer.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EntryTokenPurchase, entries[0].Kind)
	assert.Equal(t, domain.EntryPurchaseChange, entries[1].Kind)

	h.requireConsistent(t)
}

func TestSettlementUseCase_Settle_StablecoinInvestedInFiat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.stage.CreateStage(ctx, usecase.CreateStageInput{
		PriceFiat:       dec("0.50"),
		PriceStable:     dec("0.55"),
		TokensAvailable: 1000,
	})
	require.NoError(t, err)
	_, err = h.stage.OpenStage(ctx, 1)
	require.NoError(t, err)
	buyer := h.newAccount(t, "buyer@example.com", "")

	input := settleInput(buyer.ID, "order-1", "11.00")
	input.Currency = "USDT"
	res, err := h.settlement.Settle(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, int64(20), res.TokensCredited)
	assert.True(t, res.NewFiatRaisedTotal.Equal(dec("10.00")))

	acc, err := h.accounts.GetByID(ctx, buyer.ID)
	require.NoError(t, err)
	assert.True(t, acc.TotalInvested.Equal(res.NewFiatRaisedTotal))
	assert.True(t, acc.Balance("USDT").IsZero())

	h.requireConsistent(t)
}

func TestSettlementUseCase_Settle_LastStageShortfall(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 5})
	buyer := h.newAccount(t, "buyer@example.com", "")

	res := h.settle(t, buyer.ID, "order-1", "12.50")

	assert.Equal(t, int64(5), res.TokensCredited)
	assert.True(t, res.ShortfallAmount.Equal(dec("7.50")))

	ctx := context.Background()
	_, err := h.stage.GetActiveStage(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveStage)

	acc, err := h.accounts.GetByID(ctx, buyer.ID)
	require.NoError(t, err)
	assert.True(t, acc.Balance("USD").Equal(dec("7.50")))
	assert.Equal(t, 1, h.entries.CountByReference(ctx, domain.EntryRefundShortfall, res.DepositID))

	// nothing left to sell
	_, err = h.settlement.Settle(ctx, settleInput(buyer.ID, "order-2", "1.00"))
	assert.ErrorIs(t, err, domain.ErrStageExhausted)

	h.requireConsistent(t)
}

func TestSettlementUseCase_Settle_DuplicateReturnsOriginal(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"0.30", 1000})
	buyer := h.newAccount(t, "buyer@example.com", "")
	ctx := context.Background()

	first := h.settle(t, buyer.ID, "order-1", "1.00")
	require.Equal(t, domain.SettlementSettled, first.Status)

	entriesBefore, err := h.entries.ListByAccount(ctx, buyer.ID, 100, 0)
	require.NoError(t, err)

	second := h.settle(t, buyer.ID, "order-1", "1.00")
	assert.Equal(t, domain.SettlementDuplicate, second.Status)
	assert.Equal(t, first.DepositID, second.DepositID)
	assert.Equal(t, first.TokensCredited, second.TokensCredited)
	assert.Equal(t, first.NewTokenBalance, second.NewTokenBalance)
	assert.True(t, first.ChangeAmount.Equal(second.ChangeAmount))

	entriesAfter, err := h.entries.ListByAccount(ctx, buyer.ID, 100, 0)
	require.NoError(t, err)
	assert.Len(t, entriesAfter, len(entriesBefore))
	assert.Equal(t, 1, h.entries.CountByReference(ctx, domain.EntryTokenPurchase, first.DepositID))
}

func TestSettlementUseCase_Settle_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, h *harness, accountID string)
		input   func(accountID string) usecase.SettleInput
		want    error
	}{
		{
			name:  "unknown account",
			input: func(string) usecase.SettleInput { return settleInput("missing", "o-1", "1.00") },
			want:  domain.ErrAccountNotFound,
		},
		{
			name: "suspended account",
			prepare: func(t *testing.T, h *harness, accountID string) {
				_, err := h.account.SuspendAccount(context.Background(), accountID)
				require.NoError(t, err)
			},
			input: func(id string) usecase.SettleInput { return settleInput(id, "o-1", "1.00") },
			want:  domain.ErrAccountSuspended,
		},
		{
			name: "mismatch with existing intent",
			prepare: func(t *testing.T, h *harness, accountID string) {
				_, err := h.deposit.CreatePurchaseIntent(context.Background(), usecase.CreateDepositInput{
					AccountID: accountID, Provider: "nowpayments", ProviderOrderID: "o-1", Amount: dec("2.00"), Currency: "USD",
				})
				require.NoError(t, err)
			},
			input: func(id string) usecase.SettleInput { return settleInput(id, "o-1", "1.00") },
			want:  domain.ErrDepositMismatch,
		},
		{
			name: "failed deposit",
			prepare: func(t *testing.T, h *harness, accountID string) {
				ctx := context.Background()
				d, err := h.deposit.CreatePurchaseIntent(ctx, usecase.CreateDepositInput{
					AccountID: accountID, Provider: "nowpayments", ProviderOrderID: "o-1", Amount: dec("1.00"), Currency: "USD",
				})
				require.NoError(t, err)
				_, err = h.deposit.MarkFailed(ctx, d.ID, "expired")
				require.NoError(t, err)
			},
			input: func(id string) usecase.SettleInput { return settleInput(id, "o-1", "1.00") },
			want:  domain.ErrDepositNotSettleable,
		},
		{
			name: "unsupported currency",
			input: func(id string) usecase.SettleInput {
				in := settleInput(id, "o-1", "1.00")
				in.Currency = "EUR"
				return in
			},
			want: domain.ErrUnsupportedCurrency,
		},
		{
			name: "too many decimals",
			input: func(id string) usecase.SettleInput {
				return settleInput(id, "o-1", "1.001")
			},
			want: domain.ErrAmountPrecision,
		},
		{
			name:  "below one token",
			input: func(id string) usecase.SettleInput { return settleInput(id, "o-1", "0.10") },
			want:  domain.ErrAmountBelowPrice,
		},
		{
			name:  "bad provider",
			input: func(id string) usecase.SettleInput { in := settleInput(id, "o-1", "1.00"); in.Provider = "Bad Provider"; return in },
			want:  domain.ErrInvalidProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addStages(t, stageSpec{"0.50", 100})
			acc := h.newAccount(t, "buyer@example.com", "")
			if tt.prepare != nil {
				tt.prepare(t, h, acc.ID)
			}

			_, err := h.settlement.Settle(context.Background(), tt.input(acc.ID))
			assert.ErrorIs(t, err, tt.want)

			stage, err := h.stages.GetByOrdinal(context.Background(), 1)
			require.NoError(t, err)
			assert.Equal(t, int64(0), stage.TokensSold)
		})
	}
}

func TestSettlementUseCase_Settle_ConcurrentNeverOversells(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 50}, stageSpec{"2.00", 50})

	const buyers = 40
	accounts := make([]*domain.Account, buyers)
	for i := range accounts {
		accounts[i] = h.newAccount(t, fmt.Sprintf("buyer%d@example.com", i), "")
	}

	var wg sync.WaitGroup
	results := make([]*domain.SettlementResult, buyers)
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.settlement.Settle(context.Background(),
				settleInput(accounts[i].ID, fmt.Sprintf("order-%d", i), "7.00"))
		}(i)
	}
	wg.Wait()

	var credited int64
	for i := range results {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], domain.ErrStageExhausted)
			continue
		}
		credited += results[i].TokensCredited
	}

	stages, err := h.stage.ListStages(context.Background())
	require.NoError(t, err)
	var sold int64
	for _, s := range stages {
		assert.LessOrEqual(t, s.TokensSold, s.TokensAvailable)
		sold += s.TokensSold
	}
	assert.Equal(t, sold, credited)
	assert.Equal(t, int64(100), sold)

	h.requireConsistent(t)
}

func TestSettlementUseCase_Settle_ConcurrentDuplicatesSettleOnce(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 1000})
	buyer := h.newAccount(t, "buyer@example.com", "")

	const deliveries = 20
	var wg sync.WaitGroup
	statuses := make([]domain.SettlementStatus, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.settlement.Settle(context.Background(), settleInput(buyer.ID, "order-1", "3.00"))
			if err == nil {
				statuses[i] = res.Status
			}
		}(i)
	}
	wg.Wait()

	settled := 0
	for _, s := range statuses {
		if s == domain.SettlementSettled {
			settled++
		} else {
			assert.Equal(t, domain.SettlementDuplicate, s)
		}
	}
	assert.Equal(t, 1, settled)

	acc, err := h.accounts.GetByID(context.Background(), buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), acc.TokensOwned)
	h.requireConsistent(t)
}

// flakyStages fails the first n sales with a version conflict.
type flakyStages struct {
	usecase.StageRepository
	failures int
}

func (f *flakyStages) ApplySale(ctx context.Context, tx usecase.Transaction, sale domain.StageSale) error {
	if f.failures > 0 {
		f.failures--
		return domain.ErrConcurrencyConflict
	}
	return f.StageRepository.ApplySale(ctx, tx, sale)
}

func TestSettlementUseCase_Settle_RetriesConflicts(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 100})
	buyer := h.newAccount(t, "buyer@example.com", "")

	ctrl := gomock.NewController(t)
	retrier := mocks.NewMockRetrier(ctrl)
	retrier.EXPECT().Retry(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, op func() error) error {
		var err error
		for i := 0; i < 3; i++ {
			if err = op(); err == nil || !domain.IsRetryable(err) {
				return err
			}
		}
		return err
	})

	stages := &flakyStages{StageRepository: h.stages, failures: 2}
	uc := usecase.NewSettlementUseCase(usecase.SettlementDeps{
		TxManager:   h.txManager,
		AccountRepo: h.accounts,
		StageRepo:   stages,
		DepositRepo: h.deposits,
		EntryRepo:   h.entries,
		OutboxRepo:  h.outbox,
		AuditRepo:   h.audit,
		IDGen:       h.idGen,
		Retrier:     retrier,
	}, h.policy)

	res, err := uc.Settle(context.Background(), settleInput(buyer.ID, "order-1", "4.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.TokensCredited)

	// failed attempts rolled back completely
	assert.Equal(t, 1, h.entries.CountByReference(context.Background(), domain.EntryTokenPurchase, res.DepositID))
	h.requireConsistent(t)
}

func TestSettlementUseCase_Settle_CacheHitSkipsStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockSettlementCache(ctrl)
	txManager := mocks.NewMockTransactionManager(ctrl)

	cached := &domain.SettlementResult{
		Status:          domain.SettlementSettled,
		DepositID:       "dep-1",
		AccountID:       "acc-1",
		Provider:        "nowpayments",
		ProviderOrderID: "order-1",
		AmountPaid:      dec("5.00"),
		Currency:        "USD",
		TokensCredited:  10,
	}
	cache.EXPECT().Get(gomock.Any(), "nowpayments", "order-1").Return(cached, nil)

	uc := usecase.NewSettlementUseCase(usecase.SettlementDeps{
		TxManager: txManager,
		Cache:     cache,
	}, usecase.DefaultPolicy())

	res, err := uc.Settle(context.Background(), settleInput("acc-1", "order-1", "5.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementDuplicate, res.Status)
	assert.Equal(t, int64(10), res.TokensCredited)
}

func TestSettlementUseCase_Settle_CacheMismatchFallsThrough(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 100})
	buyer := h.newAccount(t, "buyer@example.com", "")

	ctrl := gomock.NewController(t)
	cache := mocks.NewMockSettlementCache(ctrl)
	cache.EXPECT().Get(gomock.Any(), "nowpayments", "order-1").Return(&domain.SettlementResult{
		AccountID: "someone-else", AmountPaid: dec("2.00"), Currency: "USD",
	}, nil)
	cache.EXPECT().Put(gomock.Any(), gomock.Any(), usecase.SettlementCacheTTL).
		DoAndReturn(func(_ context.Context, r *domain.SettlementResult, _ time.Duration) error {
			assert.Equal(t, domain.SettlementDuplicate, r.Status)
			assert.Equal(t, buyer.ID, r.AccountID)
			return errors.New("redis down")
		})

	uc := usecase.NewSettlementUseCase(usecase.SettlementDeps{
		TxManager:   h.txManager,
		AccountRepo: h.accounts,
		StageRepo:   h.stages,
		DepositRepo: h.deposits,
		EntryRepo:   h.entries,
		OutboxRepo:  h.outbox,
		IDGen:       h.idGen,
		Cache:       cache,
	}, h.policy)

	// a failing cache write does not fail the settlement
	res, err := uc.Settle(context.Background(), settleInput(buyer.ID, "order-1", "2.00"))
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementSettled, res.Status)
}

func TestSettlementUseCase_Settle_WritesOutboxAndAudit(t *testing.T) {
	h := newHarness(t)
	h.addStages(t, stageSpec{"1.00", 2}, stageSpec{"1.00", 10})
	buyer := h.newAccount(t, "buyer@example.com", "")
	ctx := context.Background()

	res := h.settle(t, buyer.ID, "order-1", "3.00")

	events, err := h.outbox.GetUnpublished(ctx, 100)
	require.NoError(t, err)
	types := map[string]int{}
	for _, e := range events {
		types[e.EventType]++
	}
	assert.Equal(t, 1, types[domain.EventTypeDepositSettled])
	assert.Equal(t, 1, types[domain.EventTypeStageClosed])
	// stage 1 opened by the admin, stage 2 by the settlement
	assert.Equal(t, 2, types[domain.EventTypeStageActivated])

	logs, err := h.audit.GetByResourceID(ctx, domain.AggregateTypeDeposit, res.DepositID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(domain.AuditActionDepositSettle), logs[0].Action)
	assert.Equal(t, "system", logs[0].UserID)
}
