package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/presaleledger/internal/domain"
)

func TestStore_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	accounts := NewAccountRepository(store)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, accounts.Create(ctx, tx, &domain.Account{ID: "a1", Email: "a@example.com"}))
	require.NoError(t, tx.Rollback(ctx))

	_, err = accounts.GetByID(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestStore_UncommittedWritesAreInvisible(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	accounts := NewAccountRepository(store)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, accounts.Create(ctx, tx, &domain.Account{ID: "a1", Email: "a@example.com"}))

	_, err = accounts.GetByID(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	require.NoError(t, tx.Commit(ctx))
	got, err := accounts.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	// rollback after commit is a no-op and must not release the writer slot twice
	require.NoError(t, tx.Rollback(ctx))
	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestStore_BeginHonorsContext(t *testing.T) {
	store := NewStore()

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = store.Begin(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAccountRepository_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	accounts := NewAccountRepository(store)

	require.NoError(t, store.update(ctx, func(d *data) error {
		d.accounts["a1"] = &domain.Account{ID: "a1", Email: "a@example.com"}
		return nil
	}))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	acc, err := accounts.GetByIDForUpdate(ctx, tx, "a1")
	require.NoError(t, err)

	stale := acc.Clone()
	acc.Credit("USD", decimal.NewFromInt(5))
	require.NoError(t, accounts.Update(ctx, tx, acc))
	assert.Equal(t, int64(1), acc.Version)

	assert.ErrorIs(t, accounts.Update(ctx, tx, stale), domain.ErrConcurrencyConflict)
}

func TestAccountRepository_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	accounts := NewAccountRepository(store)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	require.NoError(t, accounts.Create(ctx, tx, &domain.Account{ID: "a1", Email: "a@example.com"}))
	assert.ErrorIs(t, accounts.Create(ctx, tx, &domain.Account{ID: "a2", Email: "a@example.com"}), domain.ErrAccountExists)
}

func TestStageRepository_ApplySaleGuards(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	stages := NewStageRepository(store)
	now := time.Now().UTC()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	require.NoError(t, stages.Create(ctx, tx, &domain.PresaleStage{
		Ordinal: 1, PriceFiat: decimal.NewFromInt(1), PriceStable: decimal.NewFromInt(1), TokensAvailable: 10,
	}))

	// inactive stage cannot sell
	err = stages.ApplySale(ctx, tx, domain.StageSale{Ordinal: 1, ExpectedVersion: 0, Tokens: 1, At: now})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	require.NoError(t, stages.Activate(ctx, tx, 1, 0, now))

	tests := []struct {
		name string
		sale domain.StageSale
	}{
		{"stale version", domain.StageSale{Ordinal: 1, ExpectedVersion: 0, Tokens: 1, At: now}},
		{"oversell", domain.StageSale{Ordinal: 1, ExpectedVersion: 1, Tokens: 11, At: now}},
		{"close before sold out", domain.StageSale{Ordinal: 1, ExpectedVersion: 1, Tokens: 5, Close: true, At: now}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, stages.ApplySale(ctx, tx, tt.sale), domain.ErrConcurrencyConflict)
		})
	}

	require.NoError(t, stages.ApplySale(ctx, tx, domain.StageSale{
		Ordinal: 1, ExpectedVersion: 1, Tokens: 10, Raised: decimal.NewFromInt(10), NewParticipant: true, Close: true, At: now,
	}))

	got, err := stages.GetByOrdinalForUpdate(ctx, tx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.TokensSold)
	assert.Equal(t, int64(1), got.ParticipantCount)
	assert.False(t, got.Active)
	assert.Equal(t, domain.StageCloseSoldOut, got.CloseReason)

	// a closed stage never reopens
	assert.ErrorIs(t, stages.Activate(ctx, tx, 1, got.Version, now), domain.ErrConcurrencyConflict)
}

func TestStageRepository_SingleActiveStage(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	stages := NewStageRepository(store)
	now := time.Now().UTC()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	for i := 1; i <= 2; i++ {
		require.NoError(t, stages.Create(ctx, tx, &domain.PresaleStage{
			Ordinal: i, PriceFiat: decimal.NewFromInt(1), PriceStable: decimal.NewFromInt(1), TokensAvailable: 10,
		}))
	}
	require.NoError(t, stages.Activate(ctx, tx, 1, 0, now))
	assert.ErrorIs(t, stages.Activate(ctx, tx, 2, 0, now), domain.ErrConcurrencyConflict)
}

func TestStageRepository_StateCAS(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	stages := NewStageRepository(store)
	now := time.Now().UTC()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, stages.SetActiveStage(ctx, tx, 0, 1, now))
	assert.ErrorIs(t, stages.SetActiveStage(ctx, tx, 0, 2, now), domain.ErrConcurrencyConflict)
	require.NoError(t, tx.Commit(ctx))

	state, err := stages.GetState(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, state.ActiveStage)
	assert.Equal(t, int64(1), state.Version)
}

func TestDepositRepository_ReserveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	deposits := NewDepositRepository(store)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	first, err := deposits.ReserveForSettlement(ctx, tx, &domain.Deposit{
		ID: "d1", Provider: "nowpayments", ProviderOrderID: "o1", Status: domain.DepositPending,
	})
	require.NoError(t, err)

	second, err := deposits.ReserveForSettlement(ctx, tx, &domain.Deposit{
		ID: "d2", Provider: "nowpayments", ProviderOrderID: "o1", Status: domain.DepositPending,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "d1", second.ID)
}

func TestReferralRepository_CreateOncePerTriple(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	referrals := NewReferralRepository(store)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()

	ref := &domain.Referral{ID: "r1", ReferrerID: "a", ReferredID: "b", DepositID: "d", StageOrdinal: 1, Amount: decimal.NewFromInt(2), Currency: "USD"}
	ok, err := referrals.Create(ctx, tx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := *ref
	dup.ID = "r2"
	ok, err = referrals.Create(ctx, tx, &dup)
	require.NoError(t, err)
	assert.False(t, ok)

	sum, err := referrals.SumForReferrerStage(ctx, tx, "a", 1, "USD")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(2)))
}

func TestOutboxRepository_PublishAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	outbox := NewOutboxRepository(store)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, outbox.Create(ctx, tx, &domain.OutboxEvent{ID: "e1", EventType: domain.EventTypeDepositSettled}))
	require.NoError(t, outbox.Create(ctx, tx, &domain.OutboxEvent{ID: "e2", EventType: domain.EventTypeStageClosed}))
	require.NoError(t, tx.Commit(ctx))

	events, err := outbox.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	published := time.Now().Add(-time.Hour)
	require.NoError(t, outbox.MarkPublished(ctx, "e1", published))

	events, err = outbox.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e2", events[0].ID)

	require.NoError(t, outbox.DeletePublished(ctx, time.Now()))
	assert.Len(t, store.committed.Load().outbox, 1)
}
