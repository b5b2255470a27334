package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
)

// AccountRepository defines data access for accounts.
type AccountRepository interface {
	Create(ctx context.Context, tx Transaction, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Account, error)
	// Update persists balances, totals and flags, failing with
	// domain.ErrConcurrencyConflict unless the stored version equals account.Version.
	// On success account.Version is incremented.
	Update(ctx context.Context, tx Transaction, account *domain.Account) error
	List(ctx context.Context, limit, offset int) ([]*domain.Account, error)
}

// StageRepository defines data access for presale stages and the singleton
// presale state that points at the active stage. Read methods taking a
// Transaction read committed state when tx is nil.
type StageRepository interface {
	Create(ctx context.Context, tx Transaction, stage *domain.PresaleStage) error
	GetByOrdinal(ctx context.Context, ordinal int) (*domain.PresaleStage, error)
	GetByOrdinalForUpdate(ctx context.Context, tx Transaction, ordinal int) (*domain.PresaleStage, error)
	GetActive(ctx context.Context) (*domain.PresaleStage, error)
	ListFrom(ctx context.Context, tx Transaction, fromOrdinal int) ([]*domain.PresaleStage, error)
	List(ctx context.Context) ([]*domain.PresaleStage, error)
	MaxOrdinal(ctx context.Context, tx Transaction) (int, error)
	TotalRaised(ctx context.Context, tx Transaction) (decimal.Decimal, error)

	// ApplySale increments the counters of an active stage and optionally closes
	// it as sold out. It fails with domain.ErrConcurrencyConflict when the stage
	// version moved, the stage is inactive, or the sale would exceed inventory.
	ApplySale(ctx context.Context, tx Transaction, sale domain.StageSale) error
	Activate(ctx context.Context, tx Transaction, ordinal int, expectedVersion int64, at time.Time) error
	Close(ctx context.Context, tx Transaction, ordinal int, expectedVersion int64, reason domain.StageCloseReason, at time.Time) error
	UpdateInventory(ctx context.Context, tx Transaction, ordinal int, expectedVersion int64, tokensAvailable int64, at time.Time) error

	// MarkParticipant records an account's first purchase in a stage and
	// reports whether this call created the marker.
	MarkParticipant(ctx context.Context, tx Transaction, ordinal int, accountID string, at time.Time) (bool, error)

	GetState(ctx context.Context, tx Transaction) (*domain.PresaleState, error)
	SetActiveStage(ctx context.Context, tx Transaction, expectedVersion int64, ordinal int, at time.Time) error
}

// DepositRepository defines data access for deposits.
type DepositRepository interface {
	Create(ctx context.Context, tx Transaction, deposit *domain.Deposit) error
	GetByID(ctx context.Context, id string) (*domain.Deposit, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Deposit, error)
	GetByProviderOrder(ctx context.Context, provider, providerOrderID string) (*domain.Deposit, error)

	// ReserveForSettlement locks the deposit identified by the candidate's
	// provider and order id, inserting the candidate as PENDING when none
	// exists. It fails with domain.ErrSettlementInProgress when another
	// transaction holds the row.
	ReserveForSettlement(ctx context.Context, tx Transaction, candidate *domain.Deposit) (*domain.Deposit, error)
	MarkSettled(ctx context.Context, tx Transaction, deposit *domain.Deposit) error
	UpdateStatus(ctx context.Context, tx Transaction, id string, status domain.DepositStatus, reason string, at time.Time) error
	MarkReferralProcessed(ctx context.Context, tx Transaction, id string, at time.Time) error
	// DeferReferral records a failed payout attempt and hides the deposit
	// from ListPendingReferrals until retryAt.
	DeferReferral(ctx context.Context, id string, retryAt time.Time) error
	ListPendingReferrals(ctx context.Context, limit int) ([]*domain.Deposit, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error)
}

// EntryRepository defines data access for ledger entries.
type EntryRepository interface {
	Create(ctx context.Context, tx Transaction, entry *domain.Entry) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, error)
	// SumByAccount replays an account's entries and returns the total per currency.
	SumByAccount(ctx context.Context, accountID string) (map[string]decimal.Decimal, error)
}

// ReferralRepository defines data access for referrals.
type ReferralRepository interface {
	// Create inserts the referral unless one already exists for its
	// (referrer, referred, deposit) triple, and reports whether it was inserted.
	Create(ctx context.Context, tx Transaction, referral *domain.Referral) (bool, error)
	SumForReferrerStage(ctx context.Context, tx Transaction, referrerID string, ordinal int, currency string) (decimal.Decimal, error)
	ListByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.Referral, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	DeletePublished(ctx context.Context, before time.Time) error
}

// AuditRepository defines data access for audit logs.
type AuditRepository interface {
	CreateTx(ctx context.Context, tx Transaction, log *domain.AuditLog) error
	GetByResourceID(ctx context.Context, resourceType, resourceID string) ([]*domain.AuditLog, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Retrier replays an operation while it fails with a transient error.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// SettlementCache remembers settled results so that redeliveries can be
// answered without touching the ledger store. It is advisory only.
type SettlementCache interface {
	Get(ctx context.Context, provider, providerOrderID string) (*domain.SettlementResult, error)
	Put(ctx context.Context, result *domain.SettlementResult, ttl time.Duration) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
	// Release drops a claim so the request can be retried.
	Release(ctx context.Context, key string) error
}
