package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

const depositColumns = `id, account_id, provider, provider_order_id, amount_paid, currency, status,
	COALESCE(stage_ordinal, 0), tokens_credited, shortfall_amount, change_amount,
	token_balance_after, fiat_raised_after, COALESCE(failure_reason, ''),
	settled_at, referral_processed_at, referral_attempts, referral_retry_at,
	created_at, updated_at`

// DepositRepository implements usecase.DepositRepository.
type DepositRepository struct {
	db DB
}

// NewDepositRepository creates a new DepositRepository.
func NewDepositRepository(pool *pgxpool.Pool) *DepositRepository {
	return &DepositRepository{db: pool}
}

func newDepositRepository(db DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// Create inserts a deposit.
func (r *DepositRepository) Create(ctx context.Context, tx usecase.Transaction, deposit *domain.Deposit) error {
	_, err := querier(r.db, tx).Exec(ctx, insertDepositSQL, depositArgs(deposit)...)
	if uniqueViolation(err, "deposits_provider_order_key") {
		return domain.ErrDepositExists
	}
	if foreignKeyViolation(err) {
		return domain.ErrAccountNotFound
	}
	return mapError(err)
}

const insertDepositSQL = `
	INSERT INTO deposits (id, account_id, provider, provider_order_id, amount_paid, currency,
		status, tokens_credited, shortfall_amount, change_amount, token_balance_after,
		fiat_raised_after, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func depositArgs(d *domain.Deposit) []any {
	return []any{
		d.ID,
		d.AccountID,
		d.Provider,
		d.ProviderOrderID,
		d.AmountPaid,
		d.Currency,
		string(d.Status),
		d.TokensCredited,
		d.ShortfallAmount,
		d.ChangeAmount,
		d.TokenBalanceAfter,
		d.FiatRaisedAfter,
		d.CreatedAt,
		d.UpdatedAt,
	}
}

// GetByID retrieves a deposit by ID.
func (r *DepositRepository) GetByID(ctx context.Context, id string) (*domain.Deposit, error) {
	return scanDeposit(r.db.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
}

// GetByIDForUpdate retrieves a deposit with a FOR UPDATE lock.
func (r *DepositRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Deposit, error) {
	return scanDeposit(querier(r.db, tx).QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE id = $1 FOR UPDATE`, id))
}

// GetByProviderOrder retrieves a deposit by provider order.
func (r *DepositRepository) GetByProviderOrder(ctx context.Context, provider, providerOrderID string) (*domain.Deposit, error) {
	return scanDeposit(r.db.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE provider = $1 AND provider_order_id = $2`,
		provider, providerOrderID))
}

// ReserveForSettlement inserts the candidate unless its provider order is
// already known, then locks the order's row without waiting. A row held by
// another transaction yields domain.ErrSettlementInProgress.
func (r *DepositRepository) ReserveForSettlement(ctx context.Context, tx usecase.Transaction, candidate *domain.Deposit) (*domain.Deposit, error) {
	db := querier(r.db, tx)

	_, err := db.Exec(ctx, insertDepositSQL+` ON CONFLICT (provider, provider_order_id) DO NOTHING`, depositArgs(candidate)...)
	if err != nil {
		if foreignKeyViolation(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, mapError(err)
	}

	return scanDeposit(db.QueryRow(ctx, `
		SELECT `+depositColumns+` FROM deposits
		WHERE provider = $1 AND provider_order_id = $2
		FOR UPDATE NOWAIT`,
		candidate.Provider, candidate.ProviderOrderID))
}

// MarkSettled stores the settlement figures of a PENDING deposit.
func (r *DepositRepository) MarkSettled(ctx context.Context, tx usecase.Transaction, deposit *domain.Deposit) error {
	tag, err := querier(r.db, tx).Exec(ctx, `
		UPDATE deposits
		SET status = $2, stage_ordinal = NULLIF($3, 0), tokens_credited = $4,
			shortfall_amount = $5, change_amount = $6, token_balance_after = $7,
			fiat_raised_after = $8, settled_at = $9, updated_at = $10
		WHERE id = $1 AND status = 'PENDING'`,
		deposit.ID,
		string(domain.DepositSettled),
		deposit.StageOrdinal,
		deposit.TokensCredited,
		deposit.ShortfallAmount,
		deposit.ChangeAmount,
		deposit.TokenBalanceAfter,
		deposit.FiatRaisedAfter,
		deposit.SettledAt,
		deposit.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDepositNotSettleable
	}
	return nil
}

// UpdateStatus changes the status of a deposit.
func (r *DepositRepository) UpdateStatus(ctx context.Context, tx usecase.Transaction, id string, status domain.DepositStatus, reason string, at time.Time) error {
	tag, err := querier(r.db, tx).Exec(ctx, `
		UPDATE deposits SET status = $2, failure_reason = NULLIF($3, ''), updated_at = $4
		WHERE id = $1`,
		id, string(status), reason, at,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDepositNotFound
	}
	return nil
}

// MarkReferralProcessed records that a deposit's referral has been handled.
func (r *DepositRepository) MarkReferralProcessed(ctx context.Context, tx usecase.Transaction, id string, at time.Time) error {
	tag, err := querier(r.db, tx).Exec(ctx,
		`UPDATE deposits SET referral_processed_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDepositNotFound
	}
	return nil
}

// DeferReferral counts a failed payout attempt and postpones the deposit.
func (r *DepositRepository) DeferReferral(ctx context.Context, id string, retryAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE deposits
		SET referral_attempts = referral_attempts + 1, referral_retry_at = $2
		WHERE id = $1 AND referral_processed_at IS NULL`,
		id, retryAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDepositNotFound
	}
	return nil
}

// ListPendingReferrals returns settled deposits whose referral has not been
// processed and is not deferred, oldest settlement first.
func (r *DepositRepository) ListPendingReferrals(ctx context.Context, limit int) ([]*domain.Deposit, error) {
	return r.list(ctx, `
		SELECT `+depositColumns+` FROM deposits
		WHERE status = 'SETTLED' AND referral_processed_at IS NULL
			AND (referral_retry_at IS NULL OR referral_retry_at <= NOW())
		ORDER BY settled_at, id
		LIMIT $1`, limit)
}

// ListByAccount lists an account's deposits, newest first.
func (r *DepositRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error) {
	return r.list(ctx, `
		SELECT `+depositColumns+` FROM deposits
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
}

func (r *DepositRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Deposit, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var deposits []*domain.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, mapError(rows.Err())
}

func scanDeposit(row pgx.Row) (*domain.Deposit, error) {
	var (
		d      domain.Deposit
		status string
	)
	err := row.Scan(
		&d.ID,
		&d.AccountID,
		&d.Provider,
		&d.ProviderOrderID,
		&d.AmountPaid,
		&d.Currency,
		&status,
		&d.StageOrdinal,
		&d.TokensCredited,
		&d.ShortfallAmount,
		&d.ChangeAmount,
		&d.TokenBalanceAfter,
		&d.FiatRaisedAfter,
		&d.FailureReason,
		&d.SettledAt,
		&d.ReferralProcessedAt,
		&d.ReferralAttempts,
		&d.ReferralRetryAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDepositNotFound
		}
		return nil, mapError(err)
	}
	d.Status = domain.DepositStatus(status)
	return &d, nil
}
