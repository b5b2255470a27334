package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// ReferralRepository implements usecase.ReferralRepository.
type ReferralRepository struct {
	db DB
}

// NewReferralRepository creates a new ReferralRepository.
func NewReferralRepository(pool *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{db: pool}
}

func newReferralRepository(db DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// Create inserts the referral unless its (referrer, referred, deposit) triple
// already exists, and reports whether it was inserted.
func (r *ReferralRepository) Create(ctx context.Context, tx usecase.Transaction, referral *domain.Referral) (bool, error) {
	tag, err := querier(r.db, tx).Exec(ctx, `
		INSERT INTO referrals (id, referrer_id, referred_id, deposit_id, stage_ordinal,
			amount, currency, paid, capped, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (referrer_id, referred_id, deposit_id) DO NOTHING`,
		referral.ID,
		referral.ReferrerID,
		referral.ReferredID,
		referral.DepositID,
		referral.StageOrdinal,
		referral.Amount,
		referral.Currency,
		referral.Paid,
		referral.Capped,
		referral.CreatedAt,
	)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// SumForReferrerStage totals the bonus a referrer earned in a stage.
func (r *ReferralRepository) SumForReferrerStage(ctx context.Context, tx usecase.Transaction, referrerID string, ordinal int, currency string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := querier(r.db, tx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM referrals
		WHERE referrer_id = $1 AND stage_ordinal = $2 AND currency = $3`,
		referrerID, ordinal, currency,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return total, nil
}

// ListByReferrer lists a referrer's referrals by ID.
func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.Referral, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, referrer_id, referred_id, deposit_id, stage_ordinal, amount,
			currency, paid, capped, created_at
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`,
		referrerID, limit, offset,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var referrals []*domain.Referral
	for rows.Next() {
		var ref domain.Referral
		if err := rows.Scan(
			&ref.ID,
			&ref.ReferrerID,
			&ref.ReferredID,
			&ref.DepositID,
			&ref.StageOrdinal,
			&ref.Amount,
			&ref.Currency,
			&ref.Paid,
			&ref.Capped,
			&ref.CreatedAt,
		); err != nil {
			return nil, mapError(err)
		}
		referrals = append(referrals, &ref)
	}
	return referrals, mapError(rows.Err())
}
