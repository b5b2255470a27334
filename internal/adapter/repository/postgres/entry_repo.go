package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// EntryRepository implements usecase.EntryRepository.
type EntryRepository struct {
	db DB
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{db: pool}
}

func newEntryRepository(db DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// Create appends an entry. A second purchase entry for one deposit violates
// entries_one_purchase_per_deposit.
func (r *EntryRepository) Create(ctx context.Context, tx usecase.Transaction, entry *domain.Entry) error {
	_, err := querier(r.db, tx).Exec(ctx, `
		INSERT INTO entries (id, account_id, currency, kind, amount, balance_after,
			reference_type, reference_id, account_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID,
		entry.AccountID,
		entry.Currency,
		string(entry.Kind),
		entry.Amount,
		entry.BalanceAfter,
		string(entry.ReferenceType),
		entry.ReferenceID,
		entry.AccountVersion,
		entry.CreatedAt,
	)
	if uniqueViolation(err, "entries_one_purchase_per_deposit") {
		return domain.ErrDuplicateSettlement
	}
	return mapError(err)
}

// ListByAccount lists an account's entries in insertion order.
func (r *EntryRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, currency, kind, amount, balance_after,
			reference_type, reference_id, account_version, created_at
		FROM entries
		WHERE account_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	entries := make([]*domain.Entry, 0, limit)
	for rows.Next() {
		var (
			e             domain.Entry
			kind, refType string
		)
		if err := rows.Scan(
			&e.ID,
			&e.AccountID,
			&e.Currency,
			&kind,
			&e.Amount,
			&e.BalanceAfter,
			&refType,
			&e.ReferenceID,
			&e.AccountVersion,
			&e.CreatedAt,
		); err != nil {
			return nil, mapError(err)
		}
		e.Kind = domain.EntryKind(kind)
		e.ReferenceType = domain.ReferenceType(refType)
		entries = append(entries, &e)
	}

	return entries, mapError(rows.Err())
}

// SumByAccount totals an account's entries per currency.
func (r *EntryRepository) SumByAccount(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	rows, err := r.db.Query(ctx,
		`SELECT currency, SUM(amount) FROM entries WHERE account_id = $1 GROUP BY currency`, accountID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			currency string
			total    decimal.Decimal
		)
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, mapError(err)
		}
		sums[currency] = total
	}
	return sums, mapError(rows.Err())
}
