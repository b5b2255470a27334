package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

const accountColumns = `id, email, COALESCE(referrer_id, ''), balances, total_invested,
	tokens_owned, suspended, version, created_at, updated_at`

// AccountRepository implements usecase.AccountRepository.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: pool}
}

func newAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new account.
func (r *AccountRepository) Create(ctx context.Context, tx usecase.Transaction, account *domain.Account) error {
	balances, err := marshalBalances(account.Balances)
	if err != nil {
		return err
	}

	_, err = querier(r.db, tx).Exec(ctx, `
		INSERT INTO accounts (id, email, referrer_id, balances, total_invested,
			tokens_owned, suspended, version, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		account.ID,
		account.Email,
		account.ReferrerID,
		balances,
		account.TotalInvested,
		account.TokensOwned,
		account.Suspended,
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	)
	switch {
	case uniqueViolation(err, ""):
		return domain.ErrAccountExists
	case foreignKeyViolation(err):
		return domain.ErrInvalidReferrer
	}
	return mapError(err)
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByIDForUpdate retrieves an account by ID with a FOR UPDATE lock.
func (r *AccountRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Account, error) {
	row := querier(r.db, tx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

// Update writes the mutable account fields if the stored version matches
// account.Version, then advances account.Version.
func (r *AccountRepository) Update(ctx context.Context, tx usecase.Transaction, account *domain.Account) error {
	balances, err := marshalBalances(account.Balances)
	if err != nil {
		return err
	}

	tag, err := querier(r.db, tx).Exec(ctx, `
		UPDATE accounts
		SET balances = $3, total_invested = $4, tokens_owned = $5, suspended = $6,
			version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2`,
		account.ID,
		account.Version,
		balances,
		account.TotalInvested,
		account.TokensOwned,
		account.Suspended,
		account.UpdatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrencyConflict
	}

	account.Version++
	return nil
}

// List lists accounts with pagination.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	accounts := make([]*domain.Account, 0, limit)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, mapError(rows.Err())
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a        domain.Account
		balances []byte
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.ReferrerID,
		&balances,
		&a.TotalInvested,
		&a.TokensOwned,
		&a.Suspended,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, mapError(err)
	}

	a.Balances = make(map[string]decimal.Decimal)
	if len(balances) > 0 {
		if err := json.Unmarshal(balances, &a.Balances); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func marshalBalances(balances map[string]decimal.Decimal) ([]byte, error) {
	if balances == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(balances)
}
