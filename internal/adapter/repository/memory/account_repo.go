package memory

import (
	"context"
	"sort"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// AccountRepository implements usecase.AccountRepository.
type AccountRepository struct {
	store *Store
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// Create inserts a new account.
func (r *AccountRepository) Create(_ context.Context, tx usecase.Transaction, account *domain.Account) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	if _, ok := d.accounts[account.ID]; ok {
		return domain.ErrAccountExists
	}
	if _, ok := d.emails[account.Email]; ok {
		return domain.ErrAccountExists
	}
	d.accounts[account.ID] = account.Clone()
	d.emails[account.Email] = account.ID
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	return getAccount(r.store.committed.Load(), id)
}

// GetByIDForUpdate retrieves an account inside tx.
func (r *AccountRepository) GetByIDForUpdate(_ context.Context, tx usecase.Transaction, id string) (*domain.Account, error) {
	d, err := r.store.writable(tx)
	if err != nil {
		return nil, err
	}
	return getAccount(d, id)
}

func getAccount(d *data, id string) (*domain.Account, error) {
	a, ok := d.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a.Clone(), nil
}

// Update stores account if its version is current.
func (r *AccountRepository) Update(_ context.Context, tx usecase.Transaction, account *domain.Account) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	stored, ok := d.accounts[account.ID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if stored.Version != account.Version {
		return domain.ErrConcurrencyConflict
	}
	account.Version++
	d.accounts[account.ID] = account.Clone()
	return nil
}

// List lists accounts ordered by ID.
func (r *AccountRepository) List(_ context.Context, limit, offset int) ([]*domain.Account, error) {
	d := r.store.committed.Load()
	ids := make([]string, 0, len(d.accounts))
	for id := range d.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	accounts := make([]*domain.Account, 0, limit)
	for _, id := range page(ids, limit, offset) {
		accounts = append(accounts, d.accounts[id].Clone())
	}
	return accounts, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
