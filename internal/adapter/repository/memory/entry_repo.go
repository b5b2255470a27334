package memory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// EntryRepository implements usecase.EntryRepository.
type EntryRepository struct {
	store *Store
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(store *Store) *EntryRepository {
	return &EntryRepository{store: store}
}

// Create appends an entry.
func (r *EntryRepository) Create(_ context.Context, tx usecase.Transaction, entry *domain.Entry) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	e := *entry
	d.entries = append(d.entries, &e)
	return nil
}

// ListByAccount lists an account's entries in insertion order.
func (r *EntryRepository) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	for _, e := range r.store.committed.Load().entries {
		if e.AccountID == accountID {
			c := *e
			entries = append(entries, &c)
		}
	}
	return page(entries, limit, offset), nil
}

// SumByAccount totals an account's entries per currency.
func (r *EntryRepository) SumByAccount(_ context.Context, accountID string) (map[string]decimal.Decimal, error) {
	sums := make(map[string]decimal.Decimal)
	for _, e := range r.store.committed.Load().entries {
		if e.AccountID == accountID {
			sums[e.Currency] = sums[e.Currency].Add(e.Amount)
		}
	}
	return sums, nil
}

// CountByReference counts entries of kind that reference id.
func (r *EntryRepository) CountByReference(_ context.Context, kind domain.EntryKind, referenceID string) int {
	n := 0
	for _, e := range r.store.committed.Load().entries {
		if e.Kind == kind && e.ReferenceID == referenceID {
			n++
		}
	}
	return n
}
