package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// DepositRepository implements usecase.DepositRepository.
type DepositRepository struct {
	store *Store
}

// NewDepositRepository creates a new DepositRepository.
func NewDepositRepository(store *Store) *DepositRepository {
	return &DepositRepository{store: store}
}

// Create inserts a deposit.
func (r *DepositRepository) Create(_ context.Context, tx usecase.Transaction, deposit *domain.Deposit) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	return insertDeposit(d, deposit)
}

func insertDeposit(d *data, deposit *domain.Deposit) error {
	key := orderKey{provider: deposit.Provider, orderID: deposit.ProviderOrderID}
	if _, ok := d.orders[key]; ok {
		return domain.ErrDepositExists
	}
	d.deposits[deposit.ID] = deposit.Clone()
	d.orders[key] = deposit.ID
	return nil
}

// GetByID retrieves a deposit by ID.
func (r *DepositRepository) GetByID(_ context.Context, id string) (*domain.Deposit, error) {
	return getDeposit(r.store.committed.Load(), id)
}

// GetByIDForUpdate retrieves a deposit inside tx.
func (r *DepositRepository) GetByIDForUpdate(_ context.Context, tx usecase.Transaction, id string) (*domain.Deposit, error) {
	d, err := r.store.writable(tx)
	if err != nil {
		return nil, err
	}
	return getDeposit(d, id)
}

func getDeposit(d *data, id string) (*domain.Deposit, error) {
	dep, ok := d.deposits[id]
	if !ok {
		return nil, domain.ErrDepositNotFound
	}
	return dep.Clone(), nil
}

// GetByProviderOrder retrieves a deposit by provider order.
func (r *DepositRepository) GetByProviderOrder(_ context.Context, provider, providerOrderID string) (*domain.Deposit, error) {
	d := r.store.committed.Load()
	id, ok := d.orders[orderKey{provider: provider, orderID: providerOrderID}]
	if !ok {
		return nil, domain.ErrDepositNotFound
	}
	return getDeposit(d, id)
}

// ReserveForSettlement returns the deposit for the candidate's provider
// order, inserting the candidate if it does not exist. Writers are already
// serialized by the store, so the row is never held by someone else.
func (r *DepositRepository) ReserveForSettlement(_ context.Context, tx usecase.Transaction, candidate *domain.Deposit) (*domain.Deposit, error) {
	d, err := r.store.writable(tx)
	if err != nil {
		return nil, err
	}
	key := orderKey{provider: candidate.Provider, orderID: candidate.ProviderOrderID}
	if id, ok := d.orders[key]; ok {
		return getDeposit(d, id)
	}
	if err := insertDeposit(d, candidate); err != nil {
		return nil, err
	}
	return candidate.Clone(), nil
}

// MarkSettled stores the settlement figures of a PENDING deposit.
func (r *DepositRepository) MarkSettled(_ context.Context, tx usecase.Transaction, deposit *domain.Deposit) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	stored, ok := d.deposits[deposit.ID]
	if !ok {
		return domain.ErrDepositNotFound
	}
	if stored.Status != domain.DepositPending {
		return domain.ErrDepositNotSettleable
	}
	if deposit.TokensCredited > 0 {
		if _, dup := d.purchaseRefs[deposit.ID]; dup {
			return domain.ErrDuplicateSettlement
		}
		d.purchaseRefs[deposit.ID] = struct{}{}
	}
	d.deposits[deposit.ID] = deposit.Clone()
	return nil
}

// UpdateStatus changes the status of a deposit.
func (r *DepositRepository) UpdateStatus(_ context.Context, tx usecase.Transaction, id string, status domain.DepositStatus, reason string, at time.Time) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	stored, ok := d.deposits[id]
	if !ok {
		return domain.ErrDepositNotFound
	}
	next := stored.Clone()
	next.Status = status
	next.FailureReason = reason
	next.UpdatedAt = at
	d.deposits[id] = next
	return nil
}

// MarkReferralProcessed records that a deposit's referral has been handled.
func (r *DepositRepository) MarkReferralProcessed(_ context.Context, tx usecase.Transaction, id string, at time.Time) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	stored, ok := d.deposits[id]
	if !ok {
		return domain.ErrDepositNotFound
	}
	next := stored.Clone()
	next.ReferralProcessedAt = &at
	next.UpdatedAt = at
	d.deposits[id] = next
	return nil
}

// DeferReferral counts a failed payout attempt and postpones the deposit.
func (r *DepositRepository) DeferReferral(ctx context.Context, id string, retryAt time.Time) error {
	return r.store.update(ctx, func(d *data) error {
		stored, ok := d.deposits[id]
		if !ok || stored.ReferralProcessedAt != nil {
			return domain.ErrDepositNotFound
		}
		next := stored.Clone()
		next.ReferralAttempts++
		next.ReferralRetryAt = &retryAt
		d.deposits[id] = next
		return nil
	})
}

// ListPendingReferrals returns settled deposits whose referral has not been
// processed and is not deferred, oldest settlement first.
func (r *DepositRepository) ListPendingReferrals(_ context.Context, limit int) ([]*domain.Deposit, error) {
	d := r.store.committed.Load()
	now := time.Now()
	var pending []*domain.Deposit
	for _, dep := range d.deposits {
		if dep.ReferralRetryAt != nil && dep.ReferralRetryAt.After(now) {
			continue
		}
		if dep.Status == domain.DepositSettled && dep.ReferralProcessedAt == nil {
			pending = append(pending, dep.Clone())
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := settledAt(pending[i]), settledAt(pending[j])
		if a.Equal(b) {
			return pending[i].ID < pending[j].ID
		}
		return a.Before(b)
	})
	return page(pending, limit, 0), nil
}

// ListByAccount lists an account's deposits, newest first.
func (r *DepositRepository) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]*domain.Deposit, error) {
	d := r.store.committed.Load()
	var deposits []*domain.Deposit
	for _, dep := range d.deposits {
		if dep.AccountID == accountID {
			deposits = append(deposits, dep.Clone())
		}
	}
	sort.Slice(deposits, func(i, j int) bool { return deposits[i].ID > deposits[j].ID })
	return page(deposits, limit, offset), nil
}

func settledAt(d *domain.Deposit) time.Time {
	if d.SettledAt == nil {
		return time.Time{}
	}
	return *d.SettledAt
}
