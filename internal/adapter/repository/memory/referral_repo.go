package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// ReferralRepository implements usecase.ReferralRepository.
type ReferralRepository struct {
	store *Store
}

// NewReferralRepository creates a new ReferralRepository.
func NewReferralRepository(store *Store) *ReferralRepository {
	return &ReferralRepository{store: store}
}

// Create inserts the referral unless its triple already exists.
func (r *ReferralRepository) Create(_ context.Context, tx usecase.Transaction, referral *domain.Referral) (bool, error) {
	d, err := r.store.writable(tx)
	if err != nil {
		return false, err
	}
	key := referralKey{referrerID: referral.ReferrerID, referredID: referral.ReferredID, depositID: referral.DepositID}
	if _, ok := d.referralIndex[key]; ok {
		return false, nil
	}
	c := *referral
	d.referrals[referral.ID] = &c
	d.referralIndex[key] = referral.ID
	return true, nil
}

// SumForReferrerStage totals the bonus a referrer earned in a stage.
func (r *ReferralRepository) SumForReferrerStage(_ context.Context, tx usecase.Transaction, referrerID string, ordinal int, currency string) (decimal.Decimal, error) {
	d, err := r.store.snapshot(tx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, ref := range d.referrals {
		if ref.ReferrerID == referrerID && ref.StageOrdinal == ordinal && ref.Currency == currency {
			total = total.Add(ref.Amount)
		}
	}
	return total, nil
}

// ListByReferrer lists a referrer's referrals by ID.
func (r *ReferralRepository) ListByReferrer(_ context.Context, referrerID string, limit, offset int) ([]*domain.Referral, error) {
	var referrals []*domain.Referral
	for _, ref := range r.store.committed.Load().referrals {
		if ref.ReferrerID == referrerID {
			c := *ref
			referrals = append(referrals, &c)
		}
	}
	sort.Slice(referrals, func(i, j int) bool { return referrals[i].ID < referrals[j].ID })
	return page(referrals, limit, offset), nil
}
