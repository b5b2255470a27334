package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// StageRepository implements usecase.StageRepository.
type StageRepository struct {
	store *Store
}

// NewStageRepository creates a new StageRepository.
func NewStageRepository(store *Store) *StageRepository {
	return &StageRepository{store: store}
}

// Create inserts a stage.
func (r *StageRepository) Create(_ context.Context, tx usecase.Transaction, stage *domain.PresaleStage) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	if _, ok := d.stages[stage.Ordinal]; ok {
		return domain.ErrInvalidStageOrdinal
	}
	d.stages[stage.Ordinal] = stage.Clone()
	return nil
}

// GetByOrdinal retrieves a committed stage.
func (r *StageRepository) GetByOrdinal(_ context.Context, ordinal int) (*domain.PresaleStage, error) {
	return getStage(r.store.committed.Load(), ordinal)
}

// GetByOrdinalForUpdate retrieves a stage inside tx.
func (r *StageRepository) GetByOrdinalForUpdate(_ context.Context, tx usecase.Transaction, ordinal int) (*domain.PresaleStage, error) {
	d, err := r.store.writable(tx)
	if err != nil {
		return nil, err
	}
	return getStage(d, ordinal)
}

func getStage(d *data, ordinal int) (*domain.PresaleStage, error) {
	s, ok := d.stages[ordinal]
	if !ok {
		return nil, domain.ErrStageNotFound
	}
	return s.Clone(), nil
}

// GetActive returns the selling stage.
func (r *StageRepository) GetActive(_ context.Context) (*domain.PresaleStage, error) {
	d := r.store.committed.Load()
	if d.state.ActiveStage == 0 {
		return nil, domain.ErrNoActiveStage
	}
	return getStage(d, d.state.ActiveStage)
}

// ListFrom returns stages with ordinal >= fromOrdinal in ordinal order.
func (r *StageRepository) ListFrom(_ context.Context, tx usecase.Transaction, fromOrdinal int) ([]*domain.PresaleStage, error) {
	d, err := r.store.snapshot(tx)
	if err != nil {
		return nil, err
	}
	return sortedStages(d, fromOrdinal), nil
}

// List returns all stages in ordinal order.
func (r *StageRepository) List(_ context.Context) ([]*domain.PresaleStage, error) {
	return sortedStages(r.store.committed.Load(), 0), nil
}

func sortedStages(d *data, from int) []*domain.PresaleStage {
	stages := make([]*domain.PresaleStage, 0, len(d.stages))
	for ordinal, s := range d.stages {
		if ordinal >= from {
			stages = append(stages, s.Clone())
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Ordinal < stages[j].Ordinal })
	return stages
}

// MaxOrdinal returns the highest ordinal, zero when there are no stages.
func (r *StageRepository) MaxOrdinal(_ context.Context, tx usecase.Transaction) (int, error) {
	d, err := r.store.snapshot(tx)
	if err != nil {
		return 0, err
	}
	highest := 0
	for ordinal := range d.stages {
		if ordinal > highest {
			highest = ordinal
		}
	}
	return highest, nil
}

// TotalRaised sums the fiat raised by every stage.
func (r *StageRepository) TotalRaised(_ context.Context, tx usecase.Transaction) (decimal.Decimal, error) {
	d, err := r.store.snapshot(tx)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, s := range d.stages {
		total = total.Add(s.TotalRaised)
	}
	return total, nil
}

// ApplySale records a sale against an active stage.
func (r *StageRepository) ApplySale(_ context.Context, tx usecase.Transaction, sale domain.StageSale) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	s, ok := d.stages[sale.Ordinal]
	if !ok {
		return domain.ErrStageNotFound
	}
	sold := s.TokensSold + sale.Tokens
	if s.Version != sale.ExpectedVersion || !s.Active || sale.Tokens < 0 || sold > s.TokensAvailable {
		return domain.ErrConcurrencyConflict
	}
	if sale.Close && sold != s.TokensAvailable {
		return domain.ErrConcurrencyConflict
	}

	next := s.Clone()
	next.TokensSold = sold
	next.TotalRaised = next.TotalRaised.Add(sale.Raised)
	if sale.NewParticipant {
		next.ParticipantCount++
	}
	if sale.Close {
		at := sale.At
		next.Active = false
		next.ClosedAt = &at
		next.CloseReason = domain.StageCloseSoldOut
	}
	next.Version++
	next.UpdatedAt = sale.At
	d.stages[sale.Ordinal] = next
	return nil
}

// Activate opens a stage that has never been opened.
func (r *StageRepository) Activate(_ context.Context, tx usecase.Transaction, ordinal int, expectedVersion int64, at time.Time) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	s, ok := d.stages[ordinal]
	if !ok {
		return domain.ErrStageNotFound
	}
	if s.Version != expectedVersion || s.Active || s.EverOpened() {
		return domain.ErrConcurrencyConflict
	}
	for o, other := range d.stages {
		if o != ordinal && other.Active {
			return domain.ErrConcurrencyConflict
		}
	}

	next := s.Clone()
	next.Active = true
	next.OpenedAt = &at
	next.Version++
	next.UpdatedAt = at
	d.stages[ordinal] = next
	return nil
}

// Close ends an active stage.
func (r *StageRepository) Close(_ context.Context, tx usecase.Transaction, ordinal int, expectedVersion int64, reason domain.StageCloseReason, at time.Time) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	s, ok := d.stages[ordinal]
	if !ok {
		return domain.ErrStageNotFound
	}
	if s.Version != expectedVersion || !s.Active {
		return domain.ErrConcurrencyConflict
	}

	next := s.Clone()
	next.Active = false
	next.ClosedAt = &at
	next.CloseReason = reason
	next.Version++
	next.UpdatedAt = at
	d.stages[ordinal] = next
	return nil
}

// UpdateInventory changes the ceiling of a stage that has never been opened.
func (r *StageRepository) UpdateInventory(_ context.Context, tx usecase.Transaction, ordinal int, expectedVersion int64, tokensAvailable int64, at time.Time) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	s, ok := d.stages[ordinal]
	if !ok {
		return domain.ErrStageNotFound
	}
	if s.EverOpened() {
		return domain.ErrStageAlreadyOpened
	}
	if s.Version != expectedVersion || tokensAvailable < s.TokensSold {
		return domain.ErrConcurrencyConflict
	}

	next := s.Clone()
	next.TokensAvailable = tokensAvailable
	next.Version++
	next.UpdatedAt = at
	d.stages[ordinal] = next
	return nil
}

// MarkParticipant records an account's first purchase in a stage.
func (r *StageRepository) MarkParticipant(_ context.Context, tx usecase.Transaction, ordinal int, accountID string, _ time.Time) (bool, error) {
	d, err := r.store.writable(tx)
	if err != nil {
		return false, err
	}
	key := participantKey{ordinal: ordinal, accountID: accountID}
	if _, ok := d.participants[key]; ok {
		return false, nil
	}
	d.participants[key] = struct{}{}
	return true, nil
}

// GetState returns the presale state.
func (r *StageRepository) GetState(_ context.Context, tx usecase.Transaction) (*domain.PresaleState, error) {
	d, err := r.store.snapshot(tx)
	if err != nil {
		return nil, err
	}
	state := d.state
	return &state, nil
}

// SetActiveStage moves the active stage pointer if the state version is current.
func (r *StageRepository) SetActiveStage(_ context.Context, tx usecase.Transaction, expectedVersion int64, ordinal int, at time.Time) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	if d.state.Version != expectedVersion {
		return domain.ErrConcurrencyConflict
	}
	d.state = domain.PresaleState{
		ActiveStage: ordinal,
		Version:     expectedVersion + 1,
		UpdatedAt:   at,
	}
	return nil
}
