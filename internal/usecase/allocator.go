package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/iho/presaleledger/internal/domain"
)

// StageAllocator writes an allocation to the stage rows and the presale state.
// Every write is conditional on the version read earlier in the same
// transaction, so a concurrent change surfaces as domain.ErrConcurrencyConflict.
type StageAllocator struct {
	stages StageRepository
}

// NewStageAllocator creates a new StageAllocator.
func NewStageAllocator(stages StageRepository) *StageAllocator {
	return &StageAllocator{stages: stages}
}

// Apply records alloc against stages, which must be the slice passed to
// domain.AllocatePurchase. It returns the stage transitions in the order they
// happened.
func (a *StageAllocator) Apply(
	ctx context.Context,
	tx Transaction,
	state *domain.PresaleState,
	stages []*domain.PresaleStage,
	alloc domain.Allocation,
	accountID string,
	at time.Time,
) ([]domain.StageTransition, error) {
	if len(alloc.Slices) > len(stages) {
		return nil, fmt.Errorf("%w: allocation spans %d stages, %d loaded", domain.ErrInvalidStage, len(alloc.Slices), len(stages))
	}

	var transitions []domain.StageTransition

	for i, slice := range alloc.Slices {
		stage := stages[i]
		if stage.Ordinal != slice.Ordinal {
			return nil, domain.ErrConcurrencyConflict
		}
		version := stage.Version

		if i > 0 {
			if err := a.stages.Activate(ctx, tx, stage.Ordinal, version, at); err != nil {
				return nil, err
			}
			version++
			transitions = append(transitions, domain.StageTransition{
				Ordinal: stage.Ordinal,
				Kind:    domain.StageActivated,
			})
		}

		newParticipant := false
		if slice.Tokens > 0 {
			created, err := a.stages.MarkParticipant(ctx, tx, stage.Ordinal, accountID, at)
			if err != nil {
				return nil, err
			}
			newParticipant = created
		}

		sale := domain.StageSale{
			Ordinal:         stage.Ordinal,
			ExpectedVersion: version,
			Tokens:          slice.Tokens,
			Raised:          slice.RaisedFiat,
			NewParticipant:  newParticipant,
			Close:           slice.Closes,
			At:              at,
		}
		if err := a.stages.ApplySale(ctx, tx, sale); err != nil {
			return nil, err
		}

		if slice.Closes {
			transitions = append(transitions, domain.StageTransition{
				Ordinal: stage.Ordinal,
				Kind:    domain.StageClosed,
				Reason:  domain.StageCloseSoldOut,
			})
		}
	}

	// The last touched stage sold out and a later stage exists: open it so
	// the next purchase has somewhere to go.
	if n := len(alloc.Slices); n > 0 && alloc.Slices[n-1].Closes && alloc.NextActive != 0 {
		next := stages[n]
		if next.Ordinal != alloc.NextActive {
			return nil, domain.ErrConcurrencyConflict
		}
		if err := a.stages.Activate(ctx, tx, next.Ordinal, next.Version, at); err != nil {
			return nil, err
		}
		transitions = append(transitions, domain.StageTransition{
			Ordinal: next.Ordinal,
			Kind:    domain.StageActivated,
		})
	}

	if alloc.NextActive != state.ActiveStage {
		if err := a.stages.SetActiveStage(ctx, tx, state.Version, alloc.NextActive, at); err != nil {
			return nil, err
		}
		state.ActiveStage = alloc.NextActive
		state.Version++
		state.UpdatedAt = at
	}

	return transitions, nil
}
