package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StageCloseReason records why a stage stopped selling.
type StageCloseReason string

const (
	StageCloseSoldOut     StageCloseReason = "sold_out"
	StageCloseClosedEarly StageCloseReason = "closed_early"
)

// PriceBasis selects which of a stage's two prices applies to a payment.
type PriceBasis string

const (
	PriceBasisFiat   PriceBasis = "fiat"
	PriceBasisStable PriceBasis = "stable"
)

// PresaleStage is a priced tranche of tokens with a fixed inventory ceiling.
type PresaleStage struct {
	Ordinal          int
	PriceFiat        decimal.Decimal
	PriceStable      decimal.Decimal
	TokensAvailable  int64
	TokensSold       int64
	TotalRaised      decimal.Decimal
	ParticipantCount int64
	Active           bool
	Version          int64
	OpenedAt         *time.Time
	ClosedAt         *time.Time
	CloseReason      StageCloseReason
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Price returns the per-token price for the given basis.
func (s *PresaleStage) Price(basis PriceBasis) decimal.Decimal {
	if basis == PriceBasisStable {
		return s.PriceStable
	}
	return s.PriceFiat
}

// Remaining returns the unsold inventory.
func (s *PresaleStage) Remaining() int64 {
	return s.TokensAvailable - s.TokensSold
}

// EverOpened reports whether the stage has been activated at least once.
func (s *PresaleStage) EverOpened() bool {
	return s.OpenedAt != nil
}

// Validate checks the static stage parameters.
func (s *PresaleStage) Validate() error {
	if s.Ordinal <= 0 {
		return fmt.Errorf("%w: ordinal must be positive", ErrInvalidStage)
	}
	if !s.PriceFiat.IsPositive() || !s.PriceStable.IsPositive() {
		return fmt.Errorf("%w: prices must be positive", ErrInvalidStage)
	}
	if s.TokensAvailable < 0 {
		return fmt.Errorf("%w: tokens available must not be negative", ErrInvalidStage)
	}
	if s.TokensSold < 0 || s.TokensSold > s.TokensAvailable {
		return fmt.Errorf("%w: tokens sold out of range", ErrInvalidStage)
	}
	return nil
}

// Clone returns a copy that shares no pointers with s.
func (s *PresaleStage) Clone() *PresaleStage {
	c := *s
	if s.OpenedAt != nil {
		t := *s.OpenedAt
		c.OpenedAt = &t
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// PresaleState is the singleton pointer to the currently active stage.
// ActiveStage is zero when no stage is selling.
type PresaleState struct {
	ActiveStage int
	Version     int64
	UpdatedAt   time.Time
}

// StageSale is one conditional update of a stage's counters.
type StageSale struct {
	Ordinal         int
	ExpectedVersion int64
	Tokens          int64
	Raised          decimal.Decimal
	NewParticipant  bool
	Close           bool
	At              time.Time
}

// StageTransitionKind names a stage lifecycle change.
type StageTransitionKind string

const (
	StageActivated StageTransitionKind = "activated"
	StageClosed    StageTransitionKind = "closed"
)

// StageTransition records a stage opening or closing inside an operation.
type StageTransition struct {
	Ordinal int                 `json:"ordinal"`
	Kind    StageTransitionKind `json:"kind"`
	Reason  StageCloseReason    `json:"reason,omitempty"`
}
