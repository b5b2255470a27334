package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
)

// GuardOutcome is the decision taken for a settlement attempt.
type GuardOutcome int

const (
	// GuardGranted means the caller holds the deposit lock and must settle it.
	GuardGranted GuardOutcome = iota
	// GuardAlreadySettled means the deposit was settled by an earlier attempt.
	GuardAlreadySettled
	// GuardInProgress means another transaction is settling the deposit.
	GuardInProgress
)

func (o GuardOutcome) String() string {
	switch o {
	case GuardGranted:
		return "granted"
	case GuardAlreadySettled:
		return "already_settled"
	case GuardInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// SettleInput is a verified payment confirmation.
type SettleInput struct {
	AccountID       string
	Provider        string
	ProviderOrderID string
	AmountPaid      decimal.Decimal
	Currency        string
}

// IdempotencyGuard makes each (provider, order id) pair settle at most once.
// Exclusivity comes from the deposit row lock taken inside the caller's
// transaction, so the decision and the settlement commit together.
type IdempotencyGuard struct {
	deposits DepositRepository
	idGen    IDGenerator
}

// NewIdempotencyGuard creates a new IdempotencyGuard.
func NewIdempotencyGuard(deposits DepositRepository, idGen IDGenerator) *IdempotencyGuard {
	return &IdempotencyGuard{deposits: deposits, idGen: idGen}
}

// Acquire locks the deposit for req, creating it as PENDING on first sight.
// The returned deposit is nil only when the outcome is GuardInProgress.
func (g *IdempotencyGuard) Acquire(ctx context.Context, tx Transaction, req SettleInput) (GuardOutcome, *domain.Deposit, error) {
	now := time.Now().UTC()
	candidate := &domain.Deposit{
		ID:              g.idGen.Generate(),
		AccountID:       req.AccountID,
		Provider:        req.Provider,
		ProviderOrderID: req.ProviderOrderID,
		AmountPaid:      req.AmountPaid,
		Currency:        req.Currency,
		Status:          domain.DepositPending,
		ShortfallAmount: decimal.Zero,
		ChangeAmount:    decimal.Zero,
		FiatRaisedAfter: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	deposit, err := g.deposits.ReserveForSettlement(ctx, tx, candidate)
	if err != nil {
		if errors.Is(err, domain.ErrSettlementInProgress) {
			return GuardInProgress, nil, nil
		}
		return 0, nil, err
	}

	if !deposit.Matches(req.AccountID, req.AmountPaid, req.Currency) {
		return 0, deposit, domain.ErrDepositMismatch
	}

	switch err := deposit.CanSettle(); {
	case err == nil:
		return GuardGranted, deposit, nil
	case errors.Is(err, domain.ErrDuplicateSettlement):
		return GuardAlreadySettled, deposit, nil
	default:
		return 0, deposit, err
	}
}
