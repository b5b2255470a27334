package domain

import "errors"

var (
	// Account errors
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrAccountExists    = errors.New("account with this email already exists")
	ErrInvalidReferrer  = errors.New("invalid referrer")

	// Stage errors
	ErrStageNotFound       = errors.New("presale stage not found")
	ErrStageExhausted      = errors.New("presale stages exhausted")
	ErrNoActiveStage       = errors.New("no active presale stage")
	ErrStageAlreadyActive  = errors.New("another presale stage is already active")
	ErrStageAlreadyOpened  = errors.New("presale stage has already been opened")
	ErrStageOutOfOrder     = errors.New("presale stages must be opened in ordinal order")
	ErrInvalidStageOrdinal = errors.New("stage ordinal must follow the highest existing ordinal")
	ErrInvalidStage        = errors.New("invalid presale stage")

	// Deposit errors
	ErrDepositNotFound      = errors.New("deposit not found")
	ErrDepositExists        = errors.New("deposit already exists for provider order")
	ErrDepositMismatch      = errors.New("deposit does not match settlement request")
	ErrDepositNotSettleable = errors.New("deposit cannot be settled in its current status")
	ErrDepositNotSettled    = errors.New("deposit is not settled")
	ErrInvalidTransition    = errors.New("invalid deposit status transition")
	ErrInvalidOrderID       = errors.New("invalid provider order id")

	// Amount errors
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrAmountBelowPrice    = errors.New("amount does not cover a single token")
	ErrUnsupportedCurrency = errors.New("currency is not accepted for purchases")

	// Settlement errors
	ErrDuplicateSettlement  = errors.New("deposit already settled")
	ErrConcurrencyConflict  = errors.New("concurrent update conflict")
	ErrSettlementInProgress = errors.New("settlement already in progress")
	ErrStoreUnavailable     = errors.New("ledger store unavailable")
)

// IsRetryable reports whether err is transient and the whole operation may be replayed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrSettlementInProgress)
}
