package domain

import "time"

// Event types
const (
	EventTypeDepositSettled  = "deposit.settled"
	EventTypeDepositFailed   = "deposit.failed"
	EventTypeDepositRefunded = "deposit.refunded"
	EventTypeStageActivated  = "stage.activated"
	EventTypeStageClosed     = "stage.closed"
	EventTypeReferralPaid    = "referral.paid"
	EventTypeAccountCreated  = "account.created"
)

// Aggregate types
const (
	AggregateTypeDeposit  = "deposit"
	AggregateTypeStage    = "stage"
	AggregateTypeReferral = "referral"
	AggregateTypeAccount  = "account"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}
