package domain

import (
	"encoding/json"
	"time"
)

// AuditLog represents an audit trail entry for compliance and debugging
type AuditLog struct {
	ID           string
	UserID       string // Who performed the action
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	BeforeState  JSON
	AfterState   JSON
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
}

// JSON is a type alias for JSON data
type JSON map[string]any

// AuditAction represents different types of auditable actions
type AuditAction string

const (
	AuditActionAccountCreate    AuditAction = "account.create"
	AuditActionAccountSuspend   AuditAction = "account.suspend"
	AuditActionAccountUnsuspend AuditAction = "account.unsuspend"

	AuditActionDepositCreate AuditAction = "deposit.create"
	AuditActionDepositSettle AuditAction = "deposit.settle"
	AuditActionDepositFail   AuditAction = "deposit.fail"
	AuditActionDepositRefund AuditAction = "deposit.refund"

	AuditActionReferralPayout AuditAction = "referral.payout"

	AuditActionStageCreate          AuditAction = "stage.create"
	AuditActionStageOpen            AuditAction = "stage.open"
	AuditActionStageClose           AuditAction = "stage.close"
	AuditActionStageAdjustInventory AuditAction = "stage.adjust_inventory"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// MarshalState converts a domain object to JSON for audit logging
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}
