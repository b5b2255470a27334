package usecase

import (
	"context"
	"strconv"
	"time"

	"github.com/iho/presaleledger/internal/domain"
)

func newEvent(idGen IDGenerator, aggregateType, aggregateID, eventType string, payload map[string]any, at time.Time) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            idGen.Generate(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at,
		Published:     false,
	}
}

func stageEvents(idGen IDGenerator, transitions []domain.StageTransition, depositID string, at time.Time) []*domain.OutboxEvent {
	events := make([]*domain.OutboxEvent, 0, len(transitions))
	for _, t := range transitions {
		eventType := domain.EventTypeStageActivated
		if t.Kind == domain.StageClosed {
			eventType = domain.EventTypeStageClosed
		}
		payload := map[string]any{
			"ordinal": t.Ordinal,
			"kind":    string(t.Kind),
		}
		if t.Reason != "" {
			payload["reason"] = string(t.Reason)
		}
		if depositID != "" {
			payload["deposit_id"] = depositID
		}
		events = append(events, newEvent(idGen, domain.AggregateTypeStage, stageAggregateID(t.Ordinal), eventType, payload, at))
	}
	return events
}

func stageAggregateID(ordinal int) string {
	return "stage-" + strconv.Itoa(ordinal)
}

// auditRecord describes one audited change.
type auditRecord struct {
	action       domain.AuditAction
	resourceType string
	resourceID   string
	before       any
	after        any
}

// writeAudit stores an audit row inside tx. The actor is taken from ctx.
func writeAudit(ctx context.Context, tx Transaction, repo AuditRepository, idGen IDGenerator, rec auditRecord) error {
	if repo == nil {
		return nil
	}

	log := &domain.AuditLog{
		ID:           idGen.Generate(),
		UserID:       domain.ActorFromContext(ctx),
		Action:       string(rec.action),
		ResourceType: rec.resourceType,
		ResourceID:   rec.resourceID,
		RequestID:    domain.RequestIDFromContext(ctx),
		BeforeState:  domain.MarshalState(rec.before),
		AfterState:   domain.MarshalState(rec.after),
		Status:       string(domain.AuditStatusSuccess),
		CreatedAt:    time.Now().UTC(),
	}
	return repo.CreateTx(ctx, tx, log)
}
