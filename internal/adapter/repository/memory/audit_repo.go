package memory

import (
	"context"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

// AuditRepository implements usecase.AuditRepository.
type AuditRepository struct {
	store *Store
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(store *Store) *AuditRepository {
	return &AuditRepository{store: store}
}

// CreateTx appends an audit log inside tx.
func (r *AuditRepository) CreateTx(_ context.Context, tx usecase.Transaction, log *domain.AuditLog) error {
	d, err := r.store.writable(tx)
	if err != nil {
		return err
	}
	c := *log
	d.audit = append(d.audit, &c)
	return nil
}

// GetByResourceID lists the audit trail of a resource, oldest first.
func (r *AuditRepository) GetByResourceID(_ context.Context, resourceType, resourceID string) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	for _, l := range r.store.committed.Load().audit {
		if l.ResourceType == resourceType && l.ResourceID == resourceID {
			c := *l
			logs = append(logs, &c)
		}
	}
	return logs, nil
}
