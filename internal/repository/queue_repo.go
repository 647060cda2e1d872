package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var openQueueStatuses = []domain.QueueStatus{domain.QueueStatusQueued, domain.QueueStatusClaimed}

// GormQueueRepository implements QueueRepository using GORM
type GormQueueRepository struct {
	db *gorm.DB
}

// NewGormQueueRepository creates a new GORM queue repository
func NewGormQueueRepository(db *gorm.DB) *GormQueueRepository {
	return &GormQueueRepository{db: db}
}

// Create inserts a queued entry
func (r *GormQueueRepository) Create(ctx context.Context, entry *domain.QueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = domain.QueueStatusQueued
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to enqueue conversation: %w", err)
	}
	return nil
}

// GetOpen returns the queued or claimed entry of a conversation
func (r *GormQueueRepository) GetOpen(ctx context.Context, tenantID, conversationID string) (*domain.QueueEntry, error) {
	var entry domain.QueueEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND conversation_id = ? AND status IN ?", tenantID, conversationID, openQueueStatuses).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: queue entry for conversation %s", domain.ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return &entry, nil
}

// ListOpen returns queued and claimed entries in queue order
func (r *GormQueueRepository) ListOpen(ctx context.Context, tenantID string) ([]*domain.QueueEntry, error) {
	var entries []*domain.QueueEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, openQueueStatuses).
		Order("priority ASC").Order("enqueued_at ASC").Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	return entries, nil
}

// ListTenantIDs returns tenants that currently have waiting conversations
func (r *GormQueueRepository) ListTenantIDs(ctx context.Context) ([]string, error) {
	var tenantIDs []string
	err := r.db.WithContext(ctx).Model(&domain.QueueEntry{}).
		Where("status = ?", domain.QueueStatusQueued).
		Distinct().Order("tenant_id ASC").
		Pluck("tenant_id", &tenantIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list queued tenants: %w", err)
	}
	return tenantIDs, nil
}

// Claim moves an entry from queued to claimed with a conditional update
func (r *GormQueueRepository) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.QueueEntry{}).
		Where("id = ? AND status = ?", id, domain.QueueStatusQueued).
		Updates(map[string]interface{}{
			"status":     domain.QueueStatusClaimed,
			"claimed_at": at,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim queue entry: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Requeue returns a claimed entry to the queue keeping its original enqueue time
func (r *GormQueueRepository) Requeue(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.QueueStatusClaimed, map[string]interface{}{
		"status":     domain.QueueStatusQueued,
		"claimed_at": nil,
	})
}

// MarkAssigned closes a claimed entry
// RequeueStale releases claims older than olderThan
func (r *GormQueueRepository) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.QueueEntry{}).
		Where("status = ? AND claimed_at < ?", domain.QueueStatusClaimed, olderThan).
		Updates(map[string]interface{}{
			"status":     domain.QueueStatusQueued,
			"claimed_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to requeue stale claims: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// TouchInbound sets last_inbound_at on the conversation's open entry
func (r *GormQueueRepository) TouchInbound(ctx context.Context, tenantID, conversationID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.QueueEntry{}).
		Where("tenant_id = ? AND conversation_id = ? AND status IN ?", tenantID, conversationID, openQueueStatuses).
		Update("last_inbound_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to update last_inbound_at: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: queue entry for conversation %s", domain.ErrNotFound, conversationID)
	}
	return nil
}

func (r *GormQueueRepository) MarkAssigned(ctx context.Context, id, agentID string, at time.Time) error {
	return r.transition(ctx, id, domain.QueueStatusClaimed, map[string]interface{}{
		"status":            domain.QueueStatusAssigned,
		"assigned_at":       at,
		"assigned_agent_id": agentID,
	})
}

// Abandon closes a queued entry without assignment
func (r *GormQueueRepository) Abandon(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&domain.QueueEntry{}).
		Where("id = ? AND status IN ?", id, openQueueStatuses).
		Update("status", domain.QueueStatusAbandoned)
	if result.Error != nil {
		return fmt.Errorf("failed to abandon queue entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: queue entry %s is not open", domain.ErrInvalidStateTransition, id)
	}
	return nil
}

func (r *GormQueueRepository) transition(ctx context.Context, id string, from domain.QueueStatus, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&domain.QueueEntry{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update queue entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: queue entry %s is not %s", domain.ErrInvalidStateTransition, id, from)
	}
	return nil
}
