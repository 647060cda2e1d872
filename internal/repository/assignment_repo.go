package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAssignmentRepository implements AssignmentRepository using GORM
type GormAssignmentRepository struct {
	db *gorm.DB
}

// NewGormAssignmentRepository creates a new GORM assignment repository
func NewGormAssignmentRepository(db *gorm.DB) *GormAssignmentRepository {
	return &GormAssignmentRepository{db: db}
}

// Create inserts an active assignment. Rows are keyed by (tenant_id, conversation_id).
// A released row for the same conversation is overwritten; an active one makes the
// insert a no-op and the call fails.
func (r *GormAssignmentRepository) Create(ctx context.Context, assignment *domain.ConversationAssignment) error {
	assignment.Status = domain.AssignmentActive
	assignment.ReleasedAt = nil

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"agent_id", "status", "priority", "channel", "required_skills",
			"required_language", "preferred_agent_id", "tags", "attributes", "assigned_at",
			"released_at", "last_inbound_at", "last_agent_response_at", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "conversation_assignments", Name: "status"}, Value: domain.AssignmentReleased},
		}},
	}).Create(assignment)
	if result.Error != nil {
		return fmt.Errorf("failed to create assignment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: conversation %s is already assigned", domain.ErrInvalidStateTransition, assignment.ConversationID)
	}
	return nil
}

// Get retrieves the assignment record of a conversation
func (r *GormAssignmentRepository) Get(ctx context.Context, tenantID, conversationID string) (*domain.ConversationAssignment, error) {
	var assignment domain.ConversationAssignment
	err := r.db.WithContext(ctx).
		First(&assignment, "tenant_id = ? AND conversation_id = ?", tenantID, conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: assignment for conversation %s", domain.ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &assignment, nil
}

// Release closes the active assignment held by agentID
func (r *GormAssignmentRepository) Release(ctx context.Context, tenantID, conversationID, agentID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.ConversationAssignment{}).
		Where("tenant_id = ? AND conversation_id = ? AND agent_id = ? AND status = ?",
			tenantID, conversationID, agentID, domain.AssignmentActive).
		Updates(map[string]interface{}{
			"status":      domain.AssignmentReleased,
			"released_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release assignment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainMiss(ctx, tenantID, conversationID, agentID)
	}
	return nil
}

// Transfer moves an active assignment from one agent to another
func (r *GormAssignmentRepository) Transfer(ctx context.Context, tenantID, conversationID, fromAgentID, toAgentID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.ConversationAssignment{}).
		Where("tenant_id = ? AND conversation_id = ? AND agent_id = ? AND status = ?",
			tenantID, conversationID, fromAgentID, domain.AssignmentActive).
		Updates(map[string]interface{}{
			"agent_id":    toAgentID,
			"assigned_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to transfer assignment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainMiss(ctx, tenantID, conversationID, fromAgentID)
	}
	return nil
}

// TouchInbound records a customer message on an active assignment
func (r *GormAssignmentRepository) TouchInbound(ctx context.Context, tenantID, conversationID string, at time.Time) error {
	return r.touch(ctx, tenantID, conversationID, "last_inbound_at", at)
}

// TouchAgentResponse records an agent reply on an active assignment
func (r *GormAssignmentRepository) TouchAgentResponse(ctx context.Context, tenantID, conversationID string, at time.Time) error {
	return r.touch(ctx, tenantID, conversationID, "last_agent_response_at", at)
}

// ListAwaitingReply returns active assignments where the customer wrote last
func (r *GormAssignmentRepository) ListAwaitingReply(ctx context.Context, tenantID string) ([]*domain.ConversationAssignment, error) {
	var assignments []*domain.ConversationAssignment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND last_inbound_at IS NOT NULL", tenantID, domain.AssignmentActive).
		Where("last_agent_response_at IS NULL OR last_inbound_at > last_agent_response_at").
		Order("last_inbound_at ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting assignments: %w", err)
	}
	return assignments, nil
}

func (r *GormAssignmentRepository) touch(ctx context.Context, tenantID, conversationID, column string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.ConversationAssignment{}).
		Where("tenant_id = ? AND conversation_id = ? AND status = ?", tenantID, conversationID, domain.AssignmentActive).
		Update(column, at)
	if result.Error != nil {
		return fmt.Errorf("failed to update %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: no active assignment for conversation %s", domain.ErrNotFound, conversationID)
	}
	return nil
}

func (r *GormAssignmentRepository) explainMiss(ctx context.Context, tenantID, conversationID, agentID string) error {
	current, err := r.Get(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	if current.Status != domain.AssignmentActive {
		return fmt.Errorf("%w: conversation %s is not assigned", domain.ErrInvalidStateTransition, conversationID)
	}
	return fmt.Errorf("%w: conversation %s is held by %s, not %s",
		domain.ErrInvalidStateTransition, conversationID, current.AgentID, agentID)
}
