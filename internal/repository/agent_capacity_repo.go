package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAgentCapacityRepository implements AgentCapacityRepository using GORM
type GormAgentCapacityRepository struct {
	db *gorm.DB
}

// NewGormAgentCapacityRepository creates a new GORM agent capacity repository
func NewGormAgentCapacityRepository(db *gorm.DB) *GormAgentCapacityRepository {
	return &GormAgentCapacityRepository{db: db}
}

// Create provisions an agent for routing
func (r *GormAgentCapacityRepository) Create(ctx context.Context, agent *domain.AgentCapacity) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.Status == "" {
		agent.Status = domain.AgentStatusOffline
	}
	agent.Skills = domain.NewStringSet(agent.Skills...)
	agent.Languages = domain.NewStringSet(agent.Languages...)
	if err := agent.Validate(); err != nil {
		return err
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.AgentCapacity{}).
		Where("tenant_id = ? AND agent_id = ?", agent.TenantID, agent.AgentID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check agent capacity: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: agent %s", domain.ErrAlreadyExists, agent.AgentID)
	}

	if err := r.db.WithContext(ctx).Create(agent).Error; err != nil {
		return fmt.Errorf("failed to create agent capacity: %w", err)
	}
	return nil
}

// Get retrieves an agent's routing profile
func (r *GormAgentCapacityRepository) Get(ctx context.Context, tenantID, agentID string) (*domain.AgentCapacity, error) {
	var agent domain.AgentCapacity
	if err := r.db.WithContext(ctx).
		First(&agent, "tenant_id = ? AND agent_id = ?", tenantID, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agent %s", domain.ErrNotFound, agentID)
		}
		return nil, fmt.Errorf("failed to get agent capacity: %w", err)
	}
	return &agent, nil
}

// List returns every agent of a tenant ordered by agent id
func (r *GormAgentCapacityRepository) List(ctx context.Context, tenantID string) ([]*domain.AgentCapacity, error) {
	var agents []*domain.AgentCapacity
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("agent_id ASC").
		Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("failed to list agent capacities: %w", err)
	}
	return agents, nil
}

// ListAvailable returns routable agents with a free slot. Skill and language
// containment is applied after the query since both live in JSON columns.
func (r *GormAgentCapacityRepository) ListAvailable(ctx context.Context, tenantID string, filter domain.AgentFilter) ([]*domain.AgentCapacity, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND auto_assign_enabled = ?", tenantID, domain.AgentStatusAvailable, true).
		Where("current_conversation_count < max_concurrent_conversations + ?", filter.OverflowSlots)
	if len(filter.ExcludeAgentIDs) > 0 {
		query = query.Where("agent_id NOT IN ?", filter.ExcludeAgentIDs)
	}

	var rows []*domain.AgentCapacity
	if err := query.Order("agent_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list available agents: %w", err)
	}

	agents := make([]*domain.AgentCapacity, 0, len(rows))
	for _, a := range rows {
		if filter.Matches(a) {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

// Update applies a partial update. Lowering the limit below the current load is rejected.
func (r *GormAgentCapacityRepository) Update(ctx context.Context, tenantID, agentID string, req *domain.UpdateAgentCapacityRequest) (*domain.AgentCapacity, error) {
	agent, err := r.Get(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidAgent, *req.Status)
		}
		updates["status"] = *req.Status
	}
	if req.MaxConcurrentConversations != nil {
		if *req.MaxConcurrentConversations < 1 {
			return nil, fmt.Errorf("%w: max_concurrent_conversations must be >= 1", domain.ErrInvalidAgent)
		}
		updates["max_concurrent_conversations"] = *req.MaxConcurrentConversations
	}
	if req.Skills != nil {
		updates["skills"] = domain.NewStringSet(*req.Skills...)
	}
	if req.Languages != nil {
		updates["languages"] = domain.NewStringSet(*req.Languages...)
	}
	if req.AutoAssignEnabled != nil {
		updates["auto_assign_enabled"] = *req.AutoAssignEnabled
	}
	if req.AvgResponseTimeSeconds != nil {
		updates["avg_response_time_seconds"] = *req.AvgResponseTimeSeconds
	}
	if req.SatisfactionScore != nil {
		updates["satisfaction_score"] = *req.SatisfactionScore
	}

	if len(updates) == 0 {
		return agent, nil
	}

	query := r.db.WithContext(ctx).Model(&domain.AgentCapacity{}).
		Where("tenant_id = ? AND agent_id = ?", tenantID, agentID)
	if req.MaxConcurrentConversations != nil {
		query = query.Where("current_conversation_count <= ?", *req.MaxConcurrentConversations)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update agent capacity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: max_concurrent_conversations below current load", domain.ErrInvalidAgent)
	}

	return r.Get(ctx, tenantID, agentID)
}

// IncrementLoad takes one slot with a single conditional update
func (r *GormAgentCapacityRepository) IncrementLoad(ctx context.Context, tenantID, agentID string, overflow int) error {
	result := r.db.WithContext(ctx).Model(&domain.AgentCapacity{}).
		Where("tenant_id = ? AND agent_id = ?", tenantID, agentID).
		Where("current_conversation_count < max_concurrent_conversations + ?", overflow).
		Update("current_conversation_count", gorm.Expr("current_conversation_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment agent load: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, tenantID, agentID); err != nil {
			return err
		}
		return fmt.Errorf("%w: agent %s", domain.ErrCapacityRaceLost, agentID)
	}
	return nil
}

// DecrementLoad frees one slot; it never takes the count below zero
func (r *GormAgentCapacityRepository) DecrementLoad(ctx context.Context, tenantID, agentID string) error {
	result := r.db.WithContext(ctx).Model(&domain.AgentCapacity{}).
		Where("tenant_id = ? AND agent_id = ? AND current_conversation_count > 0", tenantID, agentID).
		Update("current_conversation_count", gorm.Expr("current_conversation_count - 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to decrement agent load: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, tenantID, agentID); err != nil {
			return err
		}
		return fmt.Errorf("%w: agent %s", domain.ErrCapacityUnderflow, agentID)
	}
	return nil
}

// Disable takes the agent out of routing without deleting it
func (r *GormAgentCapacityRepository) Disable(ctx context.Context, tenantID, agentID string) error {
	result := r.db.WithContext(ctx).Model(&domain.AgentCapacity{}).
		Where("tenant_id = ? AND agent_id = ?", tenantID, agentID).
		Updates(map[string]interface{}{
			"status":              domain.AgentStatusOffline,
			"auto_assign_enabled": false,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to disable agent capacity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: agent %s", domain.ErrNotFound, agentID)
	}
	return nil
}
