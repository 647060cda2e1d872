package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormRoutingRuleRepository implements RoutingRuleRepository using GORM
type GormRoutingRuleRepository struct {
	db *gorm.DB
}

// NewGormRoutingRuleRepository creates a new GORM routing rule repository
func NewGormRoutingRuleRepository(db *gorm.DB) *GormRoutingRuleRepository {
	return &GormRoutingRuleRepository{db: db}
}

// Create validates and stores a new rule
func (r *GormRoutingRuleRepository) Create(ctx context.Context, rule *domain.RoutingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create routing rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by id within a tenant
func (r *GormRoutingRuleRepository) Get(ctx context.Context, tenantID, id string) (*domain.RoutingRule, error) {
	var rule domain.RoutingRule
	if err := r.db.WithContext(ctx).First(&rule, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: routing rule %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get routing rule: %w", err)
	}
	return &rule, nil
}

// List returns a tenant's rules in evaluation order
func (r *GormRoutingRuleRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.RoutingRule, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var rules []*domain.RoutingRule
	if err := query.Order("priority ASC").Order("created_at ASC").Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list routing rules: %w", err)
	}
	return rules, nil
}

// Save validates and writes every column of an existing rule
func (r *GormRoutingRuleRepository) Save(ctx context.Context, rule *domain.RoutingRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&domain.RoutingRule{}).
		Where("tenant_id = ? AND id = ?", rule.TenantID, rule.ID).
		Select("name", "strategy", "priority", "is_active", "conditions", "config").
		Updates(rule)
	if result.Error != nil {
		return fmt.Errorf("failed to save routing rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: routing rule %s", domain.ErrNotFound, rule.ID)
	}
	return nil
}

// Delete removes a rule
func (r *GormRoutingRuleRepository) Delete(ctx context.Context, tenantID, id string) error {
	result := r.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&domain.RoutingRule{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete routing rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: routing rule %s", domain.ErrNotFound, id)
	}
	return nil
}
