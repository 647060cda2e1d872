package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRotationRepository implements RotationRepository using GORM
type GormRotationRepository struct {
	db *gorm.DB
}

// NewGormRotationRepository creates a new GORM rotation pointer repository
func NewGormRotationRepository(db *gorm.DB) *GormRotationRepository {
	return &GormRotationRepository{db: db}
}

// Get returns the tenant's pointer, or a zero-version pointer if rotation never ran
func (r *GormRotationRepository) Get(ctx context.Context, tenantID string) (*domain.RotationPointer, error) {
	var pointer domain.RotationPointer
	if err := r.db.WithContext(ctx).First(&pointer, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.RotationPointer{TenantID: tenantID}, nil
		}
		return nil, fmt.Errorf("failed to get rotation pointer: %w", err)
	}
	return &pointer, nil
}

// CompareAndSwap advances the pointer if nobody moved it since expectedVersion was read
func (r *GormRotationRepository) CompareAndSwap(ctx context.Context, tenantID string, expectedVersion int64, lastAgentID string) (bool, error) {
	if expectedVersion == 0 {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.RotationPointer{TenantID: tenantID, LastAgentID: lastAgentID, Version: 1})
		if result.Error != nil {
			return false, fmt.Errorf("failed to create rotation pointer: %w", result.Error)
		}
		return result.RowsAffected == 1, nil
	}

	result := r.db.WithContext(ctx).Model(&domain.RotationPointer{}).
		Where("tenant_id = ? AND version = ?", tenantID, expectedVersion).
		Updates(map[string]interface{}{
			"last_agent_id": lastAgentID,
			"version":       expectedVersion + 1,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to advance rotation pointer: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
