package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTenantSettingsRepository implements TenantSettingsRepository using GORM
type GormTenantSettingsRepository struct {
	db *gorm.DB
}

// NewGormTenantSettingsRepository creates a new GORM tenant settings repository
func NewGormTenantSettingsRepository(db *gorm.DB) *GormTenantSettingsRepository {
	return &GormTenantSettingsRepository{db: db}
}

// Get retrieves a tenant's routing settings
func (r *GormTenantSettingsRepository) Get(ctx context.Context, tenantID string) (*domain.TenantRoutingSettings, error) {
	var settings domain.TenantRoutingSettings
	if err := r.db.WithContext(ctx).First(&settings, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: tenant settings %s", domain.ErrNotFound, tenantID)
		}
		return nil, fmt.Errorf("failed to get tenant settings: %w", err)
	}
	return &settings, nil
}

// Upsert creates or replaces a tenant's routing settings
func (r *GormTenantSettingsRepository) Upsert(ctx context.Context, settings *domain.TenantRoutingSettings) error {
	if settings.DefaultStrategy == "" {
		settings.DefaultStrategy = domain.StrategyRoundRobin
	}
	if settings.DefaultMaxConcurrent < 1 {
		settings.DefaultMaxConcurrent = domain.DefaultMaxConcurrentConversations
	}
	settings.NotificationChannels = domain.NewStringSet(settings.NotificationChannels...)
	if err := settings.Validate(); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tenant_name", "default_strategy", "default_max_concurrent", "sla_threshold_minutes",
			"escalation_target", "notification_channels", "escalation_email", "escalation_phone",
			"escalation_webhook_url", "disabled", "updated_at",
		}),
	}).Create(settings).Error
	if err != nil {
		return fmt.Errorf("failed to upsert tenant settings: %w", err)
	}
	return nil
}

// List returns all configured tenants
func (r *GormTenantSettingsRepository) List(ctx context.Context, includeDisabled bool) ([]*domain.TenantRoutingSettings, error) {
	query := r.db.WithContext(ctx)
	if !includeDisabled {
		query = query.Where("disabled = ?", false)
	}

	var settings []*domain.TenantRoutingSettings
	if err := query.Order("tenant_id ASC").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to list tenant settings: %w", err)
	}
	return settings, nil
}
