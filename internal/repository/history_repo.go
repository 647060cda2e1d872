package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormRoutingHistoryRepository implements RoutingHistoryRepository using GORM.
// It has no update or delete path.
type GormRoutingHistoryRepository struct {
	db *gorm.DB
}

// NewGormRoutingHistoryRepository creates a new GORM routing history repository
func NewGormRoutingHistoryRepository(db *gorm.DB) *GormRoutingHistoryRepository {
	return &GormRoutingHistoryRepository{db: db}
}

// Create appends a history entry
func (r *GormRoutingHistoryRepository) Create(ctx context.Context, entry *domain.RoutingHistoryEntry) error {
	if entry.ID == "" {
		// v7 ids sort by creation time, which keeps (timestamp, id) ordering stable
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record routing history: %w", err)
	}
	return nil
}

// Query returns a tenant's history ordered by decision time, oldest first unless the
// filter asks for newest first
func (r *GormRoutingHistoryRepository) Query(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.RoutingHistoryEntry, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if filter.ConversationID != "" {
		query = query.Where("conversation_id = ?", filter.ConversationID)
	}
	if filter.AgentID != "" {
		query = query.Where("selected_agent_id = ?", filter.AgentID)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}
	if filter.Strategy != "" {
		query = query.Where("strategy_used = ?", filter.Strategy)
	}
	if !filter.From.IsZero() {
		query = query.Where(`"timestamp" >= ?`, filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where(`"timestamp" <= ?`, filter.To)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if filter.NewestFirst {
		query = query.Order(`"timestamp" DESC`).Order("id DESC")
	} else {
		query = query.Order(`"timestamp" ASC`).Order("id ASC")
	}

	var entries []*domain.RoutingHistoryEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query routing history: %w", err)
	}
	return entries, nil
}
