package repository

import (
	"context"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"gorm.io/gorm"
)

// AgentCapacityRepository defines the interface for agent capacity operations
type AgentCapacityRepository interface {
	// Create operations
	Create(ctx context.Context, agent *domain.AgentCapacity) error

	// Read operations
	Get(ctx context.Context, tenantID, agentID string) (*domain.AgentCapacity, error)
	List(ctx context.Context, tenantID string) ([]*domain.AgentCapacity, error)
	ListAvailable(ctx context.Context, tenantID string, filter domain.AgentFilter) ([]*domain.AgentCapacity, error)

	// Update operations
	Update(ctx context.Context, tenantID, agentID string, req *domain.UpdateAgentCapacityRequest) (*domain.AgentCapacity, error)
	IncrementLoad(ctx context.Context, tenantID, agentID string, overflow int) error
	DecrementLoad(ctx context.Context, tenantID, agentID string) error

	// Delete operations (soft disable)
	Disable(ctx context.Context, tenantID, agentID string) error
}

// RoutingRuleRepository defines the interface for routing rule operations
type RoutingRuleRepository interface {
	Create(ctx context.Context, rule *domain.RoutingRule) error
	Get(ctx context.Context, tenantID, id string) (*domain.RoutingRule, error)
	// List returns rules ordered by priority, created_at, id
	List(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.RoutingRule, error)
	Save(ctx context.Context, rule *domain.RoutingRule) error
	Delete(ctx context.Context, tenantID, id string) error
}

// TenantSettingsRepository defines the interface for tenant routing settings
type TenantSettingsRepository interface {
	Get(ctx context.Context, tenantID string) (*domain.TenantRoutingSettings, error)
	Upsert(ctx context.Context, settings *domain.TenantRoutingSettings) error
	List(ctx context.Context, includeDisabled bool) ([]*domain.TenantRoutingSettings, error)
}

// QueueRepository defines the interface for the conversation queue
type QueueRepository interface {
	Create(ctx context.Context, entry *domain.QueueEntry) error
	// GetOpen returns the queued or claimed entry of a conversation
	GetOpen(ctx context.Context, tenantID, conversationID string) (*domain.QueueEntry, error)
	// ListOpen returns queued and claimed entries in queue order
	ListOpen(ctx context.Context, tenantID string) ([]*domain.QueueEntry, error)
	ListTenantIDs(ctx context.Context) ([]string, error)

	// Claim moves an entry from queued to claimed; false means another worker won
	Claim(ctx context.Context, id string, at time.Time) (bool, error)
	Requeue(ctx context.Context, id string) error
	// RequeueStale returns entries claimed before olderThan to the queue
	RequeueStale(ctx context.Context, olderThan time.Time) (int64, error)
	MarkAssigned(ctx context.Context, id, agentID string, at time.Time) error
	Abandon(ctx context.Context, id string) error
	// TouchInbound records a customer message on the conversation's open entry
	TouchInbound(ctx context.Context, tenantID, conversationID string, at time.Time) error
}

// RoutingHistoryRepository defines the append-only audit log
type RoutingHistoryRepository interface {
	Create(ctx context.Context, entry *domain.RoutingHistoryEntry) error
	// Query returns entries ordered by timestamp then id
	Query(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.RoutingHistoryEntry, error)
}

// AssignmentRepository defines the interface for conversation assignments
type AssignmentRepository interface {
	// Create fails with ErrInvalidStateTransition when the conversation is already actively assigned
	Create(ctx context.Context, assignment *domain.ConversationAssignment) error
	Get(ctx context.Context, tenantID, conversationID string) (*domain.ConversationAssignment, error)
	Release(ctx context.Context, tenantID, conversationID, agentID string, at time.Time) error
	Transfer(ctx context.Context, tenantID, conversationID, fromAgentID, toAgentID string, at time.Time) error
	TouchInbound(ctx context.Context, tenantID, conversationID string, at time.Time) error
	TouchAgentResponse(ctx context.Context, tenantID, conversationID string, at time.Time) error
	ListAwaitingReply(ctx context.Context, tenantID string) ([]*domain.ConversationAssignment, error)
}

// RotationRepository persists round robin pointers
type RotationRepository interface {
	// Get returns a zero-version pointer when the tenant has none yet
	Get(ctx context.Context, tenantID string) (*domain.RotationPointer, error)
	// CompareAndSwap advances the pointer only if its version is still expectedVersion
	CompareAndSwap(ctx context.Context, tenantID string, expectedVersion int64, lastAgentID string) (bool, error)
}

// RepositoryManager combines all repositories
type RepositoryManager interface {
	AgentCapacity() AgentCapacityRepository
	RoutingRule() RoutingRuleRepository
	TenantSettings() TenantSettingsRepository
	Queue() QueueRepository
	History() RoutingHistoryRepository
	Assignment() AssignmentRepository
	Rotation() RotationRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db             *gorm.DB
	agentRepo      *GormAgentCapacityRepository
	ruleRepo       *GormRoutingRuleRepository
	settingsRepo   *GormTenantSettingsRepository
	queueRepo      *GormQueueRepository
	historyRepo    *GormRoutingHistoryRepository
	assignmentRepo *GormAssignmentRepository
	rotationRepo   *GormRotationRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:             db,
		agentRepo:      NewGormAgentCapacityRepository(db),
		ruleRepo:       NewGormRoutingRuleRepository(db),
		settingsRepo:   NewGormTenantSettingsRepository(db),
		queueRepo:      NewGormQueueRepository(db),
		historyRepo:    NewGormRoutingHistoryRepository(db),
		assignmentRepo: NewGormAssignmentRepository(db),
		rotationRepo:   NewGormRotationRepository(db),
	}
}

// AgentCapacity returns the agent capacity repository
func (m *GormRepositoryManager) AgentCapacity() AgentCapacityRepository {
	return m.agentRepo
}

// RoutingRule returns the routing rule repository
func (m *GormRepositoryManager) RoutingRule() RoutingRuleRepository {
	return m.ruleRepo
}

// TenantSettings returns the tenant settings repository
func (m *GormRepositoryManager) TenantSettings() TenantSettingsRepository {
	return m.settingsRepo
}

// Queue returns the conversation queue repository
func (m *GormRepositoryManager) Queue() QueueRepository {
	return m.queueRepo
}

// History returns the routing history repository
func (m *GormRepositoryManager) History() RoutingHistoryRepository {
	return m.historyRepo
}

// Assignment returns the conversation assignment repository
func (m *GormRepositoryManager) Assignment() AssignmentRepository {
	return m.assignmentRepo
}

// Rotation returns the rotation pointer repository
func (m *GormRepositoryManager) Rotation() RotationRepository {
	return m.rotationRepo
}

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositoryManager(tx))
	})
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
