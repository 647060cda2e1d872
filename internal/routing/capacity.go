package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"go.uber.org/zap"
)

// CapacityService is the agent capacity store: availability lookups and admin operations.
// Load counters are only changed inside balancer transactions.
type CapacityService struct {
	repos      repository.RepositoryManager
	defaultMax int
}

// NewCapacityService creates a new capacity service. defaultMax is the agent limit for
// tenants that have not configured one; values below 1 use the built-in default.
func NewCapacityService(repos repository.RepositoryManager, defaultMax int) *CapacityService {
	if defaultMax < 1 {
		defaultMax = domain.DefaultMaxConcurrentConversations
	}
	return &CapacityService{repos: repos, defaultMax: defaultMax}
}

// GetAvailableAgents returns routable agents with a free slot that satisfy filter
func (s *CapacityService) GetAvailableAgents(ctx context.Context, tenantID string, filter domain.AgentFilter) ([]*domain.AgentCapacity, error) {
	agents, err := s.repos.AgentCapacity().ListAvailable(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list available agents: %w", err)
	}
	return agents, nil
}

// CreateAgent provisions an agent for routing; the limit defaults to the tenant setting
func (s *CapacityService) CreateAgent(ctx context.Context, tenantID string, req *domain.CreateAgentCapacityRequest) (*domain.AgentCapacity, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", domain.ErrInvalidAgent)
	}

	maxConcurrent := req.MaxConcurrentConversations
	if maxConcurrent == 0 {
		settings, err := s.repos.TenantSettings().Get(ctx, tenantID)
		switch {
		case err == nil && settings.DefaultMaxConcurrent > 0:
			maxConcurrent = settings.DefaultMaxConcurrent
		case err == nil, errors.Is(err, domain.ErrNotFound):
			maxConcurrent = s.defaultMax
		default:
			return nil, fmt.Errorf("failed to load tenant settings: %w", err)
		}
	}

	status := req.Status
	if status == "" {
		status = domain.AgentStatusOffline
	}
	autoAssign := true
	if req.AutoAssignEnabled != nil {
		autoAssign = *req.AutoAssignEnabled
	}

	agent := &domain.AgentCapacity{
		TenantID:                   tenantID,
		AgentID:                    req.AgentID,
		DisplayName:                req.DisplayName,
		Status:                     status,
		MaxConcurrentConversations: maxConcurrent,
		Skills:                     domain.NewStringSet(req.Skills...),
		Languages:                  domain.NewStringSet(req.Languages...),
		AutoAssignEnabled:          autoAssign,
	}
	if err := agent.Validate(); err != nil {
		return nil, err
	}
	if err := s.repos.AgentCapacity().Create(ctx, agent); err != nil {
		return nil, err
	}

	logger.Info(logger.WithTenant(ctx, tenantID), "Agent provisioned for routing",
		zap.String("agent_id", agent.AgentID),
		zap.Int("max_concurrent", agent.MaxConcurrentConversations))
	return agent, nil
}

// GetAgent returns one agent of the tenant
func (s *CapacityService) GetAgent(ctx context.Context, tenantID, agentID string) (*domain.AgentCapacity, error) {
	return s.repos.AgentCapacity().Get(ctx, tenantID, agentID)
}

// ListAgents returns every agent of the tenant, disabled ones included
func (s *CapacityService) ListAgents(ctx context.Context, tenantID string) ([]*domain.AgentCapacity, error) {
	return s.repos.AgentCapacity().List(ctx, tenantID)
}

// UpdateAgent changes status, limits or profile fields. Lowering the limit below the
// current load is rejected.
func (s *CapacityService) UpdateAgent(ctx context.Context, tenantID, agentID string, req *domain.UpdateAgentCapacityRequest) (*domain.AgentCapacity, error) {
	if req.Status != nil && !req.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidAgent, *req.Status)
	}
	if req.MaxConcurrentConversations != nil && *req.MaxConcurrentConversations < 1 {
		return nil, fmt.Errorf("%w: max_concurrent_conversations must be >= 1", domain.ErrInvalidAgent)
	}
	return s.repos.AgentCapacity().Update(ctx, tenantID, agentID, req)
}

// DisableAgent takes the agent out of routing without deleting it
func (s *CapacityService) DisableAgent(ctx context.Context, tenantID, agentID string) error {
	if err := s.repos.AgentCapacity().Disable(ctx, tenantID, agentID); err != nil {
		return err
	}
	logger.Info(logger.WithTenant(ctx, tenantID), "Agent disabled for routing", zap.String("agent_id", agentID))
	return nil
}

// workloadSnapshot captures the score of every candidate at decision time
func workloadSnapshot(candidates []*domain.AgentCapacity) domain.WorkloadScores {
	scores := make(domain.WorkloadScores, len(candidates))
	for _, a := range candidates {
		scores[a.AgentID] = WorkloadScore(a)
	}
	return scores
}

func agentIDs(candidates []*domain.AgentCapacity) domain.StringSet {
	ids := make([]string, 0, len(candidates))
	for _, a := range candidates {
		ids = append(ids, a.AgentID)
	}
	return domain.NewStringSet(ids...)
}
