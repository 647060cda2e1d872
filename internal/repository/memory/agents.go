package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/google/uuid"
)

type agentRepo struct {
	m *Manager
}

func (r *agentRepo) Create(ctx context.Context, agent *domain.AgentCapacity) error {
	defer r.m.lock()()

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

	k := key(agent.TenantID, agent.AgentID)
	if _, ok := r.m.store.data.agents[k]; ok {
		return fmt.Errorf("%w: agent %s", domain.ErrAlreadyExists, agent.AgentID)
	}
	now := time.Now().UTC()
	agent.CreatedAt, agent.UpdatedAt = now, now

	stored, err := deepCopy(agent)
	if err != nil {
		return err
	}
	r.m.store.data.agents[k] = stored
	return nil
}

func (r *agentRepo) Get(ctx context.Context, tenantID, agentID string) (*domain.AgentCapacity, error) {
	defer r.m.lock()()
	return r.get(tenantID, agentID)
}

func (r *agentRepo) get(tenantID, agentID string) (*domain.AgentCapacity, error) {
	agent, ok := r.m.store.data.agents[key(tenantID, agentID)]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", domain.ErrNotFound, agentID)
	}
	return deepCopy(agent)
}

func (r *agentRepo) List(ctx context.Context, tenantID string) ([]*domain.AgentCapacity, error) {
	defer r.m.lock()()
	return r.collect(tenantID, func(*domain.AgentCapacity) bool { return true })
}

func (r *agentRepo) ListAvailable(ctx context.Context, tenantID string, filter domain.AgentFilter) ([]*domain.AgentCapacity, error) {
	defer r.m.lock()()
	return r.collect(tenantID, func(a *domain.AgentCapacity) bool {
		return a.Routable() && filter.Matches(a)
	})
}

func (r *agentRepo) collect(tenantID string, keep func(*domain.AgentCapacity) bool) ([]*domain.AgentCapacity, error) {
	var agents []*domain.AgentCapacity
	for _, a := range r.m.store.data.agents {
		if a.TenantID != tenantID || !keep(a) {
			continue
		}
		c, err := deepCopy(a)
		if err != nil {
			return nil, err
		}
		agents = append(agents, c)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents, nil
}

func (r *agentRepo) Update(ctx context.Context, tenantID, agentID string, req *domain.UpdateAgentCapacityRequest) (*domain.AgentCapacity, error) {
	defer r.m.lock()()

	agent, ok := r.m.store.data.agents[key(tenantID, agentID)]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", domain.ErrNotFound, agentID)
	}
	next, err := deepCopy(agent)
	if err != nil {
		return nil, err
	}

	if req.DisplayName != nil {
		next.DisplayName = *req.DisplayName
	}
	if req.Status != nil {
		next.Status = *req.Status
	}
	if req.MaxConcurrentConversations != nil {
		next.MaxConcurrentConversations = *req.MaxConcurrentConversations
		if next.MaxConcurrentConversations >= 1 && next.MaxConcurrentConversations < next.CurrentConversationCount {
			return nil, fmt.Errorf("%w: max_concurrent_conversations below current load", domain.ErrInvalidAgent)
		}
	}
	if req.Skills != nil {
		next.Skills = domain.NewStringSet(*req.Skills...)
	}
	if req.Languages != nil {
		next.Languages = domain.NewStringSet(*req.Languages...)
	}
	if req.AutoAssignEnabled != nil {
		next.AutoAssignEnabled = *req.AutoAssignEnabled
	}
	if req.AvgResponseTimeSeconds != nil {
		next.AvgResponseTimeSeconds = *req.AvgResponseTimeSeconds
	}
	if req.SatisfactionScore != nil {
		next.SatisfactionScore = *req.SatisfactionScore
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	r.m.store.data.agents[key(tenantID, agentID)] = next
	return deepCopy(next)
}

func (r *agentRepo) IncrementLoad(ctx context.Context, tenantID, agentID string, overflow int) error {
	defer r.m.lock()()

	agent, ok := r.m.store.data.agents[key(tenantID, agentID)]
	if !ok {
		return fmt.Errorf("%w: agent %s", domain.ErrNotFound, agentID)
	}
	if !agent.HasFreeSlot(overflow) {
		return fmt.Errorf("%w: agent %s", domain.ErrCapacityRaceLost, agentID)
	}
	agent.CurrentConversationCount++
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *agentRepo) DecrementLoad(ctx context.Context, tenantID, agentID string) error {
	defer r.m.lock()()

	agent, ok := r.m.store.data.agents[key(tenantID, agentID)]
	if !ok {
		return fmt.Errorf("%w: agent %s", domain.ErrNotFound, agentID)
	}
	if agent.CurrentConversationCount <= 0 {
		return fmt.Errorf("%w: agent %s", domain.ErrCapacityUnderflow, agentID)
	}
	agent.CurrentConversationCount--
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *agentRepo) Disable(ctx context.Context, tenantID, agentID string) error {
	defer r.m.lock()()

	agent, ok := r.m.store.data.agents[key(tenantID, agentID)]
	if !ok {
		return fmt.Errorf("%w: agent %s", domain.ErrNotFound, agentID)
	}
	agent.Status = domain.AgentStatusOffline
	agent.AutoAssignEnabled = false
	agent.UpdatedAt = time.Now().UTC()
	return nil
}
