package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
)

type assignmentRepo struct {
	m *Manager
}

func (r *assignmentRepo) Create(ctx context.Context, assignment *domain.ConversationAssignment) error {
	defer r.m.lock()()

	k := key(assignment.TenantID, assignment.ConversationID)
	if existing, ok := r.m.store.data.assignments[k]; ok && existing.Status == domain.AssignmentActive {
		return fmt.Errorf("%w: conversation %s is already assigned", domain.ErrInvalidStateTransition, assignment.ConversationID)
	}
	assignment.Status = domain.AssignmentActive
	assignment.ReleasedAt = nil
	assignment.UpdatedAt = time.Now().UTC()

	stored, err := deepCopy(assignment)
	if err != nil {
		return err
	}
	r.m.store.data.assignments[k] = stored
	return nil
}

func (r *assignmentRepo) Get(ctx context.Context, tenantID, conversationID string) (*domain.ConversationAssignment, error) {
	defer r.m.lock()()

	a, ok := r.m.store.data.assignments[key(tenantID, conversationID)]
	if !ok {
		return nil, fmt.Errorf("%w: assignment for conversation %s", domain.ErrNotFound, conversationID)
	}
	return deepCopy(a)
}

func (r *assignmentRepo) Release(ctx context.Context, tenantID, conversationID, agentID string, at time.Time) error {
	defer r.m.lock()()

	a, err := r.held(tenantID, conversationID, agentID)
	if err != nil {
		return err
	}
	a.Status = domain.AssignmentReleased
	a.ReleasedAt = &at
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *assignmentRepo) Transfer(ctx context.Context, tenantID, conversationID, fromAgentID, toAgentID string, at time.Time) error {
	defer r.m.lock()()

	a, err := r.held(tenantID, conversationID, fromAgentID)
	if err != nil {
		return err
	}
	a.AgentID = toAgentID
	a.AssignedAt = at
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *assignmentRepo) TouchInbound(ctx context.Context, tenantID, conversationID string, at time.Time) error {
	defer r.m.lock()()

	a, err := r.active(tenantID, conversationID)
	if err != nil {
		return err
	}
	a.LastInboundAt = &at
	return nil
}

func (r *assignmentRepo) TouchAgentResponse(ctx context.Context, tenantID, conversationID string, at time.Time) error {
	defer r.m.lock()()

	a, err := r.active(tenantID, conversationID)
	if err != nil {
		return err
	}
	a.LastAgentResponseAt = &at
	return nil
}

func (r *assignmentRepo) ListAwaitingReply(ctx context.Context, tenantID string) ([]*domain.ConversationAssignment, error) {
	defer r.m.lock()()

	var out []*domain.ConversationAssignment
	for _, a := range r.m.store.data.assignments {
		if a.TenantID != tenantID || a.Status != domain.AssignmentActive || !a.AwaitingAgentReply() {
			continue
		}
		c, err := deepCopy(a)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastInboundAt.Before(*out[j].LastInboundAt) })
	return out, nil
}

func (r *assignmentRepo) active(tenantID, conversationID string) (*domain.ConversationAssignment, error) {
	a, ok := r.m.store.data.assignments[key(tenantID, conversationID)]
	if !ok || a.Status != domain.AssignmentActive {
		return nil, fmt.Errorf("%w: no active assignment for conversation %s", domain.ErrNotFound, conversationID)
	}
	return a, nil
}

func (r *assignmentRepo) held(tenantID, conversationID, agentID string) (*domain.ConversationAssignment, error) {
	a, ok := r.m.store.data.assignments[key(tenantID, conversationID)]
	if !ok {
		return nil, fmt.Errorf("%w: assignment for conversation %s", domain.ErrNotFound, conversationID)
	}
	if a.Status != domain.AssignmentActive {
		return nil, fmt.Errorf("%w: conversation %s is not assigned", domain.ErrInvalidStateTransition, conversationID)
	}
	if a.AgentID != agentID {
		return nil, fmt.Errorf("%w: conversation %s is held by %s, not %s",
			domain.ErrInvalidStateTransition, conversationID, a.AgentID, agentID)
	}
	return a, nil
}

type rotationRepo struct {
	m *Manager
}

func (r *rotationRepo) Get(ctx context.Context, tenantID string) (*domain.RotationPointer, error) {
	defer r.m.lock()()

	p, ok := r.m.store.data.rotation[tenantID]
	if !ok {
		return &domain.RotationPointer{TenantID: tenantID}, nil
	}
	return deepCopy(p)
}

func (r *rotationRepo) CompareAndSwap(ctx context.Context, tenantID string, expectedVersion int64, lastAgentID string) (bool, error) {
	defer r.m.lock()()

	p, ok := r.m.store.data.rotation[tenantID]
	current := int64(0)
	if ok {
		current = p.Version
	}
	if current != expectedVersion {
		return false, nil
	}
	r.m.store.data.rotation[tenantID] = &domain.RotationPointer{
		TenantID:    tenantID,
		LastAgentID: lastAgentID,
		Version:     expectedVersion + 1,
		UpdatedAt:   time.Now().UTC(),
	}
	return true, nil
}
