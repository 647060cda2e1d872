package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/google/uuid"
)

type queueRepo struct {
	m *Manager
}

func isOpen(e *domain.QueueEntry) bool {
	return e.Status == domain.QueueStatusQueued || e.Status == domain.QueueStatusClaimed
}

func (r *queueRepo) Create(ctx context.Context, entry *domain.QueueEntry) error {
	defer r.m.lock()()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Status == "" {
		entry.Status = domain.QueueStatusQueued
	}
	if _, ok := r.m.store.data.queue[entry.ID]; ok {
		return fmt.Errorf("%w: queue entry %s", domain.ErrAlreadyExists, entry.ID)
	}
	entry.UpdatedAt = time.Now().UTC()

	stored, err := deepCopy(entry)
	if err != nil {
		return err
	}
	r.m.store.data.queue[entry.ID] = stored
	return nil
}

func (r *queueRepo) GetOpen(ctx context.Context, tenantID, conversationID string) (*domain.QueueEntry, error) {
	defer r.m.lock()()

	for _, e := range r.m.store.data.queue {
		if e.TenantID == tenantID && e.ConversationID == conversationID && isOpen(e) {
			return deepCopy(e)
		}
	}
	return nil, fmt.Errorf("%w: queue entry for conversation %s", domain.ErrNotFound, conversationID)
}

func (r *queueRepo) ListOpen(ctx context.Context, tenantID string) ([]*domain.QueueEntry, error) {
	defer r.m.lock()()

	var entries []*domain.QueueEntry
	for _, e := range r.m.store.data.queue {
		if e.TenantID != tenantID || !isOpen(e) {
			continue
		}
		c, err := deepCopy(e)
		if err != nil {
			return nil, err
		}
		entries = append(entries, c)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
	return entries, nil
}

func (r *queueRepo) ListTenantIDs(ctx context.Context) ([]string, error) {
	defer r.m.lock()()

	seen := make(map[string]struct{})
	var tenantIDs []string
	for _, e := range r.m.store.data.queue {
		if e.Status != domain.QueueStatusQueued {
			continue
		}
		if _, ok := seen[e.TenantID]; ok {
			continue
		}
		seen[e.TenantID] = struct{}{}
		tenantIDs = append(tenantIDs, e.TenantID)
	}
	sort.Strings(tenantIDs)
	return tenantIDs, nil
}

func (r *queueRepo) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	defer r.m.lock()()

	e, ok := r.m.store.data.queue[id]
	if !ok || e.Status != domain.QueueStatusQueued {
		return false, nil
	}
	e.Status = domain.QueueStatusClaimed
	e.ClaimedAt = &at
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *queueRepo) Requeue(ctx context.Context, id string) error {
	defer r.m.lock()()

	e, err := r.expect(id, domain.QueueStatusClaimed)
	if err != nil {
		return err
	}
	e.Status = domain.QueueStatusQueued
	e.ClaimedAt = nil
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *queueRepo) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	defer r.m.lock()()

	var n int64
	for _, e := range r.m.store.data.queue {
		if e.Status != domain.QueueStatusClaimed || e.ClaimedAt == nil || !e.ClaimedAt.Before(olderThan) {
			continue
		}
		e.Status = domain.QueueStatusQueued
		e.ClaimedAt = nil
		e.UpdatedAt = time.Now().UTC()
		n++
	}
	return n, nil
}

func (r *queueRepo) TouchInbound(ctx context.Context, tenantID, conversationID string, at time.Time) error {
	defer r.m.lock()()

	for _, e := range r.m.store.data.queue {
		if e.TenantID == tenantID && e.ConversationID == conversationID && isOpen(e) {
			e.LastInboundAt = &at
			return nil
		}
	}
	return fmt.Errorf("%w: queue entry for conversation %s", domain.ErrNotFound, conversationID)
}

func (r *queueRepo) MarkAssigned(ctx context.Context, id, agentID string, at time.Time) error {
	defer r.m.lock()()

	e, err := r.expect(id, domain.QueueStatusClaimed)
	if err != nil {
		return err
	}
	e.Status = domain.QueueStatusAssigned
	e.AssignedAt = &at
	e.AssignedAgentID = agentID
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *queueRepo) Abandon(ctx context.Context, id string) error {
	defer r.m.lock()()

	e, ok := r.m.store.data.queue[id]
	if !ok || !isOpen(e) {
		return fmt.Errorf("%w: queue entry %s is not open", domain.ErrInvalidStateTransition, id)
	}
	e.Status = domain.QueueStatusAbandoned
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *queueRepo) expect(id string, status domain.QueueStatus) (*domain.QueueEntry, error) {
	e, ok := r.m.store.data.queue[id]
	if !ok || e.Status != status {
		return nil, fmt.Errorf("%w: queue entry %s is not %s", domain.ErrInvalidStateTransition, id, status)
	}
	return e, nil
}
