package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"go.uber.org/zap"
)

// EntryPredicate decides whether a queued entry can be served right now
type EntryPredicate func(entry *domain.QueueEntry) bool

// ConversationQueue is the per-tenant holding area for conversations without an eligible agent
type ConversationQueue struct {
	repos repository.RepositoryManager
	now   func() time.Time
}

// NewConversationQueue creates a queue over the repository manager
func NewConversationQueue(repos repository.RepositoryManager, now func() time.Time) *ConversationQueue {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ConversationQueue{repos: repos, now: now}
}

// Enqueue adds the conversation to its tenant queue. An already open entry is returned
// unchanged; an actively assigned conversation is rejected.
func (q *ConversationQueue) Enqueue(ctx context.Context, entry *domain.QueueEntry) (*domain.QueueEntry, bool, error) {
	return enqueue(ctx, q.repos, entry)
}

// enqueue runs against repos so the balancer can call it inside a transaction.
// The bool result is true when a new entry was created.
func enqueue(ctx context.Context, repos repository.RepositoryManager, entry *domain.QueueEntry) (*domain.QueueEntry, bool, error) {
	if entry.AssignedAgentID != "" {
		return nil, false, fmt.Errorf("%w: queue entry for %s already has an assignee", domain.ErrInvalidStateTransition, entry.ConversationID)
	}

	existing, err := repos.Queue().GetOpen(ctx, entry.TenantID, entry.ConversationID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	assignment, err := repos.Assignment().Get(ctx, entry.TenantID, entry.ConversationID)
	if err == nil && assignment.Status == domain.AssignmentActive {
		return nil, false, fmt.Errorf("%w: conversation %s is assigned to %s", domain.ErrInvalidStateTransition, entry.ConversationID, assignment.AgentID)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	if err := repos.Queue().Create(ctx, entry); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// DequeueNext claims the first entry in queue order that pred accepts. A lost claim race
// moves on to the next entry. Nil means nothing claimable.
func (q *ConversationQueue) DequeueNext(ctx context.Context, tenantID string, pred EntryPredicate) (*domain.QueueEntry, error) {
	entries, err := q.repos.Queue().ListOpen(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Status != domain.QueueStatusQueued {
			continue
		}
		if pred != nil && !pred(entry) {
			continue
		}

		at := q.now()
		claimed, err := q.repos.Queue().Claim(ctx, entry.ID, at)
		if err != nil {
			return nil, err
		}
		if !claimed {
			logger.Debug(ctx, "Queue entry claimed by another worker",
				zap.String("tenant_id", tenantID),
				zap.String("queue_entry_id", entry.ID))
			continue
		}
		entry.Status = domain.QueueStatusClaimed
		entry.ClaimedAt = &at
		return entry, nil
	}
	return nil, nil
}

// Requeue returns a claimed entry to the queue; its original position is kept
func (q *ConversationQueue) Requeue(ctx context.Context, entry *domain.QueueEntry) error {
	if err := q.repos.Queue().Requeue(ctx, entry.ID); err != nil {
		return err
	}
	entry.Status = domain.QueueStatusQueued
	entry.ClaimedAt = nil
	return nil
}

// Abandon drops the conversation's open entry, e.g. when the customer leaves
func (q *ConversationQueue) Abandon(ctx context.Context, tenantID, conversationID string) error {
	entry, err := q.repos.Queue().GetOpen(ctx, tenantID, conversationID)
	if err != nil {
		return err
	}
	return q.repos.Queue().Abandon(ctx, entry.ID)
}

// GetPosition returns the 1-based rank of the conversation in its tenant queue
func (q *ConversationQueue) GetPosition(ctx context.Context, tenantID, conversationID string) (int, error) {
	return queuePosition(ctx, q.repos, tenantID, conversationID)
}

// Depth returns the number of open entries of the tenant
func (q *ConversationQueue) Depth(ctx context.Context, tenantID string) (int, error) {
	entries, err := q.repos.Queue().ListOpen(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Entries returns the open entries of the tenant in queue order
func (q *ConversationQueue) Entries(ctx context.Context, tenantID string) ([]*domain.QueueEntry, error) {
	return q.repos.Queue().ListOpen(ctx, tenantID)
}

func queuePosition(ctx context.Context, repos repository.RepositoryManager, tenantID, conversationID string) (int, error) {
	entries, err := repos.Queue().ListOpen(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if e.ConversationID == conversationID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: conversation %s is not queued", domain.ErrNotFound, conversationID)
}
