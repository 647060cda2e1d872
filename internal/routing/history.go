package routing

import (
	"context"
	"fmt"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// AuditLog is the append-only routing history. Corrections are new entries that
// reference the earlier one; nothing is ever updated or deleted.
type AuditLog struct {
	repos repository.RepositoryManager
}

// NewAuditLog creates an audit log over the repository manager
func NewAuditLog(repos repository.RepositoryManager) *AuditLog {
	return &AuditLog{repos: repos}
}

// Record appends one entry
func (l *AuditLog) Record(ctx context.Context, entry *domain.RoutingHistoryEntry) error {
	return record(ctx, l.repos, entry)
}

// Query returns the tenant's entries matching filter, oldest first unless
// filter.NewestFirst is set
func (l *AuditLog) Query(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.RoutingHistoryEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	entries, err := l.repos.History().Query(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query routing history: %w", err)
	}
	return entries, nil
}

// latest returns the newest entry for a conversation, or nil
func latest(ctx context.Context, repos repository.RepositoryManager, tenantID, conversationID string) (*domain.RoutingHistoryEntry, error) {
	entries, err := repos.History().Query(ctx, tenantID, domain.HistoryFilter{ConversationID: conversationID, Limit: 1, NewestFirst: true})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func record(ctx context.Context, repos repository.RepositoryManager, entry *domain.RoutingHistoryEntry) error {
	if entry.TenantID == "" || entry.ConversationID == "" {
		return fmt.Errorf("history entry needs tenant and conversation")
	}
	if entry.Outcome == "" {
		return fmt.Errorf("history entry needs an outcome")
	}
	return repos.History().Create(ctx, entry)
}
