package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
)

// EscalationEvaluator flags conversations that exceeded the tenant SLA. It never
// changes routing state.
type EscalationEvaluator struct {
	repos    repository.RepositoryManager
	registry *RuleRegistry
	now      func() time.Time
}

// NewEscalationEvaluator creates an evaluator; now defaults to the wall clock
func NewEscalationEvaluator(repos repository.RepositoryManager, registry *RuleRegistry, now func() time.Time) *EscalationEvaluator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if registry == nil {
		registry = NewRuleRegistry(repos, nil)
	}
	return &EscalationEvaluator{repos: repos, registry: registry, now: now}
}

// CheckBreaches returns queued conversations waiting longer than the SLA since they were
// enqueued, then assigned conversations whose customer has been waiting for a reply
// longer than the SLA since the last inbound message. A tenant without an SLA has none.
func (e *EscalationEvaluator) CheckBreaches(ctx context.Context, tenantID string) ([]domain.EscalationCandidate, error) {
	settings, err := e.registry.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	threshold := settings.SLAThreshold()
	if threshold == 0 || settings.Disabled {
		return nil, nil
	}

	now := e.now()
	channels := []string(settings.NotificationChannels)
	candidate := func() domain.EscalationCandidate {
		return domain.EscalationCandidate{
			TenantID:  tenantID,
			Threshold: threshold,
			Target:    settings.EscalationTarget,
			Channels:  channels,
		}
	}

	entries, err := e.repos.Queue().ListOpen(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued conversations: %w", err)
	}
	var breaches []domain.EscalationCandidate
	for _, entry := range entries {
		elapsed := now.Sub(entry.EnqueuedAt)
		if elapsed <= threshold {
			continue
		}
		c := candidate()
		c.ConversationID = entry.ConversationID
		c.State = domain.EscalationStateQueued
		c.Priority = entry.Priority
		c.Since = entry.EnqueuedAt
		c.Elapsed = elapsed
		breaches = append(breaches, c)
	}

	awaiting, err := e.repos.Assignment().ListAwaitingReply(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations awaiting reply: %w", err)
	}
	for _, a := range awaiting {
		if !a.AwaitingAgentReply() {
			continue
		}
		elapsed := now.Sub(*a.LastInboundAt)
		if elapsed <= threshold {
			continue
		}
		c := candidate()
		c.ConversationID = a.ConversationID
		c.State = domain.EscalationStateAssigned
		c.AgentID = a.AgentID
		c.Priority = a.Priority
		c.Since = *a.LastInboundAt
		c.Elapsed = elapsed
		breaches = append(breaches, c)
	}
	return breaches, nil
}
