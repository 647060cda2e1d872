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

// RuleCache holds the active rule list of each tenant
type RuleCache interface {
	Get(tenantID string) ([]*domain.RoutingRule, bool)
	Set(tenantID string, rules []*domain.RoutingRule)
	Invalidate(ctx context.Context, tenantID string)
}

// Resolution is the strategy chosen for one conversation
type Resolution struct {
	Config domain.StrategyConfig
	// Rule is nil when the tenant default applied
	Rule     *domain.RoutingRule
	Fallback bool
}

// Strategy returns the resolved strategy name
func (r Resolution) Strategy() domain.Strategy {
	return r.Config.Strategy()
}

// RuleID returns the id of the winning rule, or "" for the tenant default
func (r Resolution) RuleID() string {
	if r.Rule == nil {
		return ""
	}
	return r.Rule.ID
}

// RuleRegistry resolves which strategy applies to a conversation and manages rules and
// tenant routing settings.
type RuleRegistry struct {
	repos repository.RepositoryManager
	cache RuleCache
}

// NewRuleRegistry creates a registry; cache may be nil
func NewRuleRegistry(repos repository.RepositoryManager, cache RuleCache) *RuleRegistry {
	return &RuleRegistry{repos: repos, cache: cache}
}

// GetActiveStrategy returns the first active rule, by priority, whose conditions the
// conversation satisfies, or the tenant default strategy.
func (r *RuleRegistry) GetActiveStrategy(ctx context.Context, tenantID string, conv *domain.Conversation) (Resolution, error) {
	rules, err := r.activeRules(ctx, tenantID)
	if err != nil {
		return Resolution{}, err
	}

	for _, rule := range rules {
		if !rule.Conditions.Matches(conv) {
			continue
		}
		cfg, err := rule.StrategyConfig()
		if err != nil {
			logger.Warn(ctx, "Skipping routing rule with undecodable config",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
			continue
		}
		return Resolution{Config: cfg, Rule: rule}, nil
	}

	settings, err := r.GetSettings(ctx, tenantID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Config: domain.DefaultStrategyConfig(settings.EffectiveDefaultStrategy()), Fallback: true}, nil
}

func (r *RuleRegistry) activeRules(ctx context.Context, tenantID string) ([]*domain.RoutingRule, error) {
	if r.cache != nil {
		if rules, ok := r.cache.Get(tenantID); ok {
			return rules, nil
		}
	}
	rules, err := r.repos.RoutingRule().List(ctx, tenantID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list active routing rules: %w", err)
	}
	if r.cache != nil {
		r.cache.Set(tenantID, rules)
	}
	return rules, nil
}

// CreateRule validates and stores a new rule
func (r *RuleRegistry) CreateRule(ctx context.Context, tenantID string, req *domain.CreateRoutingRuleRequest) (*domain.RoutingRule, error) {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	priority := req.Priority
	if priority == 0 {
		priority = 5
	}

	rule := &domain.RoutingRule{
		TenantID:   tenantID,
		Name:       req.Name,
		Strategy:   req.Strategy,
		Priority:   priority,
		IsActive:   active,
		Conditions: req.Conditions,
		Config:     req.Config,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := r.repos.RoutingRule().Create(ctx, rule); err != nil {
		return nil, err
	}
	r.invalidate(ctx, tenantID)

	logger.Info(logger.WithTenant(ctx, tenantID), "Routing rule created",
		zap.String("rule_id", rule.ID),
		zap.String("strategy", string(rule.Strategy)),
		zap.Int("priority", rule.Priority))
	return rule, nil
}

// GetRule returns one rule of the tenant
func (r *RuleRegistry) GetRule(ctx context.Context, tenantID, id string) (*domain.RoutingRule, error) {
	return r.repos.RoutingRule().Get(ctx, tenantID, id)
}

// ListRules returns all rules of the tenant in evaluation order
func (r *RuleRegistry) ListRules(ctx context.Context, tenantID string) ([]*domain.RoutingRule, error) {
	return r.repos.RoutingRule().List(ctx, tenantID, false)
}

// UpdateRule applies a partial update and revalidates the rule
func (r *RuleRegistry) UpdateRule(ctx context.Context, tenantID, id string, req *domain.UpdateRoutingRuleRequest) (*domain.RoutingRule, error) {
	rule, err := r.repos.RoutingRule().Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	req.Apply(rule)
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := r.repos.RoutingRule().Save(ctx, rule); err != nil {
		return nil, err
	}
	r.invalidate(ctx, tenantID)
	return rule, nil
}

// DeleteRule removes a rule
func (r *RuleRegistry) DeleteRule(ctx context.Context, tenantID, id string) error {
	if err := r.repos.RoutingRule().Delete(ctx, tenantID, id); err != nil {
		return err
	}
	r.invalidate(ctx, tenantID)
	return nil
}

// GetSettings returns the tenant's routing settings, or the defaults if none were saved
func (r *RuleRegistry) GetSettings(ctx context.Context, tenantID string) (*domain.TenantRoutingSettings, error) {
	settings, err := r.repos.TenantSettings().Get(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultTenantSettings(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant settings: %w", err)
	}
	return settings, nil
}

// UpsertSettings applies req on top of the current settings and saves them
func (r *RuleRegistry) UpsertSettings(ctx context.Context, tenantID string, req *domain.UpsertTenantSettingsRequest) (*domain.TenantRoutingSettings, error) {
	settings, err := r.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	req.Apply(settings)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}
	if err := r.repos.TenantSettings().Upsert(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *RuleRegistry) invalidate(ctx context.Context, tenantID string) {
	if r.cache != nil {
		r.cache.Invalidate(ctx, tenantID)
	}
}
