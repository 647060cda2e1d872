package cache

import (
	"context"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/core/task"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

const (
	DefaultRuleCacheSize = 4096
	DefaultRuleCacheTTL  = 30 * time.Second
)

// RuleCache keeps each tenant's active routing rules in a bounded, expiring LRU.
// When a task bus is attached, invalidations are broadcast so every instance drops
// its copy; the TTL bounds staleness if a broadcast is missed.
type RuleCache struct {
	entries *expirable.LRU[string, []*domain.RoutingRule]
	bus     task.Bus
	origin  string
}

// NewRuleCache creates a rule cache; bus may be nil for a single instance
func NewRuleCache(size int, ttl time.Duration, bus task.Bus) *RuleCache {
	if size <= 0 {
		size = DefaultRuleCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultRuleCacheTTL
	}
	return &RuleCache{
		entries: expirable.NewLRU[string, []*domain.RoutingRule](size, nil, ttl),
		bus:     bus,
		origin:  uuid.NewString(),
	}
}

// Get returns a copy of the tenant's cached rules
func (c *RuleCache) Get(tenantID string) ([]*domain.RoutingRule, bool) {
	rules, ok := c.entries.Get(tenantID)
	if !ok {
		return nil, false
	}
	return copyRules(rules), true
}

// Set caches a copy of rules for the tenant
func (c *RuleCache) Set(tenantID string, rules []*domain.RoutingRule) {
	c.entries.Add(tenantID, copyRules(rules))
}

// Invalidate drops the tenant locally and tells the other instances to do the same
func (c *RuleCache) Invalidate(ctx context.Context, tenantID string) {
	c.entries.Remove(tenantID)
	if c.bus == nil {
		return
	}
	err := c.bus.Publish(ctx, task.RoutingTask{
		Type:     task.TaskTypeInvalidateRules,
		TenantID: tenantID,
		Origin:   c.origin,
	})
	if err != nil {
		logger.Warn(ctx, "Failed to broadcast rule cache invalidation", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

// HandleTask applies invalidations published by other instances
func (c *RuleCache) HandleTask(t task.RoutingTask) {
	if t.Type != task.TaskTypeInvalidateRules || t.Origin == c.origin {
		return
	}
	c.entries.Remove(t.TenantID)
	logger.Base().Debug("Rule cache invalidated by peer", zap.String("tenant_id", t.TenantID))
}

// Len returns the number of cached tenants
func (c *RuleCache) Len() int {
	return c.entries.Len()
}

func copyRules(rules []*domain.RoutingRule) []*domain.RoutingRule {
	out := make([]*domain.RoutingRule, 0, len(rules))
	for _, rule := range rules {
		cp := &domain.RoutingRule{}
		if err := copier.CopyWithOption(cp, rule, copier.Option{DeepCopy: true}); err != nil {
			logger.Base().Error("Failed to copy routing rule", zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out
}
