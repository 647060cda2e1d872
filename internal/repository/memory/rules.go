package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/google/uuid"
)

type ruleRepo struct {
	m *Manager
}

func (r *ruleRepo) Create(ctx context.Context, rule *domain.RoutingRule) error {
	defer r.m.lock()()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if _, ok := r.m.store.data.rules[rule.ID]; ok {
		return fmt.Errorf("%w: routing rule %s", domain.ErrAlreadyExists, rule.ID)
	}
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	stored, err := deepCopy(rule)
	if err != nil {
		return err
	}
	r.m.store.data.rules[rule.ID] = stored
	return nil
}

func (r *ruleRepo) Get(ctx context.Context, tenantID, id string) (*domain.RoutingRule, error) {
	defer r.m.lock()()

	rule, ok := r.m.store.data.rules[id]
	if !ok || rule.TenantID != tenantID {
		return nil, fmt.Errorf("%w: routing rule %s", domain.ErrNotFound, id)
	}
	return deepCopy(rule)
}

func (r *ruleRepo) List(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.RoutingRule, error) {
	defer r.m.lock()()

	var rules []*domain.RoutingRule
	for _, rule := range r.m.store.data.rules {
		if rule.TenantID != tenantID || (activeOnly && !rule.IsActive) {
			continue
		}
		c, err := deepCopy(rule)
		if err != nil {
			return nil, err
		}
		rules = append(rules, c)
	}
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return rules, nil
}

func (r *ruleRepo) Save(ctx context.Context, rule *domain.RoutingRule) error {
	defer r.m.lock()()

	if err := rule.Validate(); err != nil {
		return err
	}
	existing, ok := r.m.store.data.rules[rule.ID]
	if !ok || existing.TenantID != rule.TenantID {
		return fmt.Errorf("%w: routing rule %s", domain.ErrNotFound, rule.ID)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	stored, err := deepCopy(rule)
	if err != nil {
		return err
	}
	r.m.store.data.rules[rule.ID] = stored
	return nil
}

func (r *ruleRepo) Delete(ctx context.Context, tenantID, id string) error {
	defer r.m.lock()()

	rule, ok := r.m.store.data.rules[id]
	if !ok || rule.TenantID != tenantID {
		return fmt.Errorf("%w: routing rule %s", domain.ErrNotFound, id)
	}
	delete(r.m.store.data.rules, id)
	return nil
}

type settingsRepo struct {
	m *Manager
}

func (r *settingsRepo) Get(ctx context.Context, tenantID string) (*domain.TenantRoutingSettings, error) {
	defer r.m.lock()()

	settings, ok := r.m.store.data.settings[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: tenant settings %s", domain.ErrNotFound, tenantID)
	}
	return deepCopy(settings)
}

func (r *settingsRepo) Upsert(ctx context.Context, settings *domain.TenantRoutingSettings) error {
	defer r.m.lock()()

	if settings.DefaultStrategy == "" {
		settings.DefaultStrategy = domain.StrategyRoundRobin
	}
	if settings.DefaultMaxConcurrent < 1 {
		settings.DefaultMaxConcurrent = domain.DefaultMaxConcurrentConversations
	}
	settings.NotificationChannels = domain.NewStringSet(settings.NotificationChannels...)
	if err := settings.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if existing, ok := r.m.store.data.settings[settings.TenantID]; ok {
		settings.CreatedAt = existing.CreatedAt
	} else {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now

	stored, err := deepCopy(settings)
	if err != nil {
		return err
	}
	r.m.store.data.settings[settings.TenantID] = stored
	return nil
}

func (r *settingsRepo) List(ctx context.Context, includeDisabled bool) ([]*domain.TenantRoutingSettings, error) {
	defer r.m.lock()()

	var out []*domain.TenantRoutingSettings
	for _, s := range r.m.store.data.settings {
		if s.Disabled && !includeDisabled {
			continue
		}
		c, err := deepCopy(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}
