package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/core/task"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRules() []*domain.RoutingRule {
	return []*domain.RoutingRule{{
		ID:         "rule-1",
		TenantID:   "tenant-1",
		Name:       "vip",
		Strategy:   domain.StrategySkillBased,
		Priority:   1,
		IsActive:   true,
		Conditions: domain.RuleConditions{RequiredTags: []string{"vip"}},
	}}
}

func TestRuleCacheReturnsCopies(t *testing.T) {
	c := NewRuleCache(10, time.Minute, nil)

	_, ok := c.Get("tenant-1")
	assert.False(t, ok)

	rules := sampleRules()
	c.Set("tenant-1", rules)
	rules[0].Name = "changed after set"

	got, ok := c.Get("tenant-1")
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "vip", got[0].Name)

	got[0].Conditions.RequiredTags[0] = "changed after get"
	again, _ := c.Get("tenant-1")
	assert.Equal(t, []string{"vip"}, again[0].Conditions.RequiredTags)
	assert.Equal(t, 1, c.Len())
}

func TestRuleCacheExpires(t *testing.T) {
	c := NewRuleCache(10, 20*time.Millisecond, nil)
	c.Set("tenant-1", sampleRules())

	assert.Eventually(t, func() bool {
		_, ok := c.Get("tenant-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRuleCacheInvalidatesPeers(t *testing.T) {
	mr := miniredis.RunT(t)
	svc, err := redis.NewRedisService(&redis.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := task.NewRedisBus(svc)
	local := NewRuleCache(10, time.Minute, bus)
	peer := NewRuleCache(10, time.Minute, bus)
	require.NoError(t, bus.Subscribe(ctx, local.HandleTask))
	require.NoError(t, bus.Subscribe(ctx, peer.HandleTask))

	local.Set("tenant-1", sampleRules())
	peer.Set("tenant-1", sampleRules())
	peer.Set("tenant-2", sampleRules())

	local.Invalidate(ctx, "tenant-1")
	_, ok := local.Get("tenant-1")
	assert.False(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := peer.Get("tenant-1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok = peer.Get("tenant-2")
	assert.True(t, ok)
}
