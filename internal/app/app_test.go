package app

import (
	"context"
	"testing"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/config"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/routing"
	"github.com/ClareAI/astra-routing-service/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.RoutingConfig {
	return &config.RoutingConfig{
		Store:                config.StoreMemory,
		DevMode:              true,
		AssignTimeout:        time.Second,
		SweepInterval:        time.Hour,
		SweeperLockTTL:       time.Minute,
		DefaultMaxConcurrent: 2,
	}
}

func queueOne(t *testing.T, a *App, conversationID string) {
	t.Helper()
	res, err := a.Balancer.AssignConversation(context.Background(), &domain.Conversation{ID: conversationID, TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Equal(t, routing.StatusQueued, res.Status)
}

func addAgent(t *testing.T, a *App) {
	t.Helper()
	enabled := true
	_, err := a.Balancer.Capacity().CreateAgent(context.Background(), "tenant-1", &domain.CreateAgentCapacityRequest{
		AgentID:           "agent-a",
		Status:            domain.AgentStatusAvailable,
		AutoAssignEnabled: &enabled,
	})
	require.NoError(t, err)
}

func TestBuildWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, memoryConfig())
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer a.Close()

	assert.Nil(t, a.TaskBus)
	assert.Nil(t, a.Archiver)

	queueOne(t, a, "c1")
	addAgent(t, a)

	results, err := a.RequestDrain(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "agent-a", results[0].AgentID)

	agent, err := a.Balancer.Capacity().GetAgent(ctx, "tenant-1", "agent-a")
	require.NoError(t, err)
	assert.Equal(t, 2, agent.MaxConcurrentConversations, "service default applies without tenant settings")
}

func TestDrainOverTaskBus(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis = redisConfig(mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := Build(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer a.Close()
	require.NotNil(t, a.TaskBus)

	queueOne(t, a, "c1")
	addAgent(t, a)

	results, err := a.RequestDrain(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Nil(t, results, "drain happens on the subscriber")

	assert.Eventually(t, func() bool {
		depth, err := a.Balancer.Queue().Depth(ctx, "tenant-1")
		return err == nil && depth == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store = "cassandra"
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}

func redisConfig(mr *miniredis.Miniredis) redis.RedisConfig {
	return redis.RedisConfig{Host: mr.Host(), Port: mr.Port()}
}
