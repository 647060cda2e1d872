package task

import (
	"context"
	"encoding/json"

	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/ClareAI/astra-routing-service/pkg/redis"
	"go.uber.org/zap"
)

const (
	TaskChannel = "astra:routing:tasks"
)

// RedisBus implements the Bus interface using Redis Pub/Sub
type RedisBus struct {
	redisSvc redis.RedisServiceInterface
}

// NewRedisBus creates a new Redis-based task bus
func NewRedisBus(redisSvc redis.RedisServiceInterface) *RedisBus {
	return &RedisBus{redisSvc: redisSvc}
}

// Publish sends a task to the bus
func (b *RedisBus) Publish(ctx context.Context, task RoutingTask) error {
	logger.Base().Debug("Publishing task", zap.String("type", string(task.Type)), zap.String("tenant_id", task.TenantID))
	return b.redisSvc.Publish(ctx, TaskChannel, task)
}

// Subscribe listens for tasks on the bus
func (b *RedisBus) Subscribe(ctx context.Context, handler func(RoutingTask)) error {
	logger.Base().Info("Subscribing to routing tasks")
	return b.redisSvc.Subscribe(ctx, TaskChannel, func(payload string) {
		var task RoutingTask
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			logger.Base().Error("Failed to unmarshal task payload", zap.Error(err))
			return
		}
		if task.TenantID == "" {
			logger.Base().Warn("Dropping task without tenant", zap.String("type", string(task.Type)))
			return
		}
		handler(task)
	})
}
