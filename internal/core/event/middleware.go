package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware provides logging for all events
func LoggingMiddleware(next EventHandler) EventHandler {
	return func(event *RoutingEvent) {
		start := time.Now()

		defer func() {
			duration := time.Since(start)
			if event.IsError() {
				logger.Base().Error("Event handler failed",
					zap.String("type", string(event.Type)),
					zap.String("tenant_id", event.TenantID),
					zap.String("conversation_id", event.ConversationID),
					zap.Error(event.Error))
			} else {
				logger.Base().Debug("Event handler completed",
					zap.String("type", string(event.Type)),
					zap.String("conversation_id", event.ConversationID),
					zap.Duration("duration", duration))
			}
		}()

		next(event)
	}
}

// RecoveryMiddleware provides panic recovery for event handlers
func RecoveryMiddleware(next EventHandler) EventHandler {
	return func(event *RoutingEvent) {
		defer func() {
			if r := recover(); r != nil {
				logger.Base().Error("Panic in event handler",
					zap.String("type", string(event.Type)),
					zap.String("conversation_id", event.ConversationID),
					zap.Any("panic", r))
			}
		}()

		next(event)
	}
}

// ValidationMiddleware drops events that cannot be attributed to a tenant
func ValidationMiddleware(next EventHandler) EventHandler {
	return func(event *RoutingEvent) {
		if event == nil {
			logger.Base().Error("Received nil event")
			return
		}
		if event.Type == "" {
			logger.Base().Error("Event type is empty", zap.String("conversation_id", event.ConversationID))
			return
		}
		if event.TenantID == "" {
			logger.Base().Error("Tenant ID is empty", zap.String("type", string(event.Type)))
			return
		}

		next(event)
	}
}

// TimeoutMiddleware provides timeout functionality for event handlers
func TimeoutMiddleware(timeout time.Duration) EventMiddleware {
	return func(next EventHandler) EventHandler {
		return func(event *RoutingEvent) {
			done := make(chan struct{})

			go func() {
				defer close(done)
				next(event)
			}()

			select {
			case <-done:
			case <-time.After(timeout):
				logger.Base().Warn("Event handler timeout",
					zap.String("type", string(event.Type)),
					zap.String("conversation_id", event.ConversationID),
					zap.Duration("timeout", timeout))
			}
		}
	}
}

// DeduplicationMiddleware prevents duplicate events within a time window
func DeduplicationMiddleware(windowSize time.Duration) EventMiddleware {
	var mu sync.Mutex
	seen := make(map[string]time.Time)

	return func(next EventHandler) EventHandler {
		return func(event *RoutingEvent) {
			key := fmt.Sprintf("%s:%s:%s:%s", event.Type, event.TenantID, event.ConversationID, event.AgentID)
			now := time.Now()

			mu.Lock()
			if lastSeen, exists := seen[key]; exists && now.Sub(lastSeen) < windowSize {
				mu.Unlock()
				logger.Base().Debug("Duplicate event within window",
					zap.String("type", string(event.Type)),
					zap.String("conversation_id", event.ConversationID),
					zap.Duration("window_size", windowSize))
				return
			}
			seen[key] = now
			for k, t := range seen {
				if now.Sub(t) > 2*windowSize {
					delete(seen, k)
				}
			}
			mu.Unlock()

			next(event)
		}
	}
}

// CreateProductionMiddlewareChain creates a production-ready middleware chain
func CreateProductionMiddlewareChain() []EventMiddleware {
	return []EventMiddleware{
		RecoveryMiddleware,
		ValidationMiddleware,
		TimeoutMiddleware(30 * time.Second),
		DeduplicationMiddleware(time.Second),
		LoggingMiddleware,
	}
}
