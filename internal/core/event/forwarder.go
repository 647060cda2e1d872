package event

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"github.com/ClareAI/astra-routing-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

const forwardTimeout = 10 * time.Second

// ForwardToBroker subscribes publisher to every routing event type. Each event is sent
// with its type as routing key; broker failures are logged and the event is dropped.
func ForwardToBroker(bus EventBus, publisher rabbitmq.Publisher, producer string) error {
	handler := func(evt *RoutingEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()

		env := rabbitmq.NewEnvelope(string(evt.Type), producer, evt)
		if evt.ConversationID != "" {
			cid := evt.ConversationID
			env.Meta.CorrelationID = &cid
		}
		if err := publisher.Publish(ctx, string(evt.Type), env); err != nil {
			logger.Base().Error("Failed to forward routing event",
				zap.String("type", string(evt.Type)),
				zap.String("tenant_id", evt.TenantID),
				zap.String("conversation_id", evt.ConversationID),
				zap.Error(err))
		}
	}

	for _, t := range AllRoutingEvents {
		if err := bus.Subscribe(t, handler); err != nil {
			return fmt.Errorf("failed to subscribe forwarder to %s: %w", t, err)
		}
	}
	return nil
}
