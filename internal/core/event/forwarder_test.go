package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ClareAI/astra-routing-service/pkg/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu   sync.Mutex
	keys []string
	envs []rabbitmq.Envelope
	fail bool
}

func (p *capturePublisher) Publish(ctx context.Context, key string, msg rabbitmq.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("channel closed")
	}
	p.keys = append(p.keys, key)
	p.envs = append(p.envs, msg)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func TestForwardToBroker(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	pub := &capturePublisher{}
	require.NoError(t, ForwardToBroker(bus, pub, "astra-routing"))

	require.NoError(t, bus.PublishEvent(NewRoutingEvent(ConversationAssigned, "t1", "c1").WithAgent("a1").WithStrategy("least_loaded", "")))
	require.NoError(t, bus.PublishEvent(NewRoutingEvent(HandlerPanic, "t1", "")))
	bus.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Equal(t, []string{string(ConversationAssigned)}, pub.keys)

	env := pub.envs[0]
	assert.Equal(t, string(ConversationAssigned), env.Meta.Type)
	require.NotNil(t, env.Meta.CorrelationID)
	assert.Equal(t, "c1", *env.Meta.CorrelationID)
	data, ok := env.Data.(*RoutingEvent)
	require.True(t, ok)
	assert.Equal(t, "a1", data.AgentID)
}

func TestForwardToBrokerSwallowsFailures(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	require.NoError(t, ForwardToBroker(bus, &capturePublisher{fail: true}, ""))

	assert.NoError(t, bus.PublishEvent(NewRoutingEvent(ConversationQueued, "t1", "c1")))
	bus.Wait()
}
