package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var mu sync.Mutex
	var got []*RoutingEvent
	require.NoError(t, bus.Subscribe(ConversationAssigned, func(e *RoutingEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	}))

	require.NoError(t, bus.PublishEvent(NewRoutingEvent(ConversationAssigned, "t1", "c1").WithAgent("a1")))
	require.NoError(t, bus.PublishEvent(NewRoutingEvent(ConversationQueued, "t1", "c2")))
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].AgentID)

	stats := bus.Stats()
	assert.Equal(t, int64(2), stats.Published)
	assert.Equal(t, int64(1), stats.Undelivered)
	assert.Equal(t, int64(1), stats.ByType[string(ConversationQueued)])
	assert.Equal(t, 1, stats.Subscribers[string(ConversationAssigned)])
}

func TestValidationMiddlewareDropsTenantlessEvents(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	bus.Use(RecoveryMiddleware)
	bus.Use(ValidationMiddleware)

	var calls int32
	require.NoError(t, bus.Subscribe(ConversationReleased, func(e *RoutingEvent) {
		atomic.AddInt32(&calls, 1)
	}))

	require.NoError(t, bus.PublishEvent(NewRoutingEvent(ConversationReleased, "", "c1")))
	require.NoError(t, bus.PublishEvent(NewRoutingEvent(ConversationReleased, "t1", "c1")))
	bus.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDeduplicationMiddleware(t *testing.T) {
	var calls int
	handler := DeduplicationMiddleware(time.Minute)(func(e *RoutingEvent) { calls++ })

	e := NewRoutingEvent(ConversationQueued, "t1", "c1")
	handler(e)
	handler(e)
	handler(NewRoutingEvent(ConversationQueued, "t1", "c2"))

	assert.Equal(t, 2, calls)
}

func TestClosedBusRejectsPublish(t *testing.T) {
	bus := NewEventBus()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.PublishEvent(NewRoutingEvent(ConversationQueued, "t1", "c1")), ErrBusClosed)
	assert.ErrorIs(t, bus.Subscribe(ConversationQueued, func(*RoutingEvent) {}), ErrBusClosed)
	assert.NoError(t, bus.Close())
}

func TestMiddlewareAddedAfterSubscribeStillApplies(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var order []string
	var mu sync.Mutex
	note := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	require.NoError(t, bus.Subscribe(QueueDrained, func(e *RoutingEvent) { note("handler") }))
	bus.Use(func(next EventHandler) EventHandler {
		return func(e *RoutingEvent) {
			note("outer")
			next(e)
		}
	})
	bus.Use(func(next EventHandler) EventHandler {
		return func(e *RoutingEvent) {
			note("inner")
			next(e)
		}
	})

	require.NoError(t, bus.PublishEvent(NewRoutingEvent(QueueDrained, "t1", "")))
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var calls int32
	require.NoError(t, bus.Subscribe(ConversationRejected, func(e *RoutingEvent) { panic("boom") }))
	require.NoError(t, bus.Subscribe(ConversationRejected, func(e *RoutingEvent) { atomic.AddInt32(&calls, 1) }))

	require.NoError(t, bus.PublishEvent(NewRoutingEvent(ConversationRejected, "t1", "c1")))
	bus.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
