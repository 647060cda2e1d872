package event

import (
	"context"
	"errors"
	"sync"

	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"go.uber.org/zap"
)

// ErrBusClosed is returned when publishing or subscribing after Close
var ErrBusClosed = errors.New("event bus is closed")

// EventHandler receives one routing event
type EventHandler func(event *RoutingEvent)

// EventMiddleware wraps every handler invocation
type EventMiddleware func(next EventHandler) EventHandler

// EventBus fans routing events out to in-process subscribers
type EventBus interface {
	PublishEvent(event *RoutingEvent) error
	Subscribe(eventType EventType, handler EventHandler) error
	Use(middleware EventMiddleware)
	Close() error
	Stats() BusStats
}

// BusStats is a snapshot of bus traffic
type BusStats struct {
	Published   int64            `json:"published"`
	Undelivered int64            `json:"undelivered"`
	ByType      map[string]int64 `json:"by_type"`
	Subscribers map[string]int   `json:"subscribers"`
}

// DefaultEventBus runs each subscriber on its own goroutine. Middleware is applied at
// delivery time, so middleware added after Subscribe still wraps the handler.
type DefaultEventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	chain    []EventMiddleware
	closed   bool
	inflight sync.WaitGroup

	statsMu     sync.Mutex
	published   int64
	undelivered int64
	byType      map[EventType]int64
}

// NewEventBus creates an empty bus
func NewEventBus() *DefaultEventBus {
	return &DefaultEventBus{
		handlers: make(map[EventType][]EventHandler),
		byType:   make(map[EventType]int64),
	}
}

// PublishEvent dispatches event to the subscribers of its type and returns without
// waiting for them
func (b *DefaultEventBus) PublishEvent(event *RoutingEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := append([]EventHandler(nil), b.handlers[event.Type]...)
	chain := append([]EventMiddleware(nil), b.chain...)
	b.mu.RUnlock()

	b.count(event.Type, len(handlers) == 0)
	if len(handlers) == 0 {
		logger.Base().Debug("routing event has no subscribers", zap.String("type", string(event.Type)))
		return nil
	}

	for _, h := range handlers {
		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}
		b.inflight.Add(1)
		go b.deliver(h, event)
	}
	return nil
}

func (b *DefaultEventBus) deliver(h EventHandler, event *RoutingEvent) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Base().Error("routing event handler panicked",
				zap.String("type", string(event.Type)),
				zap.String("conversation_id", event.ConversationID),
				zap.Any("panic", r))
		}
	}()
	h(event)
}

// Publish satisfies the balancer's event sink; failures are logged and swallowed
func (b *DefaultEventBus) Publish(ctx context.Context, event *RoutingEvent) {
	if err := b.PublishEvent(event); err != nil {
		logger.Warn(ctx, "failed to publish routing event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// Subscribe registers handler for one event type
func (b *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)

	logger.Base().Debug("subscribed to routing event", zap.String("type", string(eventType)))
	return nil
}

// Use appends middleware to the delivery chain; the first added runs outermost
func (b *DefaultEventBus) Use(middleware EventMiddleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chain = append(b.chain, middleware)
}

// Wait blocks until every dispatched handler has returned
func (b *DefaultEventBus) Wait() {
	b.inflight.Wait()
}

// Close stops accepting events and drops all subscribers. Deliveries already running
// are not interrupted.
func (b *DefaultEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.handlers = make(map[EventType][]EventHandler)
	b.mu.Unlock()

	logger.Base().Info("routing event bus closed")
	return nil
}

// Stats returns a copy of the traffic counters
func (b *DefaultEventBus) Stats() BusStats {
	b.mu.RLock()
	subscribers := make(map[string]int, len(b.handlers))
	for t, hs := range b.handlers {
		subscribers[string(t)] = len(hs)
	}
	b.mu.RUnlock()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	byType := make(map[string]int64, len(b.byType))
	for t, n := range b.byType {
		byType[string(t)] = n
	}
	return BusStats{
		Published:   b.published,
		Undelivered: b.undelivered,
		ByType:      byType,
		Subscribers: subscribers,
	}
}

func (b *DefaultEventBus) count(eventType EventType, undelivered bool) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.published++
	b.byType[eventType]++
	if undelivered {
		b.undelivered++
	}
}
