package event

import (
	"time"
)

// EventType represents the type of event
type EventType string

// Routing decision events
const (
	ConversationAssigned   EventType = "routing.conversation.assigned"
	ConversationQueued     EventType = "routing.conversation.queued"
	ConversationReleased   EventType = "routing.conversation.released"
	ConversationReassigned EventType = "routing.conversation.reassigned"
	ConversationRejected   EventType = "routing.conversation.rejected"
	QueueDrained           EventType = "routing.queue.drained"
	EscalationRaised       EventType = "routing.escalation.raised"

	// Internal/system events
	HandlerPanic EventType = "handler.panic"
)

// AllRoutingEvents lists the event types forwarded to external brokers
var AllRoutingEvents = []EventType{
	ConversationAssigned,
	ConversationQueued,
	ConversationReleased,
	ConversationReassigned,
	ConversationRejected,
	QueueDrained,
	EscalationRaised,
}

// RoutingEvent describes one routing decision or state change
type RoutingEvent struct {
	Type           EventType   `json:"type"`
	TenantID       string      `json:"tenant_id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	AgentID        string      `json:"agent_id,omitempty"`
	PreviousAgent  string      `json:"previous_agent_id,omitempty"`
	Strategy       string      `json:"strategy,omitempty"`
	RuleID         string      `json:"rule_id,omitempty"`
	Position       int         `json:"position,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Data           interface{} `json:"data,omitempty"`
	Error          error       `json:"-"`
}

// NewRoutingEvent creates a new routing event
func NewRoutingEvent(eventType EventType, tenantID, conversationID string) *RoutingEvent {
	return &RoutingEvent{
		Type:           eventType,
		TenantID:       tenantID,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}

// WithAgent adds the agent to the event
func (e *RoutingEvent) WithAgent(agentID string) *RoutingEvent {
	e.AgentID = agentID
	return e
}

// WithStrategy adds the strategy and rule that produced the decision
func (e *RoutingEvent) WithStrategy(strategy, ruleID string) *RoutingEvent {
	e.Strategy = strategy
	e.RuleID = ruleID
	return e
}

// WithData adds data to the event
func (e *RoutingEvent) WithData(data interface{}) *RoutingEvent {
	e.Data = data
	return e
}

// WithError adds error to the event
func (e *RoutingEvent) WithError(err error) *RoutingEvent {
	e.Error = err
	return e
}

// IsError returns true if the event contains an error
func (e *RoutingEvent) IsError() bool {
	return e.Error != nil
}
