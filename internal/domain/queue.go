package domain

import "time"

// QueueStatus is the lifecycle state of a queue entry
type QueueStatus string

const (
	QueueStatusQueued    QueueStatus = "queued"
	QueueStatusClaimed   QueueStatus = "claimed"
	QueueStatusAssigned  QueueStatus = "assigned"
	QueueStatusAbandoned QueueStatus = "abandoned"
)

// QueueEntry is a conversation waiting for an eligible agent.
// Order within a tenant: priority asc, enqueued_at asc, id asc.
type QueueEntry struct {
	ID               string      `json:"id" gorm:"type:varchar(64);primaryKey"`
	ConversationID   string      `json:"conversation_id" gorm:"type:varchar(255);not null;index"`
	TenantID         string      `json:"tenant_id" gorm:"type:varchar(255);not null;index:idx_queue_tenant_status_order,priority:1"`
	Status           QueueStatus `json:"status" gorm:"type:varchar(32);not null;index:idx_queue_tenant_status_order,priority:2"`
	Priority         int         `json:"priority" gorm:"not null;index:idx_queue_tenant_status_order,priority:3"`
	EnqueuedAt       time.Time   `json:"enqueued_at" gorm:"not null;index:idx_queue_tenant_status_order,priority:4"`
	Channel          string      `json:"channel,omitempty" gorm:"type:varchar(64)"`
	RequiredSkills   StringSet   `json:"required_skills" gorm:"type:jsonb"`
	RequiredLanguage string      `json:"required_language,omitempty" gorm:"type:varchar(16)"`
	PreferredAgentID string      `json:"preferred_agent_id,omitempty" gorm:"type:varchar(255)"`
	Tags             StringSet   `json:"tags" gorm:"type:jsonb"`
	Attributes       JSONB       `json:"attributes,omitempty" gorm:"type:jsonb"`
	// ExcludedAgentIDs are agents that declined the conversation
	ExcludedAgentIDs StringSet   `json:"excluded_agent_ids,omitempty" gorm:"type:jsonb"`
	LastInboundAt    *time.Time  `json:"last_inbound_at,omitempty"`
	ClaimedAt        *time.Time  `json:"claimed_at,omitempty"`
	AssignedAt       *time.Time  `json:"assigned_at,omitempty"`
	AssignedAgentID  string      `json:"assigned_agent_id,omitempty" gorm:"type:varchar(255)"`
	UpdatedAt        time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for QueueEntry
func (QueueEntry) TableName() string {
	return "conversation_queue"
}

// Before reports whether e sorts ahead of other in the queue
func (e *QueueEntry) Before(other *QueueEntry) bool {
	if e.Priority != other.Priority {
		return e.Priority < other.Priority
	}
	if !e.EnqueuedAt.Equal(other.EnqueuedAt) {
		return e.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return e.ID < other.ID
}

// NewQueueEntry builds a queued entry for a conversation
func NewQueueEntry(conv *Conversation, enqueuedAt time.Time) *QueueEntry {
	e := &QueueEntry{
		ConversationID:   conv.ID,
		TenantID:         conv.TenantID,
		Status:           QueueStatusQueued,
		Priority:         conv.Priority,
		EnqueuedAt:       enqueuedAt,
		Channel:          conv.Channel,
		RequiredSkills:   NewStringSet(conv.RequiredSkills...),
		RequiredLanguage: conv.RequiredLanguage,
		PreferredAgentID: conv.PreferredAgentID,
		Tags:             NewStringSet(conv.Tags...),
		Attributes:       attributesToJSONB(conv.Attributes),
	}
	if !conv.LastInboundAt.IsZero() {
		inbound := conv.LastInboundAt
		e.LastInboundAt = &inbound
	}
	return e
}

// Conversation rebuilds the routing input from the entry
func (e *QueueEntry) Conversation() *Conversation {
	conv := &Conversation{
		ID:               e.ConversationID,
		TenantID:         e.TenantID,
		Priority:         e.Priority,
		Channel:          e.Channel,
		RequiredSkills:   []string(e.RequiredSkills),
		RequiredLanguage: e.RequiredLanguage,
		PreferredAgentID: e.PreferredAgentID,
		Tags:             []string(e.Tags),
		Attributes:       attributesFromJSONB(e.Attributes),
	}
	if e.LastInboundAt != nil {
		conv.LastInboundAt = *e.LastInboundAt
	}
	return conv
}

// ServableBy reports whether the agent satisfies the entry's hard requirements
func (e *QueueEntry) ServableBy(a *AgentCapacity) bool {
	if e.ExcludedAgentIDs.Contains(a.AgentID) {
		return false
	}
	if !a.Skills.ContainsAll(e.RequiredSkills) {
		return false
	}
	if e.RequiredLanguage != "" && !a.Languages.Contains(e.RequiredLanguage) {
		return false
	}
	return true
}

func attributesToJSONB(attrs map[string]string) JSONB {
	if len(attrs) == 0 {
		return nil
	}
	out := make(JSONB, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// attributesFromJSONB keeps string values only; conversation attributes are flat strings
func attributesFromJSONB(attrs JSONB) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
