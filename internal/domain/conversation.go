package domain

import (
	"fmt"
	"time"
)

const (
	MinConversationPriority     = 1
	MaxConversationPriority     = 10
	DefaultConversationPriority = 5
)

// Conversation is the routing input: everything the balancer knows about an unassigned conversation
type Conversation struct {
	ID               string            `json:"id" validate:"required"`
	TenantID         string            `json:"tenant_id"`
	Priority         int               `json:"priority"`
	Channel          string            `json:"channel,omitempty"`
	RequiredSkills   []string          `json:"required_skills,omitempty"`
	RequiredLanguage string            `json:"required_language,omitempty"`
	PreferredAgentID string            `json:"preferred_agent_id,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	LastInboundAt    time.Time         `json:"last_inbound_at,omitempty"`
}

// Normalize fills defaults and validates identity fields
func (c *Conversation) Normalize() error {
	if c.ID == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidConversation)
	}
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidConversation)
	}
	if c.Priority == 0 {
		c.Priority = DefaultConversationPriority
	}
	if c.Priority < MinConversationPriority || c.Priority > MaxConversationPriority {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidConversation, MinConversationPriority, MaxConversationPriority)
	}
	return nil
}

// AssignmentStatus is the state of a conversation's current assignee record
type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentReleased AssignmentStatus = "released"
)

// ConversationAssignment records which agent currently holds a conversation.
// At most one active row exists per conversation.
type ConversationAssignment struct {
	TenantID            string           `json:"tenant_id" gorm:"type:varchar(255);primaryKey;index:idx_assignments_tenant_status"`
	ConversationID      string           `json:"conversation_id" gorm:"type:varchar(255);primaryKey"`
	AgentID             string           `json:"agent_id" gorm:"type:varchar(255);not null;index"`
	Status              AssignmentStatus `json:"status" gorm:"type:varchar(32);not null;index:idx_assignments_tenant_status"`
	Priority            int              `json:"priority" gorm:"not null;default:5"`
	Channel             string           `json:"channel,omitempty" gorm:"type:varchar(64)"`
	RequiredSkills      StringSet        `json:"required_skills" gorm:"type:jsonb"`
	RequiredLanguage    string           `json:"required_language,omitempty" gorm:"type:varchar(16)"`
	PreferredAgentID    string           `json:"preferred_agent_id,omitempty" gorm:"type:varchar(255)"`
	Tags                StringSet        `json:"tags" gorm:"type:jsonb"`
	Attributes          JSONB            `json:"attributes,omitempty" gorm:"type:jsonb"`
	AssignedAt          time.Time        `json:"assigned_at"`
	ReleasedAt          *time.Time       `json:"released_at,omitempty"`
	LastInboundAt       *time.Time       `json:"last_inbound_at,omitempty"`
	LastAgentResponseAt *time.Time       `json:"last_agent_response_at,omitempty"`
	UpdatedAt           time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for ConversationAssignment
func (ConversationAssignment) TableName() string {
	return "conversation_assignments"
}

// NewAssignment builds the active assignment of conv to agentID
func NewAssignment(conv *Conversation, agentID string, at time.Time) *ConversationAssignment {
	a := &ConversationAssignment{
		ConversationID:   conv.ID,
		TenantID:         conv.TenantID,
		AgentID:          agentID,
		Status:           AssignmentActive,
		Priority:         conv.Priority,
		Channel:          conv.Channel,
		RequiredSkills:   NewStringSet(conv.RequiredSkills...),
		RequiredLanguage: conv.RequiredLanguage,
		PreferredAgentID: conv.PreferredAgentID,
		Tags:             NewStringSet(conv.Tags...),
		Attributes:       attributesToJSONB(conv.Attributes),
		AssignedAt:       at,
	}
	if !conv.LastInboundAt.IsZero() {
		inbound := conv.LastInboundAt
		a.LastInboundAt = &inbound
	}
	return a
}

// Conversation rebuilds the routing input of an assigned conversation
func (a *ConversationAssignment) Conversation() *Conversation {
	conv := &Conversation{
		ID:               a.ConversationID,
		TenantID:         a.TenantID,
		Priority:         a.Priority,
		Channel:          a.Channel,
		RequiredSkills:   []string(a.RequiredSkills),
		RequiredLanguage: a.RequiredLanguage,
		PreferredAgentID: a.PreferredAgentID,
		Tags:             []string(a.Tags),
		Attributes:       attributesFromJSONB(a.Attributes),
	}
	if a.LastInboundAt != nil {
		conv.LastInboundAt = *a.LastInboundAt
	}
	return conv
}

// AwaitingAgentReply reports whether the customer wrote after the agent's last response
func (a *ConversationAssignment) AwaitingAgentReply() bool {
	if a.LastInboundAt == nil {
		return false
	}
	if a.LastAgentResponseAt == nil {
		return true
	}
	return a.LastInboundAt.After(*a.LastAgentResponseAt)
}

// RotationPointer is the persisted round robin cursor for a tenant
type RotationPointer struct {
	TenantID    string    `json:"tenant_id" gorm:"type:varchar(255);primaryKey"`
	LastAgentID string    `json:"last_agent_id" gorm:"type:varchar(255)"`
	Version     int64     `json:"version" gorm:"not null;default:0"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for RotationPointer
func (RotationPointer) TableName() string {
	return "routing_rotation_pointers"
}
