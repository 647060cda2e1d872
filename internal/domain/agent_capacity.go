package domain

import (
	"fmt"
	"time"
)

// AgentStatus is the live availability of a human agent
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusAway      AgentStatus = "away"
	AgentStatusOffline   AgentStatus = "offline"
)

// DefaultMaxConcurrentConversations applies when neither the request nor the tenant settings set a limit
const DefaultMaxConcurrentConversations = 5

// Valid reports whether s is a known status
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusAvailable, AgentStatusBusy, AgentStatusAway, AgentStatusOffline:
		return true
	}
	return false
}

// AgentCapacity is the routing view of one agent inside one tenant
type AgentCapacity struct {
	ID                         string      `json:"id" gorm:"type:varchar(64);primaryKey"`
	TenantID                   string      `json:"tenant_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_agent_capacity_tenant_agent"`
	AgentID                    string      `json:"agent_id" gorm:"type:varchar(255);not null;uniqueIndex:idx_agent_capacity_tenant_agent"`
	DisplayName                string      `json:"display_name" gorm:"type:varchar(255)"`
	Status                     AgentStatus `json:"status" gorm:"type:varchar(32);not null;default:'offline';index"`
	MaxConcurrentConversations int         `json:"max_concurrent_conversations" gorm:"not null;default:5"`
	CurrentConversationCount   int         `json:"current_conversation_count" gorm:"not null;default:0"`
	Skills                     StringSet   `json:"skills" gorm:"type:jsonb"`
	Languages                  StringSet   `json:"languages" gorm:"type:jsonb"`
	AutoAssignEnabled          bool        `json:"auto_assign_enabled" gorm:"not null"`
	AvgResponseTimeSeconds     float64     `json:"avg_response_time_seconds" gorm:"not null;default:0"`
	SatisfactionScore          float64     `json:"satisfaction_score" gorm:"not null;default:0"`
	CreatedAt                  time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt                  time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for AgentCapacity
func (AgentCapacity) TableName() string {
	return "agent_capacities"
}

// HasFreeSlot reports whether the agent can take another conversation with the given overflow allowance
func (a *AgentCapacity) HasFreeSlot(overflow int) bool {
	return a.CurrentConversationCount < a.MaxConcurrentConversations+overflow
}

// Routable reports whether the agent participates in automatic routing at all
func (a *AgentCapacity) Routable() bool {
	return a.Status == AgentStatusAvailable && a.AutoAssignEnabled
}

// Validate checks the capacity invariant and field ranges
func (a *AgentCapacity) Validate() error {
	if a.TenantID == "" || a.AgentID == "" {
		return fmt.Errorf("%w: tenant_id and agent_id are required", ErrInvalidAgent)
	}
	if a.MaxConcurrentConversations < 1 {
		return fmt.Errorf("%w: max_concurrent_conversations must be >= 1", ErrInvalidAgent)
	}
	if a.CurrentConversationCount < 0 {
		return fmt.Errorf("%w: current_conversation_count must be >= 0", ErrInvalidAgent)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAgent, a.Status)
	}
	return nil
}

// AgentFilter narrows GetAvailableAgents
type AgentFilter struct {
	RequiredSkills   []string
	RequiredLanguage string
	// OverflowSlots admits agents up to max+OverflowSlots; only urgent priority routing sets it.
	OverflowSlots int
	// ExcludeAgentIDs drops agents that already declined the conversation
	ExcludeAgentIDs []string
}

// Matches applies the filter to an agent that is already known to be routable
func (f AgentFilter) Matches(a *AgentCapacity) bool {
	if !a.HasFreeSlot(f.OverflowSlots) {
		return false
	}
	for _, id := range f.ExcludeAgentIDs {
		if id == a.AgentID {
			return false
		}
	}
	if !a.Skills.ContainsAll(f.RequiredSkills) {
		return false
	}
	if f.RequiredLanguage != "" && !a.Languages.Contains(f.RequiredLanguage) {
		return false
	}
	return true
}

// CreateAgentCapacityRequest represents the request to provision an agent for routing
type CreateAgentCapacityRequest struct {
	AgentID                    string      `json:"agent_id" yaml:"agent_id" validate:"required"`
	DisplayName                string      `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Status                     AgentStatus `json:"status,omitempty" yaml:"status,omitempty"`
	MaxConcurrentConversations int         `json:"max_concurrent_conversations,omitempty" yaml:"max_concurrent_conversations,omitempty"`
	Skills                     []string    `json:"skills,omitempty" yaml:"skills,omitempty"`
	Languages                  []string    `json:"languages,omitempty" yaml:"languages,omitempty"`
	AutoAssignEnabled          *bool       `json:"auto_assign_enabled,omitempty" yaml:"auto_assign_enabled,omitempty"`
}

// UpdateAgentCapacityRequest represents a partial update of an agent's routing profile
type UpdateAgentCapacityRequest struct {
	DisplayName                *string      `json:"display_name,omitempty"`
	Status                     *AgentStatus `json:"status,omitempty"`
	MaxConcurrentConversations *int         `json:"max_concurrent_conversations,omitempty"`
	Skills                     *[]string    `json:"skills,omitempty"`
	Languages                  *[]string    `json:"languages,omitempty"`
	AutoAssignEnabled          *bool        `json:"auto_assign_enabled,omitempty"`
	AvgResponseTimeSeconds     *float64     `json:"avg_response_time_seconds,omitempty"`
	SatisfactionScore          *float64     `json:"satisfaction_score,omitempty"`
}
