package domain

import (
	"fmt"
	"time"
)

// NotificationChannel is a delivery channel for escalation alerts
type NotificationChannel string

const (
	ChannelEmail   NotificationChannel = "email"
	ChannelSMS     NotificationChannel = "sms"
	ChannelInApp   NotificationChannel = "in_app"
	ChannelWebhook NotificationChannel = "webhook"
)

// Valid reports whether c is a known channel
func (c NotificationChannel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp, ChannelWebhook:
		return true
	}
	return false
}

// TenantRoutingSettings holds the tenant-level routing defaults and escalation policy
type TenantRoutingSettings struct {
	TenantID             string    `json:"tenant_id" gorm:"type:varchar(255);primaryKey"`
	TenantName           string    `json:"tenant_name" gorm:"type:varchar(255)"`
	DefaultStrategy      Strategy  `json:"default_strategy" gorm:"type:varchar(32);not null;default:'round_robin'"`
	DefaultMaxConcurrent int       `json:"default_max_concurrent" gorm:"not null;default:5"`
	SLAThresholdMinutes  int       `json:"sla_threshold_minutes" gorm:"not null;default:0"`
	EscalationTarget     string    `json:"escalation_target" gorm:"type:varchar(255)"`
	NotificationChannels StringSet `json:"notification_channels" gorm:"type:jsonb"`
	EscalationEmail      string    `json:"escalation_email,omitempty" gorm:"type:varchar(255)"`
	EscalationPhone      string    `json:"escalation_phone,omitempty" gorm:"type:varchar(64)"`
	EscalationWebhookURL string    `json:"escalation_webhook_url,omitempty" gorm:"type:text"`
	CreatedAt            time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time `json:"updated_at" gorm:"autoUpdateTime"`
	Disabled             bool      `json:"disabled" gorm:"default:false"`
}

// TableName sets the table name for TenantRoutingSettings
func (TenantRoutingSettings) TableName() string {
	return "tenant_routing_settings"
}

// DefaultTenantSettings is used for tenants that never configured routing
func DefaultTenantSettings(tenantID string) *TenantRoutingSettings {
	return &TenantRoutingSettings{
		TenantID:             tenantID,
		DefaultStrategy:      StrategyRoundRobin,
		DefaultMaxConcurrent: DefaultMaxConcurrentConversations,
	}
}

// EffectiveDefaultStrategy returns the configured default or round robin
func (s *TenantRoutingSettings) EffectiveDefaultStrategy() Strategy {
	if s == nil || !s.DefaultStrategy.Valid() {
		return StrategyRoundRobin
	}
	return s.DefaultStrategy
}

// EffectiveMaxConcurrent returns the configured agent limit or the global default
func (s *TenantRoutingSettings) EffectiveMaxConcurrent() int {
	if s == nil || s.DefaultMaxConcurrent < 1 {
		return DefaultMaxConcurrentConversations
	}
	return s.DefaultMaxConcurrent
}

// SLAThreshold returns the escalation threshold; zero disables escalation
func (s *TenantRoutingSettings) SLAThreshold() time.Duration {
	if s == nil || s.SLAThresholdMinutes <= 0 {
		return 0
	}
	return time.Duration(s.SLAThresholdMinutes) * time.Minute
}

// Validate checks settings ranges
func (s *TenantRoutingSettings) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if s.DefaultStrategy != "" && !s.DefaultStrategy.Valid() {
		return fmt.Errorf("unknown default strategy %q", s.DefaultStrategy)
	}
	if s.DefaultStrategy == StrategyCustom {
		return fmt.Errorf("custom strategy needs a rule and cannot be the tenant default")
	}
	if s.SLAThresholdMinutes < 0 {
		return fmt.Errorf("sla_threshold_minutes must be >= 0")
	}
	for _, c := range s.NotificationChannels {
		if !NotificationChannel(c).Valid() {
			return fmt.Errorf("unknown notification channel %q", c)
		}
	}
	return nil
}

// UpsertTenantSettingsRequest represents the request to configure tenant routing
type UpsertTenantSettingsRequest struct {
	TenantName           *string   `json:"tenant_name,omitempty" yaml:"tenant_name,omitempty"`
	DefaultStrategy      *Strategy `json:"default_strategy,omitempty" yaml:"default_strategy,omitempty"`
	DefaultMaxConcurrent *int      `json:"default_max_concurrent,omitempty" yaml:"default_max_concurrent,omitempty"`
	SLAThresholdMinutes  *int      `json:"sla_threshold_minutes,omitempty" yaml:"sla_threshold_minutes,omitempty"`
	EscalationTarget     *string   `json:"escalation_target,omitempty" yaml:"escalation_target,omitempty"`
	NotificationChannels *[]string `json:"notification_channels,omitempty" yaml:"notification_channels,omitempty"`
	EscalationEmail      *string   `json:"escalation_email,omitempty" yaml:"escalation_email,omitempty"`
	EscalationPhone      *string   `json:"escalation_phone,omitempty" yaml:"escalation_phone,omitempty"`
	EscalationWebhookURL *string   `json:"escalation_webhook_url,omitempty" yaml:"escalation_webhook_url,omitempty"`
	Disabled             *bool     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Apply copies the set fields of the request onto the settings
func (req *UpsertTenantSettingsRequest) Apply(s *TenantRoutingSettings) {
	if req.TenantName != nil {
		s.TenantName = *req.TenantName
	}
	if req.DefaultStrategy != nil {
		s.DefaultStrategy = *req.DefaultStrategy
	}
	if req.DefaultMaxConcurrent != nil {
		s.DefaultMaxConcurrent = *req.DefaultMaxConcurrent
	}
	if req.SLAThresholdMinutes != nil {
		s.SLAThresholdMinutes = *req.SLAThresholdMinutes
	}
	if req.EscalationTarget != nil {
		s.EscalationTarget = *req.EscalationTarget
	}
	if req.NotificationChannels != nil {
		s.NotificationChannels = NewStringSet(*req.NotificationChannels...)
	}
	if req.EscalationEmail != nil {
		s.EscalationEmail = *req.EscalationEmail
	}
	if req.EscalationPhone != nil {
		s.EscalationPhone = *req.EscalationPhone
	}
	if req.EscalationWebhookURL != nil {
		s.EscalationWebhookURL = *req.EscalationWebhookURL
	}
	if req.Disabled != nil {
		s.Disabled = *req.Disabled
	}
}

// EscalationState says where a breaching conversation currently sits
type EscalationState string

const (
	EscalationStateQueued   EscalationState = "queued"
	EscalationStateAssigned EscalationState = "assigned"
)

// EscalationCandidate is a conversation that exceeded the tenant SLA
type EscalationCandidate struct {
	TenantID       string          `json:"tenant_id"`
	ConversationID string          `json:"conversation_id"`
	State          EscalationState `json:"state"`
	AgentID        string          `json:"agent_id,omitempty"`
	Priority       int             `json:"priority"`
	Since          time.Time       `json:"since"`
	Elapsed        time.Duration   `json:"elapsed"`
	Threshold      time.Duration   `json:"threshold"`
	Target         string          `json:"target,omitempty"`
	Channels       []string        `json:"channels,omitempty"`
}
