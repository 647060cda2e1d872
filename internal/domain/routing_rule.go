package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Strategy names a routing algorithm
type Strategy string

const (
	StrategyRoundRobin    Strategy = "round_robin"
	StrategyLeastLoaded   Strategy = "least_loaded"
	StrategySkillBased    Strategy = "skill_based"
	StrategyPriorityBased Strategy = "priority_based"
	StrategyCustom        Strategy = "custom"
)

// Valid reports whether s is a known strategy
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastLoaded, StrategySkillBased, StrategyPriorityBased, StrategyCustom:
		return true
	}
	return false
}

const (
	MinRulePriority = 1
	MaxRulePriority = 10

	// DefaultUrgentThreshold: conversations with priority <= 2 are urgent
	DefaultUrgentThreshold = 2
)

// StrategyConfig is the closed set of per-strategy configuration records.
// Only the types in this file implement it.
type StrategyConfig interface {
	Strategy() Strategy
	isStrategyConfig()
}

// RoundRobinConfig has no parameters; the rotation pointer lives in RotationPointer
type RoundRobinConfig struct{}

// LeastLoadedConfig has no parameters
type LeastLoadedConfig struct{}

// SkillBasedConfig narrows candidates by skills on top of the conversation's own requirements
type SkillBasedConfig struct {
	RequiredSkills      []string `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`
	RequiredLanguage    string   `json:"required_language,omitempty" yaml:"required_language,omitempty"`
	FallbackLeastLoaded bool     `json:"fallback_least_loaded,omitempty" yaml:"fallback_least_loaded,omitempty"`
}

// PriorityBasedConfig lets urgent conversations use overflow slots
type PriorityBasedConfig struct {
	UrgentThreshold int `json:"urgent_threshold,omitempty" yaml:"urgent_threshold,omitempty"`
	// OverflowSlots is how far above max_concurrent_conversations an urgent assignment may go.
	// Zero keeps the hard ceiling at the agent's max.
	OverflowSlots int `json:"overflow_slots,omitempty" yaml:"overflow_slots,omitempty"`
}

// CustomConfig filters candidates with a declarative predicate
type CustomConfig struct {
	Predicate *Predicate `json:"predicate,omitempty" yaml:"predicate,omitempty"`
}

func (RoundRobinConfig) Strategy() Strategy    { return StrategyRoundRobin }
func (LeastLoadedConfig) Strategy() Strategy   { return StrategyLeastLoaded }
func (SkillBasedConfig) Strategy() Strategy    { return StrategySkillBased }
func (PriorityBasedConfig) Strategy() Strategy { return StrategyPriorityBased }
func (CustomConfig) Strategy() Strategy        { return StrategyCustom }

func (RoundRobinConfig) isStrategyConfig()    {}
func (LeastLoadedConfig) isStrategyConfig()   {}
func (SkillBasedConfig) isStrategyConfig()    {}
func (PriorityBasedConfig) isStrategyConfig() {}
func (CustomConfig) isStrategyConfig()        {}

// EffectiveUrgentThreshold returns the configured threshold or the default
func (c PriorityBasedConfig) EffectiveUrgentThreshold() int {
	if c.UrgentThreshold <= 0 {
		return DefaultUrgentThreshold
	}
	return c.UrgentThreshold
}

// DefaultStrategyConfig returns the zero-parameter config for a strategy
func DefaultStrategyConfig(s Strategy) StrategyConfig {
	switch s {
	case StrategyLeastLoaded:
		return LeastLoadedConfig{}
	case StrategySkillBased:
		return SkillBasedConfig{}
	case StrategyPriorityBased:
		return PriorityBasedConfig{}
	case StrategyCustom:
		return CustomConfig{}
	default:
		return RoundRobinConfig{}
	}
}

// RuleConfig is the persisted form of a StrategyConfig: exactly one member matching the
// rule's strategy may be set.
type RuleConfig struct {
	SkillBased    *SkillBasedConfig    `json:"skill_based,omitempty" yaml:"skill_based,omitempty"`
	PriorityBased *PriorityBasedConfig `json:"priority_based,omitempty" yaml:"priority_based,omitempty"`
	Custom        *CustomConfig        `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// Value implements the driver.Valuer interface for RuleConfig
func (c RuleConfig) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for RuleConfig
func (c *RuleConfig) Scan(value interface{}) error {
	if value == nil {
		*c = RuleConfig{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("cannot scan %T into RuleConfig", value)
	}
	return json.Unmarshal(bytes, c)
}

// RuleConditions are the preconditions a conversation must satisfy for a rule to win.
// Every non-empty condition must hold; an empty set matches everything.
type RuleConditions struct {
	RequiredTags   []string `json:"required_tags,omitempty" yaml:"required_tags,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`
	Channels       []string `json:"channels,omitempty" yaml:"channels,omitempty"`
	Languages      []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	MinPriority    int      `json:"min_priority,omitempty" yaml:"min_priority,omitempty"`
	MaxPriority    int      `json:"max_priority,omitempty" yaml:"max_priority,omitempty"`
}

// Matches reports whether the conversation satisfies every condition
func (c RuleConditions) Matches(conv *Conversation) bool {
	if len(c.RequiredTags) > 0 && !NewStringSet(conv.Tags...).ContainsAll(c.RequiredTags) {
		return false
	}
	if len(c.RequiredSkills) > 0 && !NewStringSet(conv.RequiredSkills...).ContainsAll(c.RequiredSkills) {
		return false
	}
	if len(c.Channels) > 0 && !NewStringSet(c.Channels...).Contains(conv.Channel) {
		return false
	}
	if len(c.Languages) > 0 && !NewStringSet(c.Languages...).Contains(conv.RequiredLanguage) {
		return false
	}
	if c.MinPriority > 0 && conv.Priority < c.MinPriority {
		return false
	}
	if c.MaxPriority > 0 && conv.Priority > c.MaxPriority {
		return false
	}
	return true
}

// Value implements the driver.Valuer interface for RuleConditions
func (c RuleConditions) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for RuleConditions
func (c *RuleConditions) Scan(value interface{}) error {
	if value == nil {
		*c = RuleConditions{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("cannot scan %T into RuleConditions", value)
	}
	return json.Unmarshal(bytes, c)
}

// RoutingRule is a tenant-configured routing rule
type RoutingRule struct {
	ID         string         `json:"id" gorm:"type:varchar(64);primaryKey"`
	TenantID   string         `json:"tenant_id" gorm:"type:varchar(255);not null;index:idx_routing_rules_tenant_active"`
	Name       string         `json:"name" gorm:"type:varchar(255)"`
	Strategy   Strategy       `json:"strategy" gorm:"type:varchar(32);not null"`
	Priority   int            `json:"priority" gorm:"not null;default:5"`
	IsActive   bool           `json:"is_active" gorm:"not null;index:idx_routing_rules_tenant_active"`
	Conditions RuleConditions `json:"conditions" gorm:"type:jsonb"`
	Config     RuleConfig     `json:"config" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for RoutingRule
func (RoutingRule) TableName() string {
	return "routing_rules"
}

// StrategyConfig decodes the persisted config into the variant for the rule's strategy
func (r *RoutingRule) StrategyConfig() (StrategyConfig, error) {
	switch r.Strategy {
	case StrategyRoundRobin:
		return RoundRobinConfig{}, nil
	case StrategyLeastLoaded:
		return LeastLoadedConfig{}, nil
	case StrategySkillBased:
		if r.Config.SkillBased == nil {
			return SkillBasedConfig{}, nil
		}
		return *r.Config.SkillBased, nil
	case StrategyPriorityBased:
		if r.Config.PriorityBased == nil {
			return PriorityBasedConfig{}, nil
		}
		return *r.Config.PriorityBased, nil
	case StrategyCustom:
		if r.Config.Custom == nil {
			return CustomConfig{}, nil
		}
		return *r.Config.Custom, nil
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidRule, r.Strategy)
}

// Validate checks the priority range and that the config matches the strategy
func (r *RoutingRule) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidRule)
	}
	if !r.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidRule, r.Strategy)
	}
	if r.Priority < MinRulePriority || r.Priority > MaxRulePriority {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidRule, MinRulePriority, MaxRulePriority)
	}
	if r.Config.SkillBased != nil && r.Strategy != StrategySkillBased {
		return fmt.Errorf("%w: skill_based config on %s rule", ErrInvalidRule, r.Strategy)
	}
	if r.Config.PriorityBased != nil && r.Strategy != StrategyPriorityBased {
		return fmt.Errorf("%w: priority_based config on %s rule", ErrInvalidRule, r.Strategy)
	}
	if r.Config.Custom != nil && r.Strategy != StrategyCustom {
		return fmt.Errorf("%w: custom config on %s rule", ErrInvalidRule, r.Strategy)
	}
	if pb := r.Config.PriorityBased; pb != nil && (pb.OverflowSlots < 0 || pb.UrgentThreshold < 0) {
		return fmt.Errorf("%w: priority_based values must be >= 0", ErrInvalidRule)
	}
	if r.Strategy == StrategyCustom {
		if r.Config.Custom == nil || r.Config.Custom.Predicate == nil {
			return fmt.Errorf("%w: custom rule requires a predicate", ErrInvalidRule)
		}
		if err := r.Config.Custom.Predicate.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
	}
	return nil
}

// CreateRoutingRuleRequest represents the request to create a routing rule
type CreateRoutingRuleRequest struct {
	Name       string         `json:"name" yaml:"name"`
	Strategy   Strategy       `json:"strategy" yaml:"strategy" validate:"required"`
	Priority   int            `json:"priority" yaml:"priority"`
	IsActive   *bool          `json:"is_active,omitempty" yaml:"is_active,omitempty"`
	Conditions RuleConditions `json:"conditions" yaml:"conditions"`
	Config     RuleConfig     `json:"config" yaml:"config"`
}

// UpdateRoutingRuleRequest represents a partial update of a routing rule
type UpdateRoutingRuleRequest struct {
	Name       *string         `json:"name,omitempty"`
	Strategy   *Strategy       `json:"strategy,omitempty"`
	Priority   *int            `json:"priority,omitempty"`
	IsActive   *bool           `json:"is_active,omitempty"`
	Conditions *RuleConditions `json:"conditions,omitempty"`
	Config     *RuleConfig     `json:"config,omitempty"`
}

// Apply copies the set fields of the request onto the rule
func (req *UpdateRoutingRuleRequest) Apply(rule *RoutingRule) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Strategy != nil {
		rule.Strategy = *req.Strategy
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Conditions != nil {
		rule.Conditions = *req.Conditions
	}
	if req.Config != nil {
		rule.Config = *req.Config
	}
}
