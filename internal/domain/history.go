package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RoutingOutcome is the result recorded for one routing decision
type RoutingOutcome string

const (
	OutcomeAssigned        RoutingOutcome = "assigned"
	OutcomeQueued          RoutingOutcome = "queued"
	OutcomeRejectedByAgent RoutingOutcome = "rejected_by_agent"
	OutcomeReassigned      RoutingOutcome = "reassigned"
	OutcomeReleased        RoutingOutcome = "released"
)

// WorkloadScores maps agent id to its workload score at decision time
type WorkloadScores map[string]float64

// Value implements the driver.Valuer interface for WorkloadScores
func (w WorkloadScores) Value() (driver.Value, error) {
	if w == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]float64(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for WorkloadScores
func (w *WorkloadScores) Scan(value interface{}) error {
	if value == nil {
		*w = WorkloadScores{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return fmt.Errorf("cannot scan %T into WorkloadScores", value)
	}
	m := map[string]float64{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*w = m
	return nil
}

// RoutingHistoryEntry is one immutable audit record
type RoutingHistoryEntry struct {
	ID                string         `json:"id" gorm:"type:varchar(64);primaryKey"`
	TenantID          string         `json:"tenant_id" gorm:"type:varchar(255);not null;index:idx_routing_history_tenant_time,priority:1"`
	ConversationID    string         `json:"conversation_id" gorm:"type:varchar(255);not null;index"`
	Timestamp         time.Time      `json:"timestamp" gorm:"not null;index:idx_routing_history_tenant_time,priority:2"`
	StrategyUsed      Strategy       `json:"strategy_used" gorm:"type:varchar(32)"`
	RuleID            string         `json:"rule_id,omitempty" gorm:"type:varchar(64)"`
	CandidateAgentIDs StringSet      `json:"candidate_agent_ids" gorm:"type:jsonb"`
	WorkloadScores    WorkloadScores `json:"workload_scores" gorm:"type:jsonb"`
	SelectedAgentID   string         `json:"selected_agent_id,omitempty" gorm:"type:varchar(255);index"`
	Outcome           RoutingOutcome `json:"outcome" gorm:"type:varchar(32);not null;index"`
	Reason            string         `json:"reason,omitempty" gorm:"type:text"`
	ReferenceEntryID  string         `json:"reference_entry_id,omitempty" gorm:"type:varchar(64)"`
}

// TableName sets the table name for RoutingHistoryEntry
func (RoutingHistoryEntry) TableName() string {
	return "routing_history"
}

// HistoryFilter narrows a routing history query
type HistoryFilter struct {
	ConversationID string
	AgentID        string
	Outcome        RoutingOutcome
	Strategy       Strategy
	From           time.Time
	To             time.Time
	Limit          int
	Offset         int
	// NewestFirst reverses the (timestamp, id) order before offset and limit apply
	NewestFirst bool
}

// Matches applies the filter in memory
func (f HistoryFilter) Matches(e *RoutingHistoryEntry) bool {
	if f.ConversationID != "" && e.ConversationID != f.ConversationID {
		return false
	}
	if f.AgentID != "" && e.SelectedAgentID != f.AgentID {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.Strategy != "" && e.StrategyUsed != f.Strategy {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
