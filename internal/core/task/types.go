package task

import (
	"context"
)

// TaskType defines the type of cross-instance routing task
type TaskType string

const (
	TaskTypeDrainQueue       TaskType = "drain_queue"       // Agent capacity freed on another instance
	TaskTypeInvalidateRules  TaskType = "invalidate_rules"  // Routing rules or settings changed
	TaskTypeCheckEscalations TaskType = "check_escalations" // Run an escalation sweep now
)

// RoutingTask is the payload carried on the task bus
type RoutingTask struct {
	Type     TaskType `json:"type"`
	TenantID string   `json:"tenant_id"`
	Origin   string   `json:"origin,omitempty"` // instance that published the task
}

// Bus defines the interface for the task bus
type Bus interface {
	Publish(ctx context.Context, task RoutingTask) error
	Subscribe(ctx context.Context, handler func(RoutingTask)) error
}
