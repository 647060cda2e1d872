// Package memory is an in-process RepositoryManager used by tests and by the
// single-node development mode (ROUTING_STORE=memory).
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/jinzhu/copier"
)

type state struct {
	agents      map[string]*domain.AgentCapacity // tenant/agent -> row
	rules       map[string]*domain.RoutingRule
	settings    map[string]*domain.TenantRoutingSettings
	queue       map[string]*domain.QueueEntry
	history     []*domain.RoutingHistoryEntry
	assignments map[string]*domain.ConversationAssignment // tenant/conversation -> row
	rotation    map[string]*domain.RotationPointer
}

func newState() *state {
	return &state{
		agents:      make(map[string]*domain.AgentCapacity),
		rules:       make(map[string]*domain.RoutingRule),
		settings:    make(map[string]*domain.TenantRoutingSettings),
		queue:       make(map[string]*domain.QueueEntry),
		assignments: make(map[string]*domain.ConversationAssignment),
		rotation:    make(map[string]*domain.RotationPointer),
	}
}

// Store owns the data. Every operation holds mu; a transaction holds it for its
// whole duration and restores a snapshot when fn fails.
type Store struct {
	mu   sync.Mutex
	data *state
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{data: newState()}
}

// Manager implements repository.RepositoryManager over a Store
type Manager struct {
	store *Store
	inTx  bool
}

var _ repository.RepositoryManager = (*Manager)(nil)

// NewManager creates a repository manager backed by a fresh store
func NewManager() *Manager {
	return &Manager{store: NewStore()}
}

func (m *Manager) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.store.mu.Lock()
	return m.store.mu.Unlock
}

// AgentCapacity returns the agent capacity repository
func (m *Manager) AgentCapacity() repository.AgentCapacityRepository { return &agentRepo{m: m} }

// RoutingRule returns the routing rule repository
func (m *Manager) RoutingRule() repository.RoutingRuleRepository { return &ruleRepo{m: m} }

// TenantSettings returns the tenant settings repository
func (m *Manager) TenantSettings() repository.TenantSettingsRepository { return &settingsRepo{m: m} }

// Queue returns the conversation queue repository
func (m *Manager) Queue() repository.QueueRepository { return &queueRepo{m: m} }

// History returns the routing history repository
func (m *Manager) History() repository.RoutingHistoryRepository { return &historyRepo{m: m} }

// Assignment returns the conversation assignment repository
func (m *Manager) Assignment() repository.AssignmentRepository { return &assignmentRepo{m: m} }

// Rotation returns the rotation pointer repository
func (m *Manager) Rotation() repository.RotationRepository { return &rotationRepo{m: m} }

// WithTx runs fn with exclusive access and rolls every write back if it returns an error
func (m *Manager) WithTx(ctx context.Context, fn func(ctx context.Context, repos repository.RepositoryManager) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	snapshot, err := m.store.data.clone()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, &Manager{store: m.store, inTx: true}); err != nil {
		m.store.data = snapshot
		return err
	}
	return nil
}

// Ping always succeeds
func (m *Manager) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (m *Manager) Close() error {
	return nil
}

func (s *state) clone() (*state, error) {
	out := newState()
	for k, v := range s.agents {
		c, err := deepCopy(v)
		if err != nil {
			return nil, err
		}
		out.agents[k] = c
	}
	for k, v := range s.rules {
		c, err := deepCopy(v)
		if err != nil {
			return nil, err
		}
		out.rules[k] = c
	}
	for k, v := range s.settings {
		c, err := deepCopy(v)
		if err != nil {
			return nil, err
		}
		out.settings[k] = c
	}
	for k, v := range s.queue {
		c, err := deepCopy(v)
		if err != nil {
			return nil, err
		}
		out.queue[k] = c
	}
	for k, v := range s.assignments {
		c, err := deepCopy(v)
		if err != nil {
			return nil, err
		}
		out.assignments[k] = c
	}
	for k, v := range s.rotation {
		c, err := deepCopy(v)
		if err != nil {
			return nil, err
		}
		out.rotation[k] = c
	}
	// history is append-only, so sharing the entries is safe
	out.history = append(make([]*domain.RoutingHistoryEntry, 0, len(s.history)), s.history...)
	return out, nil
}

// deepCopy returns an independent copy so callers never alias stored rows
func deepCopy[T any](original *T) (*T, error) {
	var out T
	if err := copier.CopyWithOption(&out, original, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to copy %T: %w", original, err)
	}
	return &out, nil
}

func key(tenantID, id string) string {
	return tenantID + "/" + id
}
