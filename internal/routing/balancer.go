package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/core/event"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/ClareAI/astra-routing-service/pkg/logger"
	"go.uber.org/zap"
)

// DefaultAssignTimeout bounds the read phase of one routing decision
const DefaultAssignTimeout = 2 * time.Second

// EventSink receives routing decisions after they are committed
type EventSink interface {
	Publish(ctx context.Context, evt *event.RoutingEvent)
}

// AssignStatus is the outcome of a routing call
type AssignStatus string

const (
	StatusAssigned AssignStatus = "assigned"
	StatusQueued   AssignStatus = "queued"
)

// AssignResult is either an assignment or a queue position, never an error
type AssignResult struct {
	ConversationID string          `json:"conversation_id"`
	Status         AssignStatus    `json:"status"`
	AgentID        string          `json:"agent_id,omitempty"`
	Position       int             `json:"position,omitempty"`
	Strategy       domain.Strategy `json:"strategy,omitempty"`
	RuleID         string          `json:"rule_id,omitempty"`
	// RaceLost is set when the conversation was queued after losing the last slot to a concurrent decision
	RaceLost bool `json:"race_lost,omitempty"`
}

// BalancerOptions tunes the load balancer
type BalancerOptions struct {
	AssignTimeout time.Duration
	Now           func() time.Time

	// DefaultMaxConcurrent is the agent limit for tenants without one
	DefaultMaxConcurrent int
}

// LoadBalancer orchestrates routing: candidate lookup, strategy resolution,
// evaluation and the transactional commit of the decision.
type LoadBalancer struct {
	repos    repository.RepositoryManager
	capacity *CapacityService
	registry *RuleRegistry
	queue    *ConversationQueue
	audit    *AuditLog
	events   EventSink

	assignTimeout time.Duration
	now           func() time.Time

	rotationLocks sync.Map // tenantID -> *sync.Mutex
}

// NewLoadBalancer wires the routing components; events may be nil
func NewLoadBalancer(repos repository.RepositoryManager, registry *RuleRegistry, events EventSink, opts BalancerOptions) *LoadBalancer {
	if opts.AssignTimeout <= 0 {
		opts.AssignTimeout = DefaultAssignTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if registry == nil {
		registry = NewRuleRegistry(repos, nil)
	}
	return &LoadBalancer{
		repos:         repos,
		capacity:      NewCapacityService(repos, opts.DefaultMaxConcurrent),
		registry:      registry,
		queue:         NewConversationQueue(repos, opts.Now),
		audit:         NewAuditLog(repos),
		events:        events,
		assignTimeout: opts.AssignTimeout,
		now:           opts.Now,
	}
}

// Capacity returns the agent capacity store
func (b *LoadBalancer) Capacity() *CapacityService { return b.capacity }

// Registry returns the routing rule registry
func (b *LoadBalancer) Registry() *RuleRegistry { return b.registry }

// Queue returns the conversation queue
func (b *LoadBalancer) Queue() *ConversationQueue { return b.queue }

// AuditLog returns the routing history
func (b *LoadBalancer) AuditLog() *AuditLog { return b.audit }

// AssignConversation routes a conversation that has no current assignee. Read failures
// queue the conversation; only a failed commit is returned as an error.
func (b *LoadBalancer) AssignConversation(ctx context.Context, conv *domain.Conversation) (*AssignResult, error) {
	if err := conv.Normalize(); err != nil {
		return nil, err
	}
	ctx = logger.WithConversation(ctx, conv.TenantID, conv.ID)

	if res, err := b.existingState(ctx, conv); err != nil || res != nil {
		return res, err
	}
	return b.route(ctx, conv, nil, nil)
}

// existingState makes repeated calls idempotent: a queued conversation reports its
// position and an assigned one is a caller defect.
func (b *LoadBalancer) existingState(ctx context.Context, conv *domain.Conversation) (*AssignResult, error) {
	readCtx, cancel := context.WithTimeout(ctx, b.assignTimeout)
	defer cancel()

	if _, err := b.repos.Queue().GetOpen(readCtx, conv.TenantID, conv.ID); err == nil {
		pos, err := queuePosition(readCtx, b.repos, conv.TenantID, conv.ID)
		if err != nil {
			logger.Warn(ctx, "Failed to compute queue position", zap.Error(err))
		}
		return &AssignResult{ConversationID: conv.ID, Status: StatusQueued, Position: pos}, nil
	}

	a, err := b.repos.Assignment().Get(readCtx, conv.TenantID, conv.ID)
	if err == nil && a.Status == domain.AssignmentActive {
		return nil, fmt.Errorf("%w: conversation %s is already assigned to %s", domain.ErrInvalidStateTransition, conv.ID, a.AgentID)
	}
	return nil, nil
}

type decision struct {
	candidates []*domain.AgentCapacity
	selected   *domain.AgentCapacity
	overflow   int
	rotation   *domain.RotationPointer
}

// route evaluates and commits one conversation. entry is the claimed queue entry when
// routing from a drain; exclude lists agents that must not receive it.
func (b *LoadBalancer) route(ctx context.Context, conv *domain.Conversation, entry *domain.QueueEntry, exclude []string) (*AssignResult, error) {
	readCtx, cancel := context.WithTimeout(ctx, b.assignTimeout)
	resolution, err := b.registry.GetActiveStrategy(readCtx, conv.TenantID, conv)
	cancel()
	if err != nil {
		logger.Warn(ctx, "Strategy lookup failed, queueing conversation", zap.Error(err))
		return b.park(ctx, conv, entry, exclude, parked{reason: "strategy lookup failed"})
	}

	_, roundRobin := resolution.Config.(domain.RoundRobinConfig)
	if roundRobin {
		mu := b.rotationLock(conv.TenantID)
		mu.Lock()
		defer mu.Unlock()
	}

	raceLost := false
	var d *decision
	for attempt := 0; attempt < 2; attempt++ {
		d, err = b.decide(ctx, conv, resolution, exclude)
		if err != nil {
			logger.Warn(ctx, "Agent lookup failed, queueing conversation", zap.Error(err))
			return b.park(ctx, conv, entry, exclude, parked{resolution: &resolution, reason: "agent lookup failed", raceLost: raceLost})
		}
		if d.selected == nil {
			reason := "no eligible agent"
			if raceLost {
				reason = "capacity race lost"
			}
			return b.park(ctx, conv, entry, exclude, parked{resolution: &resolution, decision: d, reason: reason, raceLost: raceLost})
		}

		err = b.commit(ctx, conv, entry, resolution, d)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrCapacityRaceLost) {
			return nil, commitFailure("commit assignment", err)
		}
		raceLost = true
		logger.Info(ctx, "Capacity race lost, re-evaluating",
			zap.String("agent_id", d.selected.AgentID),
			zap.Int("attempt", attempt+1))
		d = nil
	}
	if d == nil {
		return b.park(ctx, conv, entry, exclude, parked{resolution: &resolution, reason: "capacity race lost", raceLost: true})
	}

	agentID := d.selected.AgentID
	if roundRobin {
		b.advanceRotation(ctx, conv.TenantID, d.rotation, agentID)
	}

	logger.Info(ctx, "Conversation assigned",
		zap.String("agent_id", agentID),
		zap.String("strategy", string(resolution.Strategy())),
		zap.String("rule_id", resolution.RuleID()),
		zap.Int("candidates", len(d.candidates)))
	b.publish(ctx, event.NewRoutingEvent(event.ConversationAssigned, conv.TenantID, conv.ID).
		WithAgent(agentID).
		WithStrategy(string(resolution.Strategy()), resolution.RuleID()))

	return &AssignResult{
		ConversationID: conv.ID,
		Status:         StatusAssigned,
		AgentID:        agentID,
		Strategy:       resolution.Strategy(),
		RuleID:         resolution.RuleID(),
		RaceLost:       raceLost,
	}, nil
}

// decide runs the bounded read phase and the strategy evaluation
func (b *LoadBalancer) decide(ctx context.Context, conv *domain.Conversation, resolution Resolution, exclude []string) (*decision, error) {
	readCtx, cancel := context.WithTimeout(ctx, b.assignTimeout)
	defer cancel()

	filter := CandidateFilter(conv, resolution.Config, exclude)
	candidates, err := b.capacity.GetAvailableAgents(readCtx, conv.TenantID, filter)
	if err != nil {
		return nil, err
	}

	d := &decision{candidates: candidates, overflow: filter.OverflowSlots}
	state := RotationState{}
	if _, ok := resolution.Config.(domain.RoundRobinConfig); ok {
		pointer, err := b.repos.Rotation().Get(readCtx, conv.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to read rotation pointer: %w", err)
		}
		d.rotation = pointer
		state.LastAgentID = pointer.LastAgentID
	}

	d.selected = Evaluate(candidates, conv, resolution.Config, state)
	return d, nil
}

// commit applies the load increment, the assignment and its history entry atomically
func (b *LoadBalancer) commit(ctx context.Context, conv *domain.Conversation, entry *domain.QueueEntry, resolution Resolution, d *decision) error {
	now := b.now()
	agentID := d.selected.AgentID

	return b.repos.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		if err := repos.AgentCapacity().IncrementLoad(ctx, conv.TenantID, agentID, d.overflow); err != nil {
			return err
		}
		if err := repos.Assignment().Create(ctx, domain.NewAssignment(conv, agentID, now)); err != nil {
			return err
		}
		if entry != nil {
			if err := repos.Queue().MarkAssigned(ctx, entry.ID, agentID, now); err != nil {
				return err
			}
		}
		return record(ctx, repos, &domain.RoutingHistoryEntry{
			TenantID:          conv.TenantID,
			ConversationID:    conv.ID,
			Timestamp:         now,
			StrategyUsed:      resolution.Strategy(),
			RuleID:            resolution.RuleID(),
			CandidateAgentIDs: agentIDs(d.candidates),
			WorkloadScores:    workloadSnapshot(d.candidates),
			SelectedAgentID:   agentID,
			Outcome:           domain.OutcomeAssigned,
		})
	})
}

type parked struct {
	resolution *Resolution
	decision   *decision
	reason     string
	raceLost   bool
}

// park queues the conversation. A claimed entry from a drain goes back to the queue
// with its original position and no new history.
func (b *LoadBalancer) park(ctx context.Context, conv *domain.Conversation, entry *domain.QueueEntry, exclude []string, p parked) (*AssignResult, error) {
	res := &AssignResult{ConversationID: conv.ID, Status: StatusQueued, RaceLost: p.raceLost}
	if p.resolution != nil {
		res.Strategy = p.resolution.Strategy()
		res.RuleID = p.resolution.RuleID()
	}

	created := false
	if entry != nil {
		if err := b.queue.Requeue(ctx, entry); err != nil {
			return nil, commitFailure("requeue conversation", err)
		}
	} else {
		now := b.now()
		err := b.repos.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
			newEntry := domain.NewQueueEntry(conv, now)
			newEntry.ExcludedAgentIDs = domain.NewStringSet(exclude...)
			var err error
			if _, created, err = enqueue(ctx, repos, newEntry); err != nil || !created {
				return err
			}
			h := &domain.RoutingHistoryEntry{
				TenantID:       conv.TenantID,
				ConversationID: conv.ID,
				Timestamp:      now,
				StrategyUsed:   res.Strategy,
				RuleID:         res.RuleID,
				Outcome:        domain.OutcomeQueued,
				Reason:         p.reason,
			}
			if p.decision != nil {
				h.CandidateAgentIDs = agentIDs(p.decision.candidates)
				h.WorkloadScores = workloadSnapshot(p.decision.candidates)
			}
			return record(ctx, repos, h)
		})
		if err != nil {
			return nil, commitFailure("enqueue conversation", err)
		}
	}

	pos, err := b.queue.GetPosition(ctx, conv.TenantID, conv.ID)
	if err != nil {
		logger.Warn(ctx, "Failed to compute queue position", zap.Error(err))
	}
	res.Position = pos

	if created {
		queued := event.NewRoutingEvent(event.ConversationQueued, conv.TenantID, conv.ID).
			WithStrategy(string(res.Strategy), res.RuleID)
		queued.Position = pos
		queued.Reason = p.reason
		b.publish(ctx, queued)
	}

	logger.Info(ctx, "Conversation queued",
		zap.String("reason", p.reason),
		zap.Int("position", pos),
		zap.Bool("race_lost", p.raceLost))
	return res, nil
}

// ReleaseConversation frees the agent's slot and drains the tenant queue into it.
// The returned results are the assignments made by the drain.
func (b *LoadBalancer) ReleaseConversation(ctx context.Context, tenantID, conversationID, agentID string) ([]*AssignResult, error) {
	ctx = logger.WithConversation(ctx, tenantID, conversationID)
	now := b.now()

	err := b.repos.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		if err := repos.Assignment().Release(ctx, tenantID, conversationID, agentID, now); err != nil {
			return err
		}
		if err := repos.AgentCapacity().DecrementLoad(ctx, tenantID, agentID); err != nil {
			return err
		}
		return record(ctx, repos, &domain.RoutingHistoryEntry{
			TenantID:        tenantID,
			ConversationID:  conversationID,
			Timestamp:       now,
			SelectedAgentID: agentID,
			Outcome:         domain.OutcomeReleased,
		})
	})
	if err != nil {
		return nil, commitFailure("release conversation", err)
	}

	logger.Info(ctx, "Conversation released", zap.String("agent_id", agentID))
	b.publish(ctx, event.NewRoutingEvent(event.ConversationReleased, tenantID, conversationID).WithAgent(agentID))

	drained, err := b.DrainQueue(ctx, tenantID)
	if err != nil {
		logger.Warn(ctx, "Queue drain after release failed", zap.Error(err))
	}
	return drained, nil
}

// DrainQueue assigns queued conversations in queue order while some available agent
// can serve them. An entry that routing could not place goes back to its position and
// is skipped for the rest of the pass, so entries behind it still get a chance. Only
// assignments are returned.
func (b *LoadBalancer) DrainQueue(ctx context.Context, tenantID string) ([]*AssignResult, error) {
	ctx = logger.WithTenant(ctx, tenantID)
	var results []*AssignResult
	tried := make(map[string]bool)

	for {
		agents, err := b.capacity.GetAvailableAgents(ctx, tenantID, domain.AgentFilter{})
		if err != nil {
			return results, err
		}
		if len(agents) == 0 {
			break
		}

		entry, err := b.queue.DequeueNext(ctx, tenantID, func(e *domain.QueueEntry) bool {
			if tried[e.ID] {
				return false
			}
			for _, a := range agents {
				if e.ServableBy(a) {
					return true
				}
			}
			return false
		})
		if err != nil {
			return results, fmt.Errorf("failed to dequeue: %w", err)
		}
		if entry == nil {
			break
		}

		res, err := b.route(logger.WithConversation(ctx, tenantID, entry.ConversationID), entry.Conversation(), entry, entry.ExcludedAgentIDs)
		if err != nil {
			if rqErr := b.queue.Requeue(ctx, entry); rqErr != nil {
				logger.Error(ctx, "Failed to requeue entry after routing error",
					zap.String("queue_entry_id", entry.ID),
					zap.Error(rqErr))
			}
			return results, err
		}
		if res.Status != StatusAssigned {
			tried[entry.ID] = true
			continue
		}
		results = append(results, res)
	}

	if assigned := countAssigned(results); assigned > 0 {
		logger.Info(ctx, "Queue drained", zap.Int("assigned", assigned))
		b.publish(ctx, event.NewRoutingEvent(event.QueueDrained, tenantID, "").
			WithData(map[string]interface{}{"assigned": assigned}))
	}
	return results, nil
}

// ReassignConversation moves an active conversation to another agent
func (b *LoadBalancer) ReassignConversation(ctx context.Context, tenantID, conversationID, toAgentID string) (*AssignResult, error) {
	ctx = logger.WithConversation(ctx, tenantID, conversationID)
	now := b.now()
	var fromAgentID string

	err := b.repos.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		a, err := repos.Assignment().Get(ctx, tenantID, conversationID)
		if err != nil {
			return err
		}
		if a.Status != domain.AssignmentActive {
			return fmt.Errorf("%w: conversation %s is not assigned", domain.ErrInvalidStateTransition, conversationID)
		}
		if a.AgentID == toAgentID {
			return fmt.Errorf("%w: conversation %s is already held by %s", domain.ErrInvalidStateTransition, conversationID, toAgentID)
		}
		fromAgentID = a.AgentID

		target, err := repos.AgentCapacity().Get(ctx, tenantID, toAgentID)
		if err != nil {
			return err
		}
		if target.Status == domain.AgentStatusOffline {
			return fmt.Errorf("%w: agent %s is offline", domain.ErrInvalidStateTransition, toAgentID)
		}
		if err := repos.AgentCapacity().IncrementLoad(ctx, tenantID, toAgentID, 0); err != nil {
			return err
		}
		if err := repos.AgentCapacity().DecrementLoad(ctx, tenantID, fromAgentID); err != nil {
			return err
		}
		if err := repos.Assignment().Transfer(ctx, tenantID, conversationID, fromAgentID, toAgentID, now); err != nil {
			return err
		}

		prev, err := latest(ctx, repos, tenantID, conversationID)
		if err != nil {
			return err
		}
		h := &domain.RoutingHistoryEntry{
			TenantID:        tenantID,
			ConversationID:  conversationID,
			Timestamp:       now,
			SelectedAgentID: toAgentID,
			Outcome:         domain.OutcomeReassigned,
			Reason:          "reassigned from " + fromAgentID,
		}
		if prev != nil {
			h.ReferenceEntryID = prev.ID
		}
		return record(ctx, repos, h)
	})
	if err != nil {
		return nil, commitFailure("reassign conversation", err)
	}

	logger.Info(ctx, "Conversation reassigned",
		zap.String("from_agent_id", fromAgentID),
		zap.String("agent_id", toAgentID))
	evt := event.NewRoutingEvent(event.ConversationReassigned, tenantID, conversationID).WithAgent(toAgentID)
	evt.PreviousAgent = fromAgentID
	b.publish(ctx, evt)

	if _, err := b.DrainQueue(ctx, tenantID); err != nil {
		logger.Warn(ctx, "Queue drain after reassignment failed", zap.Error(err))
	}
	return &AssignResult{ConversationID: conversationID, Status: StatusAssigned, AgentID: toAgentID}, nil
}

// RejectConversation records that the agent declined the conversation and routes it
// again without that agent.
func (b *LoadBalancer) RejectConversation(ctx context.Context, tenantID, conversationID, agentID, reason string) (*AssignResult, error) {
	ctx = logger.WithConversation(ctx, tenantID, conversationID)
	now := b.now()
	var conv *domain.Conversation

	err := b.repos.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		a, err := repos.Assignment().Get(ctx, tenantID, conversationID)
		if err != nil {
			return err
		}
		if err := repos.Assignment().Release(ctx, tenantID, conversationID, agentID, now); err != nil {
			return err
		}
		if err := repos.AgentCapacity().DecrementLoad(ctx, tenantID, agentID); err != nil {
			return err
		}
		conv = a.Conversation()

		prev, err := latest(ctx, repos, tenantID, conversationID)
		if err != nil {
			return err
		}
		h := &domain.RoutingHistoryEntry{
			TenantID:        tenantID,
			ConversationID:  conversationID,
			Timestamp:       now,
			SelectedAgentID: agentID,
			Outcome:         domain.OutcomeRejectedByAgent,
			Reason:          reason,
		}
		if prev != nil {
			h.ReferenceEntryID = prev.ID
		}
		return record(ctx, repos, h)
	})
	if err != nil {
		return nil, commitFailure("reject conversation", err)
	}

	logger.Info(ctx, "Conversation rejected by agent", zap.String("agent_id", agentID), zap.String("reason", reason))
	rejected := event.NewRoutingEvent(event.ConversationRejected, tenantID, conversationID).WithAgent(agentID)
	rejected.Reason = reason
	b.publish(ctx, rejected)

	res, err := b.route(ctx, conv, nil, []string{agentID})
	if err != nil {
		return nil, err
	}

	if _, err := b.DrainQueue(ctx, tenantID); err != nil {
		logger.Warn(ctx, "Queue drain after rejection failed", zap.Error(err))
	}
	return res, nil
}

// RecordInbound notes a customer message on the active assignment, or on the open
// queue entry so the timestamp follows the conversation when it is drained.
func (b *LoadBalancer) RecordInbound(ctx context.Context, tenantID, conversationID string) error {
	at := b.now()
	err := b.repos.Assignment().TouchInbound(ctx, tenantID, conversationID, at)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	qErr := b.repos.Queue().TouchInbound(ctx, tenantID, conversationID, at)
	if qErr == nil || !errors.Is(qErr, domain.ErrNotFound) {
		return qErr
	}
	return err
}

// RecordAgentResponse notes that the assigned agent replied
func (b *LoadBalancer) RecordAgentResponse(ctx context.Context, tenantID, conversationID string) error {
	return b.repos.Assignment().TouchAgentResponse(ctx, tenantID, conversationID, b.now())
}

// GetQueuePosition returns the 1-based queue rank of a conversation
func (b *LoadBalancer) GetQueuePosition(ctx context.Context, tenantID, conversationID string) (int, error) {
	return b.queue.GetPosition(ctx, tenantID, conversationID)
}

// QueryRoutingHistory returns audit entries for the admin view
func (b *LoadBalancer) QueryRoutingHistory(ctx context.Context, tenantID string, filter domain.HistoryFilter) ([]*domain.RoutingHistoryEntry, error) {
	return b.audit.Query(ctx, tenantID, filter)
}

func (b *LoadBalancer) rotationLock(tenantID string) *sync.Mutex {
	mu, _ := b.rotationLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// advanceRotation moves the pointer to the agent that just received a conversation.
// A lost swap only skews fairness, so it is logged and ignored.
func (b *LoadBalancer) advanceRotation(ctx context.Context, tenantID string, pointer *domain.RotationPointer, agentID string) {
	if pointer == nil {
		return
	}
	swapped, err := b.repos.Rotation().CompareAndSwap(ctx, tenantID, pointer.Version, agentID)
	if err != nil {
		logger.Warn(ctx, "Failed to advance rotation pointer", zap.Error(err))
		return
	}
	if !swapped {
		logger.Warn(ctx, "Rotation pointer changed concurrently",
			zap.String("agent_id", agentID),
			zap.Int64("expected_version", pointer.Version))
	}
}

func (b *LoadBalancer) publish(ctx context.Context, evt *event.RoutingEvent) {
	if b.events == nil {
		return
	}
	b.events.Publish(ctx, evt)
}

// commitFailure keeps routing defects recognizable and marks everything else as a store failure
func commitFailure(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrCapacityRaceLost),
		errors.Is(err, domain.ErrCapacityUnderflow),
		errors.Is(err, domain.ErrInvalidAgent),
		errors.Is(err, domain.ErrStoreUnavailable):
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func countAssigned(results []*AssignResult) int {
	n := 0
	for _, r := range results {
		if r.Status == StatusAssigned {
			n++
		}
	}
	return n
}
