package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/core/event"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/ClareAI/astra-routing-service/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

const testTenant = "tenant-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []*event.RoutingEvent
}

func (s *recordingSink) Publish(ctx context.Context, evt *event.RoutingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) types() []event.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Manager
	clock  *fakeClock
	events *recordingSink
	lb     *LoadBalancer
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, nil)
}

// newFixtureWith builds a balancer over wrap(store); wrap may inject failures
func newFixtureWith(t *testing.T, wrap func(repository.RepositoryManager) repository.RepositoryManager) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  memory.NewManager(),
		clock:  newFakeClock(),
		events: &recordingSink{},
	}
	var repos repository.RepositoryManager = f.store
	if wrap != nil {
		repos = wrap(f.store)
	}
	f.lb = NewLoadBalancer(repos, NewRuleRegistry(repos, nil), f.events, BalancerOptions{
		AssignTimeout: 200 * time.Millisecond,
		Now:           f.clock.Now,
	})
	return f
}

func (f *fixture) addAgent(agentID string, maxConcurrent int, skills ...string) {
	f.t.Helper()
	require.NoError(f.t, f.store.AgentCapacity().Create(f.ctx, &domain.AgentCapacity{
		TenantID:                   testTenant,
		AgentID:                    agentID,
		Status:                     domain.AgentStatusAvailable,
		MaxConcurrentConversations: maxConcurrent,
		Skills:                     domain.NewStringSet(skills...),
		Languages:                  domain.NewStringSet("en"),
		AutoAssignEnabled:          true,
	}))
}

func (f *fixture) setLoad(agentID string, n int) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(f.t, f.store.AgentCapacity().IncrementLoad(f.ctx, testTenant, agentID, 0))
	}
}

func (f *fixture) useStrategy(s domain.Strategy) {
	f.t.Helper()
	_, err := f.lb.Registry().UpsertSettings(f.ctx, testTenant, &domain.UpsertTenantSettingsRequest{DefaultStrategy: &s})
	require.NoError(f.t, err)
}

func (f *fixture) assign(conversationID string, priority int, skills ...string) *AssignResult {
	f.t.Helper()
	res, err := f.lb.AssignConversation(f.ctx, &domain.Conversation{
		ID:             conversationID,
		TenantID:       testTenant,
		Priority:       priority,
		Channel:        "whatsapp",
		RequiredSkills: skills,
	})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) load(agentID string) int {
	f.t.Helper()
	a, err := f.store.AgentCapacity().Get(f.ctx, testTenant, agentID)
	require.NoError(f.t, err)
	return a.CurrentConversationCount
}

func (f *fixture) history(filter domain.HistoryFilter) []*domain.RoutingHistoryEntry {
	f.t.Helper()
	entries, err := f.store.History().Query(f.ctx, testTenant, filter)
	require.NoError(f.t, err)
	return entries
}

// assertCapacityInvariant checks 0 <= count <= max for every agent of the tenant
func (f *fixture) assertCapacityInvariant() {
	f.t.Helper()
	agents, err := f.store.AgentCapacity().List(f.ctx, testTenant)
	require.NoError(f.t, err)
	for _, a := range agents {
		require.GreaterOrEqual(f.t, a.CurrentConversationCount, 0, a.AgentID)
		require.LessOrEqual(f.t, a.CurrentConversationCount, a.MaxConcurrentConversations, a.AgentID)
	}
}

// assertNoDoubleAssignment checks that no conversation has two assigned entries without
// a release, reassignment or rejection between them
func (f *fixture) assertNoDoubleAssignment() {
	f.t.Helper()
	holding := make(map[string]bool)
	for _, e := range f.history(domain.HistoryFilter{Limit: 10000}) {
		switch e.Outcome {
		case domain.OutcomeAssigned:
			require.False(f.t, holding[e.ConversationID], "conversation %s assigned twice", e.ConversationID)
			holding[e.ConversationID] = true
		case domain.OutcomeReleased, domain.OutcomeRejectedByAgent:
			holding[e.ConversationID] = false
		}
	}
}

var errInjected = errors.New("connection refused")

// faultyRepos wraps a manager and fails selected operations
type faultyRepos struct {
	repository.RepositoryManager
	failAgentList bool
	blockAgents   bool
	failRules     bool
	failTx        bool
	failHistoryTx bool
	staleOnce     []*domain.AgentCapacity
	mu            sync.Mutex
}

func (r *faultyRepos) AgentCapacity() repository.AgentCapacityRepository {
	return &faultyAgents{AgentCapacityRepository: r.RepositoryManager.AgentCapacity(), parent: r}
}

func (r *faultyRepos) RoutingRule() repository.RoutingRuleRepository {
	if r.failRules {
		return faultyRules{r.RepositoryManager.RoutingRule()}
	}
	return r.RepositoryManager.RoutingRule()
}

func (r *faultyRepos) WithTx(ctx context.Context, fn func(ctx context.Context, repos repository.RepositoryManager) error) error {
	if r.failTx {
		return errInjected
	}
	return r.RepositoryManager.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		if r.failHistoryTx {
			return fn(ctx, faultyHistoryTx{repos})
		}
		return fn(ctx, repos)
	})
}

type faultyAgents struct {
	repository.AgentCapacityRepository
	parent *faultyRepos
}

func (a *faultyAgents) ListAvailable(ctx context.Context, tenantID string, filter domain.AgentFilter) ([]*domain.AgentCapacity, error) {
	p := a.parent
	p.mu.Lock()
	stale := p.staleOnce
	p.staleOnce = nil
	p.mu.Unlock()

	switch {
	case stale != nil:
		return stale, nil
	case p.failAgentList:
		return nil, errInjected
	case p.blockAgents:
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return a.AgentCapacityRepository.ListAvailable(ctx, tenantID, filter)
}

type faultyRules struct {
	repository.RoutingRuleRepository
}

func (faultyRules) List(ctx context.Context, tenantID string, activeOnly bool) ([]*domain.RoutingRule, error) {
	return nil, errInjected
}

type faultyHistoryTx struct {
	repository.RepositoryManager
}

func (r faultyHistoryTx) History() repository.RoutingHistoryRepository {
	return faultyHistory{r.RepositoryManager.History()}
}

type faultyHistory struct {
	repository.RoutingHistoryRepository
}

func (faultyHistory) Create(ctx context.Context, entry *domain.RoutingHistoryEntry) error {
	return errInjected
}
