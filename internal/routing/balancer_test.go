package routing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/core/event"
	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinFillsAgentsThenQueues(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 1)
	f.addAgent("agent-b", 1)

	r1 := f.assign("c1", 5)
	r2 := f.assign("c2", 5)
	r3 := f.assign("c3", 5)

	assert.Equal(t, StatusAssigned, r1.Status)
	assert.Equal(t, "agent-a", r1.AgentID)
	assert.Equal(t, domain.StrategyRoundRobin, r1.Strategy)
	assert.Equal(t, StatusAssigned, r2.Status)
	assert.Equal(t, "agent-b", r2.AgentID)
	assert.Equal(t, StatusQueued, r3.Status)
	assert.Equal(t, 1, r3.Position)
	assert.False(t, r3.RaceLost)

	assert.Equal(t, 1, f.load("agent-a"))
	assert.Equal(t, 1, f.load("agent-b"))
	f.assertCapacityInvariant()

	queued := f.history(domain.HistoryFilter{Outcome: domain.OutcomeQueued})
	require.Len(t, queued, 1)
	assert.Equal(t, "c3", queued[0].ConversationID)
	assert.Equal(t, "no eligible agent", queued[0].Reason)

	assert.Equal(t, []event.EventType{
		event.ConversationAssigned,
		event.ConversationAssigned,
		event.ConversationQueued,
	}, f.events.types())
}

func TestRoundRobinFairness(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"agent-c", "agent-a", "agent-b", "agent-d"} {
		f.addAgent(id, 5)
	}

	counts := make(map[string]int)
	for i := 0; i < 4; i++ {
		res := f.assign(fmt.Sprintf("c%d", i), 5)
		require.Equal(t, StatusAssigned, res.Status)
		counts[res.AgentID]++
	}
	assert.Equal(t, map[string]int{"agent-a": 1, "agent-b": 1, "agent-c": 1, "agent-d": 1}, counts)

	pointer, err := f.store.Rotation().Get(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, "agent-d", pointer.LastAgentID)
	assert.Equal(t, int64(4), pointer.Version)
}

func TestLeastLoadedPicksLowestScore(t *testing.T) {
	f := newFixture(t)
	f.useStrategy(domain.StrategyLeastLoaded)
	f.addAgent("agent-a", 5)
	f.addAgent("agent-b", 5)
	f.setLoad("agent-a", 3)
	f.setLoad("agent-b", 2)

	res := f.assign("c1", 5)
	assert.Equal(t, "agent-b", res.AgentID)
	assert.Equal(t, domain.StrategyLeastLoaded, res.Strategy)

	entries := f.history(domain.HistoryFilter{ConversationID: "c1"})
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OutcomeAssigned, entries[0].Outcome)
	assert.InDelta(t, 0.6, entries[0].WorkloadScores["agent-a"], 1e-9)
	assert.InDelta(t, 0.4, entries[0].WorkloadScores["agent-b"], 1e-9)
	assert.ElementsMatch(t, []string{"agent-a", "agent-b"}, []string(entries[0].CandidateAgentIDs))
}

func TestSkillBasedRoutingAndQueueing(t *testing.T) {
	f := newFixture(t)
	f.useStrategy(domain.StrategySkillBased)
	f.addAgent("agent-a", 5, "sales")
	f.addAgent("agent-b", 5, "billing", "sales")

	res := f.assign("c1", 5, "billing")
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, "agent-b", res.AgentID)

	require.NoError(t, f.lb.Capacity().DisableAgent(f.ctx, testTenant, "agent-b"))

	res = f.assign("c2", 5, "billing")
	assert.Equal(t, StatusQueued, res.Status)
	assert.Equal(t, 0, f.load("agent-a"))
}

func TestDrainServesHighestPriorityFirst(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 1)
	require.Equal(t, StatusAssigned, f.assign("c0", 5).Status)

	low := f.assign("c2", 5)
	f.clock.Advance(time.Second)
	urgent := f.assign("c1", 1)
	require.Equal(t, StatusQueued, low.Status)
	require.Equal(t, StatusQueued, urgent.Status)

	pos, err := f.lb.GetQueuePosition(f.ctx, testTenant, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	pos, err = f.lb.GetQueuePosition(f.ctx, testTenant, "c2")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	drained, err := f.lb.ReleaseConversation(f.ctx, testTenant, "c0", "agent-a")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, "c1", drained[0].ConversationID)
	assert.Equal(t, "agent-a", drained[0].AgentID)

	drained, err = f.lb.ReleaseConversation(f.ctx, testTenant, "c1", "agent-a")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, "c2", drained[0].ConversationID)

	_, err = f.lb.GetQueuePosition(f.ctx, testTenant, "c2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.assertNoDoubleAssignment()
}

func TestDrainIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 1)
	f.assign("c0", 5)
	f.assign("c1", 5)
	f.clock.Advance(time.Second)
	f.assign("c2", 5)

	drained, err := f.lb.ReleaseConversation(f.ctx, testTenant, "c0", "agent-a")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, "c1", drained[0].ConversationID)

	again, err := f.lb.DrainQueue(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, again)

	assert.Equal(t, 1, f.load("agent-a"))
	depth, err := f.lb.Queue().Depth(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.Len(t, f.history(domain.HistoryFilter{Outcome: domain.OutcomeAssigned}), 2)
}

func TestDrainSkipsEntriesNobodyCanServe(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 1, "sales")
	f.assign("c0", 5)
	f.assign("c-billing", 1, "billing")
	f.assign("c-sales", 5, "sales")

	drained, err := f.lb.ReleaseConversation(f.ctx, testTenant, "c0", "agent-a")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, "c-sales", drained[0].ConversationID)

	pos, err := f.lb.GetQueuePosition(f.ctx, testTenant, "c-billing")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestDrainContinuesPastEntryRoutingCannotPlace(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 1, "sales")
	_, err := f.lb.Registry().CreateRule(f.ctx, testTenant, &domain.CreateRoutingRuleRequest{
		Name:       "vip desk",
		Strategy:   domain.StrategySkillBased,
		Priority:   1,
		Conditions: domain.RuleConditions{RequiredTags: []string{"vip"}},
		Config:     domain.RuleConfig{SkillBased: &domain.SkillBasedConfig{RequiredSkills: []string{"vip"}}},
	})
	require.NoError(t, err)

	f.assign("c0", 5)
	vip, err := f.lb.AssignConversation(f.ctx, &domain.Conversation{
		ID: "c-vip", TenantID: testTenant, Priority: 1, Channel: "whatsapp", Tags: []string{"vip"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusQueued, vip.Status)
	f.assign("c-plain", 5)

	drained, err := f.lb.ReleaseConversation(f.ctx, testTenant, "c0", "agent-a")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, "c-plain", drained[0].ConversationID)
	assert.Equal(t, "agent-a", drained[0].AgentID)

	pos, err := f.lb.GetQueuePosition(f.ctx, testTenant, "c-vip")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	f.assertCapacityInvariant()
}

func TestConcurrentAssignForLastSlot(t *testing.T) {
	f := newFixture(t)
	f.useStrategy(domain.StrategyLeastLoaded)
	f.addAgent("agent-a", 1)

	var wg sync.WaitGroup
	results := make([]*AssignResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.lb.AssignConversation(f.ctx, &domain.Conversation{
				ID: fmt.Sprintf("c%d", i), TenantID: testTenant, Priority: 5,
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	statuses := []AssignStatus{results[0].Status, results[1].Status}
	assert.ElementsMatch(t, []AssignStatus{StatusAssigned, StatusQueued}, statuses)
	assert.Equal(t, 1, f.load("agent-a"))
	f.assertCapacityInvariant()
}

func TestCapacityRaceLostQueuesAfterRetry(t *testing.T) {
	var faulty *faultyRepos
	f := newFixtureWith(t, func(inner repository.RepositoryManager) repository.RepositoryManager {
		faulty = &faultyRepos{RepositoryManager: inner}
		return faulty
	})
	f.useStrategy(domain.StrategyLeastLoaded)
	f.addAgent("agent-a", 1)

	// another decision takes the last slot after this one read the candidates
	snapshot, err := f.store.AgentCapacity().ListAvailable(f.ctx, testTenant, domain.AgentFilter{})
	require.NoError(t, err)
	require.Equal(t, StatusAssigned, f.assign("c0", 5).Status)
	faulty.staleOnce = snapshot

	res := f.assign("c1", 5)
	assert.Equal(t, StatusQueued, res.Status)
	assert.True(t, res.RaceLost)
	assert.Equal(t, 1, res.Position)
	assert.Equal(t, 1, f.load("agent-a"))

	queued := f.history(domain.HistoryFilter{ConversationID: "c1"})
	require.Len(t, queued, 1)
	assert.Equal(t, domain.OutcomeQueued, queued[0].Outcome)
	assert.Equal(t, "capacity race lost", queued[0].Reason)
}

func TestCapacityRaceLostRetriesOnAnotherAgent(t *testing.T) {
	var faulty *faultyRepos
	f := newFixtureWith(t, func(inner repository.RepositoryManager) repository.RepositoryManager {
		faulty = &faultyRepos{RepositoryManager: inner}
		return faulty
	})
	f.useStrategy(domain.StrategyLeastLoaded)
	f.addAgent("agent-a", 1)
	f.addAgent("agent-b", 2)
	f.setLoad("agent-b", 1)

	snapshot, err := f.store.AgentCapacity().ListAvailable(f.ctx, testTenant, domain.AgentFilter{})
	require.NoError(t, err)
	f.setLoad("agent-a", 1)
	faulty.staleOnce = snapshot

	res := f.assign("c1", 5)
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, "agent-b", res.AgentID)
	assert.True(t, res.RaceLost)
	f.assertCapacityInvariant()
}

func TestReadFailuresQueueTheConversation(t *testing.T) {
	tests := []struct {
		name   string
		inject func(r *faultyRepos)
		reason string
	}{
		{"agent lookup error", func(r *faultyRepos) { r.failAgentList = true }, "agent lookup failed"},
		{"agent lookup timeout", func(r *faultyRepos) { r.blockAgents = true }, "agent lookup failed"},
		{"rule lookup error", func(r *faultyRepos) { r.failRules = true }, "strategy lookup failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWith(t, func(inner repository.RepositoryManager) repository.RepositoryManager {
				r := &faultyRepos{RepositoryManager: inner}
				tt.inject(r)
				return r
			})
			f.addAgent("agent-a", 3)

			res := f.assign("c1", 5)
			assert.Equal(t, StatusQueued, res.Status)
			assert.Equal(t, 1, res.Position)
			assert.Equal(t, 0, f.load("agent-a"))

			entries := f.history(domain.HistoryFilter{ConversationID: "c1"})
			require.Len(t, entries, 1)
			assert.Equal(t, tt.reason, entries[0].Reason)
		})
	}
}

func TestCommitFailureIsReported(t *testing.T) {
	f := newFixtureWith(t, func(inner repository.RepositoryManager) repository.RepositoryManager {
		return &faultyRepos{RepositoryManager: inner, failTx: true}
	})
	f.addAgent("agent-a", 3)

	_, err := f.lb.AssignConversation(f.ctx, &domain.Conversation{ID: "c1", TenantID: testTenant})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 0, f.load("agent-a"))
}

func TestCommitIsAtomic(t *testing.T) {
	f := newFixtureWith(t, func(inner repository.RepositoryManager) repository.RepositoryManager {
		return &faultyRepos{RepositoryManager: inner, failHistoryTx: true}
	})
	f.addAgent("agent-a", 3)

	_, err := f.lb.AssignConversation(f.ctx, &domain.Conversation{ID: "c1", TenantID: testTenant})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	assert.Equal(t, 0, f.load("agent-a"))
	_, err = f.store.Assignment().Get(f.ctx, testTenant, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.events.types())
}

func TestAssignIsIdempotentForQueuedConversation(t *testing.T) {
	f := newFixture(t)

	first := f.assign("c1", 5)
	second := f.assign("c1", 5)
	assert.Equal(t, StatusQueued, first.Status)
	assert.Equal(t, StatusQueued, second.Status)
	assert.Equal(t, first.Position, second.Position)
	assert.Len(t, f.history(domain.HistoryFilter{ConversationID: "c1"}), 1)
}

func TestAssignRejectsAssignedConversation(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 3)
	f.assign("c1", 5)

	_, err := f.lb.AssignConversation(f.ctx, &domain.Conversation{ID: "c1", TenantID: testTenant})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, 1, f.load("agent-a"))
}

func TestAssignValidatesConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.lb.AssignConversation(f.ctx, &domain.Conversation{ID: "c1", TenantID: testTenant, Priority: 11})
	assert.Error(t, err)
	_, err = f.lb.AssignConversation(f.ctx, &domain.Conversation{TenantID: testTenant})
	assert.Error(t, err)
}

func TestReleaseByWrongAgentIsRejected(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 3)
	f.addAgent("agent-b", 3)
	res := f.assign("c1", 5)
	require.Equal(t, "agent-a", res.AgentID)

	_, err := f.lb.ReleaseConversation(f.ctx, testTenant, "c1", "agent-b")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, 1, f.load("agent-a"))
	assert.Equal(t, 0, f.load("agent-b"))

	_, err = f.lb.ReleaseConversation(f.ctx, testTenant, "c1", "agent-a")
	require.NoError(t, err)
	_, err = f.lb.ReleaseConversation(f.ctx, testTenant, "c1", "agent-a")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, 0, f.load("agent-a"))
}

func TestReassignConversation(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 2)
	f.addAgent("agent-b", 1)
	require.Equal(t, "agent-a", f.assign("c1", 5).AgentID)

	res, err := f.lb.ReassignConversation(f.ctx, testTenant, "c1", "agent-b")
	require.NoError(t, err)
	assert.Equal(t, "agent-b", res.AgentID)
	assert.Equal(t, 0, f.load("agent-a"))
	assert.Equal(t, 1, f.load("agent-b"))

	entries := f.history(domain.HistoryFilter{ConversationID: "c1"})
	require.Len(t, entries, 2)
	assert.Equal(t, domain.OutcomeReassigned, entries[1].Outcome)
	assert.Equal(t, entries[0].ID, entries[1].ReferenceEntryID)

	_, err = f.lb.ReassignConversation(f.ctx, testTenant, "c1", "agent-b")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	require.Equal(t, "agent-a", f.assign("c2", 5).AgentID)
	_, err = f.lb.ReassignConversation(f.ctx, testTenant, "c2", "agent-b")
	assert.ErrorIs(t, err, domain.ErrCapacityRaceLost)
	assert.Equal(t, 1, f.load("agent-a"))
	assert.Equal(t, 1, f.load("agent-b"))

	// the release after a reassignment frees the new holder
	_, err = f.lb.ReleaseConversation(f.ctx, testTenant, "c1", "agent-b")
	require.NoError(t, err)
	assert.Equal(t, 0, f.load("agent-b"))
}

func TestRejectRoutesToAnotherAgent(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 2)
	f.addAgent("agent-b", 2)
	require.Equal(t, "agent-a", f.assign("c1", 5).AgentID)

	res, err := f.lb.RejectConversation(f.ctx, testTenant, "c1", "agent-a", "out of office")
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, res.Status)
	assert.Equal(t, "agent-b", res.AgentID)
	assert.Equal(t, 0, f.load("agent-a"))
	assert.Equal(t, 1, f.load("agent-b"))

	entries := f.history(domain.HistoryFilter{ConversationID: "c1"})
	require.Len(t, entries, 3)
	assert.Equal(t, domain.OutcomeRejectedByAgent, entries[1].Outcome)
	assert.Equal(t, "out of office", entries[1].Reason)
	assert.Equal(t, entries[0].ID, entries[1].ReferenceEntryID)
	assert.Equal(t, domain.OutcomeAssigned, entries[2].Outcome)
	f.assertNoDoubleAssignment()
}

func TestRejectedConversationIsNotDrainedBackToSameAgent(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 2)
	f.assign("c1", 5)

	res, err := f.lb.RejectConversation(f.ctx, testTenant, "c1", "agent-a", "")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)

	drained, err := f.lb.DrainQueue(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, drained)

	f.addAgent("agent-b", 2)
	drained, err = f.lb.DrainQueue(f.ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, "agent-b", drained[0].AgentID)
}

func TestRecordInboundAndResponse(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 1)
	f.assign("c1", 5)
	f.assign("c2", 5)

	require.NoError(t, f.lb.RecordInbound(f.ctx, testTenant, "c1"))
	require.NoError(t, f.lb.RecordInbound(f.ctx, testTenant, "c2"))
	assert.ErrorIs(t, f.lb.RecordInbound(f.ctx, testTenant, "c9"), domain.ErrNotFound)

	a, err := f.store.Assignment().Get(f.ctx, testTenant, "c1")
	require.NoError(t, err)
	assert.True(t, a.AwaitingAgentReply())

	f.clock.Advance(time.Minute)
	require.NoError(t, f.lb.RecordAgentResponse(f.ctx, testTenant, "c1"))
	a, err = f.store.Assignment().Get(f.ctx, testTenant, "c1")
	require.NoError(t, err)
	assert.False(t, a.AwaitingAgentReply())
}

func TestPriorityBasedUrgentUsesOverflow(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 1)
	_, err := f.lb.Registry().CreateRule(f.ctx, testTenant, &domain.CreateRoutingRuleRequest{
		Name:     "urgent overflow",
		Strategy: domain.StrategyPriorityBased,
		Priority: 1,
		Config:   domain.RuleConfig{PriorityBased: &domain.PriorityBasedConfig{OverflowSlots: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusAssigned, f.assign("c1", 5).Status)
	assert.Equal(t, StatusQueued, f.assign("c2", 5).Status)

	urgent := f.assign("c3", 1)
	assert.Equal(t, StatusAssigned, urgent.Status)
	assert.Equal(t, domain.StrategyPriorityBased, urgent.Strategy)
	assert.NotEmpty(t, urgent.RuleID)
	assert.Equal(t, 2, f.load("agent-a"))

	assert.Equal(t, StatusQueued, f.assign("c4", 1).Status)
}

func TestConcurrentLoadKeepsCapacityInvariant(t *testing.T) {
	f := newFixture(t)
	f.useStrategy(domain.StrategyLeastLoaded)
	for i := 0; i < 4; i++ {
		f.addAgent(fmt.Sprintf("agent-%d", i), 2)
	}

	const n = 24
	var wg sync.WaitGroup
	results := make([]*AssignResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.lb.AssignConversation(f.ctx, &domain.Conversation{
				ID: fmt.Sprintf("c%02d", i), TenantID: testTenant, Priority: 5,
			})
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	assigned := 0
	for _, r := range results {
		require.NotNil(t, r)
		if r.Status == StatusAssigned {
			assigned++
		}
	}
	assert.LessOrEqual(t, assigned, 8)
	f.assertCapacityInvariant()
	f.assertNoDoubleAssignment()

	total := 0
	for i := 0; i < 4; i++ {
		total += f.load(fmt.Sprintf("agent-%d", i))
	}
	assert.Equal(t, assigned, total)
}

func TestRejectAndDrainKeepConversationContext(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 2)
	inbound := f.clock.Now()
	res, err := f.lb.AssignConversation(f.ctx, &domain.Conversation{
		ID:               "c1",
		TenantID:         testTenant,
		Priority:         5,
		Channel:          "whatsapp",
		PreferredAgentID: "agent-a",
		Attributes:       map[string]string{"plan": "gold"},
		LastInboundAt:    inbound,
	})
	require.NoError(t, err)
	require.Equal(t, "agent-a", res.AgentID)

	res, err = f.lb.RejectConversation(f.ctx, testTenant, "c1", "agent-a", "busy")
	require.NoError(t, err)
	require.Equal(t, StatusQueued, res.Status)

	entry, err := f.store.Queue().GetOpen(f.ctx, testTenant, "c1")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", entry.PreferredAgentID)
	assert.Equal(t, "gold", entry.Attributes["plan"])
	require.NotNil(t, entry.LastInboundAt)
	assert.True(t, inbound.Equal(*entry.LastInboundAt))

	f.addAgent("agent-b", 2)
	drained, err := f.lb.DrainQueue(f.ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, "agent-b", drained[0].AgentID)

	a, err := f.store.Assignment().Get(f.ctx, testTenant, "c1")
	require.NoError(t, err)
	assert.Equal(t, "agent-a", a.PreferredAgentID)
	assert.Equal(t, map[string]string{"plan": "gold"}, a.Conversation().Attributes)
	require.NotNil(t, a.LastInboundAt)
	assert.True(t, inbound.Equal(*a.LastInboundAt))
}

func TestRejectReferencesNewestEntryOfLongHistory(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 2)
	f.addAgent("agent-b", 2)

	start := f.clock.Now().Add(-2 * time.Hour)
	for i := 0; i < maxHistoryLimit+5; i++ {
		require.NoError(t, f.store.History().Create(f.ctx, &domain.RoutingHistoryEntry{
			TenantID:       testTenant,
			ConversationID: "c1",
			Timestamp:      start.Add(time.Duration(i) * time.Second),
			Outcome:        domain.OutcomeQueued,
		}))
	}

	res := f.assign("c1", 5)
	require.Equal(t, StatusAssigned, res.Status)
	f.clock.Advance(time.Minute)
	_, err := f.lb.RejectConversation(f.ctx, testTenant, "c1", res.AgentID, "wrong team")
	require.NoError(t, err)

	assigned := f.history(domain.HistoryFilter{ConversationID: "c1", Outcome: domain.OutcomeAssigned})
	require.Len(t, assigned, 2)
	rejected := f.history(domain.HistoryFilter{ConversationID: "c1", Outcome: domain.OutcomeRejectedByAgent})
	require.Len(t, rejected, 1)
	assert.Equal(t, assigned[0].ID, rejected[0].ReferenceEntryID)
}
