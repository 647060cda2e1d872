package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAgent(t *testing.T, m *Manager, agentID string, maxConcurrent int) {
	t.Helper()
	require.NoError(t, m.AgentCapacity().Create(context.Background(), &domain.AgentCapacity{
		TenantID:                   "t1",
		AgentID:                    agentID,
		Status:                     domain.AgentStatusAvailable,
		MaxConcurrentConversations: maxConcurrent,
		AutoAssignEnabled:          true,
		Skills:                     domain.StringSet{"Billing", "billing"},
	}))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	seedAgent(t, m, "a1", 2)

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		require.NoError(t, repos.AgentCapacity().IncrementLoad(ctx, "t1", "a1", 0))
		require.NoError(t, repos.History().Create(ctx, &domain.RoutingHistoryEntry{
			TenantID: "t1", ConversationID: "c1", Outcome: domain.OutcomeAssigned,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	agent, err := m.AgentCapacity().Get(ctx, "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, agent.CurrentConversationCount)

	entries, err := m.History().Query(ctx, "t1", domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTxCommits(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	seedAgent(t, m, "a1", 2)

	err := m.WithTx(ctx, func(ctx context.Context, repos repository.RepositoryManager) error {
		if err := repos.AgentCapacity().IncrementLoad(ctx, "t1", "a1", 0); err != nil {
			return err
		}
		return repos.Assignment().Create(ctx, &domain.ConversationAssignment{
			TenantID: "t1", ConversationID: "c1", AgentID: "a1", AssignedAt: time.Now(),
		})
	})
	require.NoError(t, err)

	agent, err := m.AgentCapacity().Get(ctx, "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, agent.CurrentConversationCount)

	a, err := m.Assignment().Get(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.AssignmentActive, a.Status)
}

func TestIncrementLoadStopsAtCeiling(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	seedAgent(t, m, "a1", 1)

	require.NoError(t, m.AgentCapacity().IncrementLoad(ctx, "t1", "a1", 0))
	err := m.AgentCapacity().IncrementLoad(ctx, "t1", "a1", 0)
	assert.ErrorIs(t, err, domain.ErrCapacityRaceLost)

	require.NoError(t, m.AgentCapacity().IncrementLoad(ctx, "t1", "a1", 1))

	err = m.AgentCapacity().IncrementLoad(ctx, "t1", "missing", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecrementLoadUnderflow(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	seedAgent(t, m, "a1", 1)

	err := m.AgentCapacity().DecrementLoad(ctx, "t1", "a1")
	assert.ErrorIs(t, err, domain.ErrCapacityUnderflow)
}

func TestReturnedRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	seedAgent(t, m, "a1", 3)

	agent, err := m.AgentCapacity().Get(ctx, "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.StringSet{"billing"}, agent.Skills)

	agent.CurrentConversationCount = 99
	agent.Skills[0] = "mutated"

	again, err := m.AgentCapacity().Get(ctx, "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.CurrentConversationCount)
	assert.Equal(t, domain.StringSet{"billing"}, again.Skills)
}

func TestUpdateRejectsMaxBelowLoad(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	seedAgent(t, m, "a1", 3)
	require.NoError(t, m.AgentCapacity().IncrementLoad(ctx, "t1", "a1", 0))
	require.NoError(t, m.AgentCapacity().IncrementLoad(ctx, "t1", "a1", 0))

	limit := 1
	_, err := m.AgentCapacity().Update(ctx, "t1", "a1", &domain.UpdateAgentCapacityRequest{MaxConcurrentConversations: &limit})
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)

	limit = 2
	agent, err := m.AgentCapacity().Update(ctx, "t1", "a1", &domain.UpdateAgentCapacityRequest{MaxConcurrentConversations: &limit})
	require.NoError(t, err)
	assert.Equal(t, 2, agent.MaxConcurrentConversations)
}

func TestQueueClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	entry := &domain.QueueEntry{TenantID: "t1", ConversationID: "c1", Priority: 5, EnqueuedAt: time.Now()}
	require.NoError(t, m.Queue().Create(ctx, entry))

	ok, err := m.Queue().Claim(ctx, entry.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Queue().Claim(ctx, entry.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Queue().Requeue(ctx, entry.ID))
	assert.ErrorIs(t, m.Queue().MarkAssigned(ctx, entry.ID, "a1", time.Now()), domain.ErrInvalidStateTransition)
}

func TestRotationCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewManager()

	p, err := m.Rotation().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Version)

	ok, err := m.Rotation().CompareAndSwap(ctx, "t1", 0, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Rotation().CompareAndSwap(ctx, "t1", 0, "a2")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err = m.Rotation().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a1", p.LastAgentID)
	assert.Equal(t, int64(1), p.Version)
}
