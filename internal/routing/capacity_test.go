package routing

import (
	"context"
	"testing"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/ClareAI/astra-routing-service/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAgentDefaults(t *testing.T) {
	ctx := context.Background()
	store := memory.NewManager()
	svc := NewCapacityService(store, 3)

	agent, err := svc.CreateAgent(ctx, testTenant, &domain.CreateAgentCapacityRequest{AgentID: "agent-a"})
	require.NoError(t, err)
	assert.Equal(t, 3, agent.MaxConcurrentConversations, "service default without tenant settings")
	assert.Equal(t, domain.AgentStatusOffline, agent.Status)
	assert.True(t, agent.AutoAssignEnabled)

	maxConcurrent := 8
	_, err = NewRuleRegistry(store, nil).UpsertSettings(ctx, testTenant, &domain.UpsertTenantSettingsRequest{DefaultMaxConcurrent: &maxConcurrent})
	require.NoError(t, err)

	manual := false
	agent, err = svc.CreateAgent(ctx, testTenant, &domain.CreateAgentCapacityRequest{
		AgentID:           "agent-b",
		Status:            domain.AgentStatusAvailable,
		Skills:            []string{"billing"},
		AutoAssignEnabled: &manual,
	})
	require.NoError(t, err)
	assert.Equal(t, 8, agent.MaxConcurrentConversations)
	assert.False(t, agent.AutoAssignEnabled)

	available, err := svc.GetAvailableAgents(ctx, testTenant, domain.AgentFilter{})
	require.NoError(t, err)
	assert.Empty(t, available, "offline and manual-only agents are not routable")
}

func TestCreateAgentValidation(t *testing.T) {
	svc := NewCapacityService(memory.NewManager(), 0)
	ctx := context.Background()

	_, err := svc.CreateAgent(ctx, testTenant, &domain.CreateAgentCapacityRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)

	_, err = svc.CreateAgent(ctx, testTenant, &domain.CreateAgentCapacityRequest{AgentID: "agent-a", Status: "sleeping"})
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)

	_, err = svc.CreateAgent(ctx, testTenant, &domain.CreateAgentCapacityRequest{AgentID: "agent-a", MaxConcurrentConversations: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)
}

func TestUpdateAgent(t *testing.T) {
	f := newFixture(t)
	f.addAgent("agent-a", 3)
	f.setLoad("agent-a", 2)
	svc := f.lb.Capacity()

	tooLow := 1
	_, err := svc.UpdateAgent(f.ctx, testTenant, "agent-a", &domain.UpdateAgentCapacityRequest{MaxConcurrentConversations: &tooLow})
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)

	zero := 0
	_, err = svc.UpdateAgent(f.ctx, testTenant, "agent-a", &domain.UpdateAgentCapacityRequest{MaxConcurrentConversations: &zero})
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)

	bogus := domain.AgentStatus("sleeping")
	_, err = svc.UpdateAgent(f.ctx, testTenant, "agent-a", &domain.UpdateAgentCapacityRequest{Status: &bogus})
	assert.ErrorIs(t, err, domain.ErrInvalidAgent)

	away := domain.AgentStatusAway
	updated, err := svc.UpdateAgent(f.ctx, testTenant, "agent-a", &domain.UpdateAgentCapacityRequest{Status: &away})
	require.NoError(t, err)
	assert.Equal(t, domain.AgentStatusAway, updated.Status)
	assert.Equal(t, 2, updated.CurrentConversationCount)

	_, err = svc.UpdateAgent(f.ctx, testTenant, "agent-z", &domain.UpdateAgentCapacityRequest{Status: &away})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
