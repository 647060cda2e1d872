package routing

import (
	"testing"
	"time"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSLA(f *fixture, minutes int) {
	f.t.Helper()
	target := "team-lead"
	channels := []string{"sms", "webhook"}
	_, err := f.lb.Registry().UpsertSettings(f.ctx, testTenant, &domain.UpsertTenantSettingsRequest{
		SLAThresholdMinutes:  &minutes,
		EscalationTarget:     &target,
		NotificationChannels: &channels,
	})
	require.NoError(f.t, err)
}

func TestCheckBreaches(t *testing.T) {
	f := newFixture(t)
	withSLA(f, 10)
	f.addAgent("agent-a", 1, "sales")
	evaluator := NewEscalationEvaluator(f.store, f.lb.Registry(), f.clock.Now)

	require.Equal(t, StatusAssigned, f.assign("c-assigned", 5).Status)
	require.NoError(t, f.lb.RecordInbound(f.ctx, testTenant, "c-assigned"))
	require.Equal(t, StatusQueued, f.assign("c-queued", 3, "billing").Status)

	f.clock.Advance(10 * time.Minute)
	breaches, err := evaluator.CheckBreaches(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, breaches, "exactly at the threshold is not a breach")

	f.clock.Advance(time.Minute)
	breaches, err = evaluator.CheckBreaches(f.ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, breaches, 2)

	queued := breaches[0]
	assert.Equal(t, "c-queued", queued.ConversationID)
	assert.Equal(t, domain.EscalationStateQueued, queued.State)
	assert.Equal(t, 3, queued.Priority)
	assert.Equal(t, 11*time.Minute, queued.Elapsed)
	assert.Equal(t, 10*time.Minute, queued.Threshold)
	assert.Equal(t, "team-lead", queued.Target)
	assert.ElementsMatch(t, []string{"sms", "webhook"}, queued.Channels)

	assigned := breaches[1]
	assert.Equal(t, "c-assigned", assigned.ConversationID)
	assert.Equal(t, domain.EscalationStateAssigned, assigned.State)
	assert.Equal(t, "agent-a", assigned.AgentID)

	// an agent reply clears the assigned breach
	require.NoError(t, f.lb.RecordAgentResponse(f.ctx, testTenant, "c-assigned"))
	breaches, err = evaluator.CheckBreaches(f.ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, breaches, 1)
	assert.Equal(t, "c-queued", breaches[0].ConversationID)
}

func TestCheckBreachesWithoutSLA(t *testing.T) {
	f := newFixture(t)
	evaluator := NewEscalationEvaluator(f.store, f.lb.Registry(), f.clock.Now)
	f.assign("c1", 5)
	f.clock.Advance(24 * time.Hour)

	breaches, err := evaluator.CheckBreaches(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, breaches)
}

func TestCheckBreachesIsReadOnly(t *testing.T) {
	f := newFixture(t)
	withSLA(f, 1)
	evaluator := NewEscalationEvaluator(f.store, f.lb.Registry(), f.clock.Now)
	f.assign("c1", 5)
	f.clock.Advance(time.Hour)

	before := f.history(domain.HistoryFilter{})
	_, err := evaluator.CheckBreaches(f.ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, before, f.history(domain.HistoryFilter{}))

	pos, err := f.lb.GetQueuePosition(f.ctx, testTenant, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
}

func TestInboundWhileQueuedCountsAfterDrain(t *testing.T) {
	f := newFixture(t)
	withSLA(f, 10)
	evaluator := NewEscalationEvaluator(f.store, f.lb.Registry(), f.clock.Now)

	require.Equal(t, StatusQueued, f.assign("c1", 5).Status)
	require.NoError(t, f.lb.RecordInbound(f.ctx, testTenant, "c1"))

	f.clock.Advance(30 * time.Minute)
	f.addAgent("agent-a", 1)
	drained, err := f.lb.DrainQueue(f.ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, drained, 1)

	breaches, err := evaluator.CheckBreaches(f.ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, breaches, 1)
	assert.Equal(t, "c1", breaches[0].ConversationID)
	assert.Equal(t, domain.EscalationStateAssigned, breaches[0].State)
	assert.Equal(t, 30*time.Minute, breaches[0].Elapsed)
}
