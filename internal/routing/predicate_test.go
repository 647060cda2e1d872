package routing

import (
	"encoding/json"
	"testing"

	"github.com/ClareAI/astra-routing-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(field string, op domain.PredicateOp, value string) *domain.Predicate {
	p := &domain.Predicate{Field: field, Op: op}
	if value != "" {
		p.Value = json.RawMessage(value)
	}
	return p
}

func predicateAgent() *domain.AgentCapacity {
	return &domain.AgentCapacity{
		TenantID:                   "t1",
		AgentID:                    "agent-a",
		Status:                     domain.AgentStatusAvailable,
		MaxConcurrentConversations: 4,
		CurrentConversationCount:   1,
		Skills:                     domain.NewStringSet("billing", "vip"),
		Languages:                  domain.NewStringSet("en", "es"),
		AutoAssignEnabled:          true,
		AvgResponseTimeSeconds:     42,
		SatisfactionScore:          4.6,
	}
}

func predicateConversation() *domain.Conversation {
	return &domain.Conversation{
		ID:               "c1",
		TenantID:         "t1",
		Priority:         2,
		Channel:          "whatsapp",
		RequiredLanguage: "es",
		Tags:             []string{"vip", "refund"},
		Attributes:       map[string]string{"plan": "enterprise"},
	}
}

func TestMatchPredicateLeaves(t *testing.T) {
	agent := predicateAgent()
	conv := predicateConversation()

	tests := []struct {
		name string
		p    *domain.Predicate
		want bool
	}{
		{"eq is case insensitive", leaf("conversation.channel", domain.OpEq, `"WhatsApp"`), true},
		{"neq", leaf("agent.status", domain.OpNeq, `"offline"`), true},
		{"in list", leaf("conversation.attributes.plan", domain.OpIn, `["pro","enterprise"]`), true},
		{"not in list", leaf("conversation.channel", domain.OpNotIn, `["sms"]`), true},
		{"set contains", leaf("agent.skills", domain.OpContains, `"VIP"`), true},
		{"contains all", leaf("agent.languages", domain.OpContainsAll, `["en","es"]`), true},
		{"contains all misses", leaf("agent.languages", domain.OpContainsAll, `["en","fr"]`), false},
		{"contains any", leaf("conversation.tags", domain.OpContainsAny, `["spam","refund"]`), true},
		{"gte", leaf("agent.satisfaction_score", domain.OpGte, `4.5`), true},
		{"lt", leaf("agent.avg_response_time_seconds", domain.OpLt, `30`), false},
		{"workload", leaf("agent.workload", domain.OpLte, `0.25`), true},
		{"priority", leaf("conversation.priority", domain.OpLte, `2`), true},
		{"exists", leaf("conversation.attributes.plan", domain.OpExists, ""), true},
		{"exists missing attribute", leaf("conversation.attributes.region", domain.OpExists, ""), false},
		{"field reference", leaf("agent.languages", domain.OpContains, `{"field":"conversation.language"}`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPredicate(tt.p, agent, conv))
		})
	}
}

func TestMatchPredicateComposites(t *testing.T) {
	agent := predicateAgent()
	conv := predicateConversation()

	vipOrBilling := &domain.Predicate{Any: []*domain.Predicate{
		leaf("agent.skills", domain.OpContains, `"sales"`),
		leaf("agent.skills", domain.OpContains, `"billing"`),
	}}
	assert.True(t, MatchPredicate(vipOrBilling, agent, conv))

	both := &domain.Predicate{All: []*domain.Predicate{
		vipOrBilling,
		{Not: leaf("agent.status", domain.OpEq, `"busy"`)},
	}}
	assert.True(t, MatchPredicate(both, agent, conv))

	notBilling := &domain.Predicate{Not: leaf("agent.skills", domain.OpContains, `"billing"`)}
	assert.False(t, MatchPredicate(notBilling, agent, conv))
}

func TestMatchPredicateFailsClosed(t *testing.T) {
	agent := predicateAgent()
	conv := predicateConversation()

	tests := []struct {
		name string
		p    *domain.Predicate
	}{
		{"nil", nil},
		{"unknown field", leaf("agent.mood", domain.OpEq, `"happy"`)},
		{"unknown operator", leaf("agent.status", domain.PredicateOp("like"), `"avail%"`)},
		{"type mismatch", leaf("agent.satisfaction_score", domain.OpGt, `"high"`)},
		{"in without list", leaf("agent.status", domain.OpIn, `"available"`)},
		{"missing value", leaf("agent.status", domain.OpEq, "")},
		{"equality on set", leaf("agent.skills", domain.OpEq, `"billing"`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, MatchPredicate(tt.p, agent, conv))
		})
	}

	// an error anywhere poisons the whole tree, even under not
	negatedError := &domain.Predicate{Not: leaf("agent.mood", domain.OpEq, `"happy"`)}
	assert.False(t, MatchPredicate(negatedError, agent, conv))

	anyWithError := &domain.Predicate{Any: []*domain.Predicate{
		leaf("agent.mood", domain.OpEq, `"happy"`),
		leaf("agent.status", domain.OpEq, `"available"`),
	}}
	assert.False(t, MatchPredicate(anyWithError, agent, conv))
}

func TestCheckPredicateReportsReason(t *testing.T) {
	ok, err := CheckPredicate(leaf("agent.mood", domain.OpEq, `"happy"`), predicateAgent(), predicateConversation())
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "agent.mood")

	ok, err = CheckPredicate(leaf("agent.id", domain.OpEq, `"agent-a"`), predicateAgent(), predicateConversation())
	require.NoError(t, err)
	assert.True(t, ok)
}
