package routing

import (
	"fmt"
	"sort"

	"github.com/ClareAI/astra-routing-service/internal/domain"
)

// RotationState is the round robin input: the agent that received the previous assignment
type RotationState struct {
	LastAgentID string
}

// WorkloadScore is current/max; zero-capacity agents score as full
func WorkloadScore(a *domain.AgentCapacity) float64 {
	if a.MaxConcurrentConversations <= 0 {
		return 1
	}
	return float64(a.CurrentConversationCount) / float64(a.MaxConcurrentConversations)
}

// IsUrgent reports whether conv may use the overflow slots of a priority-based config
func IsUrgent(conv *domain.Conversation, cfg domain.PriorityBasedConfig) bool {
	return conv.Priority <= cfg.EffectiveUrgentThreshold()
}

// CandidateFilter derives the capacity store filter for a conversation under cfg.
// Conversation-level skills and language are hard requirements for every strategy.
func CandidateFilter(conv *domain.Conversation, cfg domain.StrategyConfig, exclude []string) domain.AgentFilter {
	filter := domain.AgentFilter{
		RequiredSkills:   conv.RequiredSkills,
		RequiredLanguage: conv.RequiredLanguage,
		ExcludeAgentIDs:  exclude,
	}
	if pb, ok := cfg.(domain.PriorityBasedConfig); ok && IsUrgent(conv, pb) {
		filter.OverflowSlots = pb.OverflowSlots
	}
	return filter
}

// Rank returns the candidates cfg accepts, best first. It is deterministic: the same
// inputs always give the same order. An empty result means no eligible agent.
func Rank(candidates []*domain.AgentCapacity, conv *domain.Conversation, cfg domain.StrategyConfig, state RotationState) []*domain.AgentCapacity {
	var ranked []*domain.AgentCapacity

	switch c := cfg.(type) {
	case domain.RoundRobinConfig:
		ranked = rotate(candidates, state.LastAgentID)

	case domain.LeastLoadedConfig:
		ranked = leastLoaded(candidates)

	case domain.SkillBasedConfig:
		skilled := filterAgents(candidates, func(a *domain.AgentCapacity) bool {
			if !a.Skills.ContainsAll(c.RequiredSkills) {
				return false
			}
			return c.RequiredLanguage == "" || a.Languages.Contains(c.RequiredLanguage)
		})
		if len(skilled) == 0 && c.FallbackLeastLoaded {
			skilled = candidates
		}
		ranked = leastLoaded(skilled)

	case domain.PriorityBasedConfig:
		pool := candidates
		if !IsUrgent(conv, c) {
			pool = filterAgents(candidates, func(a *domain.AgentCapacity) bool { return a.HasFreeSlot(0) })
		}
		ranked = leastLoaded(pool)

	case domain.CustomConfig:
		matched := filterAgents(candidates, func(a *domain.AgentCapacity) bool {
			return MatchPredicate(c.Predicate, a, conv)
		})
		ranked = leastLoaded(matched)

	default:
		panic(fmt.Sprintf("routing: unhandled strategy config %T", cfg))
	}

	return preferAgent(ranked, conv.PreferredAgentID)
}

// Evaluate returns the single winner of Rank, or nil when no agent is eligible
func Evaluate(candidates []*domain.AgentCapacity, conv *domain.Conversation, cfg domain.StrategyConfig, state RotationState) *domain.AgentCapacity {
	ranked := Rank(candidates, conv, cfg, state)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}

// rotate orders agents by id starting with the first id strictly after last, wrapping around
func rotate(candidates []*domain.AgentCapacity, last string) []*domain.AgentCapacity {
	sorted := sortedByID(candidates)
	start := sort.Search(len(sorted), func(i int) bool { return sorted[i].AgentID > last })
	if start == len(sorted) {
		start = 0
	}
	out := make([]*domain.AgentCapacity, 0, len(sorted))
	out = append(out, sorted[start:]...)
	out = append(out, sorted[:start]...)
	return out
}

// leastLoaded orders by workload score, then average response time, then agent id
func leastLoaded(candidates []*domain.AgentCapacity) []*domain.AgentCapacity {
	out := sortedByID(candidates)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := WorkloadScore(out[i]), WorkloadScore(out[j])
		if si != sj {
			return si < sj
		}
		if out[i].AvgResponseTimeSeconds != out[j].AvgResponseTimeSeconds {
			return out[i].AvgResponseTimeSeconds < out[j].AvgResponseTimeSeconds
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// preferAgent moves the preferred agent to the front if the strategy accepted it
func preferAgent(ranked []*domain.AgentCapacity, preferredID string) []*domain.AgentCapacity {
	if preferredID == "" {
		return ranked
	}
	for i, a := range ranked {
		if a.AgentID != preferredID {
			continue
		}
		if i == 0 {
			return ranked
		}
		out := make([]*domain.AgentCapacity, 0, len(ranked))
		out = append(out, a)
		out = append(out, ranked[:i]...)
		out = append(out, ranked[i+1:]...)
		return out
	}
	return ranked
}

func sortedByID(candidates []*domain.AgentCapacity) []*domain.AgentCapacity {
	out := make([]*domain.AgentCapacity, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func filterAgents(candidates []*domain.AgentCapacity, keep func(*domain.AgentCapacity) bool) []*domain.AgentCapacity {
	out := make([]*domain.AgentCapacity, 0, len(candidates))
	for _, a := range candidates {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
