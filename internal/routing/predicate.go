package routing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-routing-service/internal/domain"
)

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindSet
	kindList
)

// operand is a resolved field or literal
type operand struct {
	kind    valueKind
	str     string
	num     float64
	set     domain.StringSet
	list    []operand
	present bool
}

func (o operand) empty() bool {
	switch o.kind {
	case kindString:
		return o.str == ""
	case kindSet:
		return len(o.set) == 0
	case kindList:
		return len(o.list) == 0
	}
	return false
}

// MatchPredicate reports whether agent satisfies p for conv. Any unknown field,
// unknown operator or type mismatch makes the whole predicate false.
func MatchPredicate(p *domain.Predicate, agent *domain.AgentCapacity, conv *domain.Conversation) bool {
	if p == nil {
		return false
	}
	ok, err := evalPredicate(p, agent, conv)
	if err != nil {
		return false
	}
	return ok
}

// CheckPredicate evaluates p and returns the reason it could not be evaluated, if any
func CheckPredicate(p *domain.Predicate, agent *domain.AgentCapacity, conv *domain.Conversation) (bool, error) {
	if p == nil {
		return false, fmt.Errorf("predicate is nil")
	}
	return evalPredicate(p, agent, conv)
}

func evalPredicate(p *domain.Predicate, agent *domain.AgentCapacity, conv *domain.Conversation) (bool, error) {
	switch {
	case len(p.All) > 0:
		for _, c := range p.All {
			ok, err := evalPredicate(c, agent, conv)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(p.Any) > 0:
		for _, c := range p.Any {
			ok, err := evalPredicate(c, agent, conv)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case p.Not != nil:
		ok, err := evalPredicate(p.Not, agent, conv)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case p.IsLeaf():
		return evalLeaf(p, agent, conv)
	}
	return false, fmt.Errorf("empty predicate node")
}

func evalLeaf(p *domain.Predicate, agent *domain.AgentCapacity, conv *domain.Conversation) (bool, error) {
	lhs, err := resolveField(p.Field, agent, conv)
	if err != nil {
		return false, err
	}

	if p.Op == domain.OpExists {
		return lhs.present && !lhs.empty(), nil
	}

	rhs, err := decodeValue(p.Value, agent, conv)
	if err != nil {
		return false, fmt.Errorf("field %s: %w", p.Field, err)
	}

	switch p.Op {
	case domain.OpEq, domain.OpNeq:
		eq, err := scalarEqual(lhs, rhs)
		if err != nil {
			return false, err
		}
		if p.Op == domain.OpNeq {
			return !eq, nil
		}
		return eq, nil

	case domain.OpIn, domain.OpNotIn:
		if lhs.kind == kindSet {
			return false, fmt.Errorf("%s cannot be used on set field %s", p.Op, p.Field)
		}
		if rhs.kind != kindList && rhs.kind != kindSet {
			return false, fmt.Errorf("%s needs a list value", p.Op)
		}
		members, err := asList(rhs)
		if err != nil {
			return false, err
		}
		found := false
		for _, m := range members {
			eq, err := scalarEqual(lhs, m)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
		if p.Op == domain.OpNotIn {
			return !found, nil
		}
		return found, nil

	case domain.OpContains:
		switch lhs.kind {
		case kindSet:
			if rhs.kind != kindString {
				return false, fmt.Errorf("contains on %s needs a string value", p.Field)
			}
			return lhs.set.Contains(rhs.str), nil
		case kindString:
			if rhs.kind != kindString {
				return false, fmt.Errorf("contains on %s needs a string value", p.Field)
			}
			return strings.Contains(strings.ToLower(lhs.str), strings.ToLower(rhs.str)), nil
		}
		return false, fmt.Errorf("contains cannot be used on numeric field %s", p.Field)

	case domain.OpContainsAll, domain.OpContainsAny:
		if lhs.kind != kindSet {
			return false, fmt.Errorf("%s needs a set field, got %s", p.Op, p.Field)
		}
		values, err := asStrings(rhs)
		if err != nil {
			return false, err
		}
		if p.Op == domain.OpContainsAll {
			return lhs.set.ContainsAll(values), nil
		}
		return lhs.set.ContainsAny(values), nil

	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		if lhs.kind != kindNumber || rhs.kind != kindNumber {
			return false, fmt.Errorf("%s needs numeric operands on %s", p.Op, p.Field)
		}
		switch p.Op {
		case domain.OpGt:
			return lhs.num > rhs.num, nil
		case domain.OpGte:
			return lhs.num >= rhs.num, nil
		case domain.OpLt:
			return lhs.num < rhs.num, nil
		default:
			return lhs.num <= rhs.num, nil
		}
	}

	return false, fmt.Errorf("unknown operator %q", p.Op)
}

func scalarEqual(a, b operand) (bool, error) {
	if a.kind == kindSet || b.kind == kindSet || a.kind == kindList || b.kind == kindList {
		return false, fmt.Errorf("equality is not defined for collections")
	}
	if a.kind != b.kind {
		return false, fmt.Errorf("cannot compare string with number")
	}
	if a.kind == kindNumber {
		return a.num == b.num, nil
	}
	return strings.EqualFold(a.str, b.str), nil
}

// asList turns a list, set or single scalar into a list of scalars
func asList(o operand) ([]operand, error) {
	switch o.kind {
	case kindList:
		return o.list, nil
	case kindSet:
		out := make([]operand, 0, len(o.set))
		for _, s := range o.set {
			out = append(out, operand{kind: kindString, str: s, present: true})
		}
		return out, nil
	default:
		return []operand{o}, nil
	}
}

func asStrings(o operand) ([]string, error) {
	switch o.kind {
	case kindList:
		out := make([]string, 0, len(o.list))
		for _, item := range o.list {
			if item.kind != kindString {
				return nil, fmt.Errorf("expected a list of strings")
			}
			out = append(out, item.str)
		}
		return out, nil
	case kindSet:
		return o.set, nil
	case kindString:
		return []string{o.str}, nil
	}
	return nil, fmt.Errorf("expected a list of strings")
}

func resolveField(field string, agent *domain.AgentCapacity, conv *domain.Conversation) (operand, error) {
	str := func(s string) operand { return operand{kind: kindString, str: s, present: true} }
	num := func(n float64) operand { return operand{kind: kindNumber, num: n, present: true} }
	set := func(s []string) operand { return operand{kind: kindSet, set: domain.NewStringSet(s...), present: true} }

	switch field {
	case "agent.id":
		return str(agent.AgentID), nil
	case "agent.status":
		return str(string(agent.Status)), nil
	case "agent.skills":
		return set(agent.Skills), nil
	case "agent.languages":
		return set(agent.Languages), nil
	case "agent.avg_response_time_seconds":
		return num(agent.AvgResponseTimeSeconds), nil
	case "agent.satisfaction_score":
		return num(agent.SatisfactionScore), nil
	case "agent.workload":
		return num(WorkloadScore(agent)), nil
	case "agent.current_conversations":
		return num(float64(agent.CurrentConversationCount)), nil
	case "agent.max_concurrent_conversations":
		return num(float64(agent.MaxConcurrentConversations)), nil
	case "conversation.id":
		return str(conv.ID), nil
	case "conversation.priority":
		return num(float64(conv.Priority)), nil
	case "conversation.channel":
		return str(conv.Channel), nil
	case "conversation.language":
		return str(conv.RequiredLanguage), nil
	case "conversation.preferred_agent_id":
		return str(conv.PreferredAgentID), nil
	case "conversation.tags":
		return set(conv.Tags), nil
	case "conversation.required_skills":
		return set(conv.RequiredSkills), nil
	}

	if key, ok := strings.CutPrefix(field, "conversation.attributes."); ok && key != "" {
		v, present := conv.Attributes[key]
		return operand{kind: kindString, str: v, present: present}, nil
	}
	return operand{}, fmt.Errorf("unknown field %q", field)
}

func decodeValue(raw json.RawMessage, agent *domain.AgentCapacity, conv *domain.Conversation) (operand, error) {
	if len(raw) == 0 {
		return operand{}, fmt.Errorf("value is required")
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return operand{}, fmt.Errorf("invalid value: %w", err)
	}

	switch t := v.(type) {
	case string:
		return operand{kind: kindString, str: t, present: true}, nil
	case float64:
		return operand{kind: kindNumber, num: t, present: true}, nil
	case []interface{}:
		list := make([]operand, 0, len(t))
		for _, item := range t {
			switch iv := item.(type) {
			case string:
				list = append(list, operand{kind: kindString, str: iv, present: true})
			case float64:
				list = append(list, operand{kind: kindNumber, num: iv, present: true})
			default:
				return operand{}, fmt.Errorf("unsupported list element %T", item)
			}
		}
		return operand{kind: kindList, list: list, present: true}, nil
	case map[string]interface{}:
		ref, ok := t["field"].(string)
		if !ok || len(t) != 1 {
			return operand{}, fmt.Errorf("object values must be {\"field\": \"<path>\"}")
		}
		return resolveField(ref, agent, conv)
	}
	return operand{}, fmt.Errorf("unsupported value type %T", v)
}
