package domain

import (
	"encoding/json"
	"fmt"
)

// PredicateOp is a comparison used by a leaf predicate
type PredicateOp string

const (
	OpEq          PredicateOp = "eq"
	OpNeq         PredicateOp = "neq"
	OpIn          PredicateOp = "in"
	OpNotIn       PredicateOp = "not_in"
	OpContains    PredicateOp = "contains"
	OpContainsAll PredicateOp = "contains_all"
	OpContainsAny PredicateOp = "contains_any"
	OpGt          PredicateOp = "gt"
	OpGte         PredicateOp = "gte"
	OpLt          PredicateOp = "lt"
	OpLte         PredicateOp = "lte"
	OpExists      PredicateOp = "exists"
)

// Predicate is a small expression tree. A node is either a composite (All, Any or Not)
// or a leaf comparing Field against Value with Op.
//
// Fields are dotted paths: agent.skills, agent.languages, agent.status, agent.id,
// agent.avg_response_time_seconds, agent.satisfaction_score, agent.workload,
// conversation.priority, conversation.channel, conversation.language,
// conversation.tags, conversation.required_skills, conversation.attributes.<key>.
// A value of the form {"field": "<path>"} compares against another field.
type Predicate struct {
	All []*Predicate `json:"all,omitempty" yaml:"all,omitempty"`
	Any []*Predicate `json:"any,omitempty" yaml:"any,omitempty"`
	Not *Predicate   `json:"not,omitempty" yaml:"not,omitempty"`

	Field string          `json:"field,omitempty" yaml:"field,omitempty"`
	Op    PredicateOp     `json:"op,omitempty" yaml:"op,omitempty"`
	Value json.RawMessage `json:"value,omitempty" yaml:"-"`
	// YAMLValue carries Value when rules are seeded from YAML files
	YAMLValue interface{} `json:"-" yaml:"value,omitempty"`
}

// IsLeaf reports whether the node is a comparison
func (p *Predicate) IsLeaf() bool {
	return p.Field != ""
}

// Validate checks structure only. Unknown fields and operators are allowed here and
// evaluate to false at routing time.
func (p *Predicate) Validate() error {
	if p == nil {
		return fmt.Errorf("predicate is nil")
	}
	composite := 0
	if len(p.All) > 0 {
		composite++
	}
	if len(p.Any) > 0 {
		composite++
	}
	if p.Not != nil {
		composite++
	}
	if composite > 1 || (composite == 1 && p.IsLeaf()) {
		return fmt.Errorf("predicate node must be exactly one of all, any, not or a field comparison")
	}
	if composite == 0 && !p.IsLeaf() {
		return fmt.Errorf("empty predicate node")
	}
	for _, c := range p.All {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, c := range p.Any {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if p.Not != nil {
		return p.Not.Validate()
	}
	return nil
}

// NormalizeYAML moves YAMLValue into Value throughout the tree
func (p *Predicate) NormalizeYAML() error {
	if p == nil {
		return nil
	}
	if p.YAMLValue != nil && len(p.Value) == 0 {
		b, err := json.Marshal(p.YAMLValue)
		if err != nil {
			return fmt.Errorf("failed to encode predicate value for %s: %w", p.Field, err)
		}
		p.Value = b
		p.YAMLValue = nil
	}
	for _, c := range p.All {
		if err := c.NormalizeYAML(); err != nil {
			return err
		}
	}
	for _, c := range p.Any {
		if err := c.NormalizeYAML(); err != nil {
			return err
		}
	}
	return p.Not.NormalizeYAML()
}
