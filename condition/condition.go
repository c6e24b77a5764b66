// Package condition evaluates boolean predicate trees over decoded event
// payloads. A tree combines filter rules (field / operator / value) with
// AND, OR, and NOT groups; field access goes through the fieldpath
// resolver so rules can reach into nested payload structures.
package condition

import (
	"encoding/json"
	"fmt"
)

// GroupOperator is the logical combinator for a rule group.
type GroupOperator string

const (
	// GroupAnd is true when every child evaluates true.
	GroupAnd GroupOperator = "AND"
	// GroupOr is true when any child evaluates true.
	GroupOr GroupOperator = "OR"
	// GroupNot is true when no child evaluates true.
	GroupNot GroupOperator = "NOT"
)

// IsValid returns true if the group operator is known.
func (o GroupOperator) IsValid() bool {
	switch o {
	case GroupAnd, GroupOr, GroupNot:
		return true
	default:
		return false
	}
}

// Operator is a filter rule comparison operator.
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpRegex        Operator = "regex"
	OpMatches      Operator = "matches"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpBetween      Operator = "between"
	OpIsNull       Operator = "is_null"
	OpIsNotNull    Operator = "is_not_null"
	OpExists       Operator = "exists"
	OpNotExists    Operator = "not_exists"
)

// Operators lists every supported rule operator, used by workflow
// definition validation.
var Operators = []Operator{
	OpEquals, OpNotEquals, OpContains, OpNotContains,
	OpStartsWith, OpEndsWith, OpRegex, OpMatches,
	OpIn, OpNotIn,
	OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual,
	OpBetween, OpIsNull, OpIsNotNull, OpExists, OpNotExists,
}

// IsValid returns true if the operator is known.
func (o Operator) IsValid() bool {
	for _, op := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Rule compares the value at a payload field against a literal.
type Rule struct {
	// Field is a fieldpath expression into the evaluation context.
	Field string `json:"field"`

	// Operator selects the comparison.
	Operator Operator `json:"operator"`

	// Value is the literal operand. Scalar for comparisons, sequence for
	// in/not_in, two-element pair for between, ignored for existence checks.
	Value any `json:"value,omitempty"`
}

// Group is a recursive predicate tree node.
type Group struct {
	// Operator combines the child rules.
	Operator GroupOperator `json:"operator"`

	// Rules holds child rules and nested groups in evaluation order.
	// An empty list evaluates to true.
	Rules []Node `json:"rules"`
}

// Node is either a Rule or a nested Group. Exactly one side is set.
type Node struct {
	Rule  *Rule
	Group *Group
}

// nodeProbe distinguishes a serialized group from a rule: groups carry a
// logical operator and a rules array, rules carry a field.
type nodeProbe struct {
	Operator string          `json:"operator"`
	Rules    json.RawMessage `json:"rules"`
	Field    string          `json:"field"`
}

// UnmarshalJSON decodes a node as a group when it has a logical operator
// and rules array, otherwise as a filter rule.
func (n *Node) UnmarshalJSON(data []byte) error {
	var probe nodeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if GroupOperator(probe.Operator).IsValid() && probe.Field == "" {
		g := &Group{}
		if err := json.Unmarshal(data, g); err != nil {
			return err
		}
		n.Group = g
		return nil
	}
	r := &Rule{}
	if err := json.Unmarshal(data, r); err != nil {
		return err
	}
	n.Rule = r
	return nil
}

// MarshalJSON encodes whichever side of the node is set.
func (n Node) MarshalJSON() ([]byte, error) {
	switch {
	case n.Group != nil:
		return json.Marshal(n.Group)
	case n.Rule != nil:
		return json.Marshal(n.Rule)
	default:
		return nil, fmt.Errorf("condition: empty node")
	}
}

// RuleNode wraps a rule as a tree node.
func RuleNode(field string, op Operator, value any) Node {
	return Node{Rule: &Rule{Field: field, Operator: op, Value: value}}
}

// GroupNode wraps a nested group as a tree node.
func GroupNode(op GroupOperator, children ...Node) Node {
	return Node{Group: &Group{Operator: op, Rules: children}}
}

// MaxNesting returns the deepest group nesting level of the tree. A group
// with only rules has nesting 1.
func (g *Group) MaxNesting() int {
	if g == nil {
		return 0
	}
	deepest := 0
	for _, n := range g.Rules {
		if n.Group != nil {
			if d := n.Group.MaxNesting(); d > deepest {
				deepest = d
			}
		}
	}
	return deepest + 1
}
