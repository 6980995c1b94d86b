// Package condition implements the rule language that decides whether a
// pipeline applies to an audit event.
//
// A Condition is an ordered list of Rules combined with "all" (AND, default)
// or "any" (OR) semantics. Each rule resolves a field path against the event
// and applies an operator to the textual form of the value. Evaluation is
// total: malformed input, unknown operators and bad patterns resolve to a
// boolean and are only logged.
package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Match modes for combining rules.
const (
	MatchAll = "all"
	MatchAny = "any"
)

// Condition groups rules under a match mode.
type Condition struct {
	Match string `mapstructure:"match" yaml:"match,omitempty" json:"match,omitempty"`
	Rules []Rule `mapstructure:"rules" yaml:"rules" json:"rules"`
}

// Rule compares the value at Field against Value using Operator.
// Value is nil when the rule has no operand (exists, not_exists).
type Rule struct {
	Field    string  `mapstructure:"field" yaml:"field" json:"field"`
	Operator string  `mapstructure:"operator" yaml:"operator" json:"operator"`
	Value    *string `mapstructure:"value" yaml:"value,omitempty" json:"value,omitempty"`
}

// NewRule builds a rule with a value operand.
func NewRule(field, operator, value string) Rule {
	return Rule{Field: field, Operator: operator, Value: &value}
}

// NewUnaryRule builds a rule without an operand.
func NewUnaryRule(field, operator string) Rule {
	return Rule{Field: field, Operator: operator}
}

// IsEmpty reports whether the condition is vacuously true.
func (c *Condition) IsEmpty() bool {
	return c == nil || len(c.Rules) == 0
}

// Mode returns the normalized match mode. Anything other than "any" is "all".
func (c *Condition) Mode() string {
	if c != nil && strings.EqualFold(strings.TrimSpace(c.Match), MatchAny) {
		return MatchAny
	}
	return MatchAll
}

// String renders the rule for log output.
func (r Rule) String() string {
	if r.Value == nil {
		return fmt.Sprintf("%s %s", r.Field, r.Operator)
	}
	return fmt.Sprintf("%s %s %q", r.Field, r.Operator, *r.Value)
}

// Parse decodes an event into a generic document. Numbers keep their
// literal text so that comparisons see exactly what the producer sent.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return doc, nil
}

// Text returns the textual form of a resolved value: raw text for strings,
// the compact JSON encoding for everything else.
func Text(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	case nil:
		return "null"
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}
