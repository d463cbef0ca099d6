package rules

import (
	"fmt"
	"regexp"
)

// RuleType selects how a matching rule affects a decision.
type RuleType string

const (
	TypeInclude  RuleType = "include"
	TypeExclude  RuleType = "exclude"
	TypeClassify RuleType = "classify"
)

// Classification is the verdict on whether an element comes from the
// design system.
type Classification string

const (
	Connected    Classification = "connected"
	Disconnected Classification = "disconnected"
)

// Bool converts the classification to the IsConnectedToDS flag.
func (c Classification) Bool() bool {
	return c == Connected
}

// ClassificationOf is the inverse of Bool.
func ClassificationOf(connected bool) Classification {
	if connected {
		return Connected
	}
	return Disconnected
}

// Source records where a rule came from.
type Source string

const (
	SourceUserFeedback       Source = "user_feedback"
	SourcePatternRecognition Source = "pattern_recognition"
)

// Condition selects the nodes a rule applies to. Exactly one of NodeName,
// NamePattern or NodeType is set. ParentType is accepted for compatibility
// with exported rule files and does not take part in matching.
type Condition struct {
	NodeName    string `json:"nodeName,omitempty"`
	NamePattern string `json:"namePattern,omitempty"`
	NodeType    string `json:"nodeType,omitempty"`
	ParentType  string `json:"parentType,omitempty"`
}

// Action is what a matching rule does to the decision.
type Action struct {
	Classify *Classification `json:"classify,omitempty"`
	Ignore   bool            `json:"ignore,omitempty"`
}

// Rule is an immutable classification rule.
type Rule struct {
	ID         string    `json:"id"`
	Type       RuleType  `json:"type"`
	Condition  Condition `json:"condition"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	CreatedAt  int64     `json:"createdAt"`
}

// RuleCompilationError reports a rule whose name pattern is not a valid
// regular expression.
type RuleCompilationError struct {
	RuleID  string
	Pattern string
	Err     error
}

func (e *RuleCompilationError) Error() string {
	return fmt.Sprintf("rule %s: invalid name pattern %q: %v", e.RuleID, e.Pattern, e.Err)
}

func (e *RuleCompilationError) Unwrap() error {
	return e.Err
}

// Validate checks that the rule is well formed.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule has empty id")
	}
	switch r.Type {
	case TypeInclude, TypeExclude, TypeClassify:
	default:
		return fmt.Errorf("rule %s: unknown type %q", r.ID, r.Type)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("rule %s: confidence %v outside [0,1]", r.ID, r.Confidence)
	}

	set := 0
	for _, s := range []string{r.Condition.NodeName, r.Condition.NamePattern, r.Condition.NodeType} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("rule %s: condition must set exactly one of nodeName, namePattern, nodeType", r.ID)
	}

	if c := r.Action.Classify; c != nil && *c != Connected && *c != Disconnected {
		return fmt.Errorf("rule %s: unknown classification %q", r.ID, *c)
	}

	if r.Condition.NamePattern != "" {
		if _, err := regexp.Compile(r.Condition.NamePattern); err != nil {
			return &RuleCompilationError{RuleID: r.ID, Pattern: r.Condition.NamePattern, Err: err}
		}
	}
	return nil
}

// ValidateAll validates every rule, returning the first error.
func ValidateAll(rs []Rule) error {
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}
