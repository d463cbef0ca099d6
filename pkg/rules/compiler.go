package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeedbackType categorizes a user correction.
type FeedbackType string

const (
	FeedbackMissedComponent     FeedbackType = "missed_component"
	FeedbackWrongClassification FeedbackType = "wrong_classification"
	FeedbackShouldIgnore        FeedbackType = "should_ignore"
	FeedbackOther               FeedbackType = "other"
)

// Valid reports whether t is a known feedback type.
func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackMissedComponent, FeedbackWrongClassification, FeedbackShouldIgnore, FeedbackOther:
		return true
	}
	return false
}

// Feedback is a user correction about one element of an analysis.
type Feedback struct {
	Type                   FeedbackType    `json:"type"`
	Description            string          `json:"description"`
	ComponentName          string          `json:"componentName,omitempty"`
	ExpectedClassification *Classification `json:"expectedClassification,omitempty"`
	NodeID                 string          `json:"nodeId,omitempty"`
	Timestamp              int64           `json:"timestamp"`
}

const (
	missedConfidence        = 0.8
	missedPatternConfidence = 0.6
	classifyConfidence      = 0.9
	ignoreConfidence        = 0.9
)

// Compiler turns feedback into rules. The zero value is not usable; use
// NewCompiler.
type Compiler struct {
	now   func() time.Time
	newID func(ms int64) string
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithClock sets the time source used for ids and CreatedAt.
func WithClock(now func() time.Time) CompilerOption {
	return func(c *Compiler) { c.now = now }
}

// WithIDGenerator replaces the rule id generator.
func WithIDGenerator(gen func(ms int64) string) CompilerOption {
	return func(c *Compiler) { c.newID = gen }
}

// NewCompiler creates a compiler using the wall clock and random ids.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{now: time.Now, newID: randomRuleID}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func randomRuleID(ms int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("rule_%d_%s", ms, suffix)
}

// FromFeedback returns the rules implied by fb. Feedback of type other, or
// without a component name, yields no rules.
func FromFeedback(fb Feedback) []Rule {
	return NewCompiler().Compile(fb)
}

// Compile returns the rules implied by fb.
func (c *Compiler) Compile(fb Feedback) []Rule {
	name := fb.ComponentName
	if name == "" {
		return nil
	}

	ts := c.now().UnixMilli()
	base := Rule{
		ID:        c.newID(ts),
		Source:    SourceUserFeedback,
		CreatedAt: ts,
		Condition: Condition{NodeName: name},
	}

	switch fb.Type {
	case FeedbackMissedComponent:
		cls := Disconnected
		if fb.ExpectedClassification != nil {
			cls = *fb.ExpectedClassification
		}
		r := base
		r.Type = TypeInclude
		r.Action = Action{Classify: &cls}
		r.Confidence = missedConfidence
		out := []Rule{r}

		if strings.Contains(name, "Rectangle") {
			p := base
			p.ID = base.ID + "_pattern"
			p.Type = TypeInclude
			p.Condition = Condition{NamePattern: "Rectangle.*"}
			pc := cls
			p.Action = Action{Classify: &pc}
			p.Confidence = missedPatternConfidence
			out = append(out, p)
		}
		return out

	case FeedbackWrongClassification:
		r := base
		cls := Disconnected
		if fb.ExpectedClassification != nil {
			cls = *fb.ExpectedClassification
		}
		r.Type = TypeClassify
		r.Action = Action{Classify: &cls}
		r.Confidence = classifyConfidence
		return []Rule{r}

	case FeedbackShouldIgnore:
		r := base
		r.Type = TypeExclude
		r.Action = Action{Ignore: true}
		r.Confidence = ignoreConfidence
		return []Rule{r}
	}
	return nil
}
