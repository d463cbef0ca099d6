package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultPatternCacheSize = 256

// Decision is the outcome of applying the rule set to one node.
type Decision struct {
	ShouldInclude  bool
	Classification *Classification
	ShouldIgnore   bool
	AppliedRules   []Rule
}

// Engine evaluates rules read from a Store.
type Engine struct {
	store    Store
	patterns *lru.Cache[string, *regexp.Regexp]
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPatternCacheSize bounds the number of compiled name patterns kept.
func WithPatternCacheSize(size int) EngineOption {
	return func(e *Engine) {
		if c, err := lru.New[string, *regexp.Regexp](size); err == nil {
			e.patterns = c
		}
	}
}

// NewEngine creates an engine reading from store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store}
	e.patterns, _ = lru.New[string, *regexp.Regexp](defaultPatternCacheSize)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's backing store.
func (e *Engine) Store() Store {
	return e.store
}

// Snapshot reads the store once and returns the rules in evaluation
// order: confidence descending, then CreatedAt ascending, then ID.
func (e *Engine) Snapshot(ctx context.Context) (*RuleSet, error) {
	rs, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	return e.compile(rs)
}

// Apply snapshots the store and evaluates a single node.
func (e *Engine) Apply(ctx context.Context, name, nodeType string) (Decision, error) {
	set, err := e.Snapshot(ctx)
	if err != nil {
		return Decision{}, err
	}
	return set.Apply(name, nodeType), nil
}

func (e *Engine) compile(rs []Rule) (*RuleSet, error) {
	sorted := make([]Rule, len(rs))
	copy(sorted, rs)
	SortRules(sorted)

	set := &RuleSet{rules: make([]compiledRule, len(sorted))}
	for i, r := range sorted {
		set.rules[i].Rule = r
		if p := r.Condition.NamePattern; p != "" {
			re, err := e.pattern(p)
			if err != nil {
				return nil, &RuleCompilationError{RuleID: r.ID, Pattern: p, Err: err}
			}
			set.rules[i].re = re
		}
	}
	return set, nil
}

func (e *Engine) pattern(p string) (*regexp.Regexp, error) {
	if re, ok := e.patterns.Get(p); ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	e.patterns.Add(p, re)
	return re, nil
}

// SortRules orders rules for evaluation in place.
func SortRules(rs []Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

func (r *compiledRule) matches(name, nodeType string) bool {
	c := r.Condition
	switch {
	case c.NodeName != "" && c.NodeName == name:
		return true
	case r.re != nil:
		return r.re.MatchString(name)
	default:
		return c.NodeType != "" && c.NodeType == nodeType
	}
}

// RuleSet is an immutable, ordered view of the rules at one point in time.
type RuleSet struct {
	rules []compiledRule
}

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns the rules in evaluation order.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Rule
	}
	return out
}

// Apply evaluates the rules against a node. The first matching ignore rule
// stops evaluation; later classify actions overwrite earlier ones; include
// is sticky once set. A nil set yields the empty decision.
func (s *RuleSet) Apply(name, nodeType string) Decision {
	var d Decision
	if s == nil {
		return d
	}
	for i := range s.rules {
		r := &s.rules[i]
		if !r.matches(name, nodeType) {
			continue
		}
		d.AppliedRules = append(d.AppliedRules, r.Rule)
		if r.Action.Ignore {
			d.ShouldIgnore = true
			break
		}
		if c := r.Action.Classify; c != nil {
			v := *c
			d.Classification = &v
		}
		if r.Type == TypeInclude {
			d.ShouldInclude = true
		}
	}
	return d
}
