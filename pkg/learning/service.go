package learning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/ritzau/ds-audit/pkg/analyzer"
	"github.com/ritzau/ds-audit/pkg/logging"
	"github.com/ritzau/ds-audit/pkg/pubsub"
	"github.com/ritzau/ds-audit/pkg/rules"
)

// ExportVersion is the format version written by Export.
const ExportVersion = "1.0.0"

var (
	// ErrInvalidFeedback is returned for feedback that cannot be recorded.
	ErrInvalidFeedback = errors.New("invalid feedback")
	// ErrInvalidCorrections is returned for negative corrected counts.
	ErrInvalidCorrections = errors.New("corrections must not be negative")
)

// Service records audits and feedback. It is safe for concurrent use.
type Service struct {
	rules     rules.Store
	patterns  PatternStore
	compiler  *rules.Compiler
	publisher pubsub.Publisher
	now       func() time.Time
	sessionID string

	// Serialises read-modify-write cycles on patterns.
	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher announces rule changes on pubsub.TopicRules.
func WithPublisher(p pubsub.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCompiler replaces the feedback compiler.
func WithCompiler(c *rules.Compiler) Option {
	return func(s *Service) { s.compiler = c }
}

// NewService creates a service over the given stores.
func NewService(rs rules.Store, ps PatternStore, opts ...Option) *Service {
	s := &Service{
		rules:    rs,
		patterns: ps,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.compiler == nil {
		s.compiler = rules.NewCompiler(rules.WithClock(s.now))
	}
	s.sessionID = newSessionID(s.now())
	return s
}

func newSessionID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", t.UnixMilli(), suffix)
}

// SessionID identifies this process in exports.
func (s *Service) SessionID() string {
	return s.sessionID
}

// RecordAnalysis stores the counts of result under its frame id. Feedback,
// rules and corrections already recorded for the frame are kept.
func (s *Service) RecordAnalysis(ctx context.Context, result *analyzer.AnalysisResult) (Pattern, error) {
	if result == nil || result.FrameInfo.NodeID == "" {
		return Pattern{}, fmt.Errorf("cannot record analysis without frame id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.patterns.Get(ctx, result.FrameInfo.NodeID)
	if err != nil && !errors.Is(err, ErrPatternNotFound) {
		return Pattern{}, err
	}
	p.FrameID = result.FrameInfo.NodeID
	p.FrameURL = result.FrameInfo.URL
	p.Timestamp = s.now().UnixMilli()
	p.Components = Counts{
		Connected:    result.Summary.Connected,
		Disconnected: result.Summary.Disconnected,
	}
	if err := s.patterns.Save(ctx, p); err != nil {
		return Pattern{}, err
	}
	logging.DebugContext(ctx, "recorded analysis", "frame", p.FrameID,
		"connected", p.Components.Connected, "disconnected", p.Components.Disconnected)
	return p, nil
}

// Pattern returns the record for a frame.
func (s *Service) Pattern(ctx context.Context, frameID string) (Pattern, error) {
	return s.patterns.Get(ctx, frameID)
}

// SubmitFeedback compiles fb into rules, persists them and attaches both
// to the frame's pattern. It returns the rules that were generated.
func (s *Service) SubmitFeedback(ctx context.Context, frameID string, fb rules.Feedback) ([]rules.Rule, error) {
	if frameID == "" {
		return nil, fmt.Errorf("%w: missing frame id", ErrInvalidFeedback)
	}
	if !fb.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidFeedback, fb.Type)
	}
	if fb.ExpectedClassification != nil {
		switch *fb.ExpectedClassification {
		case rules.Connected, rules.Disconnected:
		default:
			return nil, fmt.Errorf("%w: unknown classification %q", ErrInvalidFeedback, *fb.ExpectedClassification)
		}
	}
	if fb.Timestamp == 0 {
		fb.Timestamp = s.now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.patterns.Get(ctx, frameID)
	if err != nil {
		return nil, err
	}

	generated := s.compiler.Compile(fb)
	if len(generated) > 0 {
		if err := s.rules.AppendAll(ctx, generated); err != nil {
			return nil, fmt.Errorf("failed to store rules: %w", err)
		}
	}

	p.Feedback = append(p.Feedback, fb)
	p.AnalysisRules = append(p.AnalysisRules, generated...)
	if err := s.patterns.Save(ctx, p); err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "feedback recorded", "frame", frameID, "type", fb.Type, "rules", len(generated))
	if len(generated) > 0 {
		s.announceRules(ctx, len(generated), "feedback")
	}
	return generated, nil
}

// SetCorrections records manually verified counts for a frame. They are
// reported next to the classifier counts and never replace them.
func (s *Service) SetCorrections(ctx context.Context, frameID string, c Counts) (Pattern, error) {
	if c.Connected < 0 || c.Disconnected < 0 {
		return Pattern{}, ErrInvalidCorrections
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.patterns.Get(ctx, frameID)
	if err != nil {
		return Pattern{}, err
	}
	p.Corrections = &c
	if err := s.patterns.Save(ctx, p); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

func (s *Service) announceRules(ctx context.Context, added int, reason string) {
	if s.publisher == nil {
		return
	}
	total := 0
	if rs, err := s.rules.List(ctx); err == nil {
		total = len(rs)
	}
	ev := pubsub.RulesChanged{Added: added, Total: total, Reason: reason}
	if err := s.publisher.Publish(pubsub.TopicRules, "changed", ev); err != nil {
		logging.WarnContext(ctx, "failed to publish rules change", "error", err)
	}
}

// Stats summarizes what has been learned so far.
type Stats struct {
	TotalPatterns     int                    `json:"totalPatterns"`
	TotalFeedbacks    int                    `json:"totalFeedbacks"`
	TotalRules        int                    `json:"totalRules"`
	RulesBreakdown    map[rules.RuleType]int `json:"rulesBreakdown"`
	AverageCompliance float64                `json:"averageCompliance"`
	ComplianceStdDev  float64                `json:"complianceStdDev"`
}

// Stats computes learning statistics. Compliance figures use corrected
// counts where present and skip frames with no components.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	ps, err := s.patterns.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	rs, err := s.rules.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(ps, rs), nil
}

func computeStats(ps []Pattern, rs []rules.Rule) Stats {
	st := Stats{
		TotalPatterns: len(ps),
		TotalRules:    len(rs),
		RulesBreakdown: map[rules.RuleType]int{
			rules.TypeInclude:  0,
			rules.TypeExclude:  0,
			rules.TypeClassify: 0,
		},
	}
	for _, r := range rs {
		st.RulesBreakdown[r.Type]++
	}

	rates := make([]float64, 0, len(ps))
	for _, p := range ps {
		st.TotalFeedbacks += len(p.Feedback)
		c := p.Components
		if p.Corrections != nil {
			c = *p.Corrections
		}
		if c.Total() == 0 {
			continue
		}
		rates = append(rates, 100*float64(c.Connected)/float64(c.Total()))
	}

	switch len(rates) {
	case 0:
	case 1:
		st.AverageCompliance = rates[0]
	default:
		st.AverageCompliance, st.ComplianceStdDev = stat.MeanStdDev(rates, nil)
	}
	return st
}

// ExportInfo describes an export document.
type ExportInfo struct {
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version"`
	SessionID string `json:"sessionId"`
}

// Export is a full dump of learned state.
type Export struct {
	ExportInfo ExportInfo   `json:"exportInfo"`
	Statistics Stats        `json:"statistics"`
	Patterns   []Pattern    `json:"patterns"`
	Rules      []rules.Rule `json:"rules"`
}

// Export dumps all patterns and rules with their statistics.
func (s *Service) Export(ctx context.Context) (Export, error) {
	ps, err := s.patterns.List(ctx)
	if err != nil {
		return Export{}, err
	}
	rs, err := s.rules.List(ctx)
	if err != nil {
		return Export{}, err
	}
	return Export{
		ExportInfo: ExportInfo{
			Timestamp: s.now().UnixMilli(),
			Version:   ExportVersion,
			SessionID: s.sessionID,
		},
		Statistics: computeStats(ps, rs),
		Patterns:   ps,
		Rules:      rs,
	}, nil
}
