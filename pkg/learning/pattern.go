// Package learning keeps a per-frame record of audits and the feedback
// given on them, and turns that feedback into classification rules.
package learning

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ritzau/ds-audit/pkg/rules"
)

// ErrPatternNotFound is returned when no audit was recorded for a frame.
var ErrPatternNotFound = errors.New("no recorded analysis for frame")

// Counts is a connected/disconnected tally.
type Counts struct {
	Connected    int `json:"connected"`
	Disconnected int `json:"disconnected"`
}

// Total returns the sum of both counts.
func (c Counts) Total() int {
	return c.Connected + c.Disconnected
}

// Pattern is the audit record of one frame: the latest classifier counts,
// any manually corrected counts, and the feedback and rules it produced.
type Pattern struct {
	FrameID       string           `json:"frameId"`
	FrameURL      string           `json:"frameUrl"`
	Timestamp     int64            `json:"timestamp"`
	Components    Counts           `json:"components"`
	Corrections   *Counts          `json:"corrections,omitempty"`
	Feedback      []rules.Feedback `json:"feedback"`
	AnalysisRules []rules.Rule     `json:"analysisRules"`
}

// PatternStore persists patterns keyed by frame id.
type PatternStore interface {
	List(ctx context.Context) ([]Pattern, error)
	Get(ctx context.Context, frameID string) (Pattern, error)
	// Save replaces any pattern with the same frame id.
	Save(ctx context.Context, p Pattern) error
}

// MemoryPatternStore is an in-process PatternStore.
type MemoryPatternStore struct {
	mu       sync.RWMutex
	patterns map[string]Pattern
}

// NewMemoryPatternStore creates an empty store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{patterns: make(map[string]Pattern)}
}

func (s *MemoryPatternStore) List(ctx context.Context) ([]Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	sortPatterns(out)
	return out, nil
}

func (s *MemoryPatternStore) Get(ctx context.Context, frameID string) (Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[frameID]
	if !ok {
		return Pattern{}, ErrPatternNotFound
	}
	return p, nil
}

func (s *MemoryPatternStore) Save(ctx context.Context, p Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[p.FrameID] = p
	return nil
}

// sortPatterns orders by timestamp, then frame id.
func sortPatterns(ps []Pattern) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Timestamp != ps[j].Timestamp {
			return ps[i].Timestamp < ps[j].Timestamp
		}
		return ps[i].FrameID < ps[j].FrameID
	})
}
