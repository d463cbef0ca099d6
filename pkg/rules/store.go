package rules

import (
	"context"
	"sync"
)

// Store persists rules. Stores are append-only: AppendAll ignores rules
// whose id is already present, so the first write of an id wins.
type Store interface {
	List(ctx context.Context) ([]Rule, error)
	AppendAll(ctx context.Context, rs []Rule) error
}

// MemoryStore is an in-process Store safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	rules []Rule
	ids   map[string]bool
}

// NewMemoryStore creates a store seeded with the given rules.
func NewMemoryStore(seed ...Rule) *MemoryStore {
	s := &MemoryStore{ids: make(map[string]bool)}
	s.rules, _ = dedupe(s.ids, seed)
	return s
}

// List returns a copy of all stored rules in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

// AppendAll validates and appends rules, skipping known ids.
func (s *MemoryStore) AppendAll(ctx context.Context, rs []Rule) error {
	if err := ValidateAll(rs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	added, _ := dedupe(s.ids, rs)
	s.rules = append(s.rules, added...)
	return nil
}

// dedupe returns the rules whose ids are not yet in seen, marking them
// seen. The second result reports whether anything was added.
func dedupe(seen map[string]bool, rs []Rule) ([]Rule, bool) {
	var out []Rule
	for _, r := range rs {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, len(out) > 0
}
