package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FilePatternStore keeps patterns as a JSON array in a single file.
type FilePatternStore struct {
	path string

	mu       sync.RWMutex
	patterns map[string]Pattern
}

// NewFilePatternStore opens the store at path. A missing file is empty.
func NewFilePatternStore(path string) (*FilePatternStore, error) {
	s := &FilePatternStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FilePatternStore) Path() string {
	return s.path
}

// Reload re-reads the backing file.
func (s *FilePatternStore) Reload() error {
	data, err := os.ReadFile(s.path)
	var loaded []Pattern
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read patterns file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("failed to parse patterns file %s: %w", s.path, err)
		}
	}

	patterns := make(map[string]Pattern, len(loaded))
	for _, p := range loaded {
		patterns[p.FrameID] = p
	}

	s.mu.Lock()
	s.patterns = patterns
	s.mu.Unlock()
	return nil
}

func (s *FilePatternStore) List(ctx context.Context) ([]Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(), nil
}

func (s *FilePatternStore) listLocked() []Pattern {
	out := make([]Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	sortPatterns(out)
	return out
}

func (s *FilePatternStore) Get(ctx context.Context, frameID string) (Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[frameID]
	if !ok {
		return Pattern{}, ErrPatternNotFound
	}
	return p, nil
}

func (s *FilePatternStore) Save(ctx context.Context, p Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.patterns[p.FrameID]
	s.patterns[p.FrameID] = p
	if err := writeJSON(s.path, s.listLocked()); err != nil {
		if existed {
			s.patterns[p.FrameID] = prev
		} else {
			delete(s.patterns, p.FrameID)
		}
		return err
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal patterns: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create patterns directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".patterns-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write patterns: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace patterns file: %w", err)
	}
	return nil
}
