package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ritzau/ds-audit/pkg/logging"
)

// FileStore keeps rules in a JSON file. The file holds a plain array of
// rules, the same shape produced by the learning export.
type FileStore struct {
	path string

	mu    sync.RWMutex
	rules []Rule
	ids   map[string]bool
}

// NewFileStore opens the store at path, loading existing rules if the
// file exists.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Reload re-reads the backing file, replacing the in-memory view. A
// missing file is an empty store.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	var loaded []Rule
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read rules file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("failed to parse rules file %s: %w", s.path, err)
		}
	}

	ids := make(map[string]bool)
	rules, _ := dedupe(ids, loaded)

	s.mu.Lock()
	s.rules = rules
	s.ids = ids
	s.mu.Unlock()

	logging.Debug("loaded rules file", "path", s.path, "rules", len(rules))
	return nil
}

// List returns a copy of all stored rules in insertion order.
func (s *FileStore) List(ctx context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

// AppendAll validates and appends rules, then rewrites the file.
func (s *FileStore) AppendAll(ctx context.Context, rs []Rule) error {
	if err := ValidateAll(rs); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added, changed := dedupe(s.ids, rs)
	if !changed {
		return nil
	}
	next := append(append([]Rule{}, s.rules...), added...)
	if err := writeJSONFile(s.path, next); err != nil {
		for _, r := range added {
			delete(s.ids, r.ID)
		}
		return err
	}
	s.rules = next
	return nil
}

// writeJSONFile writes v atomically via a temp file in the same directory.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".rules-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write rules: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace rules file: %w", err)
	}
	return nil
}
