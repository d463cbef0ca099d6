package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const patternsHashSuffix = "patterns" // hash: frame id -> pattern JSON

// RedisPatternStore keeps patterns in a Redis hash next to the rules.
type RedisPatternStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisPatternStore creates a store under the given key prefix.
func NewRedisPatternStore(client redis.Cmdable, prefix string) *RedisPatternStore {
	if prefix == "" {
		prefix = "ds-audit:"
	}
	return &RedisPatternStore{client: client, key: prefix + patternsHashSuffix}
}

func (s *RedisPatternStore) List(ctx context.Context) ([]Pattern, error) {
	vals, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	out := make([]Pattern, 0, len(vals))
	for id, v := range vals {
		var p Pattern
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("failed to decode pattern %s: %w", id, err)
		}
		out = append(out, p)
	}
	sortPatterns(out)
	return out, nil
}

func (s *RedisPatternStore) Get(ctx context.Context, frameID string) (Pattern, error) {
	v, err := s.client.HGet(ctx, s.key, frameID).Result()
	if errors.Is(err, redis.Nil) {
		return Pattern{}, ErrPatternNotFound
	}
	if err != nil {
		return Pattern{}, fmt.Errorf("failed to get pattern: %w", err)
	}
	var p Pattern
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return Pattern{}, fmt.Errorf("failed to decode pattern %s: %w", frameID, err)
	}
	return p, nil
}

func (s *RedisPatternStore) Save(ctx context.Context, p Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, p.FrameID, data).Err(); err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}
