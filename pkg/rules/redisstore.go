package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "ds-audit:"
	rulesHashSuffix    = "rules"       // hash: rule id -> rule JSON
	rulesOrderSuffix   = "rules:order" // list of rule ids in insertion order
)

// RedisStore keeps rules in Redis so several auditor processes share one
// rule set. A Lua script applies HSETNX and the order list update together,
// giving first-write-wins per id.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a store using the given key prefix. An empty
// prefix selects "ds-audit:".
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hashKey() string  { return s.prefix + rulesHashSuffix }
func (s *RedisStore) orderKey() string { return s.prefix + rulesOrderSuffix }

// appendScript stores each id/rule pair with HSETNX and records newly added
// ids in the order list, atomically. It returns the number of rules added.
var appendScript = redis.NewScript(`
local added = 0
for i = 1, #ARGV, 2 do
	if redis.call('HSETNX', KEYS[1], ARGV[i], ARGV[i + 1]) == 1 then
		redis.call('RPUSH', KEYS[2], ARGV[i])
		added = added + 1
	end
end
return added
`)

// List returns all rules in insertion order. Rules present in the hash but
// missing from the order list follow, ordered by id.
func (s *RedisStore) List(ctx context.Context) ([]Rule, error) {
	ids, err := s.client.LRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rule ids: %w", err)
	}

	keys, err := s.client.HKeys(ctx, s.hashKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rule keys: %w", err)
	}
	ids = withUnordered(ids, keys)
	if len(ids) == 0 {
		return []Rule{}, nil
	}

	vals, err := s.client.HMGet(ctx, s.hashKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	out := make([]Rule, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// order list and hash drifted apart; the hash is authoritative
			continue
		}
		var r Rule
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("failed to decode rule %s: %w", ids[i], err)
		}
		out = append(out, r)
	}
	return out, nil
}

// withUnordered appends the hash keys absent from ordered, sorted, and
// drops repeated ids.
func withUnordered(ordered, keys []string) []string {
	seen := make(map[string]bool, len(ordered))
	out := make([]string, 0, len(keys))
	for _, id := range ordered {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	var missing []string
	for _, k := range keys {
		if !seen[k] {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return append(out, missing...)
}

// AppendAll validates and stores rules whose id is not yet present.
func (s *RedisStore) AppendAll(ctx context.Context, rs []Rule) error {
	if err := ValidateAll(rs); err != nil {
		return err
	}
	if len(rs) == 0 {
		return nil
	}

	args := make([]any, 0, 2*len(rs))
	for _, r := range rs {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal rule %s: %w", r.ID, err)
		}
		args = append(args, r.ID, string(data))
	}
	if err := appendScript.Run(ctx, s.client, []string{s.hashKey(), s.orderKey()}, args...).Err(); err != nil {
		return fmt.Errorf("failed to store rules: %w", err)
	}
	return nil
}
