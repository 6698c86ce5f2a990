// Package redis implements the counter store on Redis. It covers counters
// only: INCR gives the atomic single-primitive increment the numbering
// generator needs, and deployments that want Redis-backed numbering combine
// this store with a SQL or Mongo store for templates and records.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

type CounterStore struct {
	rdb     redis.UniversalClient
	options backend.Options
}

var _ backend.CounterStore = (*CounterStore)(nil)

func NewCounterStore(client redis.UniversalClient, opts ...backend.BackendOption) *CounterStore {
	return &CounterStore{
		rdb:     client,
		options: backend.ApplyOptions(opts...),
	}
}

func (s *CounterStore) Close() error {
	return s.rdb.Close()
}

// Key layout:
//
//	recordflow:counter:{tenant}:{kind}:{year}:{month}  -> int value
//	recordflow:counter-meta:{tenant}:{kind}:{...}      -> RFC3339 updated-at
//	recordflow:counter-config:{tenant}:{kind}          -> JSON config
const (
	counterPrefix = "recordflow:counter:"
	metaPrefix    = "recordflow:counter-meta:"
	configPrefix  = "recordflow:counter-config:"
)

func counterKey(key core.CounterKey) string {
	return fmt.Sprintf("%s%s:%s:%d:%d", counterPrefix, key.TenantID, key.Kind, key.Year, key.Month)
}

func metaKey(key core.CounterKey) string {
	return fmt.Sprintf("%s%s:%s:%d:%d", metaPrefix, key.TenantID, key.Kind, key.Year, key.Month)
}

func configKey(tenantID, kind string) string {
	return configPrefix + tenantID + ":" + kind
}

func (s *CounterStore) IncrementCounter(ctx context.Context, key core.CounterKey) (int64, error) {
	value, err := s.rdb.Incr(ctx, counterKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing counter: %w", err)
	}

	// Best effort; the value is already committed.
	s.rdb.Set(ctx, metaKey(key), s.now().Format(time.RFC3339Nano), 0)

	return value, nil
}

func (s *CounterStore) GetCounter(ctx context.Context, key core.CounterKey) (int64, error) {
	value, err := s.rdb.Get(ctx, counterKey(key)).Int64()
	if err == redis.Nil {
		return 0, backend.ErrCounterNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying counter: %w", err)
	}
	return value, nil
}

func (s *CounterStore) ListCounters(ctx context.Context, tenantID string) ([]core.CounterInfo, error) {
	pattern := counterPrefix + tenantID + ":*"

	var infos []core.CounterInfo

	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()

		key, ok := parseCounterKey(tenantID, strings.TrimPrefix(raw, counterPrefix+tenantID+":"))
		if !ok {
			continue
		}

		value, err := s.rdb.Get(ctx, raw).Int64()
		if err != nil {
			continue
		}

		info := core.CounterInfo{Key: key, Value: value}
		if raw, err := s.rdb.Get(ctx, metaKey(key)).Result(); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				info.UpdatedAt = t
			}
		}
		infos = append(infos, info)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning counters: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool {
		a, b := infos[i].Key, infos[j].Key
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})

	return infos, nil
}

// parseCounterKey splits "kind:year:month". Kind may itself contain colons
// (sub-counters do), so year and month are taken from the tail.
func parseCounterKey(tenantID, rest string) (core.CounterKey, bool) {
	parts := strings.Split(rest, ":")
	if len(parts) < 3 {
		return core.CounterKey{}, false
	}

	year, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return core.CounterKey{}, false
	}
	month, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return core.CounterKey{}, false
	}

	return core.CounterKey{
		TenantID: tenantID,
		Kind:     strings.Join(parts[:len(parts)-2], ":"),
		Year:     year,
		Month:    month,
	}, true
}

func (s *CounterStore) ResetCounters(ctx context.Context, tenantID string, kinds []string) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}

	wanted := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = true
	}

	var deleted int64

	iter := s.rdb.Scan(ctx, 0, counterPrefix+tenantID+":*", 100).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()

		key, ok := parseCounterKey(tenantID, strings.TrimPrefix(raw, counterPrefix+tenantID+":"))
		if !ok || !wanted[key.Kind] {
			continue
		}

		n, err := s.rdb.Del(ctx, raw, metaKey(key)).Result()
		if err != nil {
			return deleted, fmt.Errorf("deleting counter: %w", err)
		}
		if n > 0 {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning counters: %w", err)
	}

	return deleted, nil
}

func (s *CounterStore) SaveCounterConfig(ctx context.Context, tenantID string, cfg core.CounterConfig) error {
	config, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling counter config: %w", err)
	}

	if err := s.rdb.Set(ctx, configKey(tenantID, cfg.Kind), config, 0).Err(); err != nil {
		return fmt.Errorf("saving counter config: %w", err)
	}
	return nil
}

func (s *CounterStore) GetCounterConfig(ctx context.Context, tenantID, kind string) (core.CounterConfig, error) {
	raw, err := s.rdb.Get(ctx, configKey(tenantID, kind)).Result()
	if err == redis.Nil {
		return core.CounterConfig{}, backend.ErrCounterNotFound
	}
	if err != nil {
		return core.CounterConfig{}, fmt.Errorf("querying counter config: %w", err)
	}

	var cfg core.CounterConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return core.CounterConfig{}, fmt.Errorf("unmarshaling counter config: %w", err)
	}
	return cfg, nil
}

func (s *CounterStore) ListCounterConfigs(ctx context.Context, tenantID string) ([]core.CounterConfig, error) {
	var configs []core.CounterConfig

	iter := s.rdb.Scan(ctx, 0, configPrefix+tenantID+":*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}

		var cfg core.CounterConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling counter config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning counter configs: %w", err)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Kind < configs[j].Kind })

	return configs, nil
}

func (s *CounterStore) now() time.Time {
	return s.options.Clock.Now().UTC()
}
