package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

const address = "localhost:6379"

func getStore(t *testing.T) *CounterStore {
	if testing.Short() {
		t.Skip()
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{address},
		DB:    0,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		panic(err)
	}

	return NewCounterStore(client)
}

func Test_RedisCounters_Increment(t *testing.T) {
	s := getStore(t)
	defer s.Close()

	ctx := context.Background()
	key := core.CounterKey{TenantID: "plant-test", Kind: "registro", Year: 2025}

	_, err := s.GetCounter(ctx, key)
	require.ErrorIs(t, err, backend.ErrCounterNotFound)

	for i := int64(1); i <= 3; i++ {
		value, err := s.IncrementCounter(ctx, key)
		require.NoError(t, err)
		require.Equal(t, i, value)
	}

	value, err := s.GetCounter(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(3), value)

	// A different period is a different stream.
	value, err = s.IncrementCounter(ctx, core.CounterKey{TenantID: "plant-test", Kind: "registro", Year: 2026})
	require.NoError(t, err)
	require.Equal(t, int64(1), value)
}

func Test_RedisCounters_Concurrent(t *testing.T) {
	s := getStore(t)
	defer s.Close()

	ctx := context.Background()
	key := core.CounterKey{TenantID: "plant-test", Kind: "registro", Year: 2025}

	const n = 50

	values := make([]int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			value, err := s.IncrementCounter(ctx, key)
			require.NoError(t, err)
			values[i] = value
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, v := range values {
		require.False(t, seen[v], "duplicate counter value %d", v)
		seen[v] = true
	}

	value, err := s.GetCounter(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(n), value)
}

func Test_RedisCounters_ListAndReset(t *testing.T) {
	s := getStore(t)
	defer s.Close()

	ctx := context.Background()

	for _, key := range []core.CounterKey{
		{TenantID: "plant-test", Kind: "registro", Year: 2024},
		{TenantID: "plant-test", Kind: "registro", Year: 2025},
		{TenantID: "plant-test", Kind: "plantilla"},
		{TenantID: "plant-other", Kind: "registro", Year: 2025},
	} {
		_, err := s.IncrementCounter(ctx, key)
		require.NoError(t, err)
	}

	infos, err := s.ListCounters(ctx, "plant-test")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	require.Equal(t, "plantilla", infos[0].Key.Kind)
	require.Equal(t, 2024, infos[1].Key.Year)
	require.Equal(t, 2025, infos[2].Key.Year)
	for _, info := range infos {
		require.Equal(t, int64(1), info.Value)
		require.False(t, info.UpdatedAt.IsZero())
	}

	deleted, err := s.ResetCounters(ctx, "plant-test", []string{"registro"})
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	infos, err = s.ListCounters(ctx, "plant-test")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "plantilla", infos[0].Key.Kind)

	// Other tenants untouched.
	infos, err = s.ListCounters(ctx, "plant-other")
	require.NoError(t, err)
	require.Len(t, infos, 1)
}

func Test_RedisCounters_Config(t *testing.T) {
	s := getStore(t)
	defer s.Close()

	ctx := context.Background()

	_, err := s.GetCounterConfig(ctx, "plant-test", "registro")
	require.ErrorIs(t, err, backend.ErrCounterNotFound)

	cfg := core.CounterConfig{
		Kind:        "registro",
		Prefix:      "AUD",
		Format:      "{prefix}-{year}-{number}",
		Width:       4,
		ResetYearly: true,
	}
	require.NoError(t, s.SaveCounterConfig(ctx, "plant-test", cfg))

	got, err := s.GetCounterConfig(ctx, "plant-test", "registro")
	require.NoError(t, err)
	require.Equal(t, cfg, got)

	cfg.Prefix = "REG"
	require.NoError(t, s.SaveCounterConfig(ctx, "plant-test", cfg))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveCounterConfig(ctx, "plant-test", core.CounterConfig{Kind: fmt.Sprintf("kind-%d", i)}))
	}

	configs, err := s.ListCounterConfigs(ctx, "plant-test")
	require.NoError(t, err)
	require.Len(t, configs, 4)
	require.Equal(t, "registro", configs[3].Kind)
	require.Equal(t, "REG", configs[3].Prefix)
}
