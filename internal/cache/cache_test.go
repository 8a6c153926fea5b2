package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRedis(t *testing.T, logger *zap.Logger, onFailure FailureObserver) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	redisCache, err := NewRedis(RedisConfig{
		Address:   server.Addr(),
		Logger:    logger,
		OnFailure: onFailure,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = redisCache.Close()
	})
	return redisCache, server
}

func TestRedisRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	redisCache, server := newTestRedis(t, nil, nil)

	require.NoError(t, redisCache.Probe(ctx))

	redisCache.SetWithExpiry(ctx, "marker", []byte("1"), time.Hour)
	value, ok := redisCache.Get(ctx, "marker")
	require.True(t, ok)
	require.Equal(t, []byte("1"), value)

	server.FastForward(2 * time.Hour)
	_, ok = redisCache.Get(ctx, "marker")
	require.False(t, ok, "expected entry to expire")
}

func TestRedisDeleteRemovesKey(t *testing.T) {
	ctx := context.Background()
	redisCache, _ := newTestRedis(t, nil, nil)

	redisCache.SetWithExpiry(ctx, "results", []byte(`{"total":1}`), time.Minute)
	redisCache.Delete(ctx, "results")

	_, ok := redisCache.Get(ctx, "results")
	require.False(t, ok)
}

func TestRedisFailsOpenWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	failures := make([]string, 0, 3)
	redisCache, server := newTestRedis(t, zap.New(core), func(operation string) {
		failures = append(failures, operation)
	})
	server.Close()

	redisCache.SetWithExpiry(ctx, "marker", []byte("1"), time.Hour)
	value, ok := redisCache.Get(ctx, "marker")
	redisCache.Delete(ctx, "marker")

	require.False(t, ok)
	require.Nil(t, value)
	require.Equal(t, []string{operationSet, operationGet, operationDelete}, failures)
	require.Equal(t, 3, logs.FilterMessage("cache operation failed").Len())
}

func TestRedisProbeReportsUnreachableServer(t *testing.T) {
	redisCache, server := newTestRedis(t, nil, nil)
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, redisCache.Probe(ctx))
}

func TestNewRedisRequiresAddress(t *testing.T) {
	_, err := NewRedis(RedisConfig{})
	require.ErrorIs(t, err, errMissingRedisAddress)
}

func TestMemoryCacheIsolatesStoredBytes(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory()

	payload := []byte("snapshot")
	memory.SetWithExpiry(ctx, "results", payload, time.Minute)
	payload[0] = 'X'

	value, ok := memory.Get(ctx, "results")
	require.True(t, ok)
	require.Equal(t, "snapshot", string(value))

	memory.Delete(ctx, "results")
	_, ok = memory.Get(ctx, "results")
	require.False(t, ok)
}

func TestMemoryCacheExpiresEntries(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory()

	memory.SetWithExpiry(ctx, "short", []byte("1"), 20*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	_, ok := memory.Get(ctx, "short")
	require.False(t, ok)
}

func TestNilAndNopCachesAreSafe(t *testing.T) {
	ctx := context.Background()
	var memory *Memory
	var redisCache *Redis
	for _, c := range []Cache{memory, redisCache, NewNop()} {
		c.SetWithExpiry(ctx, "k", []byte("v"), time.Minute)
		_, ok := c.Get(ctx, "k")
		require.False(t, ok)
		c.Delete(ctx, "k")
		require.NoError(t, c.Close())
	}
}
