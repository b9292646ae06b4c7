package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a disposable redis container for the test
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "redis container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisStore_Contract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	addr := startRedis(t)

	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewRedisStore(RedisConfig{URL: "redis://" + addr})
		require.NoError(t, err)
		require.NoError(t, s.client.FlushDB(context.Background()).Err())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRedisStore_ReplaceKeepsTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	addr := startRedis(t)
	s, err := NewRedisStore(RedisConfig{URL: addr})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v1"), time.Minute))
	written, err := s.Replace(ctx, "k", []byte("v2"))
	require.NoError(t, err)
	require.True(t, written)

	ttl, err := s.client.TTL(ctx, "k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	t.Log("✓ SET XX KEEPTTL preserves the expiry")
}

func TestRedisStore_RefreshRestartsTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	addr := startRedis(t)
	s, err := NewRedisStore(RedisConfig{URL: addr})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v1"), 10*time.Second))
	written, err := s.Refresh(ctx, "k", []byte("v2"), time.Hour)
	require.NoError(t, err)
	require.True(t, written)

	ttl, err := s.client.TTL(ctx, "k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	require.NoError(t, s.Delete(ctx, "k"))
	written, err = s.Refresh(ctx, "k", []byte("v3"), time.Hour)
	require.NoError(t, err)
	assert.False(t, written)

	t.Log("✓ SET XX EX restarts the expiry and never recreates a deleted key")
}

func TestRedisStore_IncrSetsTTLOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	addr := startRedis(t)
	s, err := NewRedisStore(RedisConfig{URL: addr})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	n, err := s.Incr(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ttl, err := s.client.TTL(ctx, "c").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	n, err = s.Incr(ctx, "c", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ttl, err = s.client.TTL(ctx, "c").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute, "existing expiry is kept")

	t.Log("✓ INCR and EXPIRE NX run in one transaction")
}

func TestRedisStore_WrongTypeIsMissNotFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	addr := startRedis(t)
	s, err := NewRedisStore(RedisConfig{URL: addr})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.SetAdd(ctx, "tag:leaderboard", "k1"))

	d := NewDurableStore(DurableStoreConfig{Store: s, FailureThreshold: 2})
	defer d.Close()

	for i := 0; i < 5; i++ {
		_, ok := d.Get(ctx, "tag:leaderboard")
		assert.False(t, ok)
	}
	assert.Equal(t, "closed", d.Breaker().State().String())

	t.Log("✓ GET on a set key does not trip the breaker")
}

func TestIsWrongType(t *testing.T) {
	assert.True(t, isWrongType(errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")))
	assert.False(t, isWrongType(errors.New("ERR value is not an integer or out of range")))
	assert.False(t, isWrongType(context.DeadlineExceeded))
}

func TestRedisStore_UnreachableThroughDurableStore(t *testing.T) {
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}))
	d := NewDurableStore(DurableStoreConfig{Store: s, OpTimeout: 200 * time.Millisecond})
	defer d.Close()

	_, ok := d.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.False(t, d.Set(context.Background(), "k", []byte("v"), 0))
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(RedisConfig{URL: "rediss://default:pw@cache.example.com:6380/2", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "cache.example.com:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "tok", opts.Password, "token overrides url password")
	assert.NotNil(t, opts.TLSConfig)

	opts, err = redisOptions(RedisConfig{URL: "localhost:6379"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	_, err = redisOptions(RedisConfig{})
	assert.Error(t, err)
}
