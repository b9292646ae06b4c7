package walletmetrics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/cache"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/worker"
)

type testMetrics struct {
	Score int `json:"score"`
	Rank  int `json:"rank"`
}

// countingStore wraps a MemoryStore, counting calls and optionally failing
type countingStore struct {
	*cache.MemoryStore

	mu     sync.Mutex
	calls  map[string]int
	err    error
	before map[string]func()
	after  map[string]func()
}

func newCountingStore(t *testing.T) *countingStore {
	s := cache.NewMemoryStore(1000)
	t.Cleanup(func() { _ = s.Close() })
	return &countingStore{
		MemoryStore: s,
		calls:       map[string]int{},
		before:      map[string]func(){},
		after:       map[string]func(){},
	}
}

// onceBefore runs fn on the next op call, before it reaches the store
func (s *countingStore) onceBefore(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before[op] = fn
}

// onceAfter runs fn on the next op call, after the store answered
func (s *countingStore) onceAfter(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after[op] = fn
}

func (s *countingStore) take(hooks map[string]func(), op string) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := hooks[op]
	delete(hooks, op)
	if fn == nil {
		return func() {}
	}
	return fn
}

func (s *countingStore) hit(op string) error {
	s.take(s.before, op)()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.err
}

func (s *countingStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *countingStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.hit("get"); err != nil {
		return nil, err
	}
	defer s.take(s.after, "get")()
	return s.MemoryStore.Get(ctx, key)
}

func (s *countingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.hit("set"); err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func (s *countingStore) Replace(ctx context.Context, key string, value []byte) (bool, error) {
	if err := s.hit("replace"); err != nil {
		return false, err
	}
	return s.MemoryStore.Replace(ctx, key, value)
}

func (s *countingStore) Refresh(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.hit("refresh"); err != nil {
		return false, err
	}
	return s.MemoryStore.Refresh(ctx, key, value, ttl)
}

func (s *countingStore) Delete(ctx context.Context, keys ...string) error {
	if err := s.hit("delete"); err != nil {
		return err
	}
	return s.MemoryStore.Delete(ctx, keys...)
}

// stored reads the raw envelope, bypassing counters
func (s *countingStore) stored(t *testing.T, wallet string) (*Envelope[testMetrics], bool) {
	t.Helper()
	raw, err := s.MemoryStore.Get(context.Background(), Key(wallet))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, false
	}
	require.NoError(t, err)

	var env Envelope[testMetrics]
	require.NoError(t, json.Unmarshal(raw, &env))
	return &env, true
}

func newTestCache(t *testing.T, cfg Config) (*Cache[testMetrics], *countingStore) {
	t.Helper()
	store := newCountingStore(t)
	durable := cache.NewDurableStore(cache.DurableStoreConfig{
		Store:            store,
		OpTimeout:        time.Second,
		FailureThreshold: 1000,
	})

	c, err := New[testMetrics](durable, cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, store
}

// getN performs n gets, letting each write-back land before the next
func getN(c *Cache[testMetrics], wallet string, n int) {
	for i := 0; i < n; i++ {
		c.Get(context.Background(), wallet)
		c.Flush()
	}
}

func TestCache_SetGetInvalidateScenario(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	ctx := context.Background()

	c.Set(ctx, "abc", testMetrics{Score: 100, Rank: 5})

	got, ok := c.Get(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, testMetrics{Score: 100, Rank: 5}, got)
	assert.Equal(t, int64(1), c.Stats().Hits)

	c.Invalidate(ctx, "abc")

	_, ok = c.Get(ctx, "abc")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, 50.0, stats.HitRate)

	t.Log("✓ Set, hit, invalidate, miss")
}

func TestCache_L2HitIncrementsStoredHitCount(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 100})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})
	getN(c, "w", 3)

	env, ok := store.stored(t, "w")
	require.True(t, ok)
	assert.Equal(t, int64(3), env.HitCount)
	assert.Equal(t, 0, c.L1Len())
}

func TestCache_PromotionAtThreshold(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 2})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 7})

	getN(c, "w", 1)
	assert.Equal(t, 0, c.L1Len(), "one hit is below the threshold")

	getN(c, "w", 1)
	assert.Equal(t, 1, c.L1Len(), "second hit promotes")

	reads := store.count("get")
	writes := store.count("replace")

	got, ok := c.Get(ctx, "w")
	c.Flush()
	require.True(t, ok)
	assert.Equal(t, 7, got.Score)
	assert.Equal(t, reads, store.count("get"), "L1 hit must not read L2")
	assert.Equal(t, writes, store.count("replace"), "L1 hit must not write L2")

	env, _ := store.stored(t, "w")
	assert.Equal(t, int64(2), env.HitCount, "L1 hits do not bump the stored count")
	assert.Equal(t, int64(3), c.Stats().Hits)

	t.Log("✓ Wallet promoted once hit count reaches threshold")
}

func TestCache_SetUpdatesL1OnlyWhenPresent(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 1})
	ctx := context.Background()

	c.Set(ctx, "cold", testMetrics{Score: 1})
	assert.Equal(t, 0, c.L1Len(), "set alone never promotes")

	getN(c, "cold", 1)
	require.Equal(t, 1, c.L1Len())

	c.Set(ctx, "cold", testMetrics{Score: 2})
	reads := store.count("get")

	got, ok := c.Get(ctx, "cold")
	require.True(t, ok)
	assert.Equal(t, 2, got.Score, "L1 must serve the fresh value")
	assert.Equal(t, reads, store.count("get"))

	env, _ := store.stored(t, "cold")
	assert.Equal(t, int64(0), env.HitCount, "set resets the hit count")
}

func TestCache_InvalidateRemovesBothTiers(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 1})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})
	getN(c, "w", 1)
	require.Equal(t, 1, c.L1Len())

	c.Invalidate(ctx, "w")

	assert.Equal(t, 0, c.L1Len())
	_, ok := store.stored(t, "w")
	assert.False(t, ok)
	assert.Empty(t, c.Trending(10))
}

func TestCache_InvalidateWithStoreDownStillDropsL1(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 1})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})
	getN(c, "w", 1)
	require.Equal(t, 1, c.L1Len())

	store.fail(errors.New("connection reset"))
	c.Invalidate(ctx, "w")

	assert.Equal(t, 0, c.L1Len())
	_, ok := c.Get(ctx, "w")
	assert.False(t, ok)
}

func TestCache_StoreDownIsMiss(t *testing.T) {
	c, store := newTestCache(t, Config{})
	ctx := context.Background()

	store.fail(errors.New("connection refused"))

	assert.NotPanics(t, func() { c.Set(ctx, "w", testMetrics{Score: 1}) })
	_, ok := c.Get(ctx, "w")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_MalformedEnvelopeIsMiss(t *testing.T) {
	c, store := newTestCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, store.MemoryStore.Set(ctx, Key("w"), []byte(`{"metrics":`), 0))

	_, ok := c.Get(ctx, "w")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_WriteBackSkippedAfterConcurrentSet(t *testing.T) {
	c, store := newTestCache(t, Config{BackgroundWorkers: 1, PromotionThreshold: 100})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})

	// hold the only background worker
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, c.pool.Submit(worker.Job{ID: "gate", Execute: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	_, ok := c.Get(ctx, "w") // queues a write-back of hitCount 1 with Score 1
	require.True(t, ok)

	c.Set(ctx, "w", testMetrics{Score: 2})

	close(release)
	c.Flush()

	env, ok := store.stored(t, "w")
	require.True(t, ok)
	assert.Equal(t, 2, env.Metrics.Score, "stale write-back must not clobber a newer set")
	assert.Equal(t, int64(0), env.HitCount)
}

func TestCache_WriteBackNeverResurrects(t *testing.T) {
	c, store := newTestCache(t, Config{BackgroundWorkers: 1})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, c.pool.Submit(worker.Job{ID: "gate", Execute: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	c.Get(ctx, "w")
	c.Invalidate(ctx, "w")

	close(release)
	c.Flush()

	_, ok := store.stored(t, "w")
	assert.False(t, ok)
}

func TestCache_SetFailureDropsL1(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 1})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})
	getN(c, "w", 1)
	require.Equal(t, 1, c.L1Len())

	store.fail(errors.New("connection reset"))
	c.Set(ctx, "w", testMetrics{Score: 2})
	assert.Equal(t, 0, c.L1Len(), "L1 must not keep metrics the store never received")

	store.fail(nil)
	got, ok := c.Get(ctx, "w")
	require.True(t, ok)
	assert.Equal(t, 1, got.Score, "L2 still holds the last persisted value")
}

func TestCache_PromotionWithdrawnAfterConcurrentSet(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 1})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})

	// the read returns Score 1, then a writer lands before promotion
	store.onceAfter("get", func() { c.Set(ctx, "w", testMetrics{Score: 2}) })

	got, ok := c.Get(ctx, "w")
	c.Flush()
	require.True(t, ok)
	assert.Equal(t, 1, got.Score)
	assert.Equal(t, 0, c.L1Len(), "stale envelope must not stay promoted")

	got, ok = c.Get(ctx, "w")
	require.True(t, ok)
	assert.Equal(t, 2, got.Score)

	t.Log("✓ Promotion of a read raced by Set is undone")
}

func TestCache_PromotionWithdrawnAfterConcurrentInvalidate(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 1})
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})
	store.onceAfter("get", func() { c.Invalidate(ctx, "w") })

	_, ok := c.Get(ctx, "w")
	c.Flush()
	require.True(t, ok, "the in-flight read still answers")
	assert.Equal(t, 0, c.L1Len())

	_, ok = c.Get(ctx, "w")
	assert.False(t, ok, "invalidated wallet must be absent")
}

// fakeClock is a settable time source
type fakeClock struct {
	nanos atomic.Int64
}

func newFakeClock(start time.Time) *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(start.UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, c.nanos.Load()) }

func (c *fakeClock) Advance(d time.Duration) { c.nanos.Add(int64(d)) }

func TestCache_L1ExpiresWithL2Copy(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 1, TTL: time.Hour})
	clock := newFakeClock(time.Now())
	c.now = clock.Now
	ctx := context.Background()

	c.Set(ctx, "w", testMetrics{Score: 1})
	getN(c, "w", 1)
	require.Equal(t, 1, c.L1Len())

	clock.Advance(59 * time.Minute)
	reads := store.count("get")
	_, ok := c.Get(ctx, "w")
	require.True(t, ok)
	assert.Equal(t, reads, store.count("get"), "served from L1 while L2 is live")

	clock.Advance(2 * time.Minute)
	_, ok = c.Get(ctx, "w")
	assert.False(t, ok, "lapsed wallet is a miss")
	assert.Equal(t, 0, c.L1Len())

	t.Log("✓ Promoted entry lapses with its L2 expiry")
}

func TestCache_L1ExpiresAfterStoreTTL(t *testing.T) {
	c, store := newTestCache(t, Config{PromotionThreshold: 1, TTL: 100 * time.Millisecond})
	ctx := context.Background()

	c.Set(ctx, "abc", testMetrics{Score: 1})
	getN(c, "abc", 1)
	require.Equal(t, 1, c.L1Len())

	time.Sleep(250 * time.Millisecond)

	_, stored := store.stored(t, "abc")
	require.False(t, stored, "store dropped the entry")

	_, ok := c.Get(ctx, "abc")
	assert.False(t, ok)
}

func TestCache_ResetStats(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	ctx := context.Background()

	c.Get(ctx, "missing")
	c.Set(ctx, "w", testMetrics{})
	c.Get(ctx, "w")
	c.Flush()

	c.ResetStats()
	assert.Equal(t, cache.Stats{}, c.Stats())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(t, Config{L1Size: 4, PromotionThreshold: 2})
	ctx := context.Background()

	wallets := []string{"a", "b", "c", "d", "e", "f"}
	for _, w := range wallets {
		c.Set(ctx, w, testMetrics{Score: len(w)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w := wallets[(i+j)%len(wallets)]
				switch j % 10 {
				case 0:
					c.Invalidate(ctx, w)
				case 1:
					c.Set(ctx, w, testMetrics{Score: j})
				default:
					c.Get(ctx, w)
				}
				_ = c.Trending(3)
			}
		}(i)
	}
	wg.Wait()
	c.Flush()

	assert.LessOrEqual(t, c.L1Len(), 4)
	s := c.Stats()
	assert.Equal(t, s.Hits+s.Misses, s.TotalRequests)
}

func TestValidateWallet(t *testing.T) {
	assert.NoError(t, ValidateWallet("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"))
	assert.ErrorIs(t, ValidateWallet(""), ErrInvalidWallet)
	assert.ErrorIs(t, ValidateWallet("has space"), ErrInvalidWallet)
	long := make([]byte, maxWalletLen+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, ValidateWallet(string(long)), ErrInvalidWallet)
}
