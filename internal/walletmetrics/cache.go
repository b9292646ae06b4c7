package walletmetrics

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/cache"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/resilience"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/worker"
)

const epochStripes = 64

// Config tunes a Cache
type Config struct {
	// L1Size bounds the number of promoted wallets held in process
	L1Size int
	// PromotionThreshold is the L2 hit count at which a wallet enters L1
	PromotionThreshold int64
	// TTL of L2 envelopes
	TTL time.Duration

	// TrendingCapacity bounds the number of wallets remembered for trending
	TrendingCapacity int
	// DefaultTrendingLimit is used when Trending is asked for limit <= 0
	DefaultTrendingLimit int

	// WarmConcurrency bounds parallel L2 reads during Warm
	WarmConcurrency int
	// WarmRate caps warm refreshes per second; 0 means unpaced
	WarmRate float64

	// BackgroundWorkers and BackgroundQueue size the hit-count write-back
	// pool. Write-backs are dropped when the queue is full.
	BackgroundWorkers int
	BackgroundQueue   int
	BackgroundTimeout time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		L1Size:               1000,
		PromotionThreshold:   5,
		TTL:                  time.Hour,
		TrendingCapacity:     10000,
		DefaultTrendingLimit: 10,
		WarmConcurrency:      8,
		WarmRate:             50,
		BackgroundWorkers:    4,
		BackgroundQueue:      1024,
		BackgroundTimeout:    2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.L1Size <= 0 {
		c.L1Size = d.L1Size
	}
	if c.PromotionThreshold <= 0 {
		c.PromotionThreshold = d.PromotionThreshold
	}
	if c.TTL < 0 {
		c.TTL = 0
	}
	if c.TrendingCapacity <= 0 {
		c.TrendingCapacity = d.TrendingCapacity
	}
	if c.DefaultTrendingLimit <= 0 {
		c.DefaultTrendingLimit = d.DefaultTrendingLimit
	}
	if c.WarmConcurrency <= 0 {
		c.WarmConcurrency = d.WarmConcurrency
	}
	if c.BackgroundWorkers <= 0 {
		c.BackgroundWorkers = d.BackgroundWorkers
	}
	if c.BackgroundQueue <= 0 {
		c.BackgroundQueue = d.BackgroundQueue
	}
	if c.BackgroundTimeout <= 0 {
		c.BackgroundTimeout = d.BackgroundTimeout
	}
	return c
}

// Cache is the two-tier wallet metrics cache. Construct one per process
// with New and share it.
type Cache[M any] struct {
	cfg      Config
	store    *cache.DurableStore
	l1       *lru.Cache[string, *Envelope[M]]
	trending *observations
	stats    *cache.StatsTracker
	pool     *worker.Pool
	limiter  *resilience.RateLimiter
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	// epochs are bumped by Set and Invalidate. A read that started under an
	// older epoch may not promote or write back.
	epochs [epochStripes]atomic.Uint64
}

// New creates a Cache over store
func New[M any](store *cache.DurableStore, cfg Config, logger *observability.Logger, metrics *observability.Metrics) (*Cache[M], error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}

	l1, err := lru.New[string, *Envelope[M]](cfg.L1Size)
	if err != nil {
		return nil, err
	}

	c := &Cache[M]{
		cfg:      cfg,
		store:    store,
		l1:       l1,
		trending: newObservations(cfg.TrendingCapacity),
		stats:    cache.NewStatsTracker(),
		limiter:  resilience.NewRateLimiter(cfg.WarmRate, cfg.WarmConcurrency),
		logger:   logger.Named("wallet_cache"),
		metrics:  metrics,
		now:      time.Now,
	}

	c.pool = worker.NewPoolWithConfig(context.Background(), worker.PoolConfig{
		Workers:    cfg.BackgroundWorkers,
		QueueSize:  cfg.BackgroundQueue,
		DropPolicy: worker.DropPolicyDrop,
		JobTimeout: cfg.BackgroundTimeout,
		OnError: func(jobID string, err error) {
			c.metrics.RecordBackgroundWrite(context.Background(), "failed")
			c.logger.LogWarnErr(context.Background(), "background write failed", err, "job", jobID)
		},
	})

	return c, nil
}

func (c *Cache[M]) epoch(wallet string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(wallet))
	return &c.epochs[h.Sum32()%epochStripes]
}

// Get returns the wallet's metrics from L1, else from L2. An L2 hit bumps the
// stored hit count in the background and promotes the wallet into L1 once
// the count reaches the threshold. An L1 entry lives no longer than its L2
// copy. Store failures and malformed entries are misses.
func (c *Cache[M]) Get(ctx context.Context, wallet string) (M, bool) {
	if env, ok := c.l1.Get(wallet); ok {
		if !env.expired(c.now()) {
			c.stats.RecordHit()
			c.metrics.RecordCacheRequest(ctx, "l1", true)
			c.trending.touch(wallet, env.HitCount)
			return env.Metrics, true
		}
		c.dropL1(wallet, env)
	}
	c.metrics.RecordCacheRequest(ctx, "l1", false)

	stamp := c.epoch(wallet).Load()

	env, ok := c.load(ctx, wallet)
	if !ok || env.expired(c.now()) {
		var zero M
		c.stats.RecordMiss()
		c.metrics.RecordCacheRequest(ctx, "l2", false)
		return zero, false
	}

	next := env.withHit()
	c.stats.RecordHit()
	c.metrics.RecordCacheRequest(ctx, "l2", true)
	c.trending.record(wallet, next.HitCount)
	c.writeBack(ctx, wallet, next, stamp)

	if next.HitCount >= c.cfg.PromotionThreshold {
		c.promote(ctx, wallet, next, stamp)
	}

	return next.Metrics, true
}

// load reads and decodes the L2 envelope
func (c *Cache[M]) load(ctx context.Context, wallet string) (*Envelope[M], bool) {
	raw, ok := c.store.Get(ctx, Key(wallet))
	if !ok {
		return nil, false
	}

	var env Envelope[M]
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.LogWarnErr(ctx, "discarding malformed wallet envelope", err, "wallet", wallet)
		return nil, false
	}
	return &env, true
}

// promote adds env to L1 unless the wallet is already there. An entry read
// under an older epoch is taken back out.
func (c *Cache[M]) promote(ctx context.Context, wallet string, env *Envelope[M], stamp uint64) {
	present, evicted := c.l1.ContainsOrAdd(wallet, env)
	if present {
		return
	}
	if evicted {
		c.metrics.RecordL1Eviction(ctx)
	}
	if !c.settle(wallet, env, stamp) {
		c.logger.LogDebug(ctx, "promotion withdrawn, wallet changed during read", "wallet", wallet)
		return
	}
	c.metrics.RecordPromotion(ctx)
	c.logger.LogDebug(ctx, "wallet promoted to L1", "wallet", wallet, "hit_count", env.HitCount)
}

// settle reports whether the wallet's epoch is still stamp. If it moved, an
// L1 entry written as env is removed.
func (c *Cache[M]) settle(wallet string, env *Envelope[M], stamp uint64) bool {
	if c.epoch(wallet).Load() == stamp {
		return true
	}
	c.dropL1(wallet, env)
	return false
}

// dropL1 removes the wallet from L1 if it still holds env
func (c *Cache[M]) dropL1(wallet string, env *Envelope[M]) {
	if cur, ok := c.l1.Peek(wallet); ok && cur == env {
		c.l1.Remove(wallet)
	}
}

// writeBack persists the incremented envelope off the request path. It only
// overwrites an existing entry and is skipped when the wallet was set or
// invalidated after the read.
func (c *Cache[M]) writeBack(ctx context.Context, wallet string, env *Envelope[M], stamp uint64) {
	raw, err := json.Marshal(env)
	if err != nil {
		c.logger.LogWarnErr(ctx, "wallet envelope not serializable", err, "wallet", wallet)
		return
	}

	epoch := c.epoch(wallet)
	err = c.pool.Submit(worker.Job{
		ID: "hitcount:" + wallet,
		Execute: func(jobCtx context.Context) error {
			if epoch.Load() != stamp || !c.store.Replace(jobCtx, Key(wallet), raw) {
				c.metrics.RecordBackgroundWrite(jobCtx, "skipped")
				return nil
			}
			c.metrics.RecordBackgroundWrite(jobCtx, "ok")
			return nil
		},
	})
	if err != nil {
		c.metrics.RecordBackgroundWrite(ctx, "dropped")
		c.logger.LogDebug(ctx, "hit count write-back dropped", "wallet", wallet, "reason", err.Error())
	}
}

// Set stores fresh metrics for wallet with a zero hit count. L1 is updated
// only when it already holds the wallet and the L2 write succeeded; on a
// failed write the wallet leaves L1. Store failures are logged and
// otherwise ignored.
func (c *Cache[M]) Set(ctx context.Context, wallet string, metrics M) {
	env := newEnvelope(metrics, c.now(), c.cfg.TTL)
	stamp := c.epoch(wallet).Add(1)

	persisted := false
	if raw, err := json.Marshal(env); err != nil {
		c.logger.LogWarnErr(ctx, "wallet metrics not serializable", err, "wallet", wallet)
	} else if !c.store.Set(ctx, Key(wallet), raw, c.cfg.TTL) {
		c.logger.LogWarn(ctx, "wallet metrics not persisted", "wallet", wallet)
	} else {
		persisted = true
	}

	switch {
	case !persisted:
		c.l1.Remove(wallet)
	case c.l1.Contains(wallet):
		c.l1.Add(wallet, env)
		c.settle(wallet, env, stamp)
	}
	c.trending.record(wallet, env.HitCount)
}

// Invalidate drops the wallet from L1 and trending, then deletes it from L2.
// A failed L2 delete is logged; the local copy is gone regardless.
func (c *Cache[M]) Invalidate(ctx context.Context, wallet string) {
	c.epoch(wallet).Add(1)
	c.l1.Remove(wallet)
	c.trending.forget(wallet)

	if !c.store.Delete(ctx, Key(wallet)) {
		c.logger.LogWarn(ctx, "wallet metrics not removed from store", "wallet", wallet)
	}
}

// Trending ranks observed wallets by hit count, most recently accessed first
// on ties. limit <= 0 uses the configured default.
func (c *Cache[M]) Trending(limit int) []TrendingWallet {
	if limit <= 0 {
		limit = c.cfg.DefaultTrendingLimit
	}
	return c.trending.top(limit)
}

// Stats returns hit/miss counters
func (c *Cache[M]) Stats() cache.Stats {
	return c.stats.Snapshot()
}

// ResetStats zeroes the hit/miss counters
func (c *Cache[M]) ResetStats() {
	c.stats.Reset()
}

// L1Len returns the number of promoted wallets
func (c *Cache[M]) L1Len() int {
	return c.l1.Len()
}

// Flush waits for queued background writes
func (c *Cache[M]) Flush() {
	c.pool.Wait()
}

// Close drains background writes and stops the worker pool
func (c *Cache[M]) Close() {
	c.pool.Close()
}
