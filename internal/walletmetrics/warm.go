package walletmetrics

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Warm refreshes the L2 entries of the given wallets, re-writing each
// existing envelope once with a full TTL. Promoted copies follow the new
// expiry. Absent or unreadable wallets are
// skipped; nothing is ever computed. Returns the number refreshed.
func (c *Cache[M]) Warm(ctx context.Context, wallets []string) int {
	var refreshed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.WarmConcurrency)

	seen := make(map[string]struct{}, len(wallets))
	for _, wallet := range wallets {
		if _, dup := seen[wallet]; dup {
			continue
		}
		seen[wallet] = struct{}{}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := c.limiter.Wait(gctx); err != nil {
				return err
			}
			if c.warmOne(gctx, wallet) {
				refreshed.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.logger.LogWarnErr(ctx, "wallet warm interrupted", err, "refreshed", refreshed.Load())
	}
	return int(refreshed.Load())
}

// warmOne rewrites an existing envelope with a fresh expiry. The write only
// lands on a key that still exists; if the wallet was set or invalidated
// meanwhile the key is deleted so no stale copy survives.
func (c *Cache[M]) warmOne(ctx context.Context, wallet string) bool {
	stamp := c.epoch(wallet).Load()

	env, ok := c.load(ctx, wallet)
	if !ok {
		c.metrics.RecordWarm(ctx, "skipped")
		return false
	}

	refreshed := env.withExpiry(expiryMillis(c.now(), c.cfg.TTL))
	raw, err := json.Marshal(refreshed)
	if err != nil || c.epoch(wallet).Load() != stamp {
		c.metrics.RecordWarm(ctx, "skipped")
		return false
	}

	if !c.store.Refresh(ctx, Key(wallet), raw, c.cfg.TTL) {
		c.metrics.RecordWarm(ctx, "skipped")
		return false
	}

	if c.epoch(wallet).Load() != stamp {
		c.l1.Remove(wallet)
		if !c.store.Delete(ctx, Key(wallet)) {
			c.logger.LogWarn(ctx, "raced warm refresh not undone", "wallet", wallet)
		}
		c.metrics.RecordWarm(ctx, "skipped")
		return false
	}

	if c.l1.Contains(wallet) {
		c.l1.Add(wallet, refreshed)
		c.settle(wallet, refreshed, stamp)
	}

	c.metrics.RecordWarm(ctx, "refreshed")
	c.trending.touch(wallet, refreshed.HitCount)
	return true
}

// TrendingWarmup refreshes the currently trending wallets. It plugs into
// cache.Warmer.
type TrendingWarmup[M any] struct {
	cache *Cache[M]
	topN  int
}

// NewTrendingWarmup warms the topN trending wallets of c
func NewTrendingWarmup[M any](c *Cache[M], topN int) *TrendingWarmup[M] {
	return &TrendingWarmup[M]{cache: c, topN: topN}
}

// Name implements cache.WarmupProvider
func (w *TrendingWarmup[M]) Name() string {
	return "trending-wallets"
}

// Warmup implements cache.WarmupProvider
func (w *TrendingWarmup[M]) Warmup(ctx context.Context) (int, error) {
	top := w.cache.Trending(w.topN)
	if len(top) == 0 {
		return 0, nil
	}

	wallets := make([]string, len(top))
	for i, t := range top {
		wallets[i] = t.Wallet
	}

	n := w.cache.Warm(ctx, wallets)
	return n, ctx.Err()
}
