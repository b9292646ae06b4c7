package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
)

// SetOptions controls how a value is written
type SetOptions struct {
	// TTL of the entry; 0 means no expiry.
	TTL time.Duration
	// Tags the key is registered under for group invalidation.
	Tags []string
}

// TaggedCache is a JSON value cache over a DurableStore with tag-based
// group invalidation. Each tag keeps an index set at TagKey(tag).
type TaggedCache struct {
	store   *DurableStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewTaggedCache creates a TaggedCache on store
func NewTaggedCache(store *DurableStore, logger *observability.Logger, metrics *observability.Metrics) *TaggedCache {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &TaggedCache{
		store:   store,
		logger:  logger.Named("tagged_cache"),
		metrics: metrics,
	}
}

// Store returns the underlying DurableStore
func (c *TaggedCache) Store() *DurableStore {
	return c.store
}

// Get reads and decodes the value at key. A miss, a store failure and a
// payload that does not decode as T all report false.
func Get[T any](ctx context.Context, c *TaggedCache, key string) (T, bool) {
	var value T

	raw, ok := c.store.Get(ctx, key)
	if !ok {
		c.metrics.RecordCacheRequest(ctx, "tagged", false)
		return value, false
	}

	if err := json.Unmarshal(raw, &value); err != nil {
		c.logger.LogWarnErr(ctx, "discarding malformed cache payload", err, "key", key)
		c.metrics.RecordCacheRequest(ctx, "tagged", false)
		var zero T
		return zero, false
	}

	c.metrics.RecordCacheRequest(ctx, "tagged", true)
	return value, true
}

// Set encodes value, writes it and registers key under each tag. Tag
// registration is best effort; its failure does not undo the write.
func Set[T any](ctx context.Context, c *TaggedCache, key string, value T, opts SetOptions) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.LogWarnErr(ctx, "cache value not serializable", err, "key", key)
		return false
	}

	if !c.store.Set(ctx, key, raw, opts.TTL) {
		return false
	}

	for _, tag := range opts.Tags {
		if !c.store.SetAdd(ctx, TagKey(tag), key) {
			c.logger.LogWarn(ctx, "tag registration failed", "key", key, "tag", tag)
		}
	}
	return true
}

// GetOrSet returns the cached value at key, or computes, stores and returns
// it on a miss. compute runs at most once per call. A compute error is
// returned as is and nothing is stored.
func GetOrSet[T any](ctx context.Context, c *TaggedCache, key string, compute func(ctx context.Context) (T, error), opts SetOptions) (T, error) {
	if value, ok := Get[T](ctx, c, key); ok {
		return value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	Set(ctx, c, key, value, opts)
	return value, nil
}

// Delete removes key. Tag indexes are left alone and cleaned on invalidation.
func (c *TaggedCache) Delete(ctx context.Context, key string) bool {
	return c.store.Delete(ctx, key)
}

// Incr increments the counter at key
func (c *TaggedCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, bool) {
	return c.store.Incr(ctx, key, ttl)
}

// InvalidateTag deletes every key registered under tag in one batch and then
// the tag index itself. Invalidating an unknown tag succeeds. If the index
// cannot be read or its members cannot be deleted, the index is kept so a
// later call can finish the job.
func (c *TaggedCache) InvalidateTag(ctx context.Context, tag string) bool {
	tagKey := TagKey(tag)

	members, ok := c.store.SetMembers(ctx, tagKey)
	if !ok {
		return false
	}

	if len(members) > 0 && !c.store.Delete(ctx, members...) {
		return false
	}

	if !c.store.Delete(ctx, tagKey) {
		return false
	}

	c.metrics.RecordTagInvalidation(ctx, len(members))
	c.logger.LogDebug(ctx, "tag invalidated", "tag", tag, "members", len(members))
	return true
}

// StaleTagMembers reports keys indexed under tag that are not in the set at
// liveSetKey. Returns nil when the store cannot answer.
func (c *TaggedCache) StaleTagMembers(ctx context.Context, tag, liveSetKey string) []string {
	members, ok := c.store.SetDiff(ctx, TagKey(tag), liveSetKey)
	if !ok {
		return nil
	}
	return members
}
