// Package cache implements the durable-store backed caching primitives: the
// Store backends, the fail-open DurableStore adapter, the tag-aware
// TaggedCache and the process-wide hit/miss StatsTracker.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Store when a key is not present
	ErrNotFound = errors.New("cache: key not found")

	// ErrStoreUnconfigured is reported when no durable store is configured
	ErrStoreUnconfigured = errors.New("cache: durable store not configured")
)

// Store is the raw contract of a networked key-value backend. Implementations
// return errors; DurableStore turns them into empty results.
//
// A ttl of 0 means no expiry.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key, replacing any previous value and expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Replace overwrites value only if key exists, keeping its expiry.
	// Reports whether the write happened.
	Replace(ctx context.Context, key string, value []byte) (bool, error)

	// Refresh overwrites value only if key exists and restarts its expiry
	// at ttl. Reports whether the write happened.
	Refresh(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Incr atomically increments the counter at key. ttl applies when the
	// counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetAdd adds members to the string set at setKey.
	SetAdd(ctx context.Context, setKey string, members ...string) error

	// SetMembers returns the members of the set at setKey (empty if absent).
	SetMembers(ctx context.Context, setKey string) ([]string, error)

	// SetDiff returns members of setKey absent from every set in others.
	SetDiff(ctx context.Context, setKey string, others ...string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// TagKey returns the store key of a tag's member index.
func TagKey(tag string) string {
	return "tag:" + tag
}
