package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/resilience"
)

const (
	statusOK           = "ok"
	statusMiss         = "miss"
	statusError        = "error"
	statusCircuitOpen  = "circuit_open"
	statusUnconfigured = "unconfigured"
)

// DurableStoreConfig configures a DurableStore.
type DurableStoreConfig struct {
	// Store is the backend. Nil means no durable store is configured and
	// every operation degrades to its empty result.
	Store Store

	// OpTimeout bounds each backend call. Defaults to 500ms.
	OpTimeout time.Duration

	// FailureThreshold and BreakerTimeout tune the circuit breaker.
	FailureThreshold int
	BreakerTimeout   time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// DurableStore is the fail-open face of a Store. Reads that fail look like
// misses, writes report false, and nothing is ever returned as an error.
// Each call runs under a timeout and a circuit breaker and is logged,
// measured and traced.
type DurableStore struct {
	store     Store
	opTimeout time.Duration
	breaker   *resilience.CircuitBreaker
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
}

// NewDurableStore wraps cfg.Store
func NewDurableStore(cfg DurableStoreConfig) *DurableStore {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	d := &DurableStore{
		store:     cfg.Store,
		opTimeout: cfg.OpTimeout,
		logger:    cfg.Logger.Named("durable_store"),
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}

	d.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "durable-store",
		FailureThreshold: cfg.FailureThreshold,
		Timeout:          cfg.BreakerTimeout,
		IsFailure:        isStoreFailure,
		OnStateChange: func(from, to resilience.State) {
			d.logger.Warn("durable store circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
			d.metrics.SetCircuitBreakerState(context.Background(), "durable-store", int64(to))
		},
	})

	return d
}

// isStoreFailure counts backend faults and timeouts but not misses or
// callers that went away.
func isStoreFailure(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled)
}

// Configured reports whether a backend is present
func (d *DurableStore) Configured() bool {
	return d.store != nil
}

// Breaker exposes the circuit breaker guarding the backend
func (d *DurableStore) Breaker() *resilience.CircuitBreaker {
	return d.breaker
}

func run[T any](ctx context.Context, d *DurableStore, op, key string, fn func(ctx context.Context, s Store) (T, error)) (T, error) {
	var zero T
	if d.store == nil {
		d.metrics.RecordStoreOperation(ctx, op, statusUnconfigured, 0)
		return zero, ErrStoreUnconfigured
	}

	ctx, span := d.tracer.StartSpan(ctx, "store."+op,
		attribute.String("cache.operation", op),
		attribute.String("cache.key", key),
	)
	defer span.End()

	opCtx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	start := time.Now()
	result, err := resilience.ExecuteWithResult(d.breaker, opCtx, func(ctx context.Context) (T, error) {
		return fn(ctx, d.store)
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		d.metrics.RecordStoreOperation(ctx, op, statusOK, elapsed)
	case errors.Is(err, ErrNotFound):
		d.metrics.RecordStoreOperation(ctx, op, statusMiss, elapsed)
	case errors.Is(err, resilience.ErrCircuitOpen):
		d.metrics.RecordStoreOperation(ctx, op, statusCircuitOpen, elapsed)
		d.logger.LogDebug(ctx, "durable store call skipped, circuit open", "op", op, "key", key)
	default:
		span.NoticeError(err)
		d.metrics.RecordStoreOperation(ctx, op, statusError, elapsed)
		d.logger.LogWarnErr(ctx, "durable store call failed", err,
			"op", op,
			"key", key,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return result, err
}

// Get returns the value at key. ok is false on a miss or on any failure.
func (d *DurableStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := run(ctx, d, "get", key, func(ctx context.Context, s Store) ([]byte, error) {
		return s.Get(ctx, key)
	})
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set writes value with ttl and reports success
func (d *DurableStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	_, err := run(ctx, d, "set", key, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.Set(ctx, key, value, ttl)
	})
	return err == nil
}

// Replace overwrites an existing key, keeping its expiry. It reports false
// when the key is absent or the call failed.
func (d *DurableStore) Replace(ctx context.Context, key string, value []byte) bool {
	written, err := run(ctx, d, "replace", key, func(ctx context.Context, s Store) (bool, error) {
		return s.Replace(ctx, key, value)
	})
	return err == nil && written
}

// Refresh overwrites an existing key and restarts its expiry at ttl. It
// reports false when the key is absent or the call failed.
func (d *DurableStore) Refresh(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	written, err := run(ctx, d, "refresh", key, func(ctx context.Context, s Store) (bool, error) {
		return s.Refresh(ctx, key, value, ttl)
	})
	return err == nil && written
}

// Delete removes keys in one call. An empty key list succeeds without I/O.
func (d *DurableStore) Delete(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	_, err := run(ctx, d, "delete", keys[0], func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.Delete(ctx, keys...)
	})
	return err == nil
}

// Incr increments the counter at key
func (d *DurableStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, bool) {
	n, err := run(ctx, d, "incr", key, func(ctx context.Context, s Store) (int64, error) {
		return s.Incr(ctx, key, ttl)
	})
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetAdd adds members to the set at setKey
func (d *DurableStore) SetAdd(ctx context.Context, setKey string, members ...string) bool {
	if len(members) == 0 {
		return true
	}
	_, err := run(ctx, d, "sadd", setKey, func(ctx context.Context, s Store) (struct{}, error) {
		return struct{}{}, s.SetAdd(ctx, setKey, members...)
	})
	return err == nil
}

// SetMembers lists the set at setKey. ok is false when the read failed,
// which callers must not confuse with an empty set.
func (d *DurableStore) SetMembers(ctx context.Context, setKey string) ([]string, bool) {
	members, err := run(ctx, d, "smembers", setKey, func(ctx context.Context, s Store) ([]string, error) {
		return s.SetMembers(ctx, setKey)
	})
	if err != nil {
		return nil, false
	}
	return members, true
}

// SetDiff returns members of setKey missing from every set in others
func (d *DurableStore) SetDiff(ctx context.Context, setKey string, others ...string) ([]string, bool) {
	members, err := run(ctx, d, "sdiff", setKey, func(ctx context.Context, s Store) ([]string, error) {
		return s.SetDiff(ctx, setKey, others...)
	})
	if err != nil {
		return nil, false
	}
	return members, true
}

// Ping checks the backend, bypassing the breaker. Used by readiness probes.
func (d *DurableStore) Ping(ctx context.Context) error {
	if d.store == nil {
		return ErrStoreUnconfigured
	}
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()
	return d.store.Ping(ctx)
}

// Close closes the backend
func (d *DurableStore) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}
