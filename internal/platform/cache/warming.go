package cache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
)

// WarmupProvider refreshes some slice of the cache.
type WarmupProvider interface {
	// Name returns a human-readable name for logging purposes
	Name() string

	// Warmup refreshes entries and reports how many it touched.
	// It must be idempotent and must not compute missing values.
	Warmup(ctx context.Context) (int, error)
}

// WarmupConfig configures the cache warming behavior.
type WarmupConfig struct {
	// Timeout bounds one warmup round across all providers
	Timeout time.Duration

	// Interval between rounds when running periodically; 0 disables Run
	Interval time.Duration

	// ContinueOnError keeps sequential warming going after a provider fails
	ContinueOnError bool

	// Parallel runs providers concurrently
	Parallel bool
}

// DefaultWarmupConfig returns sensible defaults for cache warming.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		Interval:        5 * time.Minute,
		ContinueOnError: true,
		Parallel:        true,
	}
}

// WarmupResult contains the result of warming a single provider.
type WarmupResult struct {
	Provider  string
	Refreshed int
	Duration  time.Duration
	Err       error
}

// WarmupResults contains the aggregate results of one round.
type WarmupResults struct {
	Results   []WarmupResult
	Refreshed int
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any provider failed during warmup.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer runs warmup providers once or on an interval.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a new cache warmer.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Warmer{
		logger: logger.Named("warmer"),
		config: config,
	}
}

// RegisterProvider adds a warmup provider to the warmer.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Run warms immediately and then every Interval until ctx is done.
func (w *Warmer) Run(ctx context.Context) {
	if w.config.Interval <= 0 {
		return
	}

	w.Warmup(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Warmup(ctx)
		}
	}
}

// Warmup executes all registered providers once.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	results := &WarmupResults{}

	if len(w.providers) == 0 {
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		results.Results = w.warmupParallel(warmupCtx)
	} else {
		results.Results = w.warmupSequential(warmupCtx)
	}

	for _, r := range results.Results {
		results.Refreshed += r.Refreshed
		if r.Err != nil {
			results.Errors++
		}
	}
	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		w.logger.LogWarn(ctx, "cache warmup completed with errors",
			"errors", results.Errors,
			"providers", len(w.providers),
			"refreshed", results.Refreshed,
			"duration", results.TotalTime,
		)
	} else {
		w.logger.LogInfo(ctx, "cache warmup completed",
			"providers", len(w.providers),
			"refreshed", results.Refreshed,
			"duration", results.TotalTime,
		)
	}

	return results
}

// warmupParallel warms all providers concurrently. Provider errors are
// collected, not propagated, so one failure never cancels the others.
func (w *Warmer) warmupParallel(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, len(w.providers))

	var g errgroup.Group
	for i, provider := range w.providers {
		g.Go(func() error {
			results[i] = w.warmupProvider(ctx, provider)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// warmupSequential warms providers one at a time.
func (w *Warmer) warmupSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.providers))

	for _, provider := range w.providers {
		result := w.warmupProvider(ctx, provider)
		results = append(results, result)

		if result.Err != nil && !w.config.ContinueOnError {
			break
		}
	}

	return results
}

func (w *Warmer) warmupProvider(ctx context.Context, provider WarmupProvider) WarmupResult {
	start := time.Now()
	name := provider.Name()

	n, err := provider.Warmup(ctx)
	duration := time.Since(start)

	if err != nil {
		w.logger.LogWarnErr(ctx, "cache warmup failed", err, "provider", name, "duration", duration)
	} else {
		w.logger.LogDebug(ctx, "cache warmup provider done", "provider", name, "refreshed", n, "duration", duration)
	}

	return WarmupResult{
		Provider:  name,
		Refreshed: n,
		Duration:  duration,
		Err:       err,
	}
}
