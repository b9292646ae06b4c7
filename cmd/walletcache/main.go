package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/api/http"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/api/http/controllers/cacheadmin"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/api/http/controllers/system"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/api/http/controllers/wallets"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/aws"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/cache"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/config"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/resilience"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/walletmetrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg := config.MustLoad(os.Getenv("WALLETCACHE_CONFIG"))

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics(cfg.Service.Name, cfg.Observability.Metrics.Enabled,
		observability.WithOTLPExport(
			cfg.Observability.Metrics.OTLPEndpoint,
			cfg.Observability.Metrics.OTLPInterval,
			cfg.Observability.Metrics.OTLPInsecure,
		),
	)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	tracerProvider, err := observability.NewTracerProvider(ctx, observability.TracingOptions{
		ServiceName: cfg.Service.Name,
		Environment: cfg.Service.Environment,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		Enabled:     cfg.Observability.Tracing.Enabled,
		Sampler:     cfg.Observability.Tracing.Sampler,
		SampleRatio: cfg.Observability.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer: %v", err)
	}

	logger.Info("observability setup complete", "service", cfg.Service.Name, "environment", cfg.Service.Environment)

	// Durable store (L2)
	backend, err := openStore(ctx, cfg)
	if err != nil {
		logger.LogError(ctx, "failed to open durable store", err, "backend", cfg.Store.Backend)
		log.Fatalf("Failed to open durable store: %v", err)
	}
	if backend == nil {
		logger.Warn("durable store not configured, every lookup will miss", "backend", cfg.Store.Backend)
	}

	durable := cache.NewDurableStore(cache.DurableStoreConfig{
		Store:            backend,
		OpTimeout:        cfg.Store.OpTimeout,
		FailureThreshold: cfg.Store.Breaker.FailureThreshold,
		BreakerTimeout:   cfg.Store.Breaker.Timeout,
		Logger:           logger,
		Metrics:          metrics,
		Tracer:           tracerProvider.Tracer(),
	})

	if backend != nil {
		waitForStore(ctx, durable, cfg.Store.ConnectAttempts, logger)
	}

	tagged := cache.NewTaggedCache(durable, logger, metrics)

	// Hot wallet cache (L1 + trending)
	hot, err := walletmetrics.New[json.RawMessage](durable, walletmetrics.Config{
		L1Size:               cfg.HotCache.L1Size,
		PromotionThreshold:   cfg.HotCache.PromotionThreshold,
		TTL:                  cfg.HotCache.TTL,
		TrendingCapacity:     cfg.HotCache.TrendingCapacity,
		DefaultTrendingLimit: cfg.HotCache.TrendingLimit,
		WarmConcurrency:      cfg.HotCache.WarmConcurrency,
		WarmRate:             cfg.HotCache.WarmRate,
		BackgroundWorkers:    cfg.HotCache.BackgroundWorkers,
		BackgroundQueue:      cfg.HotCache.BackgroundQueue,
		BackgroundTimeout:    cfg.HotCache.BackgroundTimeout,
	}, logger, metrics)
	if err != nil {
		log.Fatalf("Failed to create wallet cache: %v", err)
	}

	// Periodic warming of trending wallets
	if cfg.Warmer.Enabled {
		warmer := cache.NewWarmer(logger, cache.WarmupConfig{
			Timeout:         cfg.Warmer.Timeout,
			Interval:        cfg.Warmer.Interval,
			ContinueOnError: true,
			Parallel:        true,
		})
		warmer.RegisterProvider(walletmetrics.NewTrendingWarmup(hot, cfg.Warmer.TopN))
		go warmer.Run(ctx)
		logger.Info("warmer started", "interval", cfg.Warmer.Interval, "top_n", cfg.Warmer.TopN)
	}

	// HTTP API
	server := apihttp.NewServer(apihttp.ServerConfig{
		Port:            cfg.HTTP.Port,
		Mode:            cfg.HTTP.Mode,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
	}, logger, metrics)
	server.AddController(
		system.New(durable, metrics.Handler(), logger),
		wallets.New(hot, tagged, cfg.HTTP.LeaderboardTTL, logger),
		cacheadmin.New(hot, tagged, durable.Breaker(), logger),
	)

	logger.Info("starting wallet cache service")
	if err := server.Start(ctx); err != nil {
		logger.LogError(ctx, "http server error", err)
	}

	logger.Info("shutdown signal received, gracefully stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	hot.Close()
	if err := durable.Close(); err != nil {
		logger.LogError(shutdownCtx, "durable store close failed", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "tracer shutdown failed", err)
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "metrics shutdown failed", err)
	}
	logger.Info("application stopped")
}

// openStore builds the configured backend. It returns nil without error when
// the backend lacks its connection parameters.
func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if !cfg.Store.Configured() {
		return nil, nil
	}

	switch cfg.Store.Backend {
	case config.BackendRedis:
		return cache.NewRedisStore(cache.RedisConfig{
			URL:          cfg.Store.URL,
			Token:        cfg.Store.Token,
			PoolSize:     cfg.Store.PoolSize,
			DialTimeout:  cfg.Store.OpTimeout * 4,
			ReadTimeout:  cfg.Store.OpTimeout,
			WriteTimeout: cfg.Store.OpTimeout,
		})

	case config.BackendDynamoDB:
		client, err := aws.NewDynamoDBClient(ctx, aws.Config{
			Region:   cfg.DynamoDB.Region,
			Endpoint: cfg.DynamoDB.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return cache.NewDynamoStore(client, cfg.DynamoDB.Table), nil

	case config.BackendMemory:
		return cache.NewMemoryStore(cfg.Store.MemoryMaxKeys), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// waitForStore pings the store with backoff. An unreachable store is logged
// and tolerated: the service runs fail-open until it comes back.
func waitForStore(ctx context.Context, store *cache.DurableStore, attempts int, logger *observability.Logger) {
	retry := resilience.DefaultRetryConfig()
	if attempts > 0 {
		retry.MaxAttempts = attempts
	}
	retry.MaxDelay = 5 * time.Second

	err := resilience.Retry(ctx, retry, func(ctx context.Context) error {
		return store.Ping(ctx)
	})
	if err != nil {
		logger.LogWarnErr(ctx, "durable store unreachable at startup, continuing fail-open", err)
		return
	}
	logger.Info("durable store reachable")
}
