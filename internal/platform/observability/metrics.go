package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	// Cache lookups by layer (l1, l2, tagged) and status (hit, miss)
	CacheRequests metric.Int64Counter

	// Durable store calls
	StoreOperations metric.Int64Counter
	StoreDuration   metric.Float64Histogram

	// Hot cache lifecycle
	Promotions       metric.Int64Counter
	L1Evictions      metric.Int64Counter
	BackgroundWrites metric.Int64Counter
	WarmRefreshes    metric.Int64Counter

	// Tag invalidations and number of keys they removed
	TagInvalidations metric.Int64Counter
	TagMembersPurged metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Admin API
	HTTPRequests metric.Int64Counter
	HTTPDuration metric.Float64Histogram
}

// MetricsOption adds readers to the meter provider
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	otlpEndpoint string
	otlpInterval time.Duration
	otlpInsecure bool
}

// WithOTLPExport pushes metrics to an OTLP gRPC collector every interval in
// addition to the Prometheus scrape endpoint. endpoint is a URL such as
// http://collector:4317; an empty endpoint disables the push.
func WithOTLPExport(endpoint string, interval time.Duration, insecure bool) MetricsOption {
	return func(o *metricsOptions) {
		o.otlpEndpoint = endpoint
		o.otlpInterval = interval
		o.otlpInsecure = insecure
	}
}

// NewMetrics creates a new Metrics instance.
// When disabled every instrument is a no-op and Handler serves an empty registry.
func NewMetrics(serviceName string, enabled bool, opts ...MetricsOption) (*Metrics, error) {
	var o metricsOptions
	for _, opt := range opts {
		opt(&o)
	}

	registry := promclient.NewRegistry()

	if !enabled {
		m := &Metrics{
			meter:    noop.NewMeterProvider().Meter(serviceName),
			registry: registry,
		}
		if err := m.initMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize noop metrics: %w", err)
		}
		return m, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	providerOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if o.otlpEndpoint != "" {
		exportOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpointURL(o.otlpEndpoint)}
		if o.otlpInsecure {
			exportOpts = append(exportOpts, otlpmetricgrpc.WithInsecure())
		}
		otlpExporter, err := otlpmetricgrpc.New(context.Background(), exportOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}

		var readerOpts []sdkmetric.PeriodicReaderOption
		if o.otlpInterval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(o.otlpInterval))
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter, readerOpts...)))
	}

	provider := sdkmetric.NewMeterProvider(providerOpts...)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		provider: provider,
		registry: registry,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// NewNoopMetrics returns metrics that record nothing
func NewNoopMetrics() *Metrics {
	m, err := NewMetrics("noop", false)
	if err != nil {
		// the noop meter never fails to create instruments
		panic(err)
	}
	return m
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheRequests, err = m.meter.Int64Counter(
		"walletcache.cache.requests",
		metric.WithDescription("Cache lookups by layer and status"),
	)
	if err != nil {
		return err
	}

	m.StoreOperations, err = m.meter.Int64Counter(
		"walletcache.store.operations",
		metric.WithDescription("Durable store operations by op and status"),
	)
	if err != nil {
		return err
	}

	m.StoreDuration, err = m.meter.Float64Histogram(
		"walletcache.store.duration",
		metric.WithDescription("Durable store call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.Promotions, err = m.meter.Int64Counter(
		"walletcache.hot.promotions",
		metric.WithDescription("Entries promoted from L2 into L1"),
	)
	if err != nil {
		return err
	}

	m.L1Evictions, err = m.meter.Int64Counter(
		"walletcache.hot.l1_evictions",
		metric.WithDescription("Entries evicted from L1 by the size bound"),
	)
	if err != nil {
		return err
	}

	m.BackgroundWrites, err = m.meter.Int64Counter(
		"walletcache.hot.background_writes",
		metric.WithDescription("Hit count write-backs by status"),
	)
	if err != nil {
		return err
	}

	m.WarmRefreshes, err = m.meter.Int64Counter(
		"walletcache.hot.warm",
		metric.WithDescription("Warming outcomes per wallet"),
	)
	if err != nil {
		return err
	}

	m.TagInvalidations, err = m.meter.Int64Counter(
		"walletcache.tags.invalidations",
		metric.WithDescription("Tag invalidations"),
	)
	if err != nil {
		return err
	}

	m.TagMembersPurged, err = m.meter.Int64Counter(
		"walletcache.tags.members_purged",
		metric.WithDescription("Keys deleted through tag invalidation"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"walletcache.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.HTTPRequests, err = m.meter.Int64Counter(
		"walletcache.http.requests",
		metric.WithDescription("HTTP requests by method, route and status"),
	)
	if err != nil {
		return err
	}

	m.HTTPDuration, err = m.meter.Float64Histogram(
		"walletcache.http.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordCacheRequest records a cache lookup (hit or miss) on a layer
func (m *Metrics) RecordCacheRequest(ctx context.Context, layer string, hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	m.CacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("layer", layer),
		attribute.String("status", status),
	))
}

// RecordStoreOperation records a durable store call
func (m *Metrics) RecordStoreOperation(ctx context.Context, op, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("status", status),
	}
	m.StoreOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StoreDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))
}

// RecordPromotion records an L2 -> L1 promotion
func (m *Metrics) RecordPromotion(ctx context.Context) {
	m.Promotions.Add(ctx, 1)
}

// RecordL1Eviction records an L1 eviction
func (m *Metrics) RecordL1Eviction(ctx context.Context) {
	m.L1Evictions.Add(ctx, 1)
}

// RecordBackgroundWrite records the outcome of a detached write (ok, skipped, failed, dropped)
func (m *Metrics) RecordBackgroundWrite(ctx context.Context, status string) {
	m.BackgroundWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordWarm records a warming outcome (refreshed, skipped)
func (m *Metrics) RecordWarm(ctx context.Context, status string) {
	m.WarmRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTagInvalidation records a tag invalidation and the number of keys it removed
func (m *Metrics) RecordTagInvalidation(ctx context.Context, members int) {
	m.TagInvalidations.Add(ctx, 1)
	if members > 0 {
		m.TagMembersPurged.Add(ctx, int64(members))
	}
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordHTTPRequest records a served request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.HTTPRequests.Add(ctx, 1, attrs)
	m.HTTPDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
