package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
	apperrors "github.com/jrjohn/arcana-request-queue/pkg/errors"
)

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	PrometheusPath string `mapstructure:"prometheus_path"`
}

// DefaultMetricsConfig returns default metrics configuration
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:        true,
		ServiceName:    "arcana-request-queue",
		PrometheusPath: "/metrics",
	}
}

// StatsSource is anything that can report a queue snapshot
type StatsSource interface {
	Stats() requestqueue.Stats
}

// MetricsProvider manages OpenTelemetry metrics and records request queue events.
// A disabled provider is a valid no-op recorder.
type MetricsProvider struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *zap.Logger
	registry      *prometheus.Registry
	handler       http.Handler

	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	enqueued          metric.Int64Counter
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
	dedupJoins        metric.Int64Counter
	circuitRejections metric.Int64Counter
	retries           metric.Int64Counter
	failures          metric.Int64Counter
	executionDuration metric.Float64Histogram

	gauges metric.Registration
}

var _ requestqueue.Recorder = (*MetricsProvider)(nil)

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(config *MetricsConfig, logger *zap.Logger) (*MetricsProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.Enabled {
		return &MetricsProvider{
			config: config,
			meter:  otel.Meter(config.ServiceName),
			logger: logger,
		}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(
		otelprometheus.WithRegisterer(registry),
	)
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	mp := &MetricsProvider{
		config:        config,
		meterProvider: meterProvider,
		meter:         meterProvider.Meter(config.ServiceName),
		logger:        logger,
		registry:      registry,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	if err := mp.initMetrics(); err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry metrics initialized",
		zap.String("service", config.ServiceName),
		zap.String("prometheus_path", config.PrometheusPath),
	)

	return mp, nil
}

func (mp *MetricsProvider) initMetrics() error {
	var err error

	mp.httpRequestsTotal, err = mp.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return err
	}

	mp.httpRequestDuration, err = mp.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&mp.enqueued, "requestqueue_enqueued_total", "Requests placed on the pending list"},
		{&mp.cacheHits, "requestqueue_cache_hits_total", "Requests answered from the response cache"},
		{&mp.cacheMisses, "requestqueue_cache_misses_total", "Cache lookups that found no fresh entry"},
		{&mp.dedupJoins, "requestqueue_dedup_joins_total", "Requests that joined an in-flight execution"},
		{&mp.circuitRejections, "requestqueue_circuit_rejections_total", "Requests rejected by an open circuit"},
		{&mp.retries, "requestqueue_retries_total", "Retries scheduled after a failed attempt"},
		{&mp.failures, "requestqueue_failures_total", "Failed attempts"},
	}
	for _, c := range counters {
		*c.target, err = mp.meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return err
		}
	}

	mp.executionDuration, err = mp.meter.Float64Histogram(
		"requestqueue_execution_duration_seconds",
		metric.WithDescription("Duration of a single attempt in seconds"),
		metric.WithUnit("s"),
	)
	return err
}

// ObserveQueue exports the queue snapshot as gauges, read on every collection
func (mp *MetricsProvider) ObserveQueue(source StatsSource) error {
	if mp.meterProvider == nil {
		return nil
	}

	pending, err := mp.meter.Int64ObservableGauge("requestqueue_pending",
		metric.WithDescription("Requests waiting for dispatch"))
	if err != nil {
		return err
	}
	active, err := mp.meter.Int64ObservableGauge("requestqueue_active",
		metric.WithDescription("Requests currently executing"))
	if err != nil {
		return err
	}
	cacheSize, err := mp.meter.Int64ObservableGauge("requestqueue_cache_entries",
		metric.WithDescription("Entries in the response cache"))
	if err != nil {
		return err
	}
	recent, err := mp.meter.Int64ObservableGauge("requestqueue_dispatched_in_window",
		metric.WithDescription("Dispatches inside the current rate window"))
	if err != nil {
		return err
	}
	circuitOpen, err := mp.meter.Int64ObservableGauge("requestqueue_circuit_open",
		metric.WithDescription("1 when the circuit for a category is open"))
	if err != nil {
		return err
	}
	circuitCalls, err := mp.meter.Int64ObservableCounter("requestqueue_circuit_calls",
		metric.WithDescription("Calls seen by a circuit breaker, by outcome"))
	if err != nil {
		return err
	}
	circuitTransitions, err := mp.meter.Int64ObservableCounter("requestqueue_circuit_transitions",
		metric.WithDescription("Circuit breaker state transitions"))
	if err != nil {
		return err
	}
	limiterDecisions, err := mp.meter.Int64ObservableCounter("requestqueue_rate_limiter_decisions",
		metric.WithDescription("Dispatch attempts admitted or held back by the rate limiter"))
	if err != nil {
		return err
	}

	reg, err := mp.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := source.Stats()
		o.ObserveInt64(pending, int64(stats.Pending))
		o.ObserveInt64(active, int64(stats.Active))
		o.ObserveInt64(cacheSize, int64(stats.CacheSize))
		o.ObserveInt64(recent, int64(stats.RequestsLastSecond))
		for category, state := range stats.Circuits {
			var open int64
			if state == "OPEN" {
				open = 1
			}
			o.ObserveInt64(circuitOpen, open, metric.WithAttributes(AttrQueueCategory.String(category)))
		}
		for category, m := range stats.CircuitMetrics {
			attr := AttrQueueCategory.String(category)
			o.ObserveInt64(circuitCalls, m.SuccessfulCalls, metric.WithAttributes(attr, AttrQueueOutcome.String("success")))
			o.ObserveInt64(circuitCalls, m.FailedCalls, metric.WithAttributes(attr, AttrQueueOutcome.String("failure")))
			o.ObserveInt64(circuitCalls, m.RejectedCalls, metric.WithAttributes(attr, AttrQueueOutcome.String("rejected")))
			o.ObserveInt64(circuitTransitions, m.StateTransitions, metric.WithAttributes(attr))
		}
		o.ObserveInt64(limiterDecisions, stats.Limiter.AllowedRequests, metric.WithAttributes(AttrQueueOutcome.String("allowed")))
		o.ObserveInt64(limiterDecisions, stats.Limiter.RejectedRequests, metric.WithAttributes(AttrQueueOutcome.String("limited")))
		return nil
	}, pending, active, cacheSize, recent, circuitOpen, circuitCalls, circuitTransitions, limiterDecisions)
	if err != nil {
		return err
	}
	mp.gauges = reg
	return nil
}

// RecordHTTPRequest records an HTTP request metric
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if mp.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(path),
		AttrHTTPStatusCode.Int(statusCode),
	)

	mp.httpRequestsTotal.Add(ctx, 1, attrs)
	mp.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordEnqueued counts a request placed on the pending list
func (mp *MetricsProvider) RecordEnqueued(ctx context.Context, priority int) {
	if mp.enqueued == nil {
		return
	}
	mp.enqueued.Add(ctx, 1, metric.WithAttributes(AttrQueuePriority.Int(priority)))
}

// RecordCacheHit records a cache hit
func (mp *MetricsProvider) RecordCacheHit(ctx context.Context) {
	if mp.cacheHits == nil {
		return
	}
	mp.cacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a cache miss
func (mp *MetricsProvider) RecordCacheMiss(ctx context.Context) {
	if mp.cacheMisses == nil {
		return
	}
	mp.cacheMisses.Add(ctx, 1)
}

// RecordDedupJoin records a request that joined an in-flight execution
func (mp *MetricsProvider) RecordDedupJoin(ctx context.Context) {
	if mp.dedupJoins == nil {
		return
	}
	mp.dedupJoins.Add(ctx, 1)
}

// RecordCircuitRejected records a request rejected by an open circuit
func (mp *MetricsProvider) RecordCircuitRejected(ctx context.Context, category string) {
	if mp.circuitRejections == nil {
		return
	}
	mp.circuitRejections.Add(ctx, 1, metric.WithAttributes(AttrQueueCategory.String(category)))
}

// RecordRetry records a retry scheduled after a failed attempt
func (mp *MetricsProvider) RecordRetry(ctx context.Context, category string) {
	if mp.retries == nil {
		return
	}
	mp.retries.Add(ctx, 1, metric.WithAttributes(AttrQueueCategory.String(category)))
}

// RecordAttempt records the duration of one attempt and counts it as a failure when err is set
func (mp *MetricsProvider) RecordAttempt(ctx context.Context, category string, duration time.Duration, err error) {
	if mp.executionDuration == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	mp.executionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		AttrQueueCategory.String(category),
		AttrQueueOutcome.String(outcome),
	))

	if err != nil {
		status, _ := apperrors.StatusOf(err)
		mp.failures.Add(ctx, 1, metric.WithAttributes(
			AttrQueueCategory.String(category),
			AttrHTTPStatusCode.Int(status),
		))
	}
}

// Handler returns an HTTP handler for Prometheus metrics
func (mp *MetricsProvider) Handler() http.Handler {
	if mp.handler != nil {
		return mp.handler
	}
	return http.NotFoundHandler()
}

// Meter returns the meter for creating custom metrics
func (mp *MetricsProvider) Meter() metric.Meter {
	return mp.meter
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.gauges != nil {
		if err := mp.gauges.Unregister(); err != nil {
			mp.logger.Warn("Failed to unregister queue gauges", zap.Error(err))
		}
	}
	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}
