// Package telemetry provides OpenTelemetry metrics for the browser store.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	meterName = "github.com/crynn/browserstore"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	opsTotal    metric.Int64Counter
	opDuration  metric.Float64Histogram
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter

	blobWriteSize metric.Float64Histogram

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	cleanupRunsTotal      metric.Int64Counter
	cleanupDuration       metric.Float64Histogram
	entriesDeletedTotal   metric.Int64Counter
	bytesReclaimedTotal   metric.Int64Counter
	cleanupErrorsTotal    metric.Int64Counter
	storeSizeBytes        metric.Int64Gauge
	storeEntries          metric.Int64Gauge
	lastCleanupTimestamp  metric.Float64Gauge

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "browserstore"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	opsTotal, err := meter.Int64Counter(
		"browserstore_ops_total",
		metric.WithDescription("Total number of store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return err
	}

	opDuration, err := meter.Float64Histogram(
		"browserstore_op_duration_seconds",
		metric.WithDescription("Store operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	)
	if err != nil {
		return err
	}

	cacheHits, err := meter.Int64Counter(
		"browserstore_cache_hits_total",
		metric.WithDescription("Total number of resource cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	cacheMisses, err := meter.Int64Counter(
		"browserstore_cache_misses_total",
		metric.WithDescription("Total number of resource cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return err
	}

	blobWriteSize, err := meter.Float64Histogram(
		"browserstore_blob_write_size_bytes",
		metric.WithDescription("Size of blobs written to cache storage"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(128, 512, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864),
	)
	if err != nil {
		return err
	}

	backendRequestDuration, err := meter.Float64Histogram(
		"browserstore_backend_request_duration_seconds",
		metric.WithDescription("Blob backend operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return err
	}

	backendRequestsTotal, err := meter.Int64Counter(
		"browserstore_backend_requests_total",
		metric.WithDescription("Total number of blob backend operations"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	backendBytesTotal, err := meter.Int64Counter(
		"browserstore_backend_bytes_total",
		metric.WithDescription("Total bytes written through the blob backend"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	cleanupRunsTotal, err := meter.Int64Counter(
		"browserstore_cleanup_runs_total",
		metric.WithDescription("Total number of cleanup passes"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	cleanupDuration, err := meter.Float64Histogram(
		"browserstore_cleanup_duration_seconds",
		metric.WithDescription("Cleanup pass duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60),
	)
	if err != nil {
		return err
	}

	entriesDeletedTotal, err := meter.Int64Counter(
		"browserstore_cleanup_entries_deleted_total",
		metric.WithDescription("Total entries deleted by cleanup, by store and reason"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	bytesReclaimedTotal, err := meter.Int64Counter(
		"browserstore_cleanup_bytes_reclaimed_total",
		metric.WithDescription("Total bytes reclaimed by cleanup"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	cleanupErrorsTotal, err := meter.Int64Counter(
		"browserstore_cleanup_errors_total",
		metric.WithDescription("Total number of cleanup errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	storeSizeBytes, err := meter.Int64Gauge(
		"browserstore_store_size_bytes",
		metric.WithDescription("Current size in bytes, by store"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	storeEntries, err := meter.Int64Gauge(
		"browserstore_store_entries",
		metric.WithDescription("Current entry count, by store"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	lastCleanupTimestamp, err := meter.Float64Gauge(
		"browserstore_last_cleanup_timestamp_seconds",
		metric.WithDescription("Unix timestamp of the last cleanup pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		opsTotal:               opsTotal,
		opDuration:             opDuration,
		cacheHits:              cacheHits,
		cacheMisses:            cacheMisses,
		blobWriteSize:          blobWriteSize,
		backendRequestDuration: backendRequestDuration,
		backendRequestsTotal:   backendRequestsTotal,
		backendBytesTotal:      backendBytesTotal,
		cleanupRunsTotal:       cleanupRunsTotal,
		cleanupDuration:        cleanupDuration,
		entriesDeletedTotal:    entriesDeletedTotal,
		bytesReclaimedTotal:    bytesReclaimedTotal,
		cleanupErrorsTotal:     cleanupErrorsTotal,
		storeSizeBytes:         storeSizeBytes,
		storeEntries:           storeEntries,
		lastCleanupTimestamp:   lastCleanupTimestamp,
		meterProvider:          mp,
		promHandler:            promHandler,
	}

	return nil
}

func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil || globalMetrics.meterProvider == nil {
		return nil
	}
	return globalMetrics.meterProvider.Shutdown(ctx)
}

// ResetForTesting clears the global metrics state so tests can re-initialise.
func ResetForTesting() {
	globalMetrics = nil
	initOnce = sync.Once{}
	initErr = nil
}

// RecordOp records a store operation with its outcome and duration.
// store is one of cache, cookies, history, bookmarks, mail.
func RecordOp(ctx context.Context, store, op, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("store", store),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.opsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.opDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCacheLookup records a resource cache hit or miss.
func RecordCacheLookup(ctx context.Context, hit bool) {
	if globalMetrics == nil {
		return
	}
	if hit {
		globalMetrics.cacheHits.Add(ctx, 1)
		return
	}
	globalMetrics.cacheMisses.Add(ctx, 1)
}

// RecordBlobWrite records a blob write with its size.
func RecordBlobWrite(ctx context.Context, size int64, replaced bool) {
	if globalMetrics == nil {
		return
	}

	result := "new"
	if replaced {
		result = "replaced"
	}
	globalMetrics.blobWriteSize.Record(ctx, float64(size),
		metric.WithAttributes(attribute.String("result", result)))
}

// RecordBackendOp records blob backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordCleanupDeletions records entries removed by one cleanup phase.
// reason is "expired", "evicted", or "capped".
func RecordCleanupDeletions(ctx context.Context, store, reason string, deleted int, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("reason", reason),
	)
	globalMetrics.entriesDeletedTotal.Add(ctx, int64(deleted), attrs)
	if bytes > 0 {
		globalMetrics.bytesReclaimedTotal.Add(ctx, bytes,
			metric.WithAttributes(attribute.String("store", store)))
	}
}

// RecordCleanupRun records one full cleanup pass across all stores.
func RecordCleanupRun(ctx context.Context, duration time.Duration, errs int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cleanupRunsTotal.Add(ctx, 1)
	globalMetrics.cleanupDuration.Record(ctx, duration.Seconds())
	globalMetrics.cleanupErrorsTotal.Add(ctx, int64(errs))
	globalMetrics.lastCleanupTimestamp.Record(ctx, float64(time.Now().Unix()))
}

// UpdateStoreGauges updates the size and entry-count gauges for a store.
func UpdateStoreGauges(ctx context.Context, store string, sizeBytes int64, entries int64) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("store", store))
	globalMetrics.storeSizeBytes.Record(ctx, sizeBytes, attrs)
	globalMetrics.storeEntries.Record(ctx, entries, attrs)
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
