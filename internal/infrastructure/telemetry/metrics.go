package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

const defaultExportInterval = 60 * time.Second

// MetricsConfig configures OTLP metric export.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration
	ServiceName       string
	Insecure          bool
}

// MeterProvider owns the SDK meter provider.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider builds a periodic OTLP/gRPC exporting provider and
// installs it globally. Instruments created earlier through Metrics are
// delegated to it by the otel global.
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}
	if !cfg.Enabled {
		logger.Info("Metrics disabled, using no-op meter provider")
		return mp, nil
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("Metrics initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", interval))
	return mp, nil
}

// Shutdown flushes and stops the provider.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := mp.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	return nil
}

// IsEnabled reports whether metrics are exported.
func (mp *MeterProvider) IsEnabled() bool {
	return mp.provider != nil
}

// Metric attribute keys
var (
	AttrCacheKind   = attribute.Key("cache.kind")
	AttrCacheResult = attribute.Key("cache.result")
	AttrDimension   = attribute.Key("cost.dimension")
	AttrOutcome     = attribute.Key("outcome")
	AttrJob         = attribute.Key("job")
	AttrBillFormat  = attribute.Key("bill.format")
	AttrHTTPMethod  = attribute.Key("http.request.method")
	AttrHTTPRoute   = attribute.Key("http.route")
	AttrHTTPStatus  = attribute.Key("http.response.status_code")
)

// DurationBuckets are histogram boundaries in seconds for cost computations.
var DurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// BillingMetrics holds the service's instruments.
type BillingMetrics struct {
	cacheLookups      metric.Int64Counter
	warmTasks         metric.Int64Counter
	dimensionFailures metric.Int64Counter
	invoicesFinalized metric.Int64Counter
	recordsImported   metric.Int64Counter
	computeDuration   metric.Float64Histogram
	httpRequests      metric.Int64Counter
	httpDuration      metric.Float64Histogram
}

var (
	metricsOnce sync.Once
	metrics     *BillingMetrics
)

// Metrics returns the process-wide instruments, created on first use from
// the global meter provider.
func Metrics() *BillingMetrics {
	metricsOnce.Do(func() {
		m, err := NewBillingMetrics(otel.GetMeterProvider().Meter(TracerName))
		if err != nil {
			otel.Handle(err)
			m, _ = NewBillingMetrics(noopMeter())
		}
		metrics = m
	})
	return metrics
}

// NewBillingMetrics creates every instrument on meter.
func NewBillingMetrics(meter metric.Meter) (*BillingMetrics, error) {
	var (
		m   BillingMetrics
		err error
	)
	if m.cacheLookups, err = meter.Int64Counter("billops.cache.lookups",
		metric.WithDescription("Cache reads by kind and hit/miss"), metric.WithUnit("{lookup}")); err != nil {
		return nil, err
	}
	if m.warmTasks, err = meter.Int64Counter("billops.cache.warm_tasks",
		metric.WithDescription("Warm-up tasks by job and outcome"), metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.dimensionFailures, err = meter.Int64Counter("billops.cost.dimension_failures",
		metric.WithDescription("Cost dimensions that fell back to empty"), metric.WithUnit("{failure}")); err != nil {
		return nil, err
	}
	if m.invoicesFinalized, err = meter.Int64Counter("billops.invoices.finalized",
		metric.WithDescription("Invoices moved to FINALIZED"), metric.WithUnit("{invoice}")); err != nil {
		return nil, err
	}
	if m.recordsImported, err = meter.Int64Counter("billops.bills.records_imported",
		metric.WithDescription("Usage records parsed from uploaded bills"), metric.WithUnit("{record}")); err != nil {
		return nil, err
	}
	if m.computeDuration, err = meter.Float64Histogram("billops.cost.compute_duration",
		metric.WithDescription("Time to compute a cost view"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DurationBuckets...)); err != nil {
		return nil, err
	}
	if m.httpRequests, err = meter.Int64Counter("http_server_request_total",
		metric.WithDescription("Total number of HTTP requests"), metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if m.httpDuration, err = meter.Float64Histogram("http_server_request_duration_seconds",
		metric.WithDescription("HTTP request latency distribution in seconds"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DurationBuckets...)); err != nil {
		return nil, err
	}
	return &m, nil
}

// CacheLookup counts one cache read.
func (m *BillingMetrics) CacheLookup(ctx context.Context, kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(AttrCacheKind.String(kind), AttrCacheResult.String(result)))
}

// WarmTasks counts the outcome of a warm-up batch.
func (m *BillingMetrics) WarmTasks(ctx context.Context, job string, succeeded, failed int) {
	m.warmTasks.Add(ctx, int64(succeeded), metric.WithAttributes(AttrJob.String(job), AttrOutcome.String("ok")))
	m.warmTasks.Add(ctx, int64(failed), metric.WithAttributes(AttrJob.String(job), AttrOutcome.String("error")))
}

// DimensionFailed counts a dimension that was replaced by an empty result.
func (m *BillingMetrics) DimensionFailed(ctx context.Context, dimension string) {
	m.dimensionFailures.Add(ctx, 1, metric.WithAttributes(AttrDimension.String(dimension)))
}

// InvoiceFinalized counts one finalization.
func (m *BillingMetrics) InvoiceFinalized(ctx context.Context) {
	m.invoicesFinalized.Add(ctx, 1)
}

// RecordsImported counts records parsed from one bill.
func (m *BillingMetrics) RecordsImported(ctx context.Context, format string, n int) {
	m.recordsImported.Add(ctx, int64(n), metric.WithAttributes(AttrBillFormat.String(format)))
}

// ComputeDuration records how long a cost view took to build.
func (m *BillingMetrics) ComputeDuration(ctx context.Context, view string, d time.Duration) {
	m.computeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrCacheKind.String(view)))
}

// HTTPRequest records one served request. route is the gin route pattern.
func (m *BillingMetrics) HTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	attrs := metric.WithAttributes(AttrHTTPMethod.String(method), AttrHTTPRoute.String(route), AttrHTTPStatus.Int(status))
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, d.Seconds(), attrs)
}

func noopMeter() metric.Meter {
	return noop.NewMeterProvider().Meter(TracerName)
}
