package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"

	"github.com/xammer/billops/internal/infrastructure/telemetry"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, kv ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(kv...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestBillingMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := telemetry.NewBillingMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.CacheLookup(ctx, "dashboard", true)
	m.CacheLookup(ctx, "dashboard", true)
	m.CacheLookup(ctx, "dashboard", false)
	m.WarmTasks(ctx, "dashboard-warmup", 5, 1)
	m.DimensionFailed(ctx, "forecast")
	m.InvoiceFinalized(ctx)
	m.RecordsImported(ctx, "csv", 12)
	m.ComputeDuration(ctx, "dashboard", 300*time.Millisecond)
	m.HTTPRequest(ctx, "GET", "/api/v1/invoices/:id", 404, 20*time.Millisecond)

	got := collect(t, reader)

	lookups := got["billops.cache.lookups"]
	assert.Equal(t, int64(2), sumFor(t, lookups, telemetry.AttrCacheKind.String("dashboard"), telemetry.AttrCacheResult.String("hit")))
	assert.Equal(t, int64(1), sumFor(t, lookups, telemetry.AttrCacheKind.String("dashboard"), telemetry.AttrCacheResult.String("miss")))

	warm := got["billops.cache.warm_tasks"]
	assert.Equal(t, int64(5), sumFor(t, warm, telemetry.AttrJob.String("dashboard-warmup"), telemetry.AttrOutcome.String("ok")))
	assert.Equal(t, int64(1), sumFor(t, warm, telemetry.AttrJob.String("dashboard-warmup"), telemetry.AttrOutcome.String("error")))

	assert.Equal(t, int64(1), sumFor(t, got["billops.cost.dimension_failures"], telemetry.AttrDimension.String("forecast")))
	assert.Equal(t, int64(1), sumFor(t, got["billops.invoices.finalized"]))
	assert.Equal(t, int64(12), sumFor(t, got["billops.bills.records_imported"], telemetry.AttrBillFormat.String("csv")))

	hist, ok := got["billops.cost.compute_duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	assert.Equal(t, int64(1), sumFor(t, got["http_server_request_total"],
		telemetry.AttrHTTPMethod.String("GET"),
		telemetry.AttrHTTPRoute.String("/api/v1/invoices/:id"),
		telemetry.AttrHTTPStatus.Int(404)))
}

func TestMetrics_Singleton(t *testing.T) {
	assert.Same(t, telemetry.Metrics(), telemetry.Metrics())
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled())
	assert.NoError(t, mp.Shutdown(context.Background()))
}
