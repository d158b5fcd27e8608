package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

func setupRegistry(t *testing.T) (*Registry, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	r, err := NewRegistryWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(agg metricdata.Aggregation) int64 {
	sum, ok := agg.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRegistry(t *testing.T) {
	r, reader := setupRegistry(t)

	r.CacheLookup(analytics.DomainCampaigns, analytics.OpPerformance, "miss")
	r.CacheLookup(analytics.DomainCampaigns, analytics.OpPerformance, "hit")
	r.CacheLookup(analytics.DomainCampaigns, analytics.OpPerformance, "hit")
	r.CacheLookup(analytics.DomainCampaigns, analytics.OpPerformance, "unavailable")
	r.CacheWrite(analytics.DomainCampaigns, analytics.OpPerformance, true)
	r.Fetch(analytics.DomainBilling, analytics.OpUsage, 12*time.Millisecond, nil)
	r.Fetch(analytics.DomainBilling, analytics.OpUsage, 40*time.Millisecond, errors.New("down"))
	r.StaleServed(analytics.DomainBilling, analytics.OpUsage)

	assert.Equal(t, 0.5, r.HitRate())

	data := collect(t, reader)
	assert.Equal(t, int64(4), sumOf(data["analytics.cache.lookups"]))
	assert.Equal(t, int64(1), sumOf(data["analytics.cache.writes"]))
	assert.Equal(t, int64(1), sumOf(data["analytics.fetch.failures"]))
	assert.Equal(t, int64(1), sumOf(data["analytics.cache.stale_served"]))

	hist, ok := data["analytics.fetch.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(2), count)

	gauge, ok := data["analytics.cache.hit_rate"].(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 0.5, gauge.DataPoints[0].Value)
}

func TestRegistry_EmptyHitRate(t *testing.T) {
	r, _ := setupRegistry(t)
	assert.Zero(t, r.HitRate())
}
