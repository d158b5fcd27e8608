package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// Registry holds the analytics metrics and implements the service observer
type Registry struct {
	meter metric.Meter

	// Cache Metrics
	CacheLookupCounter metric.Int64Counter
	CacheWriteCounter  metric.Int64Counter
	CacheHitRate       metric.Float64ObservableGauge
	StaleServedCounter metric.Int64Counter

	// Data Store Metrics
	FetchDuration       metric.Float64Histogram
	FetchFailureCounter metric.Int64Counter

	// State for observable metrics
	mu      sync.RWMutex
	hits    int64
	lookups int64
}

// NewRegistry creates the registry on the global meter provider
func NewRegistry(meterName string) (*Registry, error) {
	return NewRegistryWithMeter(otel.Meter(meterName))
}

// NewRegistryWithMeter creates the registry on an explicit meter
func NewRegistryWithMeter(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	if err := r.initCacheMetrics(); err != nil {
		return nil, err
	}

	if err := r.initFetchMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

// initCacheMetrics initializes cache metrics
func (r *Registry) initCacheMetrics() error {
	var err error

	r.CacheLookupCounter, err = r.meter.Int64Counter(
		"analytics.cache.lookups",
		metric.WithDescription("Cache lookups by outcome"),
	)
	if err != nil {
		return err
	}

	r.CacheWriteCounter, err = r.meter.Int64Counter(
		"analytics.cache.writes",
		metric.WithDescription("Cache writes by outcome"),
	)
	if err != nil {
		return err
	}

	r.StaleServedCounter, err = r.meter.Int64Counter(
		"analytics.cache.stale_served",
		metric.WithDescription("Results served from the last known good copy"),
	)
	if err != nil {
		return err
	}

	r.CacheHitRate, err = r.meter.Float64ObservableGauge(
		"analytics.cache.hit_rate",
		metric.WithDescription("Share of lookups answered from cache since start"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			o.Observe(r.HitRate())
			return nil
		}),
	)
	return err
}

// initFetchMetrics initializes data store metrics
func (r *Registry) initFetchMetrics() error {
	var err error

	r.FetchDuration, err = r.meter.Float64Histogram(
		"analytics.fetch.duration",
		metric.WithDescription("Data store fetch duration including retries"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return err
	}

	r.FetchFailureCounter, err = r.meter.Int64Counter(
		"analytics.fetch.failures",
		metric.WithDescription("Data store fetches that failed after retries"),
	)
	return err
}

func attrs(domain analytics.Domain, op analytics.Operation, extra ...attribute.KeyValue) metric.MeasurementOption {
	kv := append([]attribute.KeyValue{
		attribute.String("domain", string(domain)),
		attribute.String("operation", string(op)),
	}, extra...)
	return metric.WithAttributes(kv...)
}

// CacheLookup records a lookup outcome
func (r *Registry) CacheLookup(domain analytics.Domain, op analytics.Operation, status string) {
	r.mu.Lock()
	r.lookups++
	if status == "hit" {
		r.hits++
	}
	r.mu.Unlock()

	r.CacheLookupCounter.Add(context.Background(), 1, attrs(domain, op, attribute.String("status", status)))
}

// CacheWrite records a cache write
func (r *Registry) CacheWrite(domain analytics.Domain, op analytics.Operation, ok bool) {
	r.CacheWriteCounter.Add(context.Background(), 1, attrs(domain, op, attribute.Bool("ok", ok)))
}

// Fetch records a data store fetch
func (r *Registry) Fetch(domain analytics.Domain, op analytics.Operation, d time.Duration, err error) {
	ctx := context.Background()
	r.FetchDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs(domain, op, attribute.Bool("success", err == nil)))
	if err != nil {
		r.FetchFailureCounter.Add(ctx, 1, attrs(domain, op))
	}
}

// StaleServed records a fallback to the last known good copy
func (r *Registry) StaleServed(domain analytics.Domain, op analytics.Operation) {
	r.StaleServedCounter.Add(context.Background(), 1, attrs(domain, op))
}

// HitRate returns hits over lookups
func (r *Registry) HitRate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lookups == 0 {
		return 0
	}
	return float64(r.hits) / float64(r.lookups)
}
