package analytics

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/cache"
)

// Dependencies are shared by every domain service
type Dependencies struct {
	Store        cache.Store
	Keys         *cache.KeyBuilder
	TTL          *cache.TTLPolicy
	Retrier      Retrier
	Observer     Observer
	Logger       *zap.Logger
	FetchTimeout time.Duration
	StaleTTL     time.Duration
	Now          func() time.Time
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Store == nil {
		d.Store = cache.NewNoopStore()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.TTL == nil {
		d.TTL = cache.NewTTLPolicy(0)
	}
	if d.Keys == nil {
		d.Keys = cache.NewKeyBuilder(d.TTL, d.Now)
	}
	if d.Retrier.MaxAttempts == 0 {
		d.Retrier = DefaultRetrier()
	}
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.StaleTTL <= 0 {
		d.StaleTTL = d.TTL.MaxTTL()
	}
	return d
}

// base carries the read-through plumbing for one domain
type base struct {
	domain analytics.Domain
	deps   Dependencies
	logger *zap.Logger
}

func newBase(domain analytics.Domain, deps Dependencies) base {
	deps = deps.withDefaults()
	return base{
		domain: domain,
		deps:   deps,
		logger: deps.Logger.With(zap.String("domain", string(domain))),
	}
}

func (b base) Domain() analytics.Domain {
	return b.domain
}

// prepare fills in a default window and validates the filters
func (b base) prepare(filters *analytics.Filters) (analytics.Filters, error) {
	var f analytics.Filters
	if filters != nil {
		f = *filters
	}
	if f.DateRange.Start.IsZero() && f.DateRange.End.IsZero() {
		f.DateRange = analytics.DefaultRange(b.deps.Now())
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// query identifies one cacheable read
type query struct {
	op      analytics.Operation
	ids     []string
	filters analytics.Filters
}

// fetched is the output of a data store read
type fetched[T any] struct {
	value    T
	entities int
}

// readThrough serves q from the cache, falling back to fetch on a miss or an
// unavailable cache. A transient fetch failure serves the last known good value
// when one exists.
func readThrough[T any](ctx context.Context, b base, q query, fetch func(ctx context.Context) (fetched[T], error)) (T, error) {
	var zero T
	keyFilters := q.filters.WithEntityIDs(nil)
	key := b.deps.Keys.Build(b.domain, q.op, q.ids, &keyFilters)

	lookup := b.deps.Store.Get(ctx, key)
	var cached T
	if lookup.Decode(&cached) {
		b.deps.Observer.CacheLookup(b.domain, q.op, cache.StatusHit.String())
		return cached, nil
	}
	if lookup.IsHit() {
		b.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
		b.deps.Observer.CacheLookup(b.domain, q.op, cache.StatusMiss.String())
	} else {
		b.deps.Observer.CacheLookup(b.domain, q.op, lookup.Status.String())
	}

	var result fetched[T]
	started := time.Now()
	err := b.deps.Retrier.Do(ctx, func(ctx context.Context) error {
		fctx := ctx
		if b.deps.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, b.deps.FetchTimeout)
			defer cancel()
		}
		var ferr error
		result, ferr = fetch(fctx)
		return ferr
	})
	b.deps.Observer.Fetch(b.domain, q.op, time.Since(started), err)

	staleKey := b.deps.Keys.StaleKey(b.domain, q.op, q.ids, &keyFilters)
	if err != nil {
		if ShouldRetry(err) {
			var stale T
			if b.deps.Store.Get(ctx, staleKey).Decode(&stale) {
				b.logger.Warn("serving last known good value",
					zap.String("operation", string(q.op)),
					zap.String("key", staleKey),
					zap.Error(err))
				b.deps.Observer.StaleServed(b.domain, q.op)
				return stale, nil
			}
		}
		b.logger.Error("analytics fetch failed",
			zap.String("operation", string(q.op)),
			zap.String("code", apperrors.CodeOf(err)),
			zap.Error(err))
		return zero, err
	}

	payload, merr := json.Marshal(result.value)
	if merr != nil {
		b.logger.Error("result marshal failed", zap.String("key", key), zap.Error(merr))
		return result.value, nil
	}

	ttl := b.deps.TTL.Adjust(b.deps.TTL.Base(b.domain, q.op), cache.AdjustInput{
		PayloadBytes:  len(payload),
		EntityCount:   result.entities,
		DateRangeDays: q.filters.DateRange.Days(),
	})
	raw := json.RawMessage(payload)
	b.deps.Observer.CacheWrite(b.domain, q.op, b.deps.Store.Set(ctx, key, raw, ttl))
	b.deps.Store.Set(ctx, staleKey, raw, b.deps.StaleTTL)

	return result.value, nil
}

// checkMetrics logs counters that fail validation. It never rejects.
func (b base) checkMetrics(entityID string, m analytics.PerformanceMetrics) {
	if invalid := ValidateMetrics(m); len(invalid) > 0 {
		b.logger.Warn("negative metric counters",
			zap.String("entity_id", entityID),
			zap.Strings("fields", invalid))
	}
	if warnings := ConsistencyWarnings(m); len(warnings) > 0 {
		b.logger.Debug("inconsistent metric counters",
			zap.String("entity_id", entityID),
			zap.Strings("warnings", warnings))
	}
}

// healthCheck probes the cache and the data store
func (b base) healthCheck(ctx context.Context, store Pinger) ServiceHealth {
	started := time.Now()
	health := ServiceHealth{
		Domain:         b.domain,
		CacheAvailable: b.deps.Store.IsAvailable(ctx),
	}
	if err := store.Ping(ctx); err != nil {
		health.DataStoreError = err.Error()
	} else {
		health.Healthy = true
	}
	health.Latency = time.Since(started)
	return health
}

// Invalidate drops cached results touching ids, or the whole domain when ids is empty
func (b base) Invalidate(ctx context.Context, ids []string) int64 {
	deleted := b.deps.Store.InvalidateEntities(ctx, b.domain, ids)
	b.logger.Info("analytics cache invalidated",
		zap.Strings("ids", ids),
		zap.Int64("deleted", deleted))
	return deleted
}

func overviewOf(domain analytics.Domain, metrics []analytics.PerformanceMetrics) *analytics.DomainOverview {
	total := AggregateMetrics(metrics)
	return &analytics.DomainOverview{
		Domain:      domain,
		EntityCount: len(metrics),
		Metrics:     total,
		Rates:       CalculateRates(total),
		HealthScore: HealthScore(total),
	}
}
