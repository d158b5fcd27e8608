package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/cache"
)

// Coordinator composes the domain services for dashboard level reads
type Coordinator struct {
	services []DomainService
	byDomain map[analytics.Domain]DomainService
	store    cache.Store
	health   *HealthTracker
	logger   *zap.Logger
	now      func() time.Time
}

// NewCoordinator wires the coordinator. Services are queried in the given order.
func NewCoordinator(store cache.Store, health *HealthTracker, logger *zap.Logger, services ...DomainService) *Coordinator {
	if store == nil {
		store = cache.NewNoopStore()
	}
	if health == nil {
		health = NewHealthTracker(0, 0, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byDomain := make(map[analytics.Domain]DomainService, len(services))
	for _, svc := range services {
		byDomain[svc.Domain()] = svc
	}

	return &Coordinator{
		services: services,
		byDomain: byDomain,
		store:    store,
		health:   health,
		logger:   logger,
		now:      time.Now,
	}
}

type overviewResult struct {
	domain   analytics.Domain
	overview *analytics.DomainOverview
	err      error
}

// GetOverviewMetrics queries every domain concurrently. A failing domain is
// recorded and reported in Failures; the others are still returned.
func (c *Coordinator) GetOverviewMetrics(ctx context.Context, filters *analytics.Filters) (*analytics.OverviewMetrics, error) {
	var f analytics.Filters
	if filters != nil {
		f = *filters
	}
	if f.DateRange.Start.IsZero() && f.DateRange.End.IsZero() {
		f.DateRange = analytics.DefaultRange(c.now())
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	results := make([]overviewResult, len(c.services))
	var wg sync.WaitGroup
	for i, svc := range c.services {
		wg.Add(1)
		go func(i int, svc DomainService) {
			defer wg.Done()
			results[i] = c.overview(ctx, svc, &f)
		}(i, svc)
	}
	wg.Wait()

	out := &analytics.OverviewMetrics{
		Domains:     make(map[analytics.Domain]*analytics.DomainOverview, len(results)),
		GeneratedAt: c.now().UTC(),
	}

	var scoreSum float64
	var scored int
	for _, res := range results {
		if res.err != nil {
			out.Failures = append(out.Failures, analytics.DomainFailure{
				Domain: res.domain,
				Code:   apperrors.CodeOf(res.err),
				Error:  res.err.Error(),
			})
			continue
		}
		out.Domains[res.domain] = res.overview
		if res.overview.Billing == nil && res.overview.Metrics.Sent > 0 {
			scoreSum += res.overview.HealthScore
			scored++
		}
	}
	if scored > 0 {
		out.OverallHealthScore = scoreSum / float64(scored)
	}

	return out, nil
}

func (c *Coordinator) overview(ctx context.Context, svc DomainService, filters *analytics.Filters) (res overviewResult) {
	res.domain = svc.Domain()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("domain overview panicked",
				zap.String("domain", string(res.domain)),
				zap.Any("panic", r))
			res.overview = nil
			res.err = apperrors.NewInternalError("domain overview panicked")
			c.health.RecordFailure(res.domain, res.err)
		}
	}()

	res.overview, res.err = svc.Overview(ctx, filters)
	if res.err != nil {
		c.health.RecordFailure(res.domain, res.err)
		c.logger.Warn("domain overview failed",
			zap.String("domain", string(res.domain)),
			zap.Error(res.err))
		return res
	}
	c.health.RecordSuccess(res.domain)
	return res
}

// HealthReport combines live probes with the tracked history
type HealthReport struct {
	Healthy        bool                                              `json:"healthy"`
	CacheAvailable bool                                              `json:"cacheAvailable"`
	Services       map[analytics.Domain]ServiceHealth                `json:"services"`
	Domains        map[analytics.Domain]analytics.DomainHealthStatus `json:"domains"`
}

// HealthCheck probes every service concurrently
func (c *Coordinator) HealthCheck(ctx context.Context) HealthReport {
	probes := make([]ServiceHealth, len(c.services))
	var wg sync.WaitGroup
	for i, svc := range c.services {
		wg.Add(1)
		go func(i int, svc DomainService) {
			defer wg.Done()
			probes[i] = svc.HealthCheck(ctx)
		}(i, svc)
	}
	wg.Wait()

	report := HealthReport{
		Healthy:        true,
		CacheAvailable: c.store.IsAvailable(ctx),
		Services:       make(map[analytics.Domain]ServiceHealth, len(probes)),
		Domains:        c.health.Snapshot(),
	}
	for _, p := range probes {
		report.Services[p.Domain] = p
		if !p.Healthy {
			report.Healthy = false
		}
	}
	for _, st := range report.Domains {
		if !st.IsHealthy {
			report.Healthy = false
		}
	}
	return report
}

// DomainHealth returns the tracked state of every domain that has been queried
func (c *Coordinator) DomainHealth() map[analytics.Domain]analytics.DomainHealthStatus {
	return c.health.Snapshot()
}

// ResetHealth clears the tracked state
func (c *Coordinator) ResetHealth() {
	c.health.Reset()
	c.logger.Info("analytics health state reset")
}

// Service returns the service for a domain
func (c *Coordinator) Service(domain analytics.Domain) (DomainService, bool) {
	svc, ok := c.byDomain[domain]
	return svc, ok
}

// InvalidateCache drops cached results of one domain, narrowed to ids when given
func (c *Coordinator) InvalidateCache(ctx context.Context, domain analytics.Domain, ids []string) (int64, error) {
	svc, ok := c.byDomain[domain]
	if !ok {
		return 0, apperrors.NewValidationError("UNKNOWN_DOMAIN", "unknown analytics domain: "+string(domain))
	}
	return svc.Invalidate(ctx, ids), nil
}

// InvalidateAll drops every cached analytics result
func (c *Coordinator) InvalidateAll(ctx context.Context) int64 {
	deleted := c.store.InvalidateAll(ctx)
	c.logger.Info("analytics cache flushed", zap.Int64("deleted", deleted))
	return deleted
}

// CacheStats reports the cache backend and its connection pool counters
func (c *Coordinator) CacheStats(ctx context.Context) map[string]interface{} {
	return cache.Stats(ctx, c.store)
}
