package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/cache"
)

// healthSource is the part of the coordinator the collector reads
type healthSource interface {
	DomainHealth() map[analytics.Domain]analytics.DomainHealthStatus
}

// healthCollector exports tracked domain health on every scrape
type healthCollector struct {
	source       healthSource
	store        cache.Store
	probeTimeout time.Duration

	healthy             *prometheus.Desc
	windowErrors        *prometheus.Desc
	consecutiveFailures *prometheus.Desc
	lastSuccess         *prometheus.Desc
	cacheAvailable      *prometheus.Desc
}

func newHealthCollector(source healthSource, store cache.Store) *healthCollector {
	return &healthCollector{
		source:       source,
		store:        store,
		probeTimeout: time.Second,
		healthy: prometheus.NewDesc(
			"outreach_analytics_domain_healthy",
			"Whether the analytics domain is healthy (1) or degraded (0)",
			[]string{"domain"}, nil,
		),
		windowErrors: prometheus.NewDesc(
			"outreach_analytics_domain_window_errors",
			"Failures recorded in the current health window",
			[]string{"domain"}, nil,
		),
		consecutiveFailures: prometheus.NewDesc(
			"outreach_analytics_domain_consecutive_failures",
			"Failures since the last success",
			[]string{"domain"}, nil,
		),
		lastSuccess: prometheus.NewDesc(
			"outreach_analytics_domain_last_success_timestamp_seconds",
			"Unix time of the last successful read",
			[]string{"domain"}, nil,
		),
		cacheAvailable: prometheus.NewDesc(
			"outreach_analytics_cache_available",
			"Whether the result cache answers pings",
			nil, nil,
		),
	}
}

func (c *healthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.healthy
	ch <- c.windowErrors
	ch <- c.consecutiveFailures
	ch <- c.lastSuccess
	ch <- c.cacheAvailable
}

func (c *healthCollector) Collect(ch chan<- prometheus.Metric) {
	for domain, st := range c.source.DomainHealth() {
		d := string(domain)
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, boolValue(st.IsHealthy), d)
		ch <- prometheus.MustNewConstMetric(c.windowErrors, prometheus.GaugeValue, float64(st.ErrorCount), d)
		ch <- prometheus.MustNewConstMetric(c.consecutiveFailures, prometheus.GaugeValue, float64(st.ConsecutiveFailures), d)
		if !st.LastSuccessAt.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, float64(st.LastSuccessAt.Unix()), d)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	defer cancel()
	ch <- prometheus.MustNewConstMetric(c.cacheAvailable, prometheus.GaugeValue, boolValue(c.store.IsAvailable(ctx)))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
