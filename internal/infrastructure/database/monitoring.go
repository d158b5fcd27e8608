package database

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a point-in-time view of the connection pool
type PoolStats struct {
	MaxConns             int32
	TotalConns           int32
	IdleConns            int32
	AcquiredConns        int32
	ConstructingConns    int32
	AcquireCount         int64
	EmptyAcquireCount    int64
	CanceledAcquireCount int64
	AcquireDuration      time.Duration
}

// StatsOf reads pool statistics from a pgx pool
func StatsOf(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		s := pool.Stat()
		return PoolStats{
			MaxConns:             s.MaxConns(),
			TotalConns:           s.TotalConns(),
			IdleConns:            s.IdleConns(),
			AcquiredConns:        s.AcquiredConns(),
			ConstructingConns:    s.ConstructingConns(),
			AcquireCount:         s.AcquireCount(),
			EmptyAcquireCount:    s.EmptyAcquireCount(),
			CanceledAcquireCount: s.CanceledAcquireCount(),
			AcquireDuration:      s.AcquireDuration(),
		}
	}
}

// PoolCollector exports connection pool statistics to Prometheus
type PoolCollector struct {
	stats func() PoolStats

	maxConns        *prometheus.Desc
	conns           *prometheus.Desc
	acquires        *prometheus.Desc
	emptyAcquires   *prometheus.Desc
	canceled        *prometheus.Desc
	acquireDuration *prometheus.Desc
}

func NewPoolCollector(stats func() PoolStats) *PoolCollector {
	const ns = "outreach_db_pool"
	return &PoolCollector{
		stats: stats,
		maxConns: prometheus.NewDesc(ns+"_max_connections",
			"Maximum size of the pool", nil, nil),
		conns: prometheus.NewDesc(ns+"_connections",
			"Connections in the pool by state", []string{"state"}, nil),
		acquires: prometheus.NewDesc(ns+"_acquires_total",
			"Successful connection acquisitions", nil, nil),
		emptyAcquires: prometheus.NewDesc(ns+"_empty_acquires_total",
			"Acquisitions that had to wait for a connection", nil, nil),
		canceled: prometheus.NewDesc(ns+"_canceled_acquires_total",
			"Acquisitions canceled by their context", nil, nil),
		acquireDuration: prometheus.NewDesc(ns+"_acquire_duration_seconds_total",
			"Total time spent acquiring connections", nil, nil),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.maxConns
	ch <- c.conns
	ch <- c.acquires
	ch <- c.emptyAcquires
	ch <- c.canceled
	ch <- c.acquireDuration
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.IdleConns), "idle")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.AcquiredConns), "acquired")
	ch <- prometheus.MustNewConstMetric(c.conns, prometheus.GaugeValue, float64(s.ConstructingConns), "constructing")
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.AcquireCount))
	ch <- prometheus.MustNewConstMetric(c.emptyAcquires, prometheus.CounterValue, float64(s.EmptyAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.canceled, prometheus.CounterValue, float64(s.CanceledAcquireCount))
	ch <- prometheus.MustNewConstMetric(c.acquireDuration, prometheus.CounterValue, s.AcquireDuration.Seconds())
}
