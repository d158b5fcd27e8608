package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/config"
)

// NewStore returns a Redis backed store when the cache is configured and
// reachable, and a no-op store otherwise. It never fails.
func NewStore(cfg *config.CacheConfig, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg == nil || !cfg.Enabled() {
		logger.Warn("analytics cache not configured, running without cache")
		return NewNoopStore()
	}

	store, err := NewRedisStore(cfg, logger)
	if err != nil {
		logger.Warn("analytics cache unreachable, running without cache", zap.Error(err))
		return NewNoopStore()
	}
	return store
}

// Stats reports connection pool counters for stores that have them
func Stats(ctx context.Context, store Store) map[string]interface{} {
	rs, ok := store.(*redisStore)
	if !ok {
		return map[string]interface{}{"backend": "none"}
	}

	pool := rs.client.PoolStats()
	stats := map[string]interface{}{
		"backend":     "redis",
		"hits":        pool.Hits,
		"misses":      pool.Misses,
		"timeouts":    pool.Timeouts,
		"total_conns": pool.TotalConns,
		"idle_conns":  pool.IdleConns,
		"stale_conns": pool.StaleConns,
	}

	size, err := rs.client.DBSize(ctx).Result()
	if err != nil {
		rs.logger.Warn("failed to get cache size", zap.Error(err))
	} else {
		stats["db_size"] = size
	}
	return stats
}
