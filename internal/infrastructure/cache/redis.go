package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/config"
)

const (
	scanCount   = 500
	deleteBatch = 100
)

// redisStore implements Store on Redis
type redisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to the cache and verifies it answers a ping
func NewRedisStore(cfg *config.CacheConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cache config is required")
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("analytics cache initialized",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize))

	return &redisStore{client: client, logger: logger}, nil
}

func clientOptions(cfg *config.CacheConfig) (*redis.Options, error) {
	var opts *redis.Options
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid cache url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.URL, DB: cfg.DB}
	}

	opts.Password = cfg.Token
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	return opts, nil
}

func (r *redisStore) Get(ctx context.Context, key string) Lookup {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Miss()
		}
		r.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return Unavailable()
	}
	return Hit(data)
}

func (r *redisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Error("cache value marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.Warn("cache set failed",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return false
	}
	return true
}

func (r *redisStore) InvalidateDomain(ctx context.Context, domain analytics.Domain) int64 {
	return r.deleteMatching(ctx, DomainPattern(domain), nil)
}

func (r *redisStore) InvalidateEntities(ctx context.Context, domain analytics.Domain, ids []string) int64 {
	if len(ids) == 0 {
		return r.InvalidateDomain(ctx, domain)
	}
	return r.deleteMatching(ctx, DomainPattern(domain), func(key string) bool {
		parts, err := ParseKey(key)
		if err != nil {
			return false
		}
		return parts.Touches(ids)
	})
}

func (r *redisStore) InvalidateAll(ctx context.Context) int64 {
	return r.deleteMatching(ctx, AllPattern(), nil)
}

// deleteMatching walks the keyspace with SCAN and deletes in batches.
// Returns the number of keys removed before any failure.
func (r *redisStore) deleteMatching(ctx context.Context, pattern string, keep func(string) bool) int64 {
	var (
		deleted int64
		batch   = make([]string, 0, deleteBatch)
	)

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			r.logger.Warn("cache delete failed",
				zap.String("pattern", pattern),
				zap.Int("batch", len(batch)),
				zap.Error(err))
			return false
		}
		deleted += n
		batch = batch[:0]
		return true
	}

	iter := r.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if keep != nil && !keep(key) {
			continue
		}
		batch = append(batch, key)
		if len(batch) >= deleteBatch && !flush() {
			return deleted
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("cache scan failed", zap.String("pattern", pattern), zap.Error(err))
		return deleted
	}
	flush()

	r.logger.Debug("cache keys invalidated",
		zap.String("pattern", pattern),
		zap.Int64("deleted", deleted))
	return deleted
}

func (r *redisStore) IsAvailable(ctx context.Context) bool {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logger.Warn("cache ping failed", zap.Error(err))
		return false
	}
	return true
}

func (r *redisStore) Close() error {
	return r.client.Close()
}
