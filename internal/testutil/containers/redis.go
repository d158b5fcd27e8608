package containers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisPassword protects the test cache; the store refuses to run without a token
const RedisPassword = "analytics-test"

// RedisContainer is a throwaway cache for integration tests
type RedisContainer struct {
	*redis.RedisContainer
	URL string
}

func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	dir, err := os.MkdirTemp("", "analytics-redis")
	if err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	defer os.RemoveAll(dir)

	confPath := filepath.Join(dir, "redis.conf")
	if err := os.WriteFile(confPath, []byte("requirepass "+RedisPassword+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write redis config: %w", err)
	}

	c, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithConfigFile(confPath),
		redis.WithLogLevel(redis.LogLevelNotice),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	url, err := c.ConnectionString(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &RedisContainer{RedisContainer: c, URL: url}, nil
}
