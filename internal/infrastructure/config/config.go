package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before mapping them onto keys
const EnvPrefix = "OA_"

// DefaultConfigPath is read when no explicit path is given
const DefaultConfigPath = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Cache     CacheConfig     `koanf:"cache"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Security  SecurityConfig  `koanf:"security"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
}

// CacheConfig points at the managed key-value store. Caching is disabled
// unless both URL and Token are set.
type CacheConfig struct {
	URL          string        `koanf:"url"`
	Token        string        `koanf:"token"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	MaxTTL       time.Duration `koanf:"max_ttl"`
	StaleTTL     time.Duration `koanf:"stale_ttl"`
}

// Enabled reports whether both connection parameters are present
func (c CacheConfig) Enabled() bool {
	return c.URL != "" && c.Token != ""
}

type AnalyticsConfig struct {
	RetryAttempts          int           `koanf:"retry_attempts"`
	RetryBaseDelay         time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay          time.Duration `koanf:"retry_max_delay"`
	FetchTimeout           time.Duration `koanf:"fetch_timeout"`
	HealthWindow           time.Duration `koanf:"health_window"`
	HealthFailureThreshold int           `koanf:"health_failure_threshold"`
	// ChangeChannel is the Postgres notification channel that drives cache
	// invalidation. Empty disables the listener.
	ChangeChannel          string        `koanf:"change_channel"`
}

type SecurityConfig struct {
	JWTSecret string          `koanf:"jwt_secret"`
	JWTIssuer string          `koanf:"jwt_issuer"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

// Defaults returns the baseline configuration
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Cache: CacheConfig{
			PoolSize:     10,
			MinIdleConns: 1,
			MaxRetries:   1,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxTTL:       24 * time.Hour,
			StaleTTL:     24 * time.Hour,
		},
		Analytics: AnalyticsConfig{
			RetryAttempts:          3,
			RetryBaseDelay:         100 * time.Millisecond,
			RetryMaxDelay:          2 * time.Second,
			FetchTimeout:           10 * time.Second,
			HealthWindow:           15 * time.Minute,
			HealthFailureThreshold: 3,
			ChangeChannel:          "analytics_changes",
		},
		Security: SecurityConfig{
			JWTIssuer: "outreach-app",
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				BurstSize:         40,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
	}
}

// Load layers struct defaults, an optional YAML file and OA_ environment variables
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// The default file is optional; an explicit one is not
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", EnvKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var sections = map[string]bool{
	"server":    true,
	"database":  true,
	"cache":     true,
	"analytics": true,
	"security":  true,
	"telemetry": true,
}

// EnvKey maps OA_CACHE_READ_TIMEOUT to cache.read_timeout and OA_LOG_LEVEL to log_level.
// Only the first underscore after a known section name becomes a separator.
func EnvKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found || !sections[section] {
		return key
	}
	if section == "security" && strings.HasPrefix(rest, "rate_limit_") {
		return "security.rate_limit." + strings.TrimPrefix(rest, "rate_limit_")
	}
	return section + "." + rest
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Analytics.RetryAttempts < 1 {
		return fmt.Errorf("analytics.retry_attempts must be at least 1")
	}
	if c.Analytics.RetryBaseDelay <= 0 || c.Analytics.RetryMaxDelay < c.Analytics.RetryBaseDelay {
		return fmt.Errorf("analytics retry delays are inconsistent")
	}
	if c.Cache.MaxTTL <= 0 {
		return fmt.Errorf("cache.max_ttl must be positive")
	}
	if c.Environment == "production" && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required in production")
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate must be within [0,1]")
	}
	return nil
}
