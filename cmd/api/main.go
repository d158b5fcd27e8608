package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/davidleathers/outreach-analytics-backend/internal/api/rest"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/cache"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/config"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/database"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/events"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/repository"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/outreach-analytics-backend/internal/metrics"
	analyticssvc "github.com/davidleathers/outreach-analytics-backend/internal/service/analytics"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(telemetry.SetupLogger(cfg.LogLevel))

	if err := run(ctx, cfg); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting outreach analytics backend",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"port", cfg.Server.Port)

	logger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	provider, err := telemetry.Initialize(ctx, cfg.Telemetry, cfg.Version, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.ExportTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.NewAnalyticsRepository(pool, database.NewCircuitBreaker(10, 30*time.Second), logger)

	store := cache.NewStore(&cfg.Cache, logger)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("cache close failed", zap.Error(err))
		}
	}()

	observer, err := metrics.NewRegistry("outreach-analytics")
	if err != nil {
		return fmt.Errorf("failed to create analytics metrics: %w", err)
	}

	ttl := cache.NewTTLPolicy(cfg.Cache.MaxTTL)
	deps := analyticssvc.Dependencies{
		Store: store,
		Keys:  cache.NewKeyBuilder(ttl, time.Now),
		TTL:   ttl,
		Retrier: analyticssvc.Retrier{
			MaxAttempts: cfg.Analytics.RetryAttempts,
			BaseDelay:   cfg.Analytics.RetryBaseDelay,
			MaxDelay:    cfg.Analytics.RetryMaxDelay,
		},
		Observer:     observer,
		Logger:       logger,
		FetchTimeout: cfg.Analytics.FetchTimeout,
		StaleTTL:     cfg.Cache.StaleTTL,
	}

	services := rest.Services{
		Campaigns: analyticssvc.NewCampaignService(repo, deps),
		Domains:   analyticssvc.NewSendingDomainService(repo, deps),
		Mailboxes: analyticssvc.NewMailboxService(repo, deps),
		Billing:   analyticssvc.NewBillingService(repo, deps),
	}
	health := analyticssvc.NewHealthTracker(cfg.Analytics.HealthWindow, cfg.Analytics.HealthFailureThreshold, nil)
	services.Coordinator = analyticssvc.NewCoordinator(store, health, logger,
		services.Campaigns, services.Domains, services.Mailboxes, services.Billing)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newHealthCollector(services.Coordinator, store),
		database.NewPoolCollector(database.StatsOf(pool)),
	)

	if channel := cfg.Analytics.ChangeChannel; channel != "" && cfg.Cache.Enabled() {
		connConfig := pool.Config().ConnConfig
		dial := func(ctx context.Context) (events.Conn, error) {
			conn, err := pgx.ConnectConfig(ctx, connConfig.Copy())
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
		go events.NewCacheInvalidator(dial, services.Coordinator, channel, logger).Run(ctx)
	}

	limiter := rest.NewTenantLimiter(float64(cfg.Security.RateLimit.RequestsPerSecond), cfg.Security.RateLimit.BurstSize)
	go limiter.Run(ctx, time.Minute)

	auth := rest.NewAuthenticator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
	if auth == nil {
		logger.Warn("authentication disabled: no JWT secret configured")
	}

	handler := rest.NewRouter(services, rest.RouterConfig{
		Version:  cfg.Version,
		Auth:     auth,
		Limiter:  limiter,
		Metrics:  rest.NewHTTPMetrics(reg),
		Gatherer: reg,
		Logger:   logger,
	})

	logger.Info("analytics services ready",
		zap.Bool("cache_enabled", cfg.Cache.Enabled()),
		zap.Bool("auth_enabled", auth != nil),
		zap.Duration("max_ttl", cfg.Cache.MaxTTL))

	return rest.NewServer(cfg.Server, handler, logger).ListenAndServe(ctx)
}
