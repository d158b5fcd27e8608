//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/cache"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/config"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/database"
	analyticssvc "github.com/davidleathers/outreach-analytics-backend/internal/service/analytics"
	"github.com/davidleathers/outreach-analytics-backend/internal/testutil/containers"
)

const seedSQL = `
INSERT INTO campaigns (id, company_id, name, status) VALUES
	('c-1', 'co-1', 'Launch', 'active'),
	('c-2', 'co-1', 'Follow up', 'paused'),
	('c-9', 'co-2', 'Other tenant', 'active');

INSERT INTO campaign_daily_stats (campaign_id, day, sent, delivered, opened_tracked, clicked_tracked, replied, bounced) VALUES
	('c-1', '2024-05-01', 100, 95, 40, 10, 5, 5),
	('c-1', '2024-05-02', 100, 97, 30, 8, 3, 3),
	('c-2', '2024-05-10', 50, 50, 20, 2, 1, 0),
	('c-1', '2024-06-15', 999, 999, 0, 0, 0, 0),
	('c-9', '2024-05-01', 70, 70, 7, 0, 0, 0);

INSERT INTO sending_domains (id, company_id, name, spf_verified, dkim_verified, dmarc_verified) VALUES
	('d-1', 'co-1', 'mail.example.com', true, true, true);

INSERT INTO mailboxes (id, company_id, domain_id, email, warmup_status, daily_limit) VALUES
	('m-1', 'co-1', 'd-1', 'sales@example.com', 'warm', 40);

INSERT INTO mailbox_daily_stats (mailbox_id, day, sent, delivered) VALUES
	('m-1', '2024-05-01', 30, 29);

INSERT INTO billing_accounts (company_id, plan_name, emails_limit, seats_allowed, active_seats, currency) VALUES
	('co-1', 'growth', 1000, 5, 2, 'USD');

INSERT INTO billing_charges (company_id, charged_at, amount) VALUES
	('co-1', '2024-05-03T10:00:00Z', 49.95),
	('co-1', '2024-05-20T10:00:00Z', 100.05),
	('co-1', '2024-04-20T10:00:00Z', 500.00);
`

func setupIntegration(t *testing.T) (*AnalyticsRepository, *containers.RedisContainer) {
	t.Helper()
	ctx := context.Background()

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	rc, err := containers.NewRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })

	pool, err := database.NewPool(ctx, config.DatabaseConfig{URL: pg.ConnectionString}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	// the pool is read-only, so seed through a dedicated connection
	seed, err := pgxpool.New(ctx, pg.ConnectionString)
	require.NoError(t, err)
	defer seed.Close()
	_, err = seed.Exec(ctx, seedSQL)
	require.NoError(t, err)

	return NewAnalyticsRepository(pool, nil, zaptest.NewLogger(t)), rc
}

func TestAnalyticsRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	repo, rc := setupIntegration(t)
	ctx := context.Background()
	may := analytics.DateRange{
		Start: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 5, 31, 23, 59, 59, 0, time.UTC),
	}

	t.Run("campaign metrics are scoped to company and range", func(t *testing.T) {
		records, err := repo.ListCampaignMetrics(ctx, "co-1", nil, may)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, int64(200), records[0].Metrics.Sent)
		assert.Equal(t, int64(50), records[1].Metrics.Sent)
	})

	t.Run("id filter", func(t *testing.T) {
		records, err := repo.ListCampaignMetrics(ctx, "co-1", []string{"c-2"}, may)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "c-2", records[0].ID)
	})

	t.Run("time series by week", func(t *testing.T) {
		points, err := repo.CampaignTimeSeries(ctx, "co-1", nil, may, analytics.GranularityWeek)
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, time.Date(2024, 4, 29, 0, 0, 0, 0, time.UTC), points[0].Bucket)
		assert.Equal(t, int64(200), points[0].Metrics.Sent)
	})

	t.Run("domains and mailboxes", func(t *testing.T) {
		domains, err := repo.ListDomainMetrics(ctx, "co-1", nil, may)
		require.NoError(t, err)
		require.Len(t, domains, 1)
		assert.True(t, domains[0].DMARCVerified)

		mailboxes, err := repo.ListMailboxMetrics(ctx, "co-1", nil, may)
		require.NoError(t, err)
		require.Len(t, mailboxes, 1)
		assert.Equal(t, int64(30), mailboxes[0].Metrics.Sent)
	})

	t.Run("billing", func(t *testing.T) {
		rec, err := repo.GetBillingUsage(ctx, "co-1", may)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, int64(250), rec.EmailsSent)
		assert.True(t, decimal.RequireFromString("150.00").Equal(rec.Spend))

		missing, err := repo.GetBillingUsage(ctx, "co-404", may)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("read through redis", func(t *testing.T) {
		logger := zaptest.NewLogger(t)
		store, err := cache.NewRedisStore(&config.CacheConfig{
			URL:        rc.URL,
			Token:      containers.RedisPassword,
			MaxRetries: 1,
		}, logger)
		require.NoError(t, err)
		defer store.Close()

		svc := analyticssvc.NewCampaignService(repo, analyticssvc.Dependencies{Store: store, Logger: logger})
		filters := &analytics.Filters{DateRange: may, CompanyID: "co-1"}

		first, err := svc.GetCampaignPerformance(ctx, nil, filters)
		require.NoError(t, err)
		second, err := svc.GetCampaignPerformance(ctx, nil, filters)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		assert.Greater(t, svc.Invalidate(ctx, []string{"c-1"}), int64(0))
	})
}
