//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	"github.com/davidleathers/outreach-analytics-backend/internal/testutil/containers"
)

func TestCacheInvalidator_PostgresTriggers(t *testing.T) {
	ctx := context.Background()

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dial := func(ctx context.Context) (Conn, error) {
		conn, err := pgx.Connect(ctx, pg.ConnectionString)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	inv := &recordingInvalidator{}
	ci := NewCacheInvalidator(dial, inv, DefaultChannel, zaptest.NewLogger(t))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ci.Run(runCtx)

	writer, err := pgx.Connect(ctx, pg.ConnectionString)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close(context.Background()) })

	_, err = writer.Exec(ctx, `INSERT INTO campaigns (id, company_id, name, status) VALUES ('c-1', 'co-1', 'Launch', 'active')`)
	require.NoError(t, err)

	// The listener may still be subscribing; keep writing until it sees a change
	require.Eventually(t, func() bool {
		_, err := writer.Exec(ctx,
			`INSERT INTO campaign_daily_stats (campaign_id, day, sent) VALUES ('c-1', '2024-05-01', 1)
			 ON CONFLICT (campaign_id, day) DO UPDATE SET sent = campaign_daily_stats.sent + 1`)
		return err == nil && len(inv.recorded()) > 0
	}, 10*time.Second, 100*time.Millisecond)

	call := inv.recorded()[0]
	assert.Equal(t, analytics.DomainCampaigns, call.domain)
	assert.Equal(t, []string{"c-1"}, call.ids)
}
