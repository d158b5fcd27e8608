package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/database"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/telemetry"
	analyticssvc "github.com/davidleathers/outreach-analytics-backend/internal/service/analytics"
)

// Querier is the subset of pgxpool.Pool the repository uses
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var (
	_ analyticssvc.CampaignRepository      = (*AnalyticsRepository)(nil)
	_ analyticssvc.SendingDomainRepository = (*AnalyticsRepository)(nil)
	_ analyticssvc.MailboxRepository       = (*AnalyticsRepository)(nil)
	_ analyticssvc.BillingRepository       = (*AnalyticsRepository)(nil)
)

// AnalyticsRepository reads aggregated counters from the daily stats tables
type AnalyticsRepository struct {
	db      Querier
	breaker *database.CircuitBreaker
	logger  *zap.Logger
}

// NewAnalyticsRepository creates the repository. A nil breaker gets the default thresholds.
func NewAnalyticsRepository(db Querier, breaker *database.CircuitBreaker, logger *zap.Logger) *AnalyticsRepository {
	if breaker == nil {
		breaker = database.NewCircuitBreaker(10, 30*time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsRepository{db: db, breaker: breaker, logger: logger}
}

const metricSums = `
	COALESCE(SUM(s.sent), 0)::bigint,
	COALESCE(SUM(s.delivered), 0)::bigint,
	COALESCE(SUM(s.opened_tracked), 0)::bigint,
	COALESCE(SUM(s.clicked_tracked), 0)::bigint,
	COALESCE(SUM(s.replied), 0)::bigint,
	COALESCE(SUM(s.bounced), 0)::bigint,
	COALESCE(SUM(s.unsubscribed), 0)::bigint,
	COALESCE(SUM(s.spam_complaints), 0)::bigint`

// $1 company, $2 start, $3 end, $4 ids; an empty company or id list matches everything
const campaignMetricsQuery = `
SELECT c.id, c.name, c.status,` + metricSums + `
FROM campaigns c
LEFT JOIN campaign_daily_stats s
	ON s.campaign_id = c.id AND s.day BETWEEN $2::date AND $3::date
WHERE ($1::text = '' OR c.company_id = $1::text)
	AND (cardinality($4::text[]) = 0 OR c.id = ANY($4::text[]))
GROUP BY c.id, c.name, c.status
ORDER BY c.id`

const campaignTimeSeriesQuery = `
SELECT s.campaign_id, date_trunc($5::text, s.day::timestamp) AS bucket,` + metricSums + `
FROM campaign_daily_stats s
JOIN campaigns c ON c.id = s.campaign_id
WHERE ($1::text = '' OR c.company_id = $1::text)
	AND s.day BETWEEN $2::date AND $3::date
	AND (cardinality($4::text[]) = 0 OR c.id = ANY($4::text[]))
GROUP BY s.campaign_id, bucket
ORDER BY bucket, s.campaign_id`

const domainMetricsQuery = `
SELECT d.id, d.name, d.spf_verified, d.dkim_verified, d.dmarc_verified,` + metricSums + `
FROM sending_domains d
LEFT JOIN domain_daily_stats s
	ON s.domain_id = d.id AND s.day BETWEEN $2::date AND $3::date
WHERE ($1::text = '' OR d.company_id = $1::text)
	AND (cardinality($4::text[]) = 0 OR d.id = ANY($4::text[]))
GROUP BY d.id, d.name, d.spf_verified, d.dkim_verified, d.dmarc_verified
ORDER BY d.id`

const mailboxMetricsQuery = `
SELECT m.id, m.email, m.domain_id, m.warmup_status, m.daily_limit,` + metricSums + `
FROM mailboxes m
LEFT JOIN mailbox_daily_stats s
	ON s.mailbox_id = m.id AND s.day BETWEEN $2::date AND $3::date
WHERE ($1::text = '' OR m.company_id = $1::text)
	AND (cardinality($4::text[]) = 0 OR m.id = ANY($4::text[]))
GROUP BY m.id, m.email, m.domain_id, m.warmup_status, m.daily_limit
ORDER BY m.id`

const billingUsageQuery = `
SELECT a.company_id, a.plan_name, a.emails_limit, a.seats_allowed, a.active_seats, a.currency,
	COALESCE((
		SELECT SUM(s.sent)
		FROM campaign_daily_stats s
		JOIN campaigns c ON c.id = s.campaign_id
		WHERE c.company_id = a.company_id AND s.day BETWEEN $2::date AND $3::date
	), 0)::bigint,
	COALESCE((
		SELECT SUM(ch.amount)
		FROM billing_charges ch
		WHERE ch.company_id = a.company_id AND ch.charged_at BETWEEN $2 AND $3
	), 0)::text
FROM billing_accounts a
WHERE a.company_id = $1`

func metricDest(m *analytics.PerformanceMetrics) []any {
	return []any{
		&m.Sent, &m.Delivered, &m.OpenedTracked, &m.ClickedTracked,
		&m.Replied, &m.Bounced, &m.Unsubscribed, &m.SpamComplaints,
	}
}

// idsArg never returns nil so cardinality() sees an empty array rather than NULL
func idsArg(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// run guards a query with the circuit breaker and a client span
func (r *AnalyticsRepository) run(ctx context.Context, operation, table string, fn func(ctx context.Context) error) error {
	if !r.breaker.Allow() {
		return apperrors.NewServiceUnavailableError(storeName, "circuit breaker open")
	}

	ctx, span := telemetry.StartDatabaseSpan(ctx, operation, table)
	defer span.End()

	start := time.Now()
	err := classifyError(fn(ctx), operation)
	if err != nil {
		if apperrors.IsRetryable(err) {
			r.breaker.RecordFailure()
		}
		telemetry.RecordError(span, err)
		r.logger.Warn("analytics query failed",
			append(telemetry.TraceFields(ctx),
				zap.String("operation", operation),
				zap.String("table", table),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))...)
		return err
	}

	r.breaker.RecordSuccess()
	return nil
}

func (r *AnalyticsRepository) Ping(ctx context.Context) error {
	return r.run(ctx, "ping", "", r.db.Ping)
}

func (r *AnalyticsRepository) ListCampaignMetrics(ctx context.Context, companyID string, ids []string, dr analytics.DateRange) ([]analytics.CampaignRecord, error) {
	var records []analytics.CampaignRecord
	err := r.run(ctx, "list_campaign_metrics", "campaign_daily_stats", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, campaignMetricsQuery, companyID, dr.Start, dr.End, idsArg(ids))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec analytics.CampaignRecord
			dest := append([]any{&rec.ID, &rec.Name, &rec.Status}, metricDest(&rec.Metrics)...)
			if err := rows.Scan(dest...); err != nil {
				return fmt.Errorf("scan campaign metrics: %w", err)
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *AnalyticsRepository) CampaignTimeSeries(ctx context.Context, companyID string, ids []string, dr analytics.DateRange, g analytics.Granularity) ([]analytics.TimeSeriesRecord, error) {
	if g == "" {
		g = analytics.GranularityDay
	}

	var records []analytics.TimeSeriesRecord
	err := r.run(ctx, "campaign_time_series", "campaign_daily_stats", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, campaignTimeSeriesQuery, companyID, dr.Start, dr.End, idsArg(ids), string(g))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec analytics.TimeSeriesRecord
			dest := append([]any{&rec.EntityID, &rec.Bucket}, metricDest(&rec.Metrics)...)
			if err := rows.Scan(dest...); err != nil {
				return fmt.Errorf("scan campaign time series: %w", err)
			}
			rec.Bucket = rec.Bucket.UTC()
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *AnalyticsRepository) ListDomainMetrics(ctx context.Context, companyID string, ids []string, dr analytics.DateRange) ([]analytics.SendingDomainRecord, error) {
	var records []analytics.SendingDomainRecord
	err := r.run(ctx, "list_domain_metrics", "domain_daily_stats", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, domainMetricsQuery, companyID, dr.Start, dr.End, idsArg(ids))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec analytics.SendingDomainRecord
			dest := append([]any{&rec.ID, &rec.Name, &rec.SPFVerified, &rec.DKIMVerified, &rec.DMARCVerified},
				metricDest(&rec.Metrics)...)
			if err := rows.Scan(dest...); err != nil {
				return fmt.Errorf("scan domain metrics: %w", err)
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *AnalyticsRepository) ListMailboxMetrics(ctx context.Context, companyID string, ids []string, dr analytics.DateRange) ([]analytics.MailboxRecord, error) {
	var records []analytics.MailboxRecord
	err := r.run(ctx, "list_mailbox_metrics", "mailbox_daily_stats", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, mailboxMetricsQuery, companyID, dr.Start, dr.End, idsArg(ids))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec analytics.MailboxRecord
			dest := append([]any{&rec.ID, &rec.Email, &rec.DomainID, &rec.WarmupStatus, &rec.DailyLimit},
				metricDest(&rec.Metrics)...)
			if err := rows.Scan(dest...); err != nil {
				return fmt.Errorf("scan mailbox metrics: %w", err)
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetBillingUsage returns nil without error when the company has no billing account
func (r *AnalyticsRepository) GetBillingUsage(ctx context.Context, companyID string, dr analytics.DateRange) (*analytics.BillingRecord, error) {
	var (
		rec   analytics.BillingRecord
		spend string
		found = true
	)
	err := r.run(ctx, "get_billing_usage", "billing_accounts", func(ctx context.Context) error {
		err := r.db.QueryRow(ctx, billingUsageQuery, companyID, dr.Start, dr.End).Scan(
			&rec.CompanyID, &rec.PlanName, &rec.EmailsLimit, &rec.SeatsAllowed, &rec.ActiveSeats,
			&rec.Currency, &rec.EmailsSent, &spend)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	rec.Spend, err = decimal.NewFromString(spend)
	if err != nil {
		return nil, apperrors.NewInternalError("invalid billing amount").WithCause(err)
	}
	return &rec, nil
}
