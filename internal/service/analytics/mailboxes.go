package analytics

import (
	"context"
	"sort"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// MailboxService serves mailbox performance and warmup state
type MailboxService struct {
	base
	repo MailboxRepository
}

func NewMailboxService(repo MailboxRepository, deps Dependencies) *MailboxService {
	return &MailboxService{
		base: newBase(analytics.DomainMailboxes, deps),
		repo: repo,
	}
}

// GetMailboxPerformance returns per mailbox counters and how much of the daily
// sending limit the range used
func (s *MailboxService) GetMailboxPerformance(ctx context.Context, ids []string, filters *analytics.Filters) ([]analytics.MailboxAnalytics, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}

	days := int64(f.DateRange.Days()) + 1
	q := query{op: analytics.OpPerformance, ids: ids, filters: f}
	return readThrough(ctx, s.base, q, func(ctx context.Context) (fetched[[]analytics.MailboxAnalytics], error) {
		rows, err := s.repo.ListMailboxMetrics(ctx, f.CompanyID, ids, f.DateRange)
		if err != nil {
			return fetched[[]analytics.MailboxAnalytics]{}, err
		}

		out := make([]analytics.MailboxAnalytics, 0, len(rows))
		for _, row := range rows {
			s.checkMetrics(row.ID, row.Metrics)
			out = append(out, analytics.MailboxAnalytics{
				ID:           row.ID,
				Email:        row.Email,
				DomainID:     row.DomainID,
				WarmupStatus: row.WarmupStatus,
				DailyLimit:   row.DailyLimit,
				Utilization:  Utilization(row.Metrics.Sent, row.DailyLimit, days),
				Metrics:      row.Metrics,
				Rates:        CalculateRates(row.Metrics),
				HealthScore:  HealthScore(row.Metrics),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return fetched[[]analytics.MailboxAnalytics]{value: out, entities: len(out)}, nil
	})
}

// Utilization is sent over the sending capacity of the window
func Utilization(sent, dailyLimit, days int64) float64 {
	if days < 1 {
		days = 1
	}
	return ratio(sent, dailyLimit*days)
}

func (s *MailboxService) Overview(ctx context.Context, filters *analytics.Filters) (*analytics.DomainOverview, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}

	q := query{op: analytics.OpOverview, filters: f}
	return readThrough(ctx, s.base, q, func(ctx context.Context) (fetched[*analytics.DomainOverview], error) {
		rows, err := s.repo.ListMailboxMetrics(ctx, f.CompanyID, nil, f.DateRange)
		if err != nil {
			return fetched[*analytics.DomainOverview]{}, err
		}
		metrics := make([]analytics.PerformanceMetrics, 0, len(rows))
		for _, row := range rows {
			s.checkMetrics(row.ID, row.Metrics)
			metrics = append(metrics, row.Metrics)
		}
		return fetched[*analytics.DomainOverview]{value: overviewOf(s.domain, metrics), entities: len(rows)}, nil
	})
}

func (s *MailboxService) HealthCheck(ctx context.Context) ServiceHealth {
	return s.healthCheck(ctx, s.repo)
}
