package analytics

import (
	"context"
	"sort"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// SendingDomainService serves sending domain deliverability and authentication
type SendingDomainService struct {
	base
	repo SendingDomainRepository
}

func NewSendingDomainService(repo SendingDomainRepository, deps Dependencies) *SendingDomainService {
	return &SendingDomainService{
		base: newBase(analytics.DomainDomains, deps),
		repo: repo,
	}
}

// GetDomainPerformance returns per domain counters along with SPF, DKIM and DMARC status
func (s *SendingDomainService) GetDomainPerformance(ctx context.Context, ids []string, filters *analytics.Filters) ([]analytics.SendingDomainAnalytics, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}

	q := query{op: analytics.OpPerformance, ids: ids, filters: f}
	return readThrough(ctx, s.base, q, func(ctx context.Context) (fetched[[]analytics.SendingDomainAnalytics], error) {
		rows, err := s.repo.ListDomainMetrics(ctx, f.CompanyID, ids, f.DateRange)
		if err != nil {
			return fetched[[]analytics.SendingDomainAnalytics]{}, err
		}

		out := make([]analytics.SendingDomainAnalytics, 0, len(rows))
		for _, row := range rows {
			s.checkMetrics(row.ID, row.Metrics)
			out = append(out, analytics.SendingDomainAnalytics{
				ID:   row.ID,
				Name: row.Name,
				Authentication: analytics.DomainAuth{
					SPF:   row.SPFVerified,
					DKIM:  row.DKIMVerified,
					DMARC: row.DMARCVerified,
				},
				Metrics:     row.Metrics,
				Rates:       CalculateRates(row.Metrics),
				HealthScore: HealthScore(row.Metrics),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return fetched[[]analytics.SendingDomainAnalytics]{value: out, entities: len(out)}, nil
	})
}

func (s *SendingDomainService) Overview(ctx context.Context, filters *analytics.Filters) (*analytics.DomainOverview, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}

	q := query{op: analytics.OpOverview, filters: f}
	return readThrough(ctx, s.base, q, func(ctx context.Context) (fetched[*analytics.DomainOverview], error) {
		rows, err := s.repo.ListDomainMetrics(ctx, f.CompanyID, nil, f.DateRange)
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

func (s *SendingDomainService) HealthCheck(ctx context.Context) ServiceHealth {
	return s.healthCheck(ctx, s.repo)
}
