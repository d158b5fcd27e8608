package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// CampaignService serves campaign performance and time series
type CampaignService struct {
	base
	repo CampaignRepository
}

// NewCampaignService creates a campaign analytics service
func NewCampaignService(repo CampaignRepository, deps Dependencies) *CampaignService {
	return &CampaignService{
		base: newBase(analytics.DomainCampaigns, deps),
		repo: repo,
	}
}

// GetCampaignPerformance returns per campaign counters, rates and health scores
func (s *CampaignService) GetCampaignPerformance(ctx context.Context, ids []string, filters *analytics.Filters) ([]analytics.CampaignAnalytics, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}

	q := query{op: analytics.OpPerformance, ids: ids, filters: f}
	return readThrough(ctx, s.base, q, func(ctx context.Context) (fetched[[]analytics.CampaignAnalytics], error) {
		rows, err := s.repo.ListCampaignMetrics(ctx, f.CompanyID, ids, f.DateRange)
		if err != nil {
			return fetched[[]analytics.CampaignAnalytics]{}, err
		}

		out := make([]analytics.CampaignAnalytics, 0, len(rows))
		for _, row := range rows {
			s.checkMetrics(row.ID, row.Metrics)
			out = append(out, analytics.CampaignAnalytics{
				ID:          row.ID,
				Name:        row.Name,
				Status:      row.Status,
				Metrics:     row.Metrics,
				Rates:       CalculateRates(row.Metrics),
				HealthScore: HealthScore(row.Metrics),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return fetched[[]analytics.CampaignAnalytics]{value: out, entities: len(out)}, nil
	})
}

// GetCampaignTimeSeries returns counters summed across campaigns per time bucket, oldest first
func (s *CampaignService) GetCampaignTimeSeries(ctx context.Context, ids []string, filters *analytics.Filters, granularity analytics.Granularity) ([]analytics.TimeSeriesDataPoint, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}
	if granularity == "" {
		granularity = analytics.GranularityDay
	}

	keyed := f
	keyed.Additional = make(map[string]string, len(f.Additional)+1)
	for k, v := range f.Additional {
		keyed.Additional[k] = v
	}
	keyed.Additional["granularity"] = string(granularity)

	q := query{op: analytics.OpTimeSeries, ids: ids, filters: keyed}
	return readThrough(ctx, s.base, q, func(ctx context.Context) (fetched[[]analytics.TimeSeriesDataPoint], error) {
		rows, err := s.repo.CampaignTimeSeries(ctx, f.CompanyID, ids, f.DateRange, granularity)
		if err != nil {
			return fetched[[]analytics.TimeSeriesDataPoint]{}, err
		}

		buckets := make(map[time.Time][]analytics.PerformanceMetrics)
		entities := make(map[string]struct{})
		for _, row := range rows {
			s.checkMetrics(row.EntityID, row.Metrics)
			bucket := row.Bucket.UTC()
			buckets[bucket] = append(buckets[bucket], row.Metrics)
			entities[row.EntityID] = struct{}{}
		}

		points := make([]analytics.TimeSeriesDataPoint, 0, len(buckets))
		for bucket, list := range buckets {
			points = append(points, analytics.TimeSeriesDataPoint{
				Date:    bucket,
				Label:   BucketLabel(bucket, granularity),
				Metrics: AggregateMetrics(list),
			})
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
		return fetched[[]analytics.TimeSeriesDataPoint]{value: points, entities: len(entities)}, nil
	})
}

// BucketLabel renders a bucket start for display
func BucketLabel(t time.Time, g analytics.Granularity) string {
	switch g {
	case analytics.GranularityWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case analytics.GranularityMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// Overview aggregates every campaign of the tenant
func (s *CampaignService) Overview(ctx context.Context, filters *analytics.Filters) (*analytics.DomainOverview, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}

	q := query{op: analytics.OpOverview, filters: f}
	return readThrough(ctx, s.base, q, func(ctx context.Context) (fetched[*analytics.DomainOverview], error) {
		rows, err := s.repo.ListCampaignMetrics(ctx, f.CompanyID, nil, f.DateRange)
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

func (s *CampaignService) HealthCheck(ctx context.Context) ServiceHealth {
	return s.healthCheck(ctx, s.repo)
}
