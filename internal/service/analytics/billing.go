package analytics

import (
	"context"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
)

// BillingService serves plan usage and spend
type BillingService struct {
	base
	repo BillingRepository
}

func NewBillingService(repo BillingRepository, deps Dependencies) *BillingService {
	return &BillingService{
		base: newBase(analytics.DomainBilling, deps),
		repo: repo,
	}
}

// GetUsage returns the tenant's sending volume against its plan
func (s *BillingService) GetUsage(ctx context.Context, filters *analytics.Filters) (*analytics.BillingUsage, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}
	if f.CompanyID == "" {
		return nil, apperrors.NewValidationError("COMPANY_REQUIRED", "billing usage requires a company")
	}
	return s.usage(ctx, analytics.OpUsage, f)
}

func (s *BillingService) usage(ctx context.Context, op analytics.Operation, f analytics.Filters) (*analytics.BillingUsage, error) {
	q := query{op: op, filters: f}
	return readThrough(ctx, s.base, q, func(ctx context.Context) (fetched[*analytics.BillingUsage], error) {
		rec, err := s.repo.GetBillingUsage(ctx, f.CompanyID, f.DateRange)
		if err != nil {
			return fetched[*analytics.BillingUsage]{}, err
		}
		if rec == nil {
			return fetched[*analytics.BillingUsage]{}, apperrors.NewNotFoundError("billing account")
		}
		return fetched[*analytics.BillingUsage]{value: UsageFromRecord(*rec), entities: 1}, nil
	})
}

// UsageFromRecord derives usage percentages from a billing record
func UsageFromRecord(rec analytics.BillingRecord) *analytics.BillingUsage {
	return &analytics.BillingUsage{
		CompanyID:    rec.CompanyID,
		PlanName:     rec.PlanName,
		EmailsSent:   rec.EmailsSent,
		EmailsLimit:  rec.EmailsLimit,
		UsagePercent: 100 * ratio(rec.EmailsSent, rec.EmailsLimit),
		Spend:        rec.Spend,
		Currency:     rec.Currency,
		ActiveSeats:  rec.ActiveSeats,
		SeatsAllowed: rec.SeatsAllowed,
		OverLimit:    rec.EmailsLimit > 0 && rec.EmailsSent > rec.EmailsLimit,
	}
}

// Overview reports billing usage. Without a company there is nothing to report.
func (s *BillingService) Overview(ctx context.Context, filters *analytics.Filters) (*analytics.DomainOverview, error) {
	f, err := s.prepare(filters)
	if err != nil {
		return nil, err
	}

	overview := &analytics.DomainOverview{Domain: s.domain}
	if f.CompanyID == "" {
		return overview, nil
	}

	usage, err := s.usage(ctx, analytics.OpOverview, f)
	if err != nil {
		return nil, err
	}
	overview.EntityCount = 1
	overview.Billing = usage
	return overview, nil
}

func (s *BillingService) HealthCheck(ctx context.Context) ServiceHealth {
	return s.healthCheck(ctx, s.repo)
}
