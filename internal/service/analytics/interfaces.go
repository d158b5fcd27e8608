package analytics

import (
	"context"
	"time"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// Repository interfaces for data access

type Pinger interface {
	Ping(ctx context.Context) error
}

type CampaignRepository interface {
	Pinger
	ListCampaignMetrics(ctx context.Context, companyID string, ids []string, r analytics.DateRange) ([]analytics.CampaignRecord, error)
	CampaignTimeSeries(ctx context.Context, companyID string, ids []string, r analytics.DateRange, g analytics.Granularity) ([]analytics.TimeSeriesRecord, error)
}

type SendingDomainRepository interface {
	Pinger
	ListDomainMetrics(ctx context.Context, companyID string, ids []string, r analytics.DateRange) ([]analytics.SendingDomainRecord, error)
}

type MailboxRepository interface {
	Pinger
	ListMailboxMetrics(ctx context.Context, companyID string, ids []string, r analytics.DateRange) ([]analytics.MailboxRecord, error)
}

type BillingRepository interface {
	Pinger
	GetBillingUsage(ctx context.Context, companyID string, r analytics.DateRange) (*analytics.BillingRecord, error)
}

// DomainService is what the coordinator needs from each domain
type DomainService interface {
	Domain() analytics.Domain
	Overview(ctx context.Context, filters *analytics.Filters) (*analytics.DomainOverview, error)
	HealthCheck(ctx context.Context) ServiceHealth
	Invalidate(ctx context.Context, ids []string) int64
}

// ServiceHealth is the result of probing one domain service
type ServiceHealth struct {
	Domain         analytics.Domain `json:"domain"`
	Healthy        bool             `json:"healthy"`
	CacheAvailable bool             `json:"cacheAvailable"`
	DataStoreError string           `json:"dataStoreError,omitempty"`
	Latency        time.Duration    `json:"latencyNs"`
}

// Observer receives cache and fetch measurements
type Observer interface {
	CacheLookup(domain analytics.Domain, op analytics.Operation, status string)
	CacheWrite(domain analytics.Domain, op analytics.Operation, ok bool)
	Fetch(domain analytics.Domain, op analytics.Operation, d time.Duration, err error)
	StaleServed(domain analytics.Domain, op analytics.Operation)
}

type nopObserver struct{}

func (nopObserver) CacheLookup(analytics.Domain, analytics.Operation, string) {}
func (nopObserver) CacheWrite(analytics.Domain, analytics.Operation, bool) {}
func (nopObserver) Fetch(analytics.Domain, analytics.Operation, time.Duration, error) {}
func (nopObserver) StaleServed(analytics.Domain, analytics.Operation) {}
