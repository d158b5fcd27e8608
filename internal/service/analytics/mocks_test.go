package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

type MockCampaignRepository struct {
	mock.Mock
}

func (m *MockCampaignRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockCampaignRepository) ListCampaignMetrics(ctx context.Context, companyID string, ids []string, r analytics.DateRange) ([]analytics.CampaignRecord, error) {
	args := m.Called(ctx, companyID, ids, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]analytics.CampaignRecord), args.Error(1)
}

func (m *MockCampaignRepository) CampaignTimeSeries(ctx context.Context, companyID string, ids []string, r analytics.DateRange, g analytics.Granularity) ([]analytics.TimeSeriesRecord, error) {
	args := m.Called(ctx, companyID, ids, r, g)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]analytics.TimeSeriesRecord), args.Error(1)
}

type MockSendingDomainRepository struct {
	mock.Mock
}

func (m *MockSendingDomainRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSendingDomainRepository) ListDomainMetrics(ctx context.Context, companyID string, ids []string, r analytics.DateRange) ([]analytics.SendingDomainRecord, error) {
	args := m.Called(ctx, companyID, ids, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]analytics.SendingDomainRecord), args.Error(1)
}

type MockMailboxRepository struct {
	mock.Mock
}

func (m *MockMailboxRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockMailboxRepository) ListMailboxMetrics(ctx context.Context, companyID string, ids []string, r analytics.DateRange) ([]analytics.MailboxRecord, error) {
	args := m.Called(ctx, companyID, ids, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]analytics.MailboxRecord), args.Error(1)
}

type MockBillingRepository struct {
	mock.Mock
}

func (m *MockBillingRepository) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBillingRepository) GetBillingUsage(ctx context.Context, companyID string, r analytics.DateRange) (*analytics.BillingRecord, error) {
	args := m.Called(ctx, companyID, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analytics.BillingRecord), args.Error(1)
}

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingObserver counts observer callbacks
type recordingObserver struct {
	mu      sync.Mutex
	lookups map[string]int
	stale   int
	fetches int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{lookups: make(map[string]int)}
}

func (o *recordingObserver) CacheLookup(_ analytics.Domain, _ analytics.Operation, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups[status]++
}

func (o *recordingObserver) CacheWrite(analytics.Domain, analytics.Operation, bool) {}

func (o *recordingObserver) Fetch(analytics.Domain, analytics.Operation, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches++
}

func (o *recordingObserver) StaleServed(analytics.Domain, analytics.Operation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stale++
}

// stubService is a DomainService with canned answers
type stubService struct {
	domain   analytics.Domain
	overview *analytics.DomainOverview
	err      error
	panics   bool
	health   ServiceHealth
	deleted  int64
}

func (s *stubService) Domain() analytics.Domain { return s.domain }

func (s *stubService) Overview(context.Context, *analytics.Filters) (*analytics.DomainOverview, error) {
	if s.panics {
		panic("boom")
	}
	return s.overview, s.err
}

func (s *stubService) HealthCheck(context.Context) ServiceHealth {
	h := s.health
	h.Domain = s.domain
	return h
}

func (s *stubService) Invalidate(context.Context, []string) int64 { return s.deleted }
