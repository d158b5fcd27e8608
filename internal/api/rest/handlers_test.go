package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
	"github.com/davidleathers/outreach-analytics-backend/internal/infrastructure/cache"
	analyticssvc "github.com/davidleathers/outreach-analytics-backend/internal/service/analytics"
)

const testSecret = "test-secret"

// fakeRepo serves fixed records for every domain and remembers the last tenant queried
type fakeRepo struct {
	mu          sync.Mutex
	lastCompany string
	lastIDs     []string
	err         error
	pingErr     error
}

func (f *fakeRepo) record(companyID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCompany = companyID
	f.lastIDs = ids
	return f.err
}

func (f *fakeRepo) company() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCompany
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

func sampleMetrics() analytics.PerformanceMetrics {
	return analytics.PerformanceMetrics{Sent: 100, Delivered: 95, OpenedTracked: 38, ClickedTracked: 10, Replied: 5, Bounced: 5}
}

func (f *fakeRepo) ListCampaignMetrics(_ context.Context, companyID string, ids []string, _ analytics.DateRange) ([]analytics.CampaignRecord, error) {
	if err := f.record(companyID, ids); err != nil {
		return nil, err
	}
	return []analytics.CampaignRecord{{ID: "c-1", Name: "Launch", Status: "active", Metrics: sampleMetrics()}}, nil
}

func (f *fakeRepo) CampaignTimeSeries(_ context.Context, companyID string, ids []string, _ analytics.DateRange, _ analytics.Granularity) ([]analytics.TimeSeriesRecord, error) {
	if err := f.record(companyID, ids); err != nil {
		return nil, err
	}
	return []analytics.TimeSeriesRecord{
		{EntityID: "c-1", Bucket: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), Metrics: sampleMetrics()},
	}, nil
}

func (f *fakeRepo) ListDomainMetrics(_ context.Context, companyID string, ids []string, _ analytics.DateRange) ([]analytics.SendingDomainRecord, error) {
	if err := f.record(companyID, ids); err != nil {
		return nil, err
	}
	return []analytics.SendingDomainRecord{{ID: "d-1", Name: "mail.example.com", SPFVerified: true, Metrics: sampleMetrics()}}, nil
}

func (f *fakeRepo) ListMailboxMetrics(_ context.Context, companyID string, ids []string, _ analytics.DateRange) ([]analytics.MailboxRecord, error) {
	if err := f.record(companyID, ids); err != nil {
		return nil, err
	}
	return []analytics.MailboxRecord{{ID: "m-1", Email: "a@example.com", DailyLimit: 50, Metrics: sampleMetrics()}}, nil
}

func (f *fakeRepo) GetBillingUsage(_ context.Context, companyID string, _ analytics.DateRange) (*analytics.BillingRecord, error) {
	if err := f.record(companyID, nil); err != nil {
		return nil, err
	}
	return &analytics.BillingRecord{
		CompanyID:   companyID,
		PlanName:    "growth",
		EmailsLimit: 1000,
		EmailsSent:  250,
		Spend:       decimal.RequireFromString("49.90"),
		Currency:    "USD",
	}, nil
}

type testEnv struct {
	handler http.Handler
	repo    *fakeRepo
	auth    *Authenticator
	reg     *prometheus.Registry
}

func newTestEnv(t *testing.T, withAuth bool, limiter *TenantLimiter) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo := &fakeRepo{}

	deps := analyticssvc.Dependencies{
		Store:   cache.NewNoopStore(),
		Logger:  logger,
		Retrier: analyticssvc.Retrier{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
	campaigns := analyticssvc.NewCampaignService(repo, deps)
	domains := analyticssvc.NewSendingDomainService(repo, deps)
	mailboxes := analyticssvc.NewMailboxService(repo, deps)
	billing := analyticssvc.NewBillingService(repo, deps)
	coordinator := analyticssvc.NewCoordinator(deps.Store, analyticssvc.NewHealthTracker(0, 0, nil), logger,
		campaigns, domains, mailboxes, billing)

	var auth *Authenticator
	if withAuth {
		auth = NewAuthenticator(testSecret, "outreach-app")
	}
	reg := prometheus.NewRegistry()

	handler := NewRouter(Services{
		Coordinator: coordinator,
		Campaigns:   campaigns,
		Domains:     domains,
		Mailboxes:   mailboxes,
		Billing:     billing,
	}, RouterConfig{
		Version:  "test",
		Auth:     auth,
		Limiter:  limiter,
		Metrics:  NewHTTPMetrics(reg),
		Gatherer: reg,
		Logger:   logger,
	})

	return &testEnv{handler: handler, repo: repo, auth: auth, reg: reg}
}

func (e *testEnv) token(t *testing.T, companyID, role string) string {
	t.Helper()
	token, err := e.auth.GenerateToken("user-1", companyID, role, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Error   *analytics.ActionError `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

const mayRange = "start=2024-05-01&end=2024-05-31"

func TestOverview(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(http.MethodGet, "/api/v1/analytics/overview?company=co-1&"+mayRange, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	res := decode(t, w)
	assert.True(t, res.Success)

	var overview analytics.OverviewMetrics
	require.NoError(t, json.Unmarshal(res.Data, &overview))
	assert.Contains(t, overview.Domains, analytics.DomainCampaigns)
	assert.Contains(t, overview.Domains, analytics.DomainBilling)
	assert.Empty(t, overview.Failures)
	assert.Greater(t, overview.OverallHealthScore, 0.0)
}

func TestOverview_DomainFailureIsReported(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.repo.err = apperrors.NewNetworkError("postgres", "connection reset")

	w := env.do(http.MethodGet, "/api/v1/analytics/overview?company=co-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var overview analytics.OverviewMetrics
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &overview))
	assert.Len(t, overview.Failures, 4)
	assert.Equal(t, "NETWORK_ERROR", overview.Failures[0].Code)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, true, nil)

	t.Run("missing token", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		res := decode(t, w)
		assert.False(t, res.Success)
		assert.Equal(t, "UNAUTHORIZED", res.Error.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		other := NewAuthenticator("another-secret", "outreach-app")
		token, err := other.GenerateToken("user-1", "co-1", "", time.Hour)
		require.NoError(t, err)

		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := env.auth.GenerateToken("user-1", "co-1", "", -time.Hour)
		require.NoError(t, err)

		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing company claim", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns", env.token(t, "", ""), nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token company overrides query", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns?company=intruder&ids=c-1,c-2", env.token(t, "co-1", ""), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "co-1", env.repo.company())
		assert.Equal(t, []string{"c-1", "c-2"}, env.repo.lastIDs)
	})

	t.Run("probes are public", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "", nil).Code)
	})
}

func TestCampaignEndpoints(t *testing.T) {
	env := newTestEnv(t, false, nil)

	t.Run("performance", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns?"+mayRange, "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var result []analytics.CampaignAnalytics
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
		require.Len(t, result, 1)
		assert.InDelta(t, 0.4, result[0].Rates.OpenRate, 1e-9)
	})

	t.Run("time series", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns/timeseries?granularity=month&"+mayRange, "", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var points []analytics.TimeSeriesDataPoint
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &points))
		require.Len(t, points, 1)
		assert.Equal(t, "2024-05", points[0].Label)
	})

	t.Run("bad granularity", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns/timeseries?granularity=hour", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_GRANULARITY", decode(t, w).Error.Code)
	})

	t.Run("inverted range", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns?start=2024-05-31&end=2024-05-01", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_FILTERS", decode(t, w).Error.Code)
	})

	t.Run("half range", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns?start=2024-05-01", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_TIME_RANGE", decode(t, w).Error.Code)
	})

	t.Run("data store failure", func(t *testing.T) {
		env.repo.err = apperrors.NewServiceUnavailableError("postgres", "too many connections")
		defer func() { env.repo.err = nil }()

		w := env.do(http.MethodGet, "/api/v1/analytics/campaigns?"+mayRange+"&filter.status=paused", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decode(t, w).Error.Code)
	})
}

func TestDomainMailboxBillingEndpoints(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(http.MethodGet, "/api/v1/analytics/domains?"+mayRange, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var domains []analytics.SendingDomainAnalytics
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &domains))
	require.Len(t, domains, 1)
	assert.True(t, domains[0].Authentication.SPF)

	w = env.do(http.MethodGet, "/api/v1/analytics/mailboxes?"+mayRange, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/analytics/billing/usage?"+mayRange, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "COMPANY_REQUIRED", decode(t, w).Error.Code)

	w = env.do(http.MethodGet, "/api/v1/analytics/billing/usage?company=co-1&"+mayRange, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var usage analytics.BillingUsage
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &usage))
	assert.InDelta(t, 25.0, usage.UsagePercent, 1e-9)
	assert.True(t, decimal.RequireFromString("49.90").Equal(usage.Spend))
}

func TestQueryEndpoint(t *testing.T) {
	env := newTestEnv(t, true, nil)
	token := env.token(t, "co-1", "")

	t.Run("legacy entity payload", func(t *testing.T) {
		body := []byte(`{"from":"2024-05-01","to":"2024-05-31","mailboxIds":["m-1"],"company_id":"someone-else"}`)
		w := env.do(http.MethodPost, "/api/v1/analytics/mailboxes/query", token, body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "co-1", env.repo.company())
		assert.Equal(t, []string{"m-1"}, env.repo.lastIDs)
	})

	t.Run("current payload", func(t *testing.T) {
		body := []byte(`{"dateRange":{"start":"2024-05-01T00:00:00Z","end":"2024-05-31T23:59:59Z"},"entityIds":["c-1"]}`)
		w := env.do(http.MethodPost, "/api/v1/analytics/campaigns/query", token, body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("billing", func(t *testing.T) {
		body := []byte(`{"startDate":"2024-05-01","endDate":"2024-05-31"}`)
		w := env.do(http.MethodPost, "/api/v1/analytics/billing/query", token, body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	})

	t.Run("unknown domain", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/analytics/contacts/query", token, []byte(`{}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "UNKNOWN_DOMAIN", decode(t, w).Error.Code)
	})

	t.Run("unrecognized payload", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/analytics/campaigns/query", token, []byte(`{"range":"last week"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_FILTERS", decode(t, w).Error.Code)
	})

	t.Run("body too large", func(t *testing.T) {
		big := []byte(`{"from":"` + strings.Repeat("x", maxBodyBytes) + `"}`)
		w := env.do(http.MethodPost, "/api/v1/analytics/campaigns/query", token, big)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "PAYLOAD_TOO_LARGE", decode(t, w).Error.Code)
	})
}

func TestCacheAdministration(t *testing.T) {
	env := newTestEnv(t, true, nil)

	t.Run("invalidate", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/analytics/cache/invalidate", env.token(t, "co-1", ""),
			[]byte(`{"domain":"campaigns","entityIds":["c-1"]}`))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"deleted":0}`, string(decode(t, w).Data))
	})

	t.Run("domain-wide invalidate requires admin", func(t *testing.T) {
		for _, body := range []string{`{"domain":"campaigns"}`, `{"domain":"campaigns","entityIds":[" "]}`} {
			w := env.do(http.MethodPost, "/api/v1/analytics/cache/invalidate", env.token(t, "co-1", ""), []byte(body))
			assert.Equal(t, http.StatusForbidden, w.Code, body)
			assert.Equal(t, "FORBIDDEN", decode(t, w).Error.Code)
		}

		w := env.do(http.MethodPost, "/api/v1/analytics/cache/invalidate", env.token(t, "co-1", RoleAdmin),
			[]byte(`{"domain":"campaigns"}`))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("invalidate unknown domain", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/analytics/cache/invalidate", env.token(t, "co-1", ""),
			[]byte(`{"domain":"contacts"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("flush requires admin", func(t *testing.T) {
		w := env.do(http.MethodDelete, "/api/v1/analytics/cache", env.token(t, "co-1", ""), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = env.do(http.MethodDelete, "/api/v1/analytics/cache", env.token(t, "co-1", RoleAdmin), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("stats", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/cache/stats", env.token(t, "co-1", RoleAdmin), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"backend":"none"}`, string(decode(t, w).Data))
	})

	t.Run("health and reset", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/analytics/health", env.token(t, "co-1", ""), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var report analyticssvc.HealthReport
		require.NoError(t, json.Unmarshal(decode(t, w).Data, &report))
		assert.True(t, report.Healthy)
		assert.False(t, report.CacheAvailable)

		w = env.do(http.MethodPost, "/api/v1/analytics/health/reset", env.token(t, "co-1", RoleAdmin), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, true, NewTenantLimiter(1, 1))
	first := env.token(t, "co-1", "")
	second := env.token(t, "co-2", "")

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/analytics/campaigns", first, nil).Code)

	w := env.do(http.MethodGet, "/api/v1/analytics/campaigns", first, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode(t, w).Error.Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/analytics/campaigns", second, nil).Code,
		"buckets are per tenant")
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "warn", resp.Status, "no cache configured")

	env.repo.pingErr = apperrors.NewNetworkError("postgres", "refused")
	w = env.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.do(http.MethodGet, "/api/v1/analytics/campaigns", "", nil)

	w := env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `outreach_api_http_requests_total{method="GET",route="GET /api/v1/analytics/campaigns",status="200"} 1`)
}

func TestRequestIDAndRecovery(t *testing.T) {
	env := newTestEnv(t, false, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = env.do(http.MethodGet, "/healthz", "", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	panicky := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RecoveryMiddleware(zaptest.NewLogger(t)))
	w = httptest.NewRecorder()
	panicky.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode(t, w).Error.Code)
}

func TestTenantLimiterSweep(t *testing.T) {
	l := NewTenantLimiter(5, 5)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("company:co-1")
	now = now.Add(5 * time.Minute)
	l.Allow("company:co-2")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	assert.Nil(t, NewTenantLimiter(0, 0))
}

func TestNewTenantLimiter_DefaultBurst(t *testing.T) {
	tests := []struct {
		rps  float64
		want int
	}{
		{0.5, 1},
		{2.5, 3},
		{10, 10},
	}
	for _, tt := range tests {
		l := NewTenantLimiter(tt.rps, 0)
		assert.Equal(t, tt.want, l.burst)
	}

	slow := NewTenantLimiter(0.5, 0)
	assert.True(t, slow.Allow("company:co-1"), "a sub-second rate still admits the first request")
	assert.False(t, slow.Allow("company:co-1"))
}
