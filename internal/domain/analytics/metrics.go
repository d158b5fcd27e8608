package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceMetrics holds raw counters for one entity over one period
type PerformanceMetrics struct {
	Sent           int64 `json:"sent"`
	Delivered      int64 `json:"delivered"`
	OpenedTracked  int64 `json:"opened_tracked"`
	ClickedTracked int64 `json:"clicked_tracked"`
	Replied        int64 `json:"replied"`
	Bounced        int64 `json:"bounced"`
	Unsubscribed   int64 `json:"unsubscribed"`
	SpamComplaints int64 `json:"spamComplaints"`
}

// Rates are derived from PerformanceMetrics, expressed as fractions in [0,1]
type Rates struct {
	OpenRate        float64 `json:"openRate"`
	ClickRate       float64 `json:"clickRate"`
	ReplyRate       float64 `json:"replyRate"`
	BounceRate      float64 `json:"bounceRate"`
	DeliveryRate    float64 `json:"deliveryRate"`
	UnsubscribeRate float64 `json:"unsubscribeRate"`
	SpamRate        float64 `json:"spamRate"`
}

// TimeSeriesDataPoint is one bucket of a time series
type TimeSeriesDataPoint struct {
	Date    time.Time          `json:"date"`
	Label   string             `json:"label"`
	Metrics PerformanceMetrics `json:"metrics"`
}

// Records returned by the data store

type CampaignRecord struct {
	ID      string
	Name    string
	Status  string
	Metrics PerformanceMetrics
}

type SendingDomainRecord struct {
	ID            string
	Name          string
	SPFVerified   bool
	DKIMVerified  bool
	DMARCVerified bool
	Metrics       PerformanceMetrics
}

type MailboxRecord struct {
	ID           string
	Email        string
	DomainID     string
	WarmupStatus string
	DailyLimit   int64
	Metrics      PerformanceMetrics
}

type BillingRecord struct {
	CompanyID    string
	PlanName     string
	EmailsLimit  int64
	EmailsSent   int64
	Spend        decimal.Decimal
	Currency     string
	ActiveSeats  int64
	SeatsAllowed int64
}

type TimeSeriesRecord struct {
	EntityID string
	Bucket   time.Time
	Metrics  PerformanceMetrics
}

// Analytics shapes returned by the domain services

type CampaignAnalytics struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	Metrics     PerformanceMetrics `json:"metrics"`
	Rates       Rates              `json:"rates"`
	HealthScore float64            `json:"healthScore"`
}

type SendingDomainAnalytics struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Authentication DomainAuth         `json:"authentication"`
	Metrics        PerformanceMetrics `json:"metrics"`
	Rates          Rates              `json:"rates"`
	HealthScore    float64            `json:"healthScore"`
}

type DomainAuth struct {
	SPF   bool `json:"spf"`
	DKIM  bool `json:"dkim"`
	DMARC bool `json:"dmarc"`
}

// FullyAuthenticated reports whether SPF, DKIM and DMARC all pass
func (a DomainAuth) FullyAuthenticated() bool {
	return a.SPF && a.DKIM && a.DMARC
}

type MailboxAnalytics struct {
	ID           string             `json:"id"`
	Email        string             `json:"email"`
	DomainID     string             `json:"domainId"`
	WarmupStatus string             `json:"warmupStatus"`
	DailyLimit   int64              `json:"dailyLimit"`
	Utilization  float64            `json:"utilization"`
	Metrics      PerformanceMetrics `json:"metrics"`
	Rates        Rates              `json:"rates"`
	HealthScore  float64            `json:"healthScore"`
}

type BillingUsage struct {
	CompanyID    string          `json:"companyId"`
	PlanName     string          `json:"planName"`
	EmailsSent   int64           `json:"emailsSent"`
	EmailsLimit  int64           `json:"emailsLimit"`
	UsagePercent float64         `json:"usagePercent"`
	Spend        decimal.Decimal `json:"spend"`
	Currency     string          `json:"currency"`
	ActiveSeats  int64           `json:"activeSeats"`
	SeatsAllowed int64           `json:"seatsAllowed"`
	OverLimit    bool            `json:"overLimit"`
}

// DomainOverview is one domain's contribution to a dashboard overview
type DomainOverview struct {
	Domain      Domain             `json:"domain"`
	EntityCount int                `json:"entityCount"`
	Metrics     PerformanceMetrics `json:"metrics"`
	Rates       Rates              `json:"rates"`
	HealthScore float64            `json:"healthScore"`
	Billing     *BillingUsage      `json:"billing,omitempty"`
}

// DomainFailure records a domain excluded from an overview
type DomainFailure struct {
	Domain Domain `json:"domain"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// OverviewMetrics is the fan-in result of the coordinator
type OverviewMetrics struct {
	Domains            map[Domain]*DomainOverview `json:"domains"`
	Failures           []DomainFailure            `json:"failures,omitempty"`
	OverallHealthScore float64                    `json:"overallHealthScore"`
	GeneratedAt        time.Time                  `json:"generatedAt"`
}
