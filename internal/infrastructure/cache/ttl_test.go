package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

func TestTTLPolicy_Base(t *testing.T) {
	policy := NewTTLPolicy(0)

	tests := []struct {
		domain analytics.Domain
		op     analytics.Operation
		want   time.Duration
	}{
		{analytics.DomainCampaigns, analytics.OpPerformance, 300 * time.Second},
		{analytics.DomainCampaigns, analytics.OpTimeSeries, 900 * time.Second},
		{analytics.DomainCampaigns, analytics.OpOverview, 300 * time.Second},
		{analytics.DomainDomains, analytics.OpPerformance, 900 * time.Second},
		{analytics.DomainDomains, analytics.OpHealth, 900 * time.Second},
		{analytics.DomainMailboxes, analytics.OpHealth, 300 * time.Second},
		{analytics.DomainBilling, analytics.OpUsage, 3600 * time.Second},
		{analytics.DomainBilling, analytics.OpOverview, 3600 * time.Second},
		{analytics.DomainBilling, analytics.OpTimeSeries, DefaultTTL},
	}

	for _, tt := range tests {
		t.Run(string(tt.domain)+"/"+string(tt.op), func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Base(tt.domain, tt.op))
		})
	}
}

func TestTTLPolicy_Adjust(t *testing.T) {
	policy := NewTTLPolicy(0)
	base := 300 * time.Second

	tests := []struct {
		name string
		in   AdjustInput
		want time.Duration
	}{
		{"unchanged", AdjustInput{PayloadBytes: 1024, EntityCount: 5, DateRangeDays: 30}, 300 * time.Second},
		{"long range", AdjustInput{DateRangeDays: 120}, 600 * time.Second},
		{"range at threshold", AdjustInput{DateRangeDays: 90}, 300 * time.Second},
		{"large payload", AdjustInput{PayloadBytes: 100*1024 + 1}, 600 * time.Second},
		{"payload at threshold", AdjustInput{PayloadBytes: 100 * 1024}, 300 * time.Second},
		{"many entities", AdjustInput{EntityCount: 51}, 450 * time.Second},
		{"everything", AdjustInput{PayloadBytes: 200 * 1024, EntityCount: 100, DateRangeDays: 365}, 1800 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Adjust(base, tt.in))
		})
	}
}

func TestTTLPolicy_Cap(t *testing.T) {
	policy := NewTTLPolicy(time.Hour)
	assert.Equal(t, time.Hour, policy.MaxTTL())

	got := policy.Adjust(time.Hour, AdjustInput{DateRangeDays: 365})
	assert.Equal(t, time.Hour, got)

	assert.Equal(t, DefaultMaxTTL, NewTTLPolicy(0).MaxTTL())
}
