package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

func sampleMetrics() analytics.PerformanceMetrics {
	return analytics.PerformanceMetrics{
		Sent:           1000,
		Delivered:      950,
		OpenedTracked:  380,
		ClickedTracked: 95,
		Replied:        20,
		Bounced:        10,
		Unsubscribed:   2,
		SpamComplaints: 0,
	}
}

func TestRates(t *testing.T) {
	assert.Equal(t, 0.4, OpenRate(380, 950))
	assert.Equal(t, 0.1, ClickRate(95, 950))
	assert.Equal(t, 0.01, BounceRate(10, 1000))
	assert.Equal(t, 0.95, DeliveryRate(950, 1000))
	assert.InDelta(t, 0.0210526, ReplyRate(20, 950), 1e-6)

	t.Run("zero denominators", func(t *testing.T) {
		rates := CalculateRates(analytics.PerformanceMetrics{OpenedTracked: 5, ClickedTracked: 3, Replied: 1})
		assert.Equal(t, analytics.Rates{}, rates)
		assert.Zero(t, OpenRate(10, 0))
		assert.Zero(t, BounceRate(10, 0))
	})
}

func TestHealthScore(t *testing.T) {
	t.Run("sample counters", func(t *testing.T) {
		assert.InDelta(t, 44.776316, HealthScore(sampleMetrics()), 1e-6)
	})

	t.Run("empty metrics", func(t *testing.T) {
		assert.Zero(t, HealthScore(analytics.PerformanceMetrics{}))
	})

	t.Run("clamped at zero", func(t *testing.T) {
		m := analytics.PerformanceMetrics{Sent: 100, Bounced: 100}
		assert.Zero(t, HealthScore(m))
	})

	t.Run("bounded above", func(t *testing.T) {
		m := analytics.PerformanceMetrics{Sent: 10, Delivered: 10, OpenedTracked: 40, ClickedTracked: 40, Replied: 40}
		assert.Equal(t, 100.0, HealthScore(m))
	})
}

func TestAggregateMetrics(t *testing.T) {
	assert.Equal(t, analytics.PerformanceMetrics{}, AggregateMetrics(nil))
	assert.Equal(t, analytics.PerformanceMetrics{}, AggregateMetrics([]analytics.PerformanceMetrics{}))

	a := sampleMetrics()
	b := analytics.PerformanceMetrics{Sent: 10, Delivered: 9, OpenedTracked: 4, Bounced: 1}
	c := analytics.PerformanceMetrics{Sent: 5, Delivered: 5, Replied: 2, SpamComplaints: 1}

	total := AggregateMetrics([]analytics.PerformanceMetrics{a, b, c})
	assert.Equal(t, total, AggregateMetrics([]analytics.PerformanceMetrics{c, a, b}))
	assert.Equal(t, int64(1015), total.Sent)
	assert.Equal(t, int64(964), total.Delivered)
	assert.Equal(t, int64(1), total.SpamComplaints)

	assert.Empty(t, ValidateMetrics(total))
}

func TestValidateMetrics(t *testing.T) {
	assert.Empty(t, ValidateMetrics(sampleMetrics()))

	m := sampleMetrics()
	m.Bounced = -1
	m.SpamComplaints = -3
	assert.Equal(t, []string{"bounced", "spamComplaints"}, ValidateMetrics(m))

	t.Run("cross field relations are not enforced", func(t *testing.T) {
		m := analytics.PerformanceMetrics{Sent: 1, Delivered: 5, OpenedTracked: 9}
		assert.Empty(t, ValidateMetrics(m))
		assert.Equal(t, []string{"delivered exceeds sent", "opened_tracked exceeds delivered"}, ConsistencyWarnings(m))
	})
}
