package analytics

import (
	"math"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// Health score weights. Bounces count against the score.
const (
	weightDelivery = 0.35
	weightOpen     = 0.25
	weightClick    = 0.15
	weightReply    = 0.25
	weightBounce   = 0.50
)

func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// OpenRate is opened_tracked over delivered
func OpenRate(opened, delivered int64) float64 { return ratio(opened, delivered) }

// ClickRate is clicked_tracked over delivered
func ClickRate(clicked, delivered int64) float64 { return ratio(clicked, delivered) }

// ReplyRate is replied over delivered
func ReplyRate(replied, delivered int64) float64 { return ratio(replied, delivered) }

// BounceRate is bounced over sent
func BounceRate(bounced, sent int64) float64 { return ratio(bounced, sent) }

// DeliveryRate is delivered over sent
func DeliveryRate(delivered, sent int64) float64 { return ratio(delivered, sent) }

// UnsubscribeRate is unsubscribed over delivered
func UnsubscribeRate(unsubscribed, delivered int64) float64 { return ratio(unsubscribed, delivered) }

// SpamRate is spam complaints over delivered
func SpamRate(complaints, delivered int64) float64 { return ratio(complaints, delivered) }

// CalculateRates derives every rate from raw counters
func CalculateRates(m analytics.PerformanceMetrics) analytics.Rates {
	return analytics.Rates{
		OpenRate:        OpenRate(m.OpenedTracked, m.Delivered),
		ClickRate:       ClickRate(m.ClickedTracked, m.Delivered),
		ReplyRate:       ReplyRate(m.Replied, m.Delivered),
		BounceRate:      BounceRate(m.Bounced, m.Sent),
		DeliveryRate:    DeliveryRate(m.Delivered, m.Sent),
		UnsubscribeRate: UnsubscribeRate(m.Unsubscribed, m.Delivered),
		SpamRate:        SpamRate(m.SpamComplaints, m.Delivered),
	}
}

// HealthScore condenses the counters into a 0-100 score
func HealthScore(m analytics.PerformanceMetrics) float64 {
	r := CalculateRates(m)
	score := 100 * (weightDelivery*r.DeliveryRate +
		weightOpen*r.OpenRate +
		weightClick*r.ClickRate +
		weightReply*r.ReplyRate -
		weightBounce*r.BounceRate)
	return math.Max(0, math.Min(100, score))
}

// AggregateMetrics sums counters. An empty list yields zero metrics.
func AggregateMetrics(list []analytics.PerformanceMetrics) analytics.PerformanceMetrics {
	var total analytics.PerformanceMetrics
	for _, m := range list {
		total.Sent += m.Sent
		total.Delivered += m.Delivered
		total.OpenedTracked += m.OpenedTracked
		total.ClickedTracked += m.ClickedTracked
		total.Replied += m.Replied
		total.Bounced += m.Bounced
		total.Unsubscribed += m.Unsubscribed
		total.SpamComplaints += m.SpamComplaints
	}
	return total
}

// ValidateMetrics returns the JSON names of negative counters
func ValidateMetrics(m analytics.PerformanceMetrics) []string {
	var invalid []string
	check := func(name string, v int64) {
		if v < 0 {
			invalid = append(invalid, name)
		}
	}
	check("sent", m.Sent)
	check("delivered", m.Delivered)
	check("opened_tracked", m.OpenedTracked)
	check("clicked_tracked", m.ClickedTracked)
	check("replied", m.Replied)
	check("bounced", m.Bounced)
	check("unsubscribed", m.Unsubscribed)
	check("spamComplaints", m.SpamComplaints)
	return invalid
}

// ConsistencyWarnings reports counters that exceed the counter they derive from.
// Callers log these and never reject the result.
func ConsistencyWarnings(m analytics.PerformanceMetrics) []string {
	var warnings []string
	if m.Delivered > m.Sent {
		warnings = append(warnings, "delivered exceeds sent")
	}
	if m.OpenedTracked > m.Delivered {
		warnings = append(warnings, "opened_tracked exceeds delivered")
	}
	if m.ClickedTracked > m.Delivered {
		warnings = append(warnings, "clicked_tracked exceeds delivered")
	}
	if m.Replied > m.Delivered {
		warnings = append(warnings, "replied exceeds delivered")
	}
	return warnings
}
