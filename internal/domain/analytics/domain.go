// Package analytics holds the value types shared by the analytics cache,
// the per-domain services and the HTTP surface.
package analytics

import "fmt"

// Domain is a business area with its own analytics service
type Domain string

const (
	DomainCampaigns Domain = "campaigns"
	DomainDomains   Domain = "domains"
	DomainMailboxes Domain = "mailboxes"
	DomainBilling   Domain = "billing"
)

// AllDomains lists every domain in coordinator order
var AllDomains = []Domain{DomainCampaigns, DomainDomains, DomainMailboxes, DomainBilling}

// ParseDomain converts a path segment into a Domain
func ParseDomain(s string) (Domain, error) {
	for _, d := range AllDomains {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown analytics domain %q", s)
}

func (d Domain) String() string {
	return string(d)
}

// Operation names a read operation of a domain service
type Operation string

const (
	OpPerformance Operation = "performance"
	OpTimeSeries  Operation = "time_series"
	OpOverview    Operation = "overview"
	OpHealth      Operation = "health"
	OpUsage       Operation = "usage"
)

func (o Operation) String() string {
	return string(o)
}

// Granularity of a time series
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// ParseGranularity defaults to day for empty input
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "":
		return GranularityDay, nil
	case GranularityDay, GranularityWeek, GranularityMonth:
		return Granularity(s), nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}
