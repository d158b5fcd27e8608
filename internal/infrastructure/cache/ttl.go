package cache

import (
	"time"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

const (
	// DefaultTTL applies to any domain and operation pair missing from the table
	DefaultTTL = 5 * time.Minute
	// DefaultMaxTTL caps adjusted TTLs
	DefaultMaxTTL = 24 * time.Hour

	largePayloadBytes  = 100 * 1024
	manyEntities       = 50
	longRangeDays      = 90
	largePayloadFactor = 2.0
	manyEntitiesFactor = 1.5
	longRangeFactor    = 2.0
)

type ttlKey struct {
	domain    analytics.Domain
	operation analytics.Operation
}

var baseTTLs = map[ttlKey]time.Duration{
	{analytics.DomainCampaigns, analytics.OpPerformance}: 5 * time.Minute,
	{analytics.DomainCampaigns, analytics.OpTimeSeries}:  15 * time.Minute,
	{analytics.DomainCampaigns, analytics.OpOverview}:    5 * time.Minute,
	{analytics.DomainDomains, analytics.OpPerformance}:   15 * time.Minute,
	{analytics.DomainDomains, analytics.OpHealth}:        15 * time.Minute,
	{analytics.DomainDomains, analytics.OpOverview}:      15 * time.Minute,
	{analytics.DomainMailboxes, analytics.OpPerformance}: 5 * time.Minute,
	{analytics.DomainMailboxes, analytics.OpHealth}:      5 * time.Minute,
	{analytics.DomainMailboxes, analytics.OpOverview}:    5 * time.Minute,
	{analytics.DomainBilling, analytics.OpUsage}:         time.Hour,
	{analytics.DomainBilling, analytics.OpOverview}:      time.Hour,
}

// AdjustInput describes a computed result for TTL scaling
type AdjustInput struct {
	PayloadBytes  int
	EntityCount   int
	DateRangeDays int
}

// TTLPolicy maps domain operations to cache lifetimes
type TTLPolicy struct {
	maxTTL time.Duration
}

// NewTTLPolicy creates a policy capped at maxTTL; zero uses DefaultMaxTTL
func NewTTLPolicy(maxTTL time.Duration) *TTLPolicy {
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	return &TTLPolicy{maxTTL: maxTTL}
}

// Base returns the static TTL for a domain operation
func (p *TTLPolicy) Base(domain analytics.Domain, op analytics.Operation) time.Duration {
	if ttl, ok := baseTTLs[ttlKey{domain, op}]; ok {
		return ttl
	}
	return DefaultTTL
}

// Adjust scales a base TTL by the size of the result it protects, capped at MaxTTL
func (p *TTLPolicy) Adjust(base time.Duration, in AdjustInput) time.Duration {
	factor := 1.0
	if in.PayloadBytes > largePayloadBytes {
		factor *= largePayloadFactor
	}
	if in.EntityCount > manyEntities {
		factor *= manyEntitiesFactor
	}
	if in.DateRangeDays > longRangeDays {
		factor *= longRangeFactor
	}

	ttl := time.Duration(float64(base) * factor).Truncate(time.Second)
	if ttl > p.maxTTL {
		return p.maxTTL
	}
	return ttl
}

// MaxTTL returns the cap
func (p *TTLPolicy) MaxTTL() time.Duration {
	return p.maxTTL
}
