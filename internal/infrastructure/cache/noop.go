package cache

import (
	"context"
	"time"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// noopStore stands in when caching is not configured or not reachable
type noopStore struct{}

// NewNoopStore returns a Store that never holds anything
func NewNoopStore() Store {
	return noopStore{}
}

func (noopStore) Get(context.Context, string) Lookup { return Unavailable() }

func (noopStore) Set(context.Context, string, interface{}, time.Duration) bool { return false }

func (noopStore) InvalidateDomain(context.Context, analytics.Domain) int64 { return 0 }

func (noopStore) InvalidateEntities(context.Context, analytics.Domain, []string) int64 { return 0 }

func (noopStore) InvalidateAll(context.Context) int64 { return 0 }

func (noopStore) IsAvailable(context.Context) bool { return false }

func (noopStore) Close() error { return nil }
