package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

// Store is the analytics cache. Implementations never return errors to
// callers: every failure degrades to Unavailable, false or 0.
type Store interface {
	// Get looks up a key
	Get(ctx context.Context, key string) Lookup

	// Set stores a JSON encoded value and reports whether the write landed
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) bool

	// InvalidateDomain removes every key of a domain
	InvalidateDomain(ctx context.Context, domain analytics.Domain) int64

	// InvalidateEntities removes keys of a domain touching any of the IDs,
	// including aggregate keys built without IDs
	InvalidateEntities(ctx context.Context, domain analytics.Domain, ids []string) int64

	// InvalidateAll removes every analytics key
	InvalidateAll(ctx context.Context) int64

	// IsAvailable pings the backend
	IsAvailable(ctx context.Context) bool

	Close() error
}

// LookupStatus tells a hit from a miss from a backend that could not answer
type LookupStatus int

const (
	StatusMiss LookupStatus = iota
	StatusHit
	StatusUnavailable
)

func (s LookupStatus) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "miss"
	}
}

// Lookup is the outcome of Store.Get
type Lookup struct {
	Status LookupStatus
	Raw    []byte
}

func Hit(raw []byte) Lookup { return Lookup{Status: StatusHit, Raw: raw} }

func Miss() Lookup { return Lookup{Status: StatusMiss} }

func Unavailable() Lookup { return Lookup{Status: StatusUnavailable} }

// IsHit reports whether the lookup carries a value
func (l Lookup) IsHit() bool {
	return l.Status == StatusHit
}

// Decode unmarshals a hit into dest. It returns false on anything else,
// including a payload that no longer matches dest.
func (l Lookup) Decode(dest interface{}) bool {
	if l.Status != StatusHit || len(l.Raw) == 0 {
		return false
	}
	return json.Unmarshal(l.Raw, dest) == nil
}

// KeyPrefix namespaces every analytics key
const KeyPrefix = "analytics"

// Segment placeholders
const (
	AllIDs      = "all"
	NoFilters   = "nofilters"
	StaleBucket = "last"
)
