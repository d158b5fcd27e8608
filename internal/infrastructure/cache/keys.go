package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

const filterHashLen = 16

// KeyBuilder produces deterministic cache keys of the form
// analytics:{domain}:{operation}:{ids|all}:{hash|nofilters}:{bucket}
type KeyBuilder struct {
	policy *TTLPolicy
	now    func() time.Time
}

// NewKeyBuilder creates a key builder bucketing by the policy's base TTLs
func NewKeyBuilder(policy *TTLPolicy, now func() time.Time) *KeyBuilder {
	if policy == nil {
		policy = NewTTLPolicy(0)
	}
	if now == nil {
		now = time.Now
	}
	return &KeyBuilder{policy: policy, now: now}
}

// Build returns the key for the current time bucket
func (b *KeyBuilder) Build(domain analytics.Domain, op analytics.Operation, ids []string, filters *analytics.Filters) string {
	base := b.policy.Base(domain, op)
	return b.key(domain, op, ids, filters, strconv.FormatInt(Bucket(b.now(), base), 10))
}

// StaleKey returns the key holding the last known good value
func (b *KeyBuilder) StaleKey(domain analytics.Domain, op analytics.Operation, ids []string, filters *analytics.Filters) string {
	return b.key(domain, op, ids, filters, StaleBucket)
}

func (b *KeyBuilder) key(domain analytics.Domain, op analytics.Operation, ids []string, filters *analytics.Filters, bucket string) string {
	return strings.Join([]string{
		KeyPrefix,
		string(domain),
		string(op),
		IDSegment(ids),
		FilterHash(filters),
		bucket,
	}, ":")
}

// Bucket floors now to a multiple of ttl in unix seconds
func Bucket(now time.Time, ttl time.Duration) int64 {
	size := int64(ttl / time.Second)
	if size <= 0 {
		size = 1
	}
	unix := now.Unix()
	return unix - unix%size
}

// IDSegment de-duplicates and sorts ids so any permutation yields one segment
func IDSegment(ids []string) string {
	if len(ids) == 0 {
		return AllIDs
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = sanitizeID(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return AllIDs
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.ReplaceAll(id, ":", "_")
	return strings.ReplaceAll(id, ",", "_")
}

type canonicalFilters struct {
	Start      string            `json:"start,omitempty"`
	End        string            `json:"end,omitempty"`
	CompanyID  string            `json:"companyId,omitempty"`
	Additional map[string]string `json:"additional,omitempty"`
}

// FilterHash fingerprints everything in the filters except the entity IDs
func FilterHash(filters *analytics.Filters) string {
	if filters.IsEmpty() {
		return NoFilters
	}
	c := canonicalFilters{
		CompanyID:  filters.CompanyID,
		Additional: filters.Additional,
	}
	if !filters.DateRange.Start.IsZero() {
		c.Start = filters.DateRange.Start.UTC().Format(time.RFC3339Nano)
	}
	if !filters.DateRange.End.IsZero() {
		c.End = filters.DateRange.End.UTC().Format(time.RFC3339Nano)
	}
	// map keys are emitted sorted
	data, err := json.Marshal(c)
	if err != nil {
		return NoFilters
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:filterHashLen]
}

// DomainPattern matches every key of a domain
func DomainPattern(domain analytics.Domain) string {
	return fmt.Sprintf("%s:%s:*", KeyPrefix, domain)
}

// AllPattern matches every analytics key
func AllPattern() string {
	return KeyPrefix + ":*"
}

// KeyParts is a parsed cache key
type KeyParts struct {
	Domain     analytics.Domain
	Operation  analytics.Operation
	IDs        []string
	FilterHash string
	Bucket     string
}

// ParseKey splits a key built by KeyBuilder
func ParseKey(key string) (KeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 6 || parts[0] != KeyPrefix {
		return KeyParts{}, fmt.Errorf("not an analytics cache key: %q", key)
	}
	kp := KeyParts{
		Domain:     analytics.Domain(parts[1]),
		Operation:  analytics.Operation(parts[2]),
		FilterHash: parts[4],
		Bucket:     parts[5],
	}
	if parts[3] != AllIDs {
		kp.IDs = strings.Split(parts[3], ",")
	}
	return kp, nil
}

// Touches reports whether a key covers any of ids. Aggregate keys touch everything.
func (k KeyParts) Touches(ids []string) bool {
	if len(k.IDs) == 0 {
		return true
	}
	for _, want := range ids {
		want = sanitizeID(want)
		for _, have := range k.IDs {
			if have == want {
				return true
			}
		}
	}
	return false
}
