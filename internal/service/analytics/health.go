package analytics

import (
	"sync"
	"time"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
)

const (
	DefaultHealthWindow     = 15 * time.Minute
	DefaultFailureThreshold = 3
)

// HealthTracker keeps per domain success and failure counts over a rotating window
type HealthTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int64
	now       func() time.Time
	statuses  map[analytics.Domain]*analytics.DomainHealthStatus
}

// NewHealthTracker creates a tracker. Zero values select the defaults.
func NewHealthTracker(window time.Duration, threshold int, now func() time.Time) *HealthTracker {
	if window <= 0 {
		window = DefaultHealthWindow
	}
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &HealthTracker{
		window:    window,
		threshold: int64(threshold),
		now:       now,
		statuses:  make(map[analytics.Domain]*analytics.DomainHealthStatus),
	}
}

// status returns the entry for domain, rotating it when its window has elapsed.
// Callers hold mu.
func (h *HealthTracker) status(domain analytics.Domain) *analytics.DomainHealthStatus {
	now := h.now()
	st, ok := h.statuses[domain]
	if !ok {
		st = &analytics.DomainHealthStatus{Domain: domain, IsHealthy: true, WindowStart: now}
		h.statuses[domain] = st
		return st
	}
	if now.Sub(st.WindowStart) >= h.window {
		st.ErrorCount = 0
		st.WindowStart = now
	}
	return st
}

// RecordSuccess clears the consecutive failure streak
func (h *HealthTracker) RecordSuccess(domain analytics.Domain) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.status(domain)
	st.ConsecutiveFailures = 0
	st.IsHealthy = true
	st.LastSuccessAt = h.now()
}

// RecordFailure counts a failure and marks the domain unhealthy at the threshold
func (h *HealthTracker) RecordFailure(domain analytics.Domain, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.status(domain)
	st.ErrorCount++
	st.ConsecutiveFailures++
	if err != nil {
		st.LastError = err.Error()
	}
	st.LastErrorAt = h.now()
	if st.ConsecutiveFailures >= h.threshold {
		st.IsHealthy = false
	}
}

// Snapshot copies the current state of every tracked domain
func (h *HealthTracker) Snapshot() map[analytics.Domain]analytics.DomainHealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[analytics.Domain]analytics.DomainHealthStatus, len(h.statuses))
	for domain := range h.statuses {
		out[domain] = *h.status(domain)
	}
	return out
}

// Status returns one domain's state. Unknown domains are healthy.
func (h *HealthTracker) Status(domain analytics.Domain) analytics.DomainHealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.status(domain)
}

// Reset forgets all recorded state
func (h *HealthTracker) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = make(map[analytics.Domain]*analytics.DomainHealthStatus)
}
