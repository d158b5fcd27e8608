package analytics

import "time"

// DomainHealthStatus is the coordinator's view of a domain service
type DomainHealthStatus struct {
	Domain              Domain    `json:"domain"`
	IsHealthy           bool      `json:"isHealthy"`
	ErrorCount          int64     `json:"errorCount"`
	ConsecutiveFailures int64     `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
	LastErrorAt         time.Time `json:"lastErrorAt,omitempty"`
	LastSuccessAt       time.Time `json:"lastSuccessAt,omitempty"`
	WindowStart         time.Time `json:"windowStart"`
}
