package rest

import (
	"net/http"
	"time"
)

// HealthResponse is the body of the liveness and readiness probes
type HealthResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  float64           `json:"uptimeSeconds"`
	CacheAvailable *bool             `json:"cacheAvailable,omitempty"`
	Checks         map[string]string `json:"checks,omitempty"`
}

type probes struct {
	svc       Services
	version   string
	startTime time.Time
}

func (p *probes) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "pass",
		Version:       p.version,
		UptimeSeconds: time.Since(p.startTime).Seconds(),
	})
}

// readiness fails only when a data store is unreachable; a missing cache
// degrades latency, not correctness
func (p *probes) readiness(w http.ResponseWriter, r *http.Request) {
	report := p.svc.Coordinator.HealthCheck(r.Context())

	resp := HealthResponse{
		Status:         "pass",
		Version:        p.version,
		UptimeSeconds:  time.Since(p.startTime).Seconds(),
		CacheAvailable: &report.CacheAvailable,
		Checks:         make(map[string]string, len(report.Services)),
	}

	status := http.StatusOK
	for domain, svc := range report.Services {
		if svc.DataStoreError != "" {
			resp.Checks[string(domain)] = "fail"
			resp.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[string(domain)] = "pass"
	}
	if !report.CacheAvailable && resp.Status == "pass" {
		resp.Status = "warn"
	}

	writeJSON(w, status, resp)
}
