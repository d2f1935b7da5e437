package monitor

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus of one dependency or of the whole service.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the last observed state of one dependency.
type HealthCheck struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	CheckedAt   time.Time    `json:"checked_at"`
}

// HealthReport is the aggregate served on the health endpoint.
type HealthReport struct {
	Status    HealthStatus   `json:"status"`
	Checks    []*HealthCheck `json:"checks"`
	Uptime    string         `json:"uptime"`
	Timestamp time.Time      `json:"timestamp"`
}

// HealthChecker tracks dependency health for the health endpoint. The
// server registers its dependencies once and refreshes their state on
// each probe.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]*HealthCheck
	started time.Time
}

// NewHealthChecker creates a health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]*HealthCheck),
		started: time.Now(),
	}
}

// Register adds a dependency, initially healthy.
func (hc *HealthChecker) Register(name, description string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.checks[name] = &HealthCheck{
		Name:        name,
		Description: description,
		Status:      HealthStatusHealthy,
		CheckedAt:   time.Now(),
	}
}

// Update refreshes one dependency's state. Unknown names are ignored.
func (hc *HealthChecker) Update(name string, status HealthStatus, message string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	check, ok := hc.checks[name]
	if !ok {
		return
	}
	check.Status = status
	check.Message = message
	check.CheckedAt = time.Now()
}

// Report aggregates the registered checks: one unhealthy dependency
// makes the service unhealthy, one degraded makes it degraded.
func (hc *HealthChecker) Report() *HealthReport {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	checks := make([]*HealthCheck, 0, len(hc.checks))
	overall := HealthStatusHealthy
	for _, check := range hc.checks {
		copied := *check
		checks = append(checks, &copied)
		switch check.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	return &HealthReport{
		Status:    overall,
		Checks:    checks,
		Uptime:    time.Since(hc.started).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}
