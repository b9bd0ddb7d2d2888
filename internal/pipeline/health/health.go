// Package health exposes liveness and run-status endpoints for a worker.
package health

import (
	"context"
	"sync"
	"time"
)

// SystemStatus represents the overall health state of the worker or a
// dependency.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// DependencyHealth is one checked collaborator.
type DependencyHealth struct {
	Name      string       `json:"name"`
	Status    SystemStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
	Latency   string       `json:"latency"`
}

// Report is the full worker health report.
type Report struct {
	SystemStatus SystemStatus                `json:"system_status"`
	Dependencies map[string]DependencyHealth `json:"dependencies"`
}

// Checker probes one dependency.
type Checker func(ctx context.Context) error

// Monitor runs registered dependency checks on demand.
type Monitor struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{checkers: make(map[string]Checker)}
}

// Register adds a named dependency check.
func (m *Monitor) Register(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = check
}

// CheckHealth probes every registered dependency. Any failure degrades the
// system; a failing artifact store is critical because checkpoints cannot
// be written without it.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for k, v := range m.checkers {
		checkers[k] = v
	}
	m.mu.RUnlock()

	report := Report{
		SystemStatus: StatusHealthy,
		Dependencies: make(map[string]DependencyHealth, len(checkers)),
	}

	for name, check := range checkers {
		start := time.Now()
		err := check(ctx)
		dep := DependencyHealth{
			Name:      name,
			Status:    StatusHealthy,
			CheckedAt: time.Now(),
			Latency:   time.Since(start).String(),
		}
		if err != nil {
			dep.Error = err.Error()
			if name == "artifacts" {
				dep.Status = StatusCritical
			} else {
				dep.Status = StatusDegraded
			}
		}
		report.Dependencies[name] = dep

		if dep.Status == StatusCritical {
			report.SystemStatus = StatusCritical
		} else if dep.Status == StatusDegraded && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
	}

	return report
}
