package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

type check struct {
	fn CheckFunc
	// critical checks make the service unhealthy; the others only degrade it
	critical bool
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]check
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		timeout: 5 * time.Second,
		checks:  make(map[string]check),
	}
}

// AddCheck registers a named dependency check
func (h *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check{fn: fn, critical: critical}
}

// AddRedis registers a Redis ping. A Redis outage degrades the service.
func (h *HealthChecker) AddRedis(name string, client *redis.Client) {
	h.AddCheck(name, false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
		"version":   h.version,
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")

	// Return 503 if unhealthy, 200 if healthy or degraded
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check runs every registered check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]check, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	for i, name := range names {
		dep := run(ctx, checks[i].fn)
		status.Dependencies[name] = dep
		if dep.Status != StatusUnhealthy {
			continue
		}
		if checks[i].critical {
			status.Status = StatusUnhealthy
		} else if status.Status != StatusUnhealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func run(ctx context.Context, fn CheckFunc) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}

	err := fn(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}
