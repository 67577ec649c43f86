// Package health aggregates component checks for the health endpoints
package health

import (
	"sort"
	"sync"

	"liquidity_engine/internal/core"
)

type check struct {
	fn       func() error
	critical bool
}

// HealthManager aggregates component checks. Only critical components decide
// overall health; optional ones are reported as degraded.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]check
}

func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]check)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a critical check for component, replacing any previous one
func (hm *HealthManager) Register(component string, fn func() error) {
	hm.register(component, fn, true)
}

// RegisterOptional adds a check whose failure degrades but does not fail health
func (hm *HealthManager) RegisterOptional(component string, fn func() error) {
	hm.register(component, fn, false)
}

func (hm *HealthManager) register(component string, fn func() error, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check{fn: fn, critical: critical}
}

// GetStatus runs every check and returns a status line per component
func (hm *HealthManager) GetStatus() map[string]string {
	status := make(map[string]string)
	for _, r := range hm.run() {
		switch {
		case r.err == nil:
			status[r.component] = "healthy"
		case r.critical:
			status[r.component] = "unhealthy: " + r.err.Error()
		default:
			status[r.component] = "degraded: " + r.err.Error()
		}
	}
	return status
}

// IsHealthy is true when every critical check passes
func (hm *HealthManager) IsHealthy() bool {
	healthy := true
	for _, r := range hm.run() {
		if r.err != nil && r.critical {
			healthy = false
			if hm.logger != nil {
				hm.logger.Warn("Component unhealthy", "component", r.component, "error", r.err)
			}
		}
	}
	return healthy
}

// Components lists registered components in name order
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type result struct {
	component string
	critical  bool
	err       error
}

// run copies the checks before calling them so a slow check never holds the lock
func (hm *HealthManager) run() []result {
	hm.mu.RLock()
	snapshot := make(map[string]check, len(hm.checks))
	for name, c := range hm.checks {
		snapshot[name] = c
	}
	hm.mu.RUnlock()

	results := make([]result, 0, len(snapshot))
	for name, c := range snapshot {
		results = append(results, result{component: name, critical: c.critical, err: c.fn()})
	}
	return results
}
