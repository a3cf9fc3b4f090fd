// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ReadinessChecker is the interface for readiness checks.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// CheckFunc adapts a function to ReadinessChecker.
type CheckFunc func(ctx context.Context) error

// Ready calls f.
func (f CheckFunc) Ready(ctx context.Context) error {
	return f(ctx)
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker runs named readiness checks and caches the result briefly.
type Checker struct {
	checks  map[string]ReadinessChecker
	timeout time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker. A nil check is reported as not configured.
func NewChecker(checks map[string]ReadinessChecker) *Checker {
	return &Checker{
		checks:  checks,
		timeout: 5 * time.Second,
	}
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness runs every check. Any failing check makes the service unhealthy.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent (avoid hammering Docker)
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]CheckResult, len(names))
	overallStatus := StatusHealthy
	for _, name := range names {
		result := c.run(ctx, c.checks[name])
		checks[name] = result
		if result.Status != StatusHealthy {
			overallStatus = StatusUnhealthy
		}
	}

	response := &Response{
		Status: overallStatus,
		Checks: checks,
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) run(ctx context.Context, check ReadinessChecker) CheckResult {
	if check == nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := check.Ready(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
		}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}

// LogDirCheck reports whether dir exists and the service can create files in it.
func LogDirCheck(dir string) ReadinessChecker {
	return CheckFunc(func(context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		f, err := os.CreateTemp(dir, ".ready-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(filepath.Clean(name))
	})
}
