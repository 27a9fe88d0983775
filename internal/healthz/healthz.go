// Package healthz provides the bridge health endpoint and the checks behind
// it.
package healthz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Result is the aggregate health check result.
type Result struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

// Checker is the interface for health checks.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc is an adapter for simple checker functions.
type CheckerFunc struct {
	NameVal string
	CheckFn func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.NameVal }
func (c CheckerFunc) Check(ctx context.Context) error { return c.CheckFn(ctx) }

type degradedError struct{ err error }

func (e degradedError) Error() string { return e.err.Error() }
func (e degradedError) Unwrap() error { return e.err }

// Degraded marks err as a soft failure: the check reports degraded and the
// endpoint still answers 200.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return degradedError{err: err}
}

// HealthChecker manages multiple health checks.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]Checker
	results map[string]Check
	timeout time.Duration
}

func New() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]Checker),
		results: make(map[string]Check),
		timeout: 5 * time.Second,
	}
}

func (h *HealthChecker) Register(checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[checker.Name()] = checker
}

func (h *HealthChecker) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
	delete(h.results, name)
}

// RunChecks runs all registered checks, ordered by name.
func (h *HealthChecker) RunChecks(ctx context.Context) Result {
	h.mu.RLock()
	checks := make([]Checker, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	h.mu.RUnlock()
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name() < checks[j].Name() })

	result := Result{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make([]Check, 0, len(checks)),
	}
	for _, checker := range checks {
		check := h.runCheck(ctx, checker)
		result.Checks = append(result.Checks, check)

		if check.Status == StatusUnhealthy {
			result.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && result.Status == StatusHealthy {
			result.Status = StatusDegraded
		}
	}
	return result
}

func (h *HealthChecker) runCheck(ctx context.Context, checker Checker) Check {
	start := time.Now()
	check := Check{Name: checker.Name(), LastChecked: start}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := checker.Check(checkCtx)
	check.Duration = time.Since(start)

	var soft degradedError
	switch {
	case err == nil:
		check.Status = StatusHealthy
	case errors.As(err, &soft):
		check.Status = StatusDegraded
		check.Message = err.Error()
	default:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}

	h.mu.Lock()
	h.results[checker.Name()] = check
	h.mu.Unlock()
	return check
}

// GetResult returns the last result of one check.
func (h *HealthChecker) GetResult(name string) (Check, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	check, ok := h.results[name]
	return check, ok
}

// HTTPHandler serves the aggregate result as JSON. Unhealthy answers 503.
func (h *HealthChecker) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := h.RunChecks(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if result.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(result)
	})
}

// SimpleCheck creates a checker from a function.
func SimpleCheck(name string, fn func() error) Checker {
	return CheckerFunc{
		NameVal: name,
		CheckFn: func(context.Context) error { return fn() },
	}
}

// SessionsCheck is degraded once active sessions reach limit. A limit of
// zero or less never degrades.
func SessionsCheck(limit int, active func() int64) Checker {
	return SimpleCheck("sessions", func() error {
		n := active()
		if limit > 0 && n >= int64(limit) {
			return Degraded(fmt.Errorf("%d of %d sessions in use", n, limit))
		}
		return nil
	})
}
