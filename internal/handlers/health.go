package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/camellia-shop/api/internal/platform/httpx"

	domain "github.com/camellia-shop/api/internal/domain"
)

const readinessTimeout = 5 * time.Second

// ReadinessCheck reports whether a critical dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	checks      map[string]ReadinessCheck
	clock       func() time.Time
	environment string
	startedAt   time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithReadinessCheck registers a named dependency probe for /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name == "" || check == nil {
			return
		}
		h.checks[name] = check
	}
}

// WithHealthClock overrides the time source, used by tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthEnvironment stamps the deployment environment on probe payloads.
func WithHealthEnvironment(environment string) HealthOption {
	return func(h *HealthHandlers) {
		h.environment = environment
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		checks: make(map[string]ReadinessCheck),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.clock()
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	payload := map[string]any{
		"status":    domain.HealthStatusOK,
		"uptime":    now.Sub(h.startedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if h.environment != "" {
		payload["environment"] = h.environment
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz runs the registered dependency probes and fails if any is down.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = domain.HealthStatusError
			healthy = false
			continue
		}
		results[name] = domain.HealthStatusOK
	}

	if !healthy {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "a critical dependency is unavailable", http.StatusServiceUnavailable).
			WithDetails(map[string]any{"checks": results}))
		return
	}

	payload := map[string]any{
		"status":    domain.HealthStatusOK,
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	}
	if len(results) > 0 {
		payload["checks"] = results
	}
	writeJSONResponse(w, http.StatusOK, payload)
}
