// Package health provides health check endpoints for the API.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/siemlite/internal/api/respond"
)

// Checker defines the interface for health checkers.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewHandler creates a new health handler.
func NewHandler() *Handler {
	return &Handler{timeout: 5 * time.Second}
}

// RegisterChecker adds a dependency checker.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health returns basic health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, HealthResponse{Status: "ok"})
}

// Live is the liveness probe: 200 while the process serves requests.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, HealthResponse{Status: "live"})
}

// Ready is the readiness probe. All registered dependencies are checked
// concurrently; any failure yields 503.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	results := make([]string, len(checkers))
	var g errgroup.Group
	for i, checker := range checkers {
		g.Go(func() error {
			if err := checker.Check(ctx); err != nil {
				results[i] = err.Error()
				return err
			}
			results[i] = "ok"
			return nil
		})
	}
	err := g.Wait()

	resp := HealthResponse{Status: "ready", Checks: make(map[string]string, len(checkers))}
	for i, checker := range checkers {
		resp.Checks[checker.Name()] = results[i]
	}
	if err != nil {
		resp.Status = "not_ready"
		respond.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	respond.OK(w, resp)
}
