// Package health implements the liveness/readiness probes used by an
// orchestrator to decide whether to route traffic to this instance or
// restart it.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kalgynirae/sudoku-sync/internal/v1/logging"
)

// Store is the slice of *persistence.Store the readiness probe needs.
type Store interface {
	Ping(ctx context.Context) error
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	store Store
}

// NewHandler builds a health Handler backed by store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// LivenessResponse is the liveness probe's body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is the readiness probe's body.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness reports the process is alive, with no dependency checks: a
// restart doesn't help if the process itself is fine but a dependency is
// degraded, so liveness never fails on that basis.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports whether the room store is reachable. An orchestrator
// should stop routing new connections here while it returns 503.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"persistence": h.checkStore(ctx)}

	status := "ready"
	code := http.StatusOK
	if checks["persistence"] != "healthy" {
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "healthy"
	}
	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "persistence health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
