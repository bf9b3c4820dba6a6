package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Checker defines the interface for components that can be health checked.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Handlers provides health and readiness check endpoints for probes.
type Handlers struct {
	dbChecker     Checker
	pollerChecker Checker
}

// HandlersConfig configures the health check handlers. Nil checkers are
// treated as not configured and reported as ok.
type HandlersConfig struct {
	DBChecker     Checker
	PollerChecker Checker
}

// NewHandlers creates a new health check handler.
func NewHandlers(config HandlersConfig) *Handlers {
	return &Handlers{
		dbChecker:     config.DBChecker,
		pollerChecker: config.PollerChecker,
	}
}

// Response represents the JSON response for health checks.
type Response struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// Returns 200 if the process is alive and can serve requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := Response{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}

// Ready handles GET /ready (readiness probe).
// Checks the database and the poll loop and returns 503 if either is
// unavailable.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if h.dbChecker != nil {
		if err := h.dbChecker.HealthCheck(ctx); err != nil {
			checks["database"] = "error"
			healthy = false
			slog.WarnContext(ctx, "database health check failed", "error", err)
		} else {
			checks["database"] = "ok"
		}
	} else {
		// Database not configured (using in-memory stores)
		checks["database"] = "ok"
	}

	if h.pollerChecker != nil {
		if err := h.pollerChecker.HealthCheck(ctx); err != nil {
			checks["poller"] = "error"
			healthy = false
			slog.WarnContext(ctx, "poller health check failed", "error", err)
		} else {
			checks["poller"] = "ok"
		}
	} else {
		checks["poller"] = "ok"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	response := Response{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode readiness response", "error", err)
	}
}
