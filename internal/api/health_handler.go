package api

import (
	"context"
	"net/http"

	"github.com/sungwon/mailqueue/internal/provider"
)

// Pinger is a dependency readiness can probe, such as the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler handles GET /readyz. The database must answer a ping.
// Provider health is reported but only fails readiness when every checked
// provider is unhealthy. health may be nil.
func ReadyzHandler(db Pinger, health *provider.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Retry-After", "30")
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}

		if health == nil {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}

		statuses := health.Statuses()
		healthy := len(statuses) == 0
		for _, s := range statuses {
			if s.Healthy {
				healthy = true
				break
			}
		}
		if !healthy {
			w.Header().Set("Retry-After", "30")
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":     "no healthy provider",
				"providers": statuses,
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "providers": statuses})
	}
}
