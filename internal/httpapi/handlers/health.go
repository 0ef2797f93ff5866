package handlers

import (
	"context"
	"net/http"
	"time"

	"refinery/internal/httpkit"
)

const healthCheckTimeout = 5 * time.Second

// Health reports liveness. With ?deep=true it also pings the trigger queue
// and the storage provider and reports "degraded" if either fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "refinery-api",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := map[string]map[string]any{
			"queue":   check(ctx, h.trigger),
			"storage": check(ctx, h.sp),
		}
		checks["storage"]["provider"] = h.sp.Provider()
		health["checks"] = checks

		for name, c := range checks {
			if c["status"] != "ok" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "check", name, "error", c["error"])
			}
		}
	}

	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	httpkit.WriteJSON(w, status, health)
}

func check(ctx context.Context, p Pinger) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := p.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
