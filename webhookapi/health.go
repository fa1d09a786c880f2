package webhookapi

import (
	"context"
	"net/http"
	"time"
)

// pinger is satisfied by identity stores that can report their own
// reachability; identity/keycloak and identity.CachedStore do not
// implement it. Stores that don't implement it report "unknown" rather
// than "down", since
// the absence of the capability isn't itself a failure.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth aggregates a fast reachability check across every
// external dependency the gateway cannot function without.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]string{}
	overall := "ok"

	if err := a.store.Ping(ctx); err != nil {
		components["kv"] = "down"
		overall = "degraded"
	} else {
		components["kv"] = "ok"
	}

	if p, ok := a.identity.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			components["identity"] = "down"
			overall = "degraded"
		} else {
			components["identity"] = "ok"
		}
	} else {
		components["identity"] = "unknown"
	}

	if _, err := a.queue.Depths(ctx); err != nil {
		components["workqueue"] = "down"
		overall = "degraded"
	} else {
		components["workqueue"] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     overall,
		"components": components,
	})
}

// handleStatsLoad reports the current per-number load fraction plus a
// simple average, and the thresholds governing the load balancer's
// least-loaded/round-robin switch and its overload alerting.
func (a *API) handleStatsLoad(w http.ResponseWriter, r *http.Request) {
	stats, err := a.lb.Stats(r.Context())
	if err != nil {
		writeError(w, "stats_load", err)
		return
	}

	var aggregate float64
	if len(stats) > 0 {
		var sum float64
		for _, v := range stats {
			sum += v
		}
		aggregate = sum / float64(len(stats))
	}

	cfg := a.cfgProvider.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":     stats,
		"aggregate": aggregate,
		"thresholds": map[string]float64{
			"high":  cfg.LoadBalancer.HighThreshold,
			"alert": cfg.LoadBalancer.AlertThreshold,
		},
		"window_size": cfg.LoadBalancer.StatsWindow.Seconds(),
	})
}
