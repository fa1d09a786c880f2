package webhookapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleMetrics serves the gateway's Prometheus collectors (per-number
// load, per-lane queue depth) in the standard exposition format,
// grounded on the teacher's core.App.MetricsHandler.
var handleMetrics = promhttp.Handler().ServeHTTP
