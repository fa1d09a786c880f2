// Package metrics holds the gateway's Prometheus collectors: per-number
// load gauges refreshed by loadbalancer.RecordDispatch/Stats and
// per-priority queue-depth gauges refreshed by workqueue.Queue.Depths,
// registered against the default registry and
// served over /metrics, grounded on the teacher's core/prerouter.
// MetricsMiddleware (CounterVec-over-DefaultRegisterer) and core.App.
// MetricsHandler (promhttp.Handler behind an explicit route).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// NumberLoad is the fractional load (messages/sec ÷ MaxMessagesPerSecond)
	// the load balancer last recorded for a channel number.
	NumberLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_number_load",
			Help: "Fractional message load per channel number (1.0 == MaxMessagesPerSecond).",
		},
		[]string{"number"},
	)

	// QueueDepth is the number of pending jobs on a workqueue priority
	// lane, last sampled via workqueue.Queue.Depths.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_workqueue_depth",
			Help: "Pending job count per workqueue priority lane.",
		},
		[]string{"priority"},
	)
)

func init() {
	// Registration panics on a genuine name collision; a duplicate
	// registration of these exact collectors (e.g. package re-init in
	// tests) is not possible since they're package-level singletons.
	prometheus.MustRegister(NumberLoad, QueueDepth)
}
