// Package metrics holds the daemon's Prometheus collectors. The server
// exposes them on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts requests proxied through the edge, by backing
	// service and response status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "edge",
			Name:      "requests_total",
			Help:      "Requests proxied through the edge listener.",
		},
		[]string{"service", "code"},
	)

	// RequestDuration observes proxied request latency per service.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gantry",
			Subsystem: "edge",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests proxied through the edge listener.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// ReplicasDesired tracks the desired replica count per service.
	ReplicasDesired = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gantry",
			Subsystem: "service",
			Name:      "replicas_desired",
			Help:      "Desired replica count per service.",
		},
		[]string{"stack", "service"},
	)

	// ReplicasHealthy tracks replicas currently in traffic rotation.
	ReplicasHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gantry",
			Subsystem: "service",
			Name:      "replicas_healthy",
			Help:      "Replicas currently passing health checks and taking traffic.",
		},
		[]string{"stack", "service"},
	)

	// ScaleActions counts autoscaler actions by direction ("out" or "in").
	ScaleActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "scale",
			Name:      "actions_total",
			Help:      "Autoscaler actions taken, by direction.",
		},
		[]string{"stack", "service", "direction"},
	)
)

// MustRegister installs every collector on the given registerer. Called
// once by the daemon at startup.
func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RequestsTotal,
		RequestDuration,
		ReplicasDesired,
		ReplicasHealthy,
		ScaleActions,
	)
}
