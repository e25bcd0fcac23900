// Package observability holds the Prometheus instrumentation shared by
// the long-running binaries.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ToolInvocations *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
}

// New creates and registers the metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_tool_invocations_total",
			Help: "Total diagnostic tool invocations, labeled by tool and status",
		}, []string{"tool", "status"}),
		ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idp_tool_duration_seconds",
			Help:    "Diagnostic tool latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
}

// RecordToolInvocation records one tool call's outcome and latency.
func (m *Metrics) RecordToolInvocation(tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.ToolInvocations.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
