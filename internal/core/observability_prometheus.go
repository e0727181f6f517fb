package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder exports operation counters and latencies.
type PrometheusMetricsRecorder struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the graph collectors on reg. A nil
// registerer uses prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metagraph_operations_total",
			Help: "Graph operations by operation and result",
		}, []string{"operation", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metagraph_operation_duration_seconds",
			Help:    "Graph operation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50us to ~400ms
		}, []string{"operation"}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	r.total.WithLabelValues(operation, result).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}
