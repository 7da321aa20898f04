package correlate

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce      sync.Once
	requestDuration  *prometheus.HistogramVec
	requestTimeouts  *prometheus.CounterVec
	idempotentHits   *prometheus.CounterVec
	requestFailures  *prometheus.CounterVec
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "station",
			Subsystem: "correlate",
			Name:      "request_duration_seconds",
			Help:      "Round-trip duration of correlated requests.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"operation"})

		requestTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "station",
			Subsystem: "correlate",
			Name:      "request_timeouts_total",
			Help:      "Correlated requests that saw no response within the deadline.",
		}, []string{"operation"})

		idempotentHits = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "station",
			Subsystem: "correlate",
			Name:      "idempotent_replays_total",
			Help:      "Responses the backend flagged as already applied.",
		}, []string{"operation"})

		requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "station",
			Subsystem: "correlate",
			Name:      "request_failures_total",
			Help:      "Correlated requests rejected by an error signal.",
		}, []string{"operation"})
	})
}

func (c *Client) observe(operation string, out *Outcome, elapsed time.Duration) {
	if operation == "" {
		operation = "unknown"
	}

	requestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())

	switch {
	case out.TimedOut:
		requestTimeouts.WithLabelValues(operation).Inc()
	case out.IsIdempotent:
		idempotentHits.WithLabelValues(operation).Inc()
	case !out.Success:
		requestFailures.WithLabelValues(operation).Inc()
	}
}
