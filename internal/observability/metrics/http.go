package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Count of status API requests.",
	}, []string{"handler", "method", "code"})
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Latency of status API requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler", "method"})
)

// ObserveHTTPRequest records metrics about a served status API request.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
