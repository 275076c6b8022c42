package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentfleet"

var (
	chainOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "operations_total",
		Help:      "Count of chain RPC operations.",
	}, []string{"network", "operation", "status"})
	chainOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "operation_duration_seconds",
		Help:      "Duration of chain RPC operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "operation", "status"})
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "transactions_total",
		Help:      "Submitted transactions by final observed status.",
	}, []string{"network", "status"})

	gatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Outbound HTTP calls by endpoint and classification.",
	}, []string{"endpoint", "outcome"})
	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Duration of outbound HTTP calls.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"endpoint", "outcome"})

	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "cycles_total",
		Help:      "Completed worker cycles by outcome.",
	}, []string{"outcome"})
	interactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "interactions_total",
		Help:      "Agent interactions by agent and outcome.",
	}, []string{"agent", "outcome"})
	workersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "running",
		Help:      "Number of account workers currently running.",
	})
)

// ObserveChain records a single chain RPC call outcome and duration.
func ObserveChain(network, operation string, err error, started time.Time) {
	status := statusOf(err)
	chainOperationsTotal.WithLabelValues(network, operation, status).Inc()
	chainOperationDuration.WithLabelValues(network, operation, status).Observe(time.Since(started).Seconds())
}

// TransactionSubmitted counts a submitted transaction by its observed status.
func TransactionSubmitted(network, status string) {
	transactionsTotal.WithLabelValues(network, status).Inc()
}

// ObserveGateway records an outbound HTTP call classified as success,
// soft_success, api_error or request_failed.
func ObserveGateway(endpoint, outcome string, started time.Time) {
	gatewayRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	gatewayRequestDuration.WithLabelValues(endpoint, outcome).Observe(time.Since(started).Seconds())
}

// CycleFinished counts a finished worker cycle.
func CycleFinished(outcome string) {
	cyclesTotal.WithLabelValues(outcome).Inc()
}

// InteractionFinished counts one agent exchange.
func InteractionFinished(agent string, err error) {
	interactionsTotal.WithLabelValues(agent, statusOf(err)).Inc()
}

// WorkerStarted increments the running worker gauge.
func WorkerStarted() { workersRunning.Inc() }

// WorkerStopped decrements the running worker gauge.
func WorkerStopped() { workersRunning.Dec() }

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
