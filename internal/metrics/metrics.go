package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasks_submitted_total",
		Help: "Total tasks submitted",
	})
	TasksSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasks_succeeded_total",
		Help: "Total tasks succeeded",
	})
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasks_failed_total",
		Help: "Total tasks permanently failed",
	})
	TasksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasks_retried_total",
		Help: "Total task attempts that were requeued for retry",
	})
	OutboxDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_dispatched_total",
		Help: "Total outbox events handed to the queue",
	})
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_latency_seconds",
		Help: "HTTP request latency",
	}, []string{"path", "method"})
)

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
