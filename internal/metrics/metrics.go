package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScrapeResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocland_http_responses_total",
		Help: "Responses of the metrics endpoint by path and status code",
	}, []string{"path", "status_code"})

	// Dispatch metrics
	Calls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocland_calls_total",
		Help: "Forwarded compute API calls by opcode and resulting status",
	}, []string{"opcode", "status"})

	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocland_call_duration_seconds",
		Help:    "Time spent handling one forwarded call",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10), // 50µs to ~13s
	}, []string{"opcode"})

	Bytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocland_bytes_total",
		Help: "Bytes moved on control and transfer connections",
	}, []string{"direction"})

	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ocland_active_sessions",
		Help: "Client sessions currently connected",
	})

	RejectedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocland_rejected_sessions_total",
		Help: "Connections closed because the client limit was reached",
	})

	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ocland_notifications_total",
		Help: "Context error notifications sent on callback streams",
	})

	PayloadRatio = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocland_payload_compression_ratio",
		Help:    "Original to encoded size of bulk payloads by body encoding",
		Buckets: []float64{0.5, 1, 1.5, 2, 4, 8, 16, 64, 256},
	}, []string{"mode"})

	// Detached transfer metrics
	DetachedTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ocland_detached_transfers_total",
		Help: "Detached transfers by direction and outcome",
	}, []string{"direction", "outcome"})

	TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ocland_transfer_duration_seconds",
		Help:    "Duration of detached transfers from offer to completion",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
	}, []string{"direction"})
)

// Handler serves the registry on /metrics.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Middleware(promhttp.Handler(), "/metrics"))
	return mux
}
