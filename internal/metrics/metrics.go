package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Delivery
	messagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of messages appended to a channel.",
		},
		[]string{"channel"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_received_total",
			Help: "Total number of messages handed to the processing callback.",
		},
		[]string{"channel"},
	)
	messagesConfirmed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_confirmed_total",
			Help: "Total number of messages acknowledged after successful processing.",
		},
		[]string{"channel"},
	)
	messagesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_skipped_total",
			Help: "Total number of messages acknowledged without processing (other group).",
		},
		[]string{"channel"},
	)
	messagesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_rejected_total",
			Help: "Total number of messages moved to the rejected stream.",
		},
		[]string{"channel"},
	)
	messagesReprocessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_reprocessed_total",
			Help: "Total number of rejected messages replayed back into a channel.",
		},
		[]string{"channel"},
	)
	processingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_processing_duration_seconds",
			Help:    "Time spent in the user callback per message (seconds).",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	// Stream gauges (periodic collector)
	streamLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_stream_length",
			Help: "Current number of entries in a channel stream.",
		},
		[]string{"channel"},
	)
	pendingMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_pending_messages",
			Help: "Current number of delivered-but-unacknowledged entries per channel.",
		},
		[]string{"channel"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			messagesPublished,
			messagesReceived,
			messagesConfirmed,
			messagesSkipped,
			messagesRejected,
			messagesReprocessed,
			processingDuration,

			streamLength,
			pendingMessages,
		)
		registerStoreMetrics()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// --- Delivery ---
func IncPublished(channel string)   { messagesPublished.WithLabelValues(channel).Inc() }
func IncReceived(channel string)    { messagesReceived.WithLabelValues(channel).Inc() }
func IncConfirmed(channel string)   { messagesConfirmed.WithLabelValues(channel).Inc() }
func IncSkipped(channel string)     { messagesSkipped.WithLabelValues(channel).Inc() }
func IncRejected(channel string)    { messagesRejected.WithLabelValues(channel).Inc() }
func IncReprocessed(channel string) { messagesReprocessed.WithLabelValues(channel).Inc() }

func ObserveProcessing(channel string, d time.Duration) {
	processingDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// --- Gauges (stream collector) ---
func SetStreamLength(channel string, n int64) {
	if n < 0 {
		n = 0
	}
	streamLength.WithLabelValues(channel).Set(float64(n))
}

func SetPendingMessages(channel string, n int64) {
	if n < 0 {
		n = 0
	}
	pendingMessages.WithLabelValues(channel).Set(float64(n))
}
