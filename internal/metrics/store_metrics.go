package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	storeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_requests_total",
			Help: "Total number of stream store requests",
		},
		[]string{"operation"}, // append, read, pending, claim, ack, del, range, ...
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total number of stream store errors",
		},
		[]string{"operation"},
	)

	// время ответа стора (гистограмма)
	storeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_request_duration_seconds",
			Help:    "Stream store request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

var storeRegisterOnce sync.Once

// Вызывается из metrics.Register()
func registerStoreMetrics() {
	storeRegisterOnce.Do(func() {
		prometheus.MustRegister(
			storeRequestsTotal,
			storeErrorsTotal,
			storeRequestDuration,
		)
	})
}

// --- Public helpers ---

func IncStoreRequest(op string) {
	storeRequestsTotal.WithLabelValues(op).Inc()
}

func IncStoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

func ObserveStoreDuration(op string, d time.Duration) {
	storeRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}
