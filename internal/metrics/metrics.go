package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docstore_op_duration_seconds",
		Help:    "Latency of document store operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "collection"})

	opFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_op_failures_total",
		Help: "Failed document store operations.",
	}, []string{"op", "collection"})

	streamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docstore_stream_subscribers",
		Help: "Currently registered live subscriptions.",
	})
)

// ObserveOp records one store operation.
func ObserveOp(op, collection string, start time.Time, err error) {
	opDuration.WithLabelValues(op, collection).Observe(time.Since(start).Seconds())
	if err != nil {
		opFailures.WithLabelValues(op, collection).Inc()
	}
}

func StreamOpened() { streamSubscribers.Inc() }
func StreamClosed() { streamSubscribers.Dec() }
