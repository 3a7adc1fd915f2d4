package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ocrQueueItemsTotal, ocrQueueDepth, ocrQueueThrottledTotal) }

var (
	ocrQueueItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_queue_items_total",
			Help: "Queue item transitions, labeled by resulting status.",
		},
		[]string{"status"}, // 'enqueued', 'retry', 'completed', 'failed'
	)

	ocrQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ocr_queue_depth",
			Help: "Queue items waiting for dispatch.",
		},
	)

	ocrQueueThrottledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocr_queue_throttled_total",
			Help: "Dispatch attempts deferred by the rate limiter.",
		},
	)
)

func IncQueueItem(status string) {
	ocrQueueItemsTotal.WithLabelValues(norm(status)).Inc()
}

func SetQueueDepth(n int) { ocrQueueDepth.Set(float64(n)) }

func IncQueueThrottled() { ocrQueueThrottledTotal.Inc() }
