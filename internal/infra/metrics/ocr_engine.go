package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(ocrEngineCallsLatencyMs) }

var ocrEngineCallsLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ocr_engine_calls_latency_ms",
		Help:    "OCR engine call latency distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
	},
	[]string{"op", "success"},
)

func ObserveOCREngineCall(op string, elapsed time.Duration, success bool) {
	ocrEngineCallsLatencyMs.WithLabelValues(norm(op), strconv.FormatBool(success)).
		Observe(float64(elapsed.Milliseconds()))
}
