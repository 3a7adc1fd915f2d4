package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		ocrJobsFinishedTotal,
		ocrJobsInFlight,
		ocrPollsTotal,
		ocrFilesTotal,
		ocrJobsPrunedTotal,
		staleReceiptsTotal,
	)
}

var (
	ocrJobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_jobs_finished_total",
			Help: "OCR jobs that reached a terminal status, labeled by status.",
		},
		[]string{"status"}, // 'completed', 'partial', 'failed'
	)

	ocrJobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ocr_jobs_in_flight",
			Help: "OCR jobs currently dispatching or polling.",
		},
	)

	ocrPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_polls_total",
			Help: "Status polls against the OCR engine, labeled by outcome.",
		},
		[]string{"outcome"}, // 'progress', 'terminal', 'error', 'not_found'
	)

	ocrFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_files_total",
			Help: "Per-file reconciliation outcomes.",
		},
		[]string{"outcome"}, // 'success', 'failed', 'unmatched'
	)

	ocrJobsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocr_jobs_pruned_total",
			Help: "Finished OCR jobs dropped from memory by the janitor.",
		},
	)

	staleReceiptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ocr_stale_receipts_total",
			Help: "Receipts stuck in PROCESSING that were moved to NEEDS_REVIEW.",
		},
	)
)

func IncOCRJobFinished(status string) {
	ocrJobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func IncOCRJobsInFlight() { ocrJobsInFlight.Inc() }
func DecOCRJobsInFlight() { ocrJobsInFlight.Dec() }

func IncOCRPoll(outcome string) {
	ocrPollsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncOCRFile(outcome string) {
	ocrFilesTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddOCRJobsPruned(n int) {
	if n > 0 {
		ocrJobsPrunedTotal.Add(float64(n))
	}
}

func AddStaleReceipts(n int) {
	if n > 0 {
		staleReceiptsTotal.Add(float64(n))
	}
}
