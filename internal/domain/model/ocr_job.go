package model

import (
	"crypto/rand"
	"fmt"
	"time"

	"receipt-ocr/internal/domain"

	"github.com/oklog/ulid/v2"
)

type OCRJobStatus string

const (
	OCRJobStatusPending    OCRJobStatus = "PENDING"
	OCRJobStatusProcessing OCRJobStatus = "PROCESSING"
	OCRJobStatusCompleted  OCRJobStatus = "COMPLETED"
	OCRJobStatusPartial    OCRJobStatus = "PARTIAL"
	OCRJobStatusFailed     OCRJobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions can happen.
func (s OCRJobStatus) IsTerminal() bool {
	switch s {
	case OCRJobStatusCompleted, OCRJobStatusPartial, OCRJobStatusFailed:
		return true
	}
	return false
}

var jobTransitions = map[OCRJobStatus][]OCRJobStatus{
	OCRJobStatusPending:    {OCRJobStatusProcessing, OCRJobStatusFailed},
	OCRJobStatusProcessing: {OCRJobStatusCompleted, OCRJobStatusPartial, OCRJobStatusFailed},
}

// OCRJob is one OCR submission covering 1..N receipts. It lives only in
// orchestrator memory.
type OCRJob struct {
	ID           string
	RemoteID     string
	SettlementID string
	ReceiptIDs   []string
	Status       OCRJobStatus

	TotalFiles     int
	ProcessedFiles int
	SuccessFiles   int
	FailedFiles    int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// JobOption customises a job at creation.
type JobOption func(*OCRJob)

// WithSettlement attaches the correlation hint forwarded to the engine.
func WithSettlement(settlementID string) JobOption {
	return func(j *OCRJob) { j.SettlementID = settlementID }
}

func NewOCRJob(receiptIDs []string, now time.Time, opts ...JobOption) (*OCRJob, error) {
	if len(receiptIDs) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	ids := make([]string, len(receiptIDs))
	copy(ids, receiptIDs)
	j := &OCRJob{
		ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		ReceiptIDs: ids,
		Status:     OCRJobStatusPending,
		TotalFiles: len(ids),
		CreatedAt:  now,
	}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

// Transition moves the job to the next status, stamping StartedAt or
// CompletedAt as needed.
func (j *OCRJob) Transition(to OCRJobStatus, at time.Time) error {
	for _, allowed := range jobTransitions[j.Status] {
		if allowed == to {
			j.Status = to
			switch {
			case to == OCRJobStatusProcessing:
				j.StartedAt = &at
			case to.IsTerminal():
				j.CompletedAt = &at
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.Status, to)
}

// ObserveProgress applies remote counters without ever moving them backwards.
// A report is first bounded by TotalFiles, and its outcomes by its own
// processed count.
func (j *OCRJob) ObserveProgress(processed, success, failed int) {
	processed = min(max(processed, 0), j.TotalFiles)
	success = min(max(success, 0), processed)
	failed = min(max(failed, 0), processed-success)
	j.ProcessedFiles = max(j.ProcessedFiles, processed)
	j.SuccessFiles = max(j.SuccessFiles, success)
	j.FailedFiles = max(j.FailedFiles, failed)
}

func (j *OCRJob) Contains(receiptID string) bool {
	for _, id := range j.ReceiptIDs {
		if id == receiptID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to readers.
func (j *OCRJob) Clone() *OCRJob {
	if j == nil {
		return nil
	}
	cp := *j
	cp.ReceiptIDs = append([]string(nil), j.ReceiptIDs...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// OCRJobStats aggregates all jobs known to the orchestrator.
type OCRJobStats struct {
	Total       int
	Pending     int
	Processing  int
	Completed   int
	Partial     int
	Failed      int
	SuccessRate int
}
