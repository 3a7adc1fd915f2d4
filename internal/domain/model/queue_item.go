package model

import (
	"time"

	"github.com/google/uuid"
)

type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "PENDING"
	QueueItemProcessing QueueItemStatus = "PROCESSING"
	QueueItemCompleted  QueueItemStatus = "COMPLETED"
	QueueItemFailed     QueueItemStatus = "FAILED"
)

const DefaultMaxAttempts = 3

// QueueItem wraps a single receipt waiting for OCR dispatch.
type QueueItem struct {
	ID          string
	ReceiptID   string
	Priority    int
	Attempts    int
	MaxAttempts int
	Status      QueueItemStatus
	Seq         uint64
	EnqueuedAt  time.Time
	ProcessedAt *time.Time
	JobID       string
	Error       string
}

func NewQueueItem(receiptID string, priority, maxAttempts int, seq uint64, now time.Time) *QueueItem {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &QueueItem{
		ID:          uuid.NewString(),
		ReceiptID:   receiptID,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		Status:      QueueItemPending,
		Seq:         seq,
		EnqueuedAt:  now,
	}
}

// Before reports whether q dispatches ahead of other.
func (q *QueueItem) Before(other *QueueItem) bool {
	if q.Priority != other.Priority {
		return q.Priority > other.Priority
	}
	return q.Seq < other.Seq
}

func (q *QueueItem) CanRetry() bool { return q.Attempts < q.MaxAttempts }

func (q *QueueItem) IsTerminal() bool {
	return q.Status == QueueItemCompleted || q.Status == QueueItemFailed
}

func (q *QueueItem) Clone() *QueueItem {
	cp := *q
	if q.ProcessedAt != nil {
		t := *q.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

type QueueStats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
