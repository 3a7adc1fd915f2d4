package repository

import (
	"context"
	"time"

	"receipt-ocr/internal/domain/model"
)

// OCRJobStore is the job table owned by the orchestrator. Implementations
// must be safe for concurrent use and must hand out copies.
type OCRJobStore interface {
	Save(ctx context.Context, job *model.OCRJob) error
	Get(ctx context.Context, id string) (*model.OCRJob, error)
	// Update applies fn to the stored job atomically. If fn fails nothing is written.
	Update(ctx context.Context, id string, fn func(job *model.OCRJob) error) (*model.OCRJob, error)
	List(ctx context.Context) ([]*model.OCRJob, error)
	ListByReceipt(ctx context.Context, receiptID string) ([]*model.OCRJob, error)
	Delete(ctx context.Context, id string) error
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int, error)
}
