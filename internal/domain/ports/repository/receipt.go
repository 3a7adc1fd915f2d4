package repository

import (
	"context"
	"time"

	"receipt-ocr/internal/domain/model"
)

// ReceiptRepository is the slice of receipt persistence the OCR pipeline
// needs. Receipts are created by the upload pipeline and never deleted here.
type ReceiptRepository interface {
	Create(ctx context.Context, tx Tx, r *model.Receipt) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Receipt, error)
	// FindByIDs returns the receipts that exist, in the order of ids. Unknown IDs are skipped.
	FindByIDs(ctx context.Context, tx Tx, ids []string) ([]*model.Receipt, error)
	UpdateStatus(ctx context.Context, tx Tx, ids []string, status model.ReceiptStatus) error
	// SaveOCRResult stores the extraction and moves the receipt to res.ReceiptStatus()
	// in one transaction. ErrorMessage becomes the receipt's OCR error.
	SaveOCRResult(ctx context.Context, tx Tx, res *model.OCRExtraction) error
	MarkFailed(ctx context.Context, tx Tx, id string, status model.ReceiptStatus, reason string) error
	LatestOCRResult(ctx context.Context, tx Tx, receiptID string) (*model.OCRExtraction, error)
	ListStaleProcessing(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Receipt, error)
}
