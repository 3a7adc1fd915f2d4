package adapter

import (
	"context"
	"time"

	"receipt-ocr/internal/domain/model"
)

// OCRFile is one image handed to the engine.
type OCRFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// OCRJobHandle is what the engine returns when it accepts a batch.
type OCRJobHandle struct {
	ID             string
	Status         model.OCRJobStatus
	TotalFiles     int
	ProcessedFiles int
	Message        string
}

type OCRLineItem struct {
	Name       string
	Quantity   *float64
	UnitPrice  *float64
	TotalPrice *float64
}

// OCRExtractedData holds engine-dependent fields; all are optional.
type OCRExtractedData struct {
	Date           string
	MerchantName   string
	BusinessNumber string
	TotalAmount    *float64
	Items          []OCRLineItem
	RawText        string
}

type OCRFileResult struct {
	Filename         string
	Success          bool
	Confidence       float64
	EngineUsed       string
	Extracted        *OCRExtractedData
	ProcessingTimeMs int64
	Error            string
}

type OCRJobResult struct {
	ID             string
	SettlementID   string
	Status         model.OCRJobStatus
	TotalFiles     int
	ProcessedFiles int
	SuccessFiles   int
	FailedFiles    int
	Results        []OCRFileResult
	ErrorMessage   string
	CreatedAt      *time.Time
}

type OCRHealth struct {
	Status  string
	Service string
}

// OCRClient is the port to the remote OCR engine. Implementations do not
// retry and keep no state between calls.
type OCRClient interface {
	SubmitBatch(ctx context.Context, files []OCRFile, settlementID string) (*OCRJobHandle, error)
	GetStatus(ctx context.Context, jobID string) (*OCRJobResult, error)
	// Cancel is best effort; cancelling a terminal or unknown job succeeds.
	Cancel(ctx context.Context, jobID string) error
	HealthCheck(ctx context.Context) (*OCRHealth, error)
}
