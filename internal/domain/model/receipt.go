package model

import (
	"time"

	"receipt-ocr/internal/domain"

	"github.com/google/uuid"
)

type ReceiptStatus string

const (
	ReceiptStatusUploaded    ReceiptStatus = "UPLOADED"
	ReceiptStatusProcessing  ReceiptStatus = "PROCESSING"
	ReceiptStatusFailed      ReceiptStatus = "FAILED"
	ReceiptStatusNeedsReview ReceiptStatus = "NEEDS_REVIEW"
)

// Receipt is an uploaded receipt image. The upload pipeline creates it;
// OCR only moves its status and attaches extraction results.
type Receipt struct {
	ID               string
	OrganizationID   string
	OriginalFileName string
	FilePath         string
	ContentType      string
	Status           ReceiptStatus
	OCRError         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewReceipt(id, orgID, fileName, filePath, contentType string) (*Receipt, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if fileName == "" || filePath == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Receipt{
		ID:               id,
		OrganizationID:   orgID,
		OriginalFileName: fileName,
		FilePath:         filePath,
		ContentType:      contentType,
		Status:           ReceiptStatusUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// OCRExtraction is the engine output attached to a receipt for manual
// confirmation.
type OCRExtraction struct {
	ReceiptID            string
	JobID                string
	EngineUsed           string
	RawText              string
	MerchantName         string
	BusinessNumber       string
	ReceiptDate          string
	TotalAmount          *float64
	Confidence           float64
	ProcessingTimeMs     int64
	RequiresManualReview bool
	// ErrorMessage is set when the engine could not read the file.
	ErrorMessage string
	CreatedAt    time.Time
}

// ReceiptStatus is the receipt status that storing e implies.
func (e *OCRExtraction) ReceiptStatus() ReceiptStatus {
	if e.ErrorMessage != "" {
		return ReceiptStatusFailed
	}
	return ReceiptStatusUploaded
}
