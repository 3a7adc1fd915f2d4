//go:build !integration

package web

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

var _ usecase.OCRJobUseCase = (*MockOCRJobUC)(nil)

type MockOCRJobUC struct {
	CreateJobFunc         func(ctx context.Context, receiptID string, opts ...model.JobOption) (*model.OCRJob, error)
	CreateBatchJobFunc    func(ctx context.Context, receiptIDs []string, opts ...model.JobOption) (*model.OCRJob, error)
	GetJobStatusFunc      func(ctx context.Context, jobID string) (*model.OCRJob, error)
	GetJobsForReceiptFunc func(ctx context.Context, receiptID string) ([]*model.OCRJob, error)
	GetStatsFunc          func(ctx context.Context) (model.OCRJobStats, error)
	CancelJobFunc         func(ctx context.Context, jobID string) error
	LatestResultFunc      func(ctx context.Context, receiptID string) (*model.OCRExtraction, error)
	EngineHealthFunc      func(ctx context.Context) (*adapter.OCRHealth, error)
}

func (m *MockOCRJobUC) CreateJob(ctx context.Context, receiptID string, opts ...model.JobOption) (*model.OCRJob, error) {
	if m.CreateJobFunc != nil {
		return m.CreateJobFunc(ctx, receiptID, opts...)
	}
	return nil, domain.ErrOperationFailed
}

func (m *MockOCRJobUC) CreateBatchJob(ctx context.Context, receiptIDs []string, opts ...model.JobOption) (*model.OCRJob, error) {
	if m.CreateBatchJobFunc != nil {
		return m.CreateBatchJobFunc(ctx, receiptIDs, opts...)
	}
	return nil, domain.ErrOperationFailed
}

func (m *MockOCRJobUC) Submit(ctx context.Context, receiptIDs []string, opts ...model.JobOption) (*model.OCRJob, error) {
	return m.CreateBatchJob(ctx, receiptIDs, opts...)
}

func (m *MockOCRJobUC) GetJobStatus(ctx context.Context, jobID string) (*model.OCRJob, error) {
	if m.GetJobStatusFunc != nil {
		return m.GetJobStatusFunc(ctx, jobID)
	}
	return nil, domain.ErrJobNotFound
}

func (m *MockOCRJobUC) GetJobsForReceipt(ctx context.Context, receiptID string) ([]*model.OCRJob, error) {
	if m.GetJobsForReceiptFunc != nil {
		return m.GetJobsForReceiptFunc(ctx, receiptID)
	}
	return nil, nil
}

func (m *MockOCRJobUC) GetStats(ctx context.Context) (model.OCRJobStats, error) {
	if m.GetStatsFunc != nil {
		return m.GetStatsFunc(ctx)
	}
	return model.OCRJobStats{}, nil
}

func (m *MockOCRJobUC) CancelJob(ctx context.Context, jobID string) error {
	if m.CancelJobFunc != nil {
		return m.CancelJobFunc(ctx, jobID)
	}
	return nil
}

func (m *MockOCRJobUC) PruneFinished(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}

func (m *MockOCRJobUC) LatestResult(ctx context.Context, receiptID string) (*model.OCRExtraction, error) {
	if m.LatestResultFunc != nil {
		return m.LatestResultFunc(ctx, receiptID)
	}
	return nil, domain.ErrNotFound
}

func (m *MockOCRJobUC) EngineHealth(ctx context.Context) (*adapter.OCRHealth, error) {
	if m.EngineHealthFunc != nil {
		return m.EngineHealthFunc(ctx)
	}
	return &adapter.OCRHealth{Status: "healthy", Service: "mock"}, nil
}

type MockQueue struct {
	EnqueueFunc func(ctx context.Context, receiptID string, priority int) (*model.QueueItem, error)
	GetFunc           func(ctx context.Context, id string) (*model.QueueItem, error)
	FindByReceiptFunc func(ctx context.Context, receiptID string) (*model.QueueItem, error)
	stats             model.QueueStats
}

func (m *MockQueue) Enqueue(ctx context.Context, receiptID string, priority int) (*model.QueueItem, error) {
	return m.EnqueueFunc(ctx, receiptID, priority)
}

func (m *MockQueue) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	return m.GetFunc(ctx, id)
}

func (m *MockQueue) FindByReceipt(ctx context.Context, receiptID string) (*model.QueueItem, error) {
	if m.FindByReceiptFunc != nil {
		return m.FindByReceiptFunc(ctx, receiptID)
	}
	return nil, domain.ErrNotFound
}

func (m *MockQueue) Stats(ctx context.Context) model.QueueStats { return m.stats }
