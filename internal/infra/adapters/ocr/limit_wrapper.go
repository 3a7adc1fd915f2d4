package ocr

import (
	"context"

	"receipt-ocr/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.OCRClient = (*limitedOCR)(nil)

type limitedOCR struct {
	inner adapter.OCRClient
	sem   chan struct{}
}

// NewLimitedOCR bounds how many engine calls run at once.
func NewLimitedOCR(inner adapter.OCRClient, maxConcurrent int) adapter.OCRClient {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedOCR{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedOCR) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedOCR) release() { <-l.sem }

func (l *limitedOCR) SubmitBatch(ctx context.Context, files []adapter.OCRFile, settlementID string) (*adapter.OCRJobHandle, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.SubmitBatch(ctx, files, settlementID)
}

func (l *limitedOCR) GetStatus(ctx context.Context, jobID string) (*adapter.OCRJobResult, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.GetStatus(ctx, jobID)
}

func (l *limitedOCR) Cancel(ctx context.Context, jobID string) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	return l.inner.Cancel(ctx, jobID)
}

// HealthCheck bypasses the limit so probes stay responsive under load.
func (l *limitedOCR) HealthCheck(ctx context.Context) (*adapter.OCRHealth, error) {
	return l.inner.HealthCheck(ctx)
}
