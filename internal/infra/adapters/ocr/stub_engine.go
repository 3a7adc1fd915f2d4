package ocr

import (
	"context"
	"fmt"
	"sync"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
)

var _ adapter.OCRClient = (*StubEngine)(nil)

// StubEngine is an in-memory engine for local runs without the OCR service.
// Every accepted batch completes on its first status query with one
// successful result per file.
type StubEngine struct {
	mu   sync.Mutex
	seq  int64
	jobs map[string]*adapter.OCRJobResult
}

func NewStubEngine() *StubEngine {
	return &StubEngine{jobs: make(map[string]*adapter.OCRJobResult)}
}

func (s *StubEngine) next() string {
	s.seq++
	return fmt.Sprintf("stub-%d", s.seq)
}

func (s *StubEngine) SubmitBatch(ctx context.Context, files []adapter.OCRFile, settlementID string) (*adapter.OCRJobHandle, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", domain.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next()
	res := &adapter.OCRJobResult{
		ID:             id,
		SettlementID:   settlementID,
		Status:         model.OCRJobStatusCompleted,
		TotalFiles:     len(files),
		ProcessedFiles: len(files),
		SuccessFiles:   len(files),
	}
	for _, f := range files {
		res.Results = append(res.Results, adapter.OCRFileResult{
			Filename:   f.Filename,
			Success:    true,
			Confidence: 1,
			EngineUsed: "stub",
			Extracted:  &adapter.OCRExtractedData{RawText: f.Filename},
		})
	}
	s.jobs[id] = res
	return &adapter.OCRJobHandle{ID: id, Status: model.OCRJobStatusPending, TotalFiles: len(files)}, nil
}

func (s *StubEngine) GetStatus(ctx context.Context, jobID string) (*adapter.OCRJobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: remote ocr job %s", domain.ErrNotFound, jobID)
	}
	cp := *res
	cp.Results = append([]adapter.OCRFileResult(nil), res.Results...)
	return &cp, nil
}

func (s *StubEngine) Cancel(ctx context.Context, jobID string) error { return nil }

func (s *StubEngine) HealthCheck(ctx context.Context) (*adapter.OCRHealth, error) {
	return &adapter.OCRHealth{Status: "healthy", Service: "stub-ocr"}, nil
}
