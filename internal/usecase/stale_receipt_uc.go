package usecase

import (
	"context"
	"time"

	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/repository"
	"receipt-ocr/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StaleReceiptUseCase = (*staleReceiptUC)(nil)

// StaleReceiptUseCase releases receipts left PROCESSING by jobs this
// process no longer knows about, e.g. after a restart.
type StaleReceiptUseCase interface {
	Release(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

const reasonStale = "ocr job lost before completion"

type staleReceiptUC struct {
	receipts repository.ReceiptRepository
	jobs     repository.OCRJobStore

	log *zerolog.Logger
}

func NewStaleReceiptUseCase(receipts repository.ReceiptRepository, jobs repository.OCRJobStore, logger *zerolog.Logger) *staleReceiptUC {
	l := logger.With().Str("component", "stale_receipts").Logger()
	return &staleReceiptUC{receipts: receipts, jobs: jobs, log: &l}
}

// Release moves stale PROCESSING receipts with no live job to NEEDS_REVIEW.
func (s *staleReceiptUC) Release(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := s.receipts.ListStaleProcessing(ctx, repository.NoTX, olderThan, limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, r := range stale {
		live, err := s.hasLiveJob(ctx, r.ID)
		if err != nil {
			return released, err
		}
		if live {
			continue
		}
		if err := s.receipts.MarkFailed(ctx, repository.NoTX, r.ID, model.ReceiptStatusNeedsReview, reasonStale); err != nil {
			s.log.Error().Err(err).Str("receipt_id", r.ID).Msg("could not release stale receipt")
			continue
		}
		released++
		s.log.Info().Str("receipt_id", r.ID).Time("updated_at", r.UpdatedAt).Msg("stale receipt sent to review")
	}
	metrics.AddStaleReceipts(released)
	return released, nil
}

func (s *staleReceiptUC) hasLiveJob(ctx context.Context, receiptID string) (bool, error) {
	jobs, err := s.jobs.ListByReceipt(ctx, receiptID)
	if err != nil {
		return false, err
	}
	for _, j := range jobs {
		if !j.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}
