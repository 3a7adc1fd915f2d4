package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/usecase"

	"github.com/rs/zerolog"
)

const staleReceiptsLockKey = "lock:ocr:stale-receipts"

// StaleReceiptReconciler periodically releases receipts stuck in PROCESSING
// because the job that owned them was lost, e.g. across a restart.
// With a Locker only one replica sweeps at a time.
type StaleReceiptReconciler struct {
	uc         usecase.StaleReceiptUseCase
	locker     adapter.Locker
	staleAfter time.Duration // how long a receipt may stay PROCESSING
	batchSize  int
	lockTTL    time.Duration
	now        func() time.Time
	log        *zerolog.Logger
}

// NewStaleReceiptReconciler builds the sweeper. locker may be nil.
func NewStaleReceiptReconciler(uc usecase.StaleReceiptUseCase, locker adapter.Locker, staleAfter time.Duration, batchSize int, lockTTL time.Duration, logger *zerolog.Logger) *StaleReceiptReconciler {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	l := logger.With().Str("component", "StaleReceiptReconciler").Logger()
	return &StaleReceiptReconciler{
		uc:         uc,
		locker:     locker,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		lockTTL:    lockTTL,
		now:        time.Now,
		log:        &l,
	}
}

func (w *StaleReceiptReconciler) Sweep(ctx context.Context) (int, error) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, staleReceiptsLockKey, w.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			w.log.Debug().Msg("another replica holds the sweep lock")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("acquire sweep lock: %w", err)
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), staleReceiptsLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("release sweep lock")
			}
		}()
	}
	cutoff := w.now().Add(-w.staleAfter)
	return w.uc.Release(ctx, cutoff, w.batchSize)
}
