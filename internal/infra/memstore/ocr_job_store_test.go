//go:build !integration

package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
)

func newJob(t *testing.T, at time.Time, receipts ...string) *model.OCRJob {
	t.Helper()
	j, err := model.NewOCRJob(receipts, at)
	if err != nil {
		t.Fatalf("NewOCRJob: %v", err)
	}
	return j
}

func TestOCRJobStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("should return copies that do not alias stored state", func(t *testing.T) {
		s := NewOCRJobStore()
		j := newJob(t, now, "r1")
		if err := s.Save(ctx, j); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, _ := s.Get(ctx, j.ID)
		got.Status = model.OCRJobStatusFailed
		got.ReceiptIDs[0] = "tampered"

		again, _ := s.Get(ctx, j.ID)
		if again.Status != model.OCRJobStatusPending || again.ReceiptIDs[0] != "r1" {
			t.Errorf("stored job was mutated through a returned copy: %+v", again)
		}
	})

	t.Run("should report unknown jobs as not found", func(t *testing.T) {
		s := NewOCRJobStore()
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.Update(ctx, "nope", func(*model.OCRJob) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from Update, got %v", err)
		}
	})

	t.Run("should discard an update whose callback fails", func(t *testing.T) {
		s := NewOCRJobStore()
		j := newJob(t, now, "r1")
		_ = s.Save(ctx, j)
		boom := errors.New("boom")
		_, err := s.Update(ctx, j.ID, func(job *model.OCRJob) error {
			job.Error = "half written"
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}
		got, _ := s.Get(ctx, j.ID)
		if got.Error != "" {
			t.Errorf("expected no partial write, got %q", got.Error)
		}
	})

	t.Run("should list jobs for a receipt oldest first", func(t *testing.T) {
		s := NewOCRJobStore()
		older := newJob(t, now.Add(-time.Minute), "r1", "r2")
		newer := newJob(t, now, "r1")
		other := newJob(t, now, "r3")
		for _, j := range []*model.OCRJob{newer, other, older} {
			_ = s.Save(ctx, j)
		}
		got, _ := s.ListByReceipt(ctx, "r1")
		if len(got) != 2 || got[0].ID != older.ID || got[1].ID != newer.ID {
			t.Fatalf("unexpected jobs for r1: %+v", got)
		}
	})

	t.Run("should prune only terminal jobs completed before the cutoff", func(t *testing.T) {
		s := NewOCRJobStore()
		old := newJob(t, now, "r1")
		_ = old.Transition(model.OCRJobStatusFailed, now.Add(-2*time.Hour))
		recent := newJob(t, now, "r2")
		_ = recent.Transition(model.OCRJobStatusFailed, now)
		running := newJob(t, now.Add(-3*time.Hour), "r3")
		for _, j := range []*model.OCRJob{old, recent, running} {
			_ = s.Save(ctx, j)
		}
		n, err := s.DeleteTerminalBefore(ctx, now.Add(-time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("expected 1 pruned, got %d (%v)", n, err)
		}
		all, _ := s.List(ctx)
		if len(all) != 2 {
			t.Errorf("expected 2 remaining, got %d", len(all))
		}
	})

	t.Run("should serialise concurrent updates", func(t *testing.T) {
		s := NewOCRJobStore()
		j := newJob(t, now, "r1")
		j.TotalFiles = 1000
		_ = s.Save(ctx, j)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.Update(ctx, j.ID, func(job *model.OCRJob) error {
					job.ProcessedFiles++
					return nil
				})
				_, _ = s.Get(ctx, j.ID)
			}()
		}
		wg.Wait()
		got, _ := s.Get(ctx, j.ID)
		if got.ProcessedFiles != 50 {
			t.Errorf("expected 50 increments, got %d", got.ProcessedFiles)
		}
	})

	t.Run("should reject duplicate IDs", func(t *testing.T) {
		s := NewOCRJobStore()
		j := newJob(t, now, "r1")
		_ = s.Save(ctx, j)
		if err := s.Save(ctx, j); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})
}
