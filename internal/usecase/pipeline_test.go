//go:build !integration

package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/domain/ports/repository"
	ocrAdapters "receipt-ocr/internal/infra/adapters/ocr"
	"receipt-ocr/internal/infra/db/sqlite"
	"receipt-ocr/internal/infra/memstore"
	"receipt-ocr/internal/infra/storage"
	"receipt-ocr/internal/infra/worker"
)

// refusingEngine refuses the first n batches with a transport error.
type refusingEngine struct {
	adapter.OCRClient
	mu      sync.Mutex
	refuse  int
	submits int
}

func (e *refusingEngine) SubmitBatch(ctx context.Context, files []adapter.OCRFile, settlementID string) (*adapter.OCRJobHandle, error) {
	e.mu.Lock()
	e.submits++
	refused := e.submits <= e.refuse
	e.mu.Unlock()
	if refused {
		return nil, fmt.Errorf("%w: submit: connection refused", domain.ErrServiceUnavailable)
	}
	return e.OCRClient.SubmitBatch(ctx, files, settlementID)
}

// recordingRepo keeps every receipt failure write.
type recordingRepo struct {
	repository.ReceiptRepository
	mu     sync.Mutex
	marked []string
}

func (r *recordingRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, status model.ReceiptStatus, reason string) error {
	r.mu.Lock()
	r.marked = append(r.marked, id+"="+string(status))
	r.mu.Unlock()
	return r.ReceiptRepository.MarkFailed(ctx, tx, id, status, reason)
}

func (r *recordingRepo) marks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.marked...)
}

type pipeline struct {
	uc       *ocrJobUC
	queue    *worker.OCRQueue
	receipts *recordingRepo
}

func newPipeline(t *testing.T, engine adapter.OCRClient, images ...string) (*pipeline, []*model.Receipt) {
	t.Helper()
	ctx := context.Background()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "org-1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files, err := storage.NewLocalFileStore(root)
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}
	repo, err := sqlite.NewReceiptRepo(":memory:")
	if err != nil {
		t.Fatalf("NewReceiptRepo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	receipts := &recordingRepo{ReceiptRepository: repo}

	// names prefixed with "!" are registered without an image on disk
	var rs []*model.Receipt
	for _, name := range images {
		missing := name[0] == '!'
		if missing {
			name = name[1:]
		} else if err := os.WriteFile(filepath.Join(root, "org-1", name), []byte{0xff, 0xd8, 0xff, 0xe0}, 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
		r, _ := model.NewReceipt("", "org-1", name, "org-1/"+name, "image/jpeg")
		if err := repo.Create(ctx, repository.NoTX, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
		rs = append(rs, r)
	}

	cfg := OCRJobConfig{PollInterval: 2 * time.Second, PollAttempts: 60, MaxBatchSize: 100, ReviewConfidence: 0.7}
	uc := NewOCRJobUseCase(memstore.NewOCRJobStore(), receipts, files, engine, inlineRunner{}, cfg, newTestLogger(), WithClock(&fakeClock{now: t0}))
	queue := worker.NewOCRQueue(uc, receipts, nil, worker.OCRQueueConfig{IdleInterval: 5 * time.Millisecond, MaxAttempts: 3}, newTestLogger())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		queue.Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &pipeline{uc: uc, queue: queue, receipts: receipts}, rs
}

func (p *pipeline) waitItem(t *testing.T, id string, want model.QueueItemStatus) *model.QueueItem {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		it, err := p.queue.Get(context.Background(), id)
		if err == nil && it.Status == want {
			return it
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue item %s never reached %s", id, want)
	return nil
}

func TestQueueToResultPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("should run a queued receipt through to a stored result", func(t *testing.T) {
		p, rs := newPipeline(t, ocrAdapters.NewStubEngine(), "lunch.jpg")
		item, err := p.queue.Enqueue(ctx, rs[0].ID, 5)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		it := p.waitItem(t, item.ID, model.QueueItemCompleted)
		if it.JobID == "" {
			t.Fatal("expected the queue item to record its job")
		}
		job, err := p.uc.GetJobStatus(ctx, it.JobID)
		if err != nil {
			t.Fatalf("GetJobStatus: %v", err)
		}
		if job.Status != model.OCRJobStatusCompleted || job.SuccessFiles != 1 || job.FailedFiles != 0 {
			t.Errorf("unexpected job %+v", job)
		}
		if job.CompletedAt == nil || !job.CompletedAt.Equal(t0.Add(2*time.Second)) {
			t.Errorf("CompletedAt = %v, want one poll interval after start", job.CompletedAt)
		}

		res, err := p.uc.LatestResult(ctx, rs[0].ID)
		if err != nil {
			t.Fatalf("LatestResult: %v", err)
		}
		if res.JobID != job.ID || res.EngineUsed != "stub" || res.RequiresManualReview {
			t.Errorf("unexpected result %+v", res)
		}
		rc, _ := p.receipts.FindByID(ctx, repository.NoTX, rs[0].ID)
		if rc.Status != model.ReceiptStatusUploaded {
			t.Errorf("receipt status = %s, want %s", rc.Status, model.ReceiptStatusUploaded)
		}
	})

	t.Run("should retry a refused dispatch without touching the receipt", func(t *testing.T) {
		engine := &refusingEngine{OCRClient: ocrAdapters.NewStubEngine(), refuse: 1}
		p, rs := newPipeline(t, engine, "taxi.jpg")
		item, err := p.queue.Enqueue(ctx, rs[0].ID, 0)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		it := p.waitItem(t, item.ID, model.QueueItemCompleted)
		if it.Attempts != 2 {
			t.Errorf("attempts = %d, want 2", it.Attempts)
		}
		if marks := p.receipts.marks(); len(marks) != 0 {
			t.Errorf("expected no receipt failure writes, got %v", marks)
		}
		jobs, _ := p.uc.GetJobsForReceipt(ctx, rs[0].ID)
		if len(jobs) != 1 || jobs[0].Status != model.OCRJobStatusCompleted {
			t.Fatalf("expected one completed job, got %+v", jobs)
		}
		stats, _ := p.uc.GetStats(ctx)
		if stats.Total != 1 || stats.Failed != 0 || stats.SuccessRate != 100 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("should mark the receipt failed once retries run out", func(t *testing.T) {
		engine := &refusingEngine{OCRClient: ocrAdapters.NewStubEngine(), refuse: 10}
		p, rs := newPipeline(t, engine, "hotel.jpg")
		item, err := p.queue.Enqueue(ctx, rs[0].ID, 0)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		it := p.waitItem(t, item.ID, model.QueueItemFailed)
		if it.Attempts != 3 {
			t.Errorf("attempts = %d, want 3", it.Attempts)
		}
		waitMarks(t, p.receipts, 1)
		if marks := p.receipts.marks(); len(marks) != 1 || marks[0] != rs[0].ID+"="+string(model.ReceiptStatusFailed) {
			t.Errorf("expected a single terminal FAILED write, got %v", marks)
		}
		if jobs, _ := p.uc.GetJobsForReceipt(ctx, rs[0].ID); len(jobs) != 0 {
			t.Errorf("expected no jobs left from refused attempts, got %d", len(jobs))
		}
	})

	t.Run("should fail a queued receipt whose image is gone without retrying", func(t *testing.T) {
		p, rs := newPipeline(t, ocrAdapters.NewStubEngine(), "!gone.jpg")
		item, err := p.queue.Enqueue(ctx, rs[0].ID, 1)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		it := p.waitItem(t, item.ID, model.QueueItemFailed)
		if it.Attempts != 1 {
			t.Errorf("attempts = %d, want 1", it.Attempts)
		}
		waitMarks(t, p.receipts, 1)
		rc, _ := p.receipts.FindByID(ctx, repository.NoTX, rs[0].ID)
		if rc.Status != model.ReceiptStatusFailed || rc.OCRError == "" {
			t.Errorf("expected FAILED with a reason, got %s/%q", rc.Status, rc.OCRError)
		}
		if js, _ := p.uc.GetJobsForReceipt(ctx, rs[0].ID); len(js) != 0 {
			t.Errorf("expected no job for the missing receipt, got %d", len(js))
		}
	})
}

// waitMarks waits for the queue's receipt write, which lands after the item turns terminal.
func waitMarks(t *testing.T, r *recordingRepo, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.marks()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d receipt writes, got %v", n, r.marks())
}
