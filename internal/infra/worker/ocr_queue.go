package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/domain/ports/repository"
	"receipt-ocr/internal/infra/logging"
	"receipt-ocr/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const queueRateKey = "rate_limit:ocr_queue:dispatch"

// Dispatcher is the single admission path into OCR processing. It returns
// once the engine has accepted or rejected the batch.
type Dispatcher interface {
	Submit(ctx context.Context, receiptIDs []string, opts ...model.JobOption) (*model.OCRJob, error)
}

type OCRQueueConfig struct {
	IdleInterval time.Duration
	MaxAttempts  int
}

// OCRQueue buffers single-receipt submissions in front of the dispatcher.
// One loop drains it: highest priority first, FIFO within a priority.
type OCRQueue struct {
	mu        sync.Mutex
	items     map[string]*model.QueueItem
	byReceipt map[string]string
	seq       uint64

	dispatcher Dispatcher
	receipts   repository.ReceiptRepository
	limiter    adapter.RateLimiter
	cfg        OCRQueueConfig
	wake       chan struct{}
	now        func() time.Time
	log        *zerolog.Logger
}

// NewOCRQueue builds the queue. limiter may be nil to disable admission control.
func NewOCRQueue(dispatcher Dispatcher, receipts repository.ReceiptRepository, limiter adapter.RateLimiter, cfg OCRQueueConfig, logger *zerolog.Logger) *OCRQueue {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = model.DefaultMaxAttempts
	}
	l := logger.With().Str("component", "ocr_queue").Logger()
	return &OCRQueue{
		items:      make(map[string]*model.QueueItem),
		byReceipt:  make(map[string]string),
		dispatcher: dispatcher,
		receipts:   receipts,
		limiter:    limiter,
		cfg:        cfg,
		wake:       make(chan struct{}, 1),
		now:        time.Now,
		log:        &l,
	}
}

// Enqueue adds a receipt. A receipt that already has a live item gets that
// item back instead of a second one.
func (q *OCRQueue) Enqueue(ctx context.Context, receiptID string, priority int) (*model.QueueItem, error) {
	if receiptID == "" {
		return nil, fmt.Errorf("%w: receipt id is required", domain.ErrInvalidRequest)
	}
	q.mu.Lock()
	if id, ok := q.byReceipt[receiptID]; ok {
		if it := q.items[id]; it != nil && !it.IsTerminal() {
			cp := it.Clone()
			q.mu.Unlock()
			return cp, nil
		}
	}
	q.seq++
	it := model.NewQueueItem(receiptID, priority, q.cfg.MaxAttempts, q.seq, q.now())
	q.items[it.ID] = it
	q.byReceipt[receiptID] = it.ID
	cp := it.Clone()
	depth := q.pendingLocked()
	q.mu.Unlock()

	metrics.IncQueueItem("enqueued")
	metrics.SetQueueDepth(depth)
	q.log.Debug().Str("item_id", cp.ID).Str("receipt_id", receiptID).Int("priority", priority).Msg("queued")

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return cp, nil
}

func (q *OCRQueue) Get(ctx context.Context, id string) (*model.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: queue item", domain.ErrNotFound)
	}
	return it.Clone(), nil
}

// FindByReceipt returns the most recent item for a receipt.
func (q *OCRQueue) FindByReceipt(ctx context.Context, receiptID string) (*model.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id, ok := q.byReceipt[receiptID]; ok {
		if it := q.items[id]; it != nil {
			return it.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: queue item", domain.ErrNotFound)
}

func (q *OCRQueue) Stats(ctx context.Context) model.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s model.QueueStats
	for _, it := range q.items {
		s.Total++
		switch it.Status {
		case model.QueueItemPending:
			s.Pending++
		case model.QueueItemProcessing:
			s.Processing++
		case model.QueueItemCompleted:
			s.Completed++
		case model.QueueItemFailed:
			s.Failed++
		}
	}
	return s
}

// Prune drops terminal items processed before the cutoff.
func (q *OCRQueue) Prune(ctx context.Context, before time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, it := range q.items {
		if it.IsTerminal() && it.ProcessedAt != nil && it.ProcessedAt.Before(before) {
			delete(q.items, id)
			if q.byReceipt[it.ReceiptID] == id {
				delete(q.byReceipt, it.ReceiptID)
			}
			n++
		}
	}
	return n, nil
}

// Run drains the queue until ctx is cancelled.
func (q *OCRQueue) Run(ctx context.Context) {
	q.log.Info().Dur("idle", q.cfg.IdleInterval).Msg("OCR queue started")
	idle := time.NewTimer(q.cfg.IdleInterval)
	defer idle.Stop()
	for {
		if ctx.Err() != nil {
			q.log.Info().Msg("OCR queue stopping")
			return
		}
		if q.processNext(ctx) {
			continue
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(q.cfg.IdleInterval)
		select {
		case <-ctx.Done():
			q.log.Info().Msg("OCR queue stopping")
			return
		case <-q.wake:
		case <-idle.C:
		}
	}
}

// processNext dispatches one item. It reports false when there was nothing
// to do or admission was denied.
func (q *OCRQueue) processNext(ctx context.Context) bool {
	q.mu.Lock()
	it := q.nextLocked()
	q.mu.Unlock()
	if it == nil {
		return false
	}

	if q.limiter != nil {
		ok, err := q.limiter.Allow(ctx, queueRateKey)
		if err != nil {
			q.log.Warn().Err(err).Msg("rate limiter unavailable; admitting")
		} else if !ok {
			metrics.IncQueueThrottled()
			return false
		}
	}

	q.mu.Lock()
	cur, ok := q.items[it.ID]
	if !ok || cur.Status != model.QueueItemPending {
		q.mu.Unlock()
		return true
	}
	cur.Status = model.QueueItemProcessing
	cur.Attempts++
	receiptID, attempt := cur.ReceiptID, cur.Attempts
	q.mu.Unlock()

	dctx := logging.WithReceiptID(ctx, receiptID)
	log := logging.With(dctx, q.log).With().Str("item_id", it.ID).Int("attempt", attempt).Logger()
	job, err := q.dispatcher.Submit(dctx, []string{receiptID})
	q.finish(ctx, it.ID, job, err, &log)
	return true
}

func (q *OCRQueue) nextLocked() *model.QueueItem {
	var best *model.QueueItem
	for _, it := range q.items {
		if it.Status != model.QueueItemPending {
			continue
		}
		if best == nil || it.Before(best) {
			best = it
		}
	}
	if best == nil {
		return nil
	}
	return best.Clone()
}

func (q *OCRQueue) finish(ctx context.Context, id string, job *model.OCRJob, err error, log *zerolog.Logger) {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	now := q.now()
	var terminalFailure bool
	switch {
	case err == nil:
		it.Status = model.QueueItemCompleted
		it.ProcessedAt = &now
		it.Error = ""
		if job != nil {
			it.JobID = job.ID
		}
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// shutdown interrupted the attempt; it does not count
		it.Status = model.QueueItemPending
		it.Attempts--
	case errors.Is(err, domain.ErrInvalidRequest) || !it.CanRetry():
		it.Status = model.QueueItemFailed
		it.ProcessedAt = &now
		it.Error = err.Error()
		terminalFailure = true
	default:
		it.Status = model.QueueItemPending
		it.Error = err.Error()
	}
	status, receiptID, reason, jobID := it.Status, it.ReceiptID, it.Error, it.JobID
	depth := q.pendingLocked()
	q.mu.Unlock()

	metrics.SetQueueDepth(depth)
	switch {
	case err == nil:
		metrics.IncQueueItem("completed")
		log.Info().Str("job_id", jobID).Msg("queue item dispatched")
	case terminalFailure:
		metrics.IncQueueItem("failed")
		log.Error().Err(err).Msg("queue item failed")
		if mErr := q.receipts.MarkFailed(ctx, repository.NoTX, receiptID, model.ReceiptStatusFailed, reason); mErr != nil {
			log.Error().Err(mErr).Msg("could not mark receipt failed")
		}
	case status == model.QueueItemPending && ctx.Err() == nil:
		metrics.IncQueueItem("retry")
		log.Warn().Err(err).Msg("queue item will be retried")
	}
}

func (q *OCRQueue) pendingLocked() int {
	n := 0
	for _, it := range q.items {
		if it.Status == model.QueueItemPending {
			n++
		}
	}
	return n
}
