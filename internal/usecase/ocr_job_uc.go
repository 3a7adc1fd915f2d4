package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/domain/ports/repository"
	"receipt-ocr/internal/infra/logging"
	"receipt-ocr/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ OCRJobUseCase = (*ocrJobUC)(nil)

// OCRJobUseCase owns OCR jobs from admission to reconciliation.
type OCRJobUseCase interface {
	CreateJob(ctx context.Context, receiptID string, opts ...model.JobOption) (*model.OCRJob, error)
	// CreateBatchJob returns a PENDING job at once; dispatch and polling run in the background.
	CreateBatchJob(ctx context.Context, receiptIDs []string, opts ...model.JobOption) (*model.OCRJob, error)
	// Submit admits like CreateBatchJob but waits until the engine accepted or rejected the batch.
	// The caller owns retries: a rejected batch leaves no job behind and receipts untouched.
	Submit(ctx context.Context, receiptIDs []string, opts ...model.JobOption) (*model.OCRJob, error)
	GetJobStatus(ctx context.Context, jobID string) (*model.OCRJob, error)
	GetJobsForReceipt(ctx context.Context, receiptID string) ([]*model.OCRJob, error)
	GetStats(ctx context.Context) (model.OCRJobStats, error)
	CancelJob(ctx context.Context, jobID string) error
	PruneFinished(ctx context.Context, before time.Time) (int, error)
	LatestResult(ctx context.Context, receiptID string) (*model.OCRExtraction, error)
	EngineHealth(ctx context.Context) (*adapter.OCRHealth, error)
}

// TaskRunner executes background work with bounded concurrency.
type TaskRunner interface {
	Submit(task func(ctx context.Context) error) error
	SubmitWait(ctx context.Context, task func(ctx context.Context) error) error
}

type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type OCRJobConfig struct {
	PollInterval     time.Duration
	PollAttempts     int
	MaxBatchSize     int
	ReviewConfidence float64
}

type OCRJobOption func(*ocrJobUC)

func WithClock(c Clock) OCRJobOption {
	return func(o *ocrJobUC) { o.clock = c }
}

const (
	reasonNoResult      = "no OCR result returned for file"
	reasonEngineFailure = "ocr engine reported failure"
)

type ocrJobUC struct {
	jobs     repository.OCRJobStore
	receipts repository.ReceiptRepository
	files    adapter.FileStore
	ocr      adapter.OCRClient
	runner   TaskRunner
	cfg      OCRJobConfig
	clock    Clock
	log      *zerolog.Logger
}

func NewOCRJobUseCase(
	jobs repository.OCRJobStore,
	receipts repository.ReceiptRepository,
	files adapter.FileStore,
	ocr adapter.OCRClient,
	runner TaskRunner,
	cfg OCRJobConfig,
	logger *zerolog.Logger,
	opts ...OCRJobOption,
) *ocrJobUC {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 60
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	l := logger.With().Str("component", "ocr_jobs").Logger()
	o := &ocrJobUC{
		jobs:     jobs,
		receipts: receipts,
		files:    files,
		ocr:      ocr,
		runner:   runner,
		cfg:      cfg,
		clock:    realClock{},
		log:      &l,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *ocrJobUC) CreateJob(ctx context.Context, receiptID string, opts ...model.JobOption) (*model.OCRJob, error) {
	return o.CreateBatchJob(ctx, []string{receiptID}, opts...)
}

func (o *ocrJobUC) CreateBatchJob(ctx context.Context, receiptIDs []string, opts ...model.JobOption) (*model.OCRJob, error) {
	job, members, err := o.admit(ctx, receiptIDs, opts)
	if err != nil {
		return nil, err
	}
	task := func(ctx context.Context) error { return o.run(ctx, job.ID, members, nil) }
	if err := o.runner.Submit(task); err != nil {
		_ = o.jobs.Delete(ctx, job.ID)
		return nil, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	return job, nil
}

func (o *ocrJobUC) Submit(ctx context.Context, receiptIDs []string, opts ...model.JobOption) (*model.OCRJob, error) {
	job, members, err := o.admit(ctx, receiptIDs, opts)
	if err != nil {
		return nil, err
	}
	accepted := make(chan error, 1)
	task := func(ctx context.Context) error { return o.run(ctx, job.ID, members, accepted) }
	if err := o.runner.SubmitWait(ctx, task); err != nil {
		_ = o.jobs.Delete(context.WithoutCancel(ctx), job.ID)
		return nil, fmt.Errorf("%w: %w", domain.ErrServiceUnavailable, err)
	}
	select {
	case err := <-accepted:
		snap, gErr := o.jobs.Get(ctx, job.ID)
		if gErr != nil {
			snap = job
		}
		return snap, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// admit validates and resolves receipt IDs and stores a PENDING job.
// Duplicates collapse; IDs without a stored image are dropped.
func (o *ocrJobUC) admit(ctx context.Context, receiptIDs []string, opts []model.JobOption) (*model.OCRJob, []*model.Receipt, error) {
	if len(receiptIDs) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one receipt id is required", domain.ErrInvalidRequest)
	}
	if len(receiptIDs) > o.cfg.MaxBatchSize {
		return nil, nil, fmt.Errorf("%w: at most %d receipts per job, got %d", domain.ErrInvalidRequest, o.cfg.MaxBatchSize, len(receiptIDs))
	}
	seen := make(map[string]struct{}, len(receiptIDs))
	unique := make([]string, 0, len(receiptIDs))
	for _, id := range receiptIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one receipt id is required", domain.ErrInvalidRequest)
	}

	found, err := o.receipts.FindByIDs(ctx, repository.NoTX, unique)
	if err != nil {
		return nil, nil, fmt.Errorf("load receipts: %w", err)
	}
	members := make([]*model.Receipt, 0, len(found))
	ids := make([]string, 0, len(found))
	for _, r := range found {
		ok, err := o.files.Exists(ctx, r.FilePath)
		if err != nil {
			o.log.Warn().Err(err).Str("receipt_id", r.ID).Msg("receipt image not resolvable")
			continue
		}
		if !ok {
			o.log.Warn().Str("receipt_id", r.ID).Str("path", r.FilePath).Msg("receipt image missing")
			continue
		}
		members = append(members, r)
		ids = append(ids, r.ID)
	}
	if len(members) == 0 {
		return nil, nil, domain.ErrNoReceiptsFound
	}

	job, err := model.NewOCRJob(ids, o.clock.Now(), opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("save job: %w", err)
	}
	o.log.Info().Str("job_id", job.ID).Int("files", len(ids)).Int("requested", len(receiptIDs)).Msg("ocr job created")
	return job, members, nil
}

func (o *ocrJobUC) run(ctx context.Context, jobID string, members []*model.Receipt, accepted chan<- error) error {
	metrics.IncOCRJobsInFlight()
	defer metrics.DecOCRJobsInFlight()

	ctx = logging.WithJobID(ctx, jobID)
	log := logging.With(ctx, o.log)
	// a Submit caller owns retries, so a refused dispatch leaves no trace
	remoteID, err := o.dispatch(ctx, jobID, members, accepted != nil, log)
	if accepted != nil {
		accepted <- err
	}
	if err != nil {
		return err
	}
	o.track(ctx, jobID, remoteID, members, log)
	return nil
}

func (o *ocrJobUC) dispatch(ctx context.Context, jobID string, members []*model.Receipt, retryOwned bool, log *zerolog.Logger) (string, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	files := make([]adapter.OCRFile, 0, len(members))
	for _, r := range members {
		data, err := o.files.Read(ctx, r.FilePath)
		if err != nil {
			err = fmt.Errorf("read image for receipt %s: %w", r.ID, err)
			o.abort(ctx, jobID, members, err.Error(), retryOwned, log)
			return "", err
		}
		files = append(files, adapter.OCRFile{Filename: r.OriginalFileName, ContentType: r.ContentType, Data: data})
	}

	done := logging.TraceDuration(log, "OCRClient.SubmitBatch")
	handle, err := o.ocr.SubmitBatch(ctx, files, job.SettlementID)
	done()
	if err != nil {
		log.Error().Err(err).Msg("ocr dispatch failed")
		o.abort(ctx, jobID, members, err.Error(), retryOwned, log)
		return "", err
	}

	now := o.clock.Now()
	if _, err := o.jobs.Update(ctx, jobID, func(j *model.OCRJob) error {
		j.RemoteID = handle.ID
		if err := j.Transition(model.OCRJobStatusProcessing, now); err != nil {
			return err
		}
		j.ObserveProgress(handle.ProcessedFiles, 0, 0)
		return nil
	}); err != nil {
		return "", fmt.Errorf("record dispatch: %w", err)
	}
	if err := o.receipts.UpdateStatus(ctx, repository.NoTX, receiptIDs(members), model.ReceiptStatusProcessing); err != nil {
		log.Error().Err(err).Msg("could not mark receipts in flight")
	}
	log.Info().Str("remote_id", handle.ID).Int("files", len(files)).Msg("ocr batch accepted")
	return handle.ID, nil
}

// track polls the engine until a terminal status or the attempt budget runs out.
func (o *ocrJobUC) track(ctx context.Context, jobID, remoteID string, members []*model.Receipt, log *zerolog.Logger) {
	for attempt := 1; attempt <= o.cfg.PollAttempts; attempt++ {
		if err := o.clock.Sleep(ctx, o.cfg.PollInterval); err != nil {
			log.Warn().Int("attempt", attempt).Msg("polling interrupted")
			return
		}
		res, err := o.ocr.GetStatus(ctx, remoteID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				metrics.IncOCRPoll("not_found")
				o.failJob(ctx, jobID, members, "remote job not found", log)
				return
			}
			if ctx.Err() != nil {
				log.Warn().Int("attempt", attempt).Msg("polling interrupted")
				return
			}
			metrics.IncOCRPoll("error")
			log.Warn().Err(err).Int("attempt", attempt).Msg("status check failed")
			continue
		}
		if res.Status.IsTerminal() {
			metrics.IncOCRPoll("terminal")
			o.finalize(ctx, jobID, members, res, log)
			return
		}
		metrics.IncOCRPoll("progress")
		if _, err := o.jobs.Update(ctx, jobID, func(j *model.OCRJob) error {
			j.ObserveProgress(res.ProcessedFiles, res.SuccessFiles, res.FailedFiles)
			return nil
		}); err != nil {
			log.Warn().Err(err).Msg("could not record progress")
		}
	}
	log.Warn().Int("attempts", o.cfg.PollAttempts).Msg("ocr job poll budget exhausted")
	o.failJob(ctx, jobID, members, domain.ErrPollTimeout.Error(), log)
}

// finalize writes per-file outcomes back to receipts and closes the job.
func (o *ocrJobUC) finalize(ctx context.Context, jobID string, members []*model.Receipt, res *adapter.OCRJobResult, log *zerolog.Logger) {
	wctx := context.WithoutCancel(ctx)
	matched, unmatched := reconcile(members, res.Results)

	success, failed := 0, 0
	for _, m := range matched {
		if m.result.Success {
			ext := o.extraction(jobID, m.receipt.ID, m.result)
			if err := o.receipts.SaveOCRResult(wctx, repository.NoTX, ext); err != nil {
				log.Error().Err(err).Str("receipt_id", m.receipt.ID).Msg("could not store ocr result")
				o.markReceipt(wctx, m.receipt.ID, model.ReceiptStatusFailed, "could not store ocr result: "+err.Error(), log)
				failed++
				metrics.IncOCRFile("failed")
				continue
			}
			success++
			metrics.IncOCRFile("success")
			continue
		}
		ext := o.extraction(jobID, m.receipt.ID, m.result)
		if err := o.receipts.SaveOCRResult(wctx, repository.NoTX, ext); err != nil {
			log.Error().Err(err).Str("receipt_id", m.receipt.ID).Msg("could not store failed ocr result")
			o.markReceipt(wctx, m.receipt.ID, model.ReceiptStatusFailed, ext.ErrorMessage, log)
		}
		failed++
		metrics.IncOCRFile("failed")
	}

	unmatchedStatus, unmatchedReason := model.ReceiptStatusNeedsReview, reasonNoResult
	if res.Status == model.OCRJobStatusFailed {
		unmatchedStatus, unmatchedReason = model.ReceiptStatusFailed, engineError(res)
	}
	for _, r := range unmatched {
		o.markReceipt(wctx, r.ID, unmatchedStatus, unmatchedReason, log)
		failed++
		metrics.IncOCRFile("unmatched")
	}

	status := terminalStatus(res.Status, failed)
	now := o.clock.Now()
	if _, err := o.jobs.Update(wctx, jobID, func(j *model.OCRJob) error {
		if err := j.Transition(status, now); err != nil {
			return err
		}
		j.ProcessedFiles = j.TotalFiles
		j.SuccessFiles = success
		j.FailedFiles = failed
		if status == model.OCRJobStatusFailed {
			j.Error = engineError(res)
		}
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("could not finalize job")
		return
	}
	metrics.IncOCRJobFinished(string(status))
	log.Info().
		Str("status", string(status)).
		Int("success", success).
		Int("failed", failed).
		Int("unmatched", len(unmatched)).
		Msg("ocr job finished")
}

// abort handles a batch the engine never accepted. When the caller retries
// on its own, the attempt's job is dropped and receipts stay as they are.
func (o *ocrJobUC) abort(ctx context.Context, jobID string, members []*model.Receipt, reason string, retryOwned bool, log *zerolog.Logger) {
	if !retryOwned {
		o.failJob(ctx, jobID, members, reason, log)
		return
	}
	if err := o.jobs.Delete(context.WithoutCancel(ctx), jobID); err != nil {
		log.Warn().Err(err).Msg("could not drop refused job")
	}
	log.Warn().Str("reason", reason).Msg("ocr dispatch refused; caller retries")
}

// failJob closes the job as FAILED and marks every member receipt failed.
func (o *ocrJobUC) failJob(ctx context.Context, jobID string, members []*model.Receipt, reason string, log *zerolog.Logger) {
	wctx := context.WithoutCancel(ctx)
	now := o.clock.Now()
	if _, err := o.jobs.Update(wctx, jobID, func(j *model.OCRJob) error {
		if err := j.Transition(model.OCRJobStatusFailed, now); err != nil {
			return err
		}
		j.Error = reason
		j.ProcessedFiles = j.TotalFiles
		j.SuccessFiles = 0
		j.FailedFiles = j.TotalFiles
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("could not mark job failed")
	}
	for _, r := range members {
		o.markReceipt(wctx, r.ID, model.ReceiptStatusFailed, reason, log)
	}
	metrics.IncOCRJobFinished(string(model.OCRJobStatusFailed))
	log.Warn().Str("reason", reason).Msg("ocr job failed")
}

func (o *ocrJobUC) markReceipt(ctx context.Context, id string, status model.ReceiptStatus, reason string, log *zerolog.Logger) {
	if err := o.receipts.MarkFailed(ctx, repository.NoTX, id, status, reason); err != nil {
		log.Error().Err(err).Str("receipt_id", id).Str("status", string(status)).Msg("could not update receipt")
	}
}

func (o *ocrJobUC) extraction(jobID, receiptID string, r *adapter.OCRFileResult) *model.OCRExtraction {
	ext := &model.OCRExtraction{
		ReceiptID:            receiptID,
		JobID:                jobID,
		EngineUsed:           r.EngineUsed,
		Confidence:           r.Confidence,
		ProcessingTimeMs:     r.ProcessingTimeMs,
		RequiresManualReview: r.Confidence < o.cfg.ReviewConfidence,
		CreatedAt:            o.clock.Now(),
	}
	if !r.Success {
		ext.ErrorMessage = r.Error
		if ext.ErrorMessage == "" {
			ext.ErrorMessage = "ocr failed"
		}
	}
	if d := r.Extracted; d != nil {
		ext.RawText = d.RawText
		ext.MerchantName = d.MerchantName
		ext.BusinessNumber = d.BusinessNumber
		ext.ReceiptDate = d.Date
		ext.TotalAmount = d.TotalAmount
	}
	return ext
}

func (o *ocrJobUC) GetJobStatus(ctx context.Context, jobID string) (*model.OCRJob, error) {
	return o.jobs.Get(ctx, jobID)
}

func (o *ocrJobUC) GetJobsForReceipt(ctx context.Context, receiptID string) ([]*model.OCRJob, error) {
	return o.jobs.ListByReceipt(ctx, receiptID)
}

func (o *ocrJobUC) GetStats(ctx context.Context) (model.OCRJobStats, error) {
	jobs, err := o.jobs.List(ctx)
	if err != nil {
		return model.OCRJobStats{}, err
	}
	var s model.OCRJobStats
	for _, j := range jobs {
		s.Total++
		switch j.Status {
		case model.OCRJobStatusPending:
			s.Pending++
		case model.OCRJobStatusProcessing:
			s.Processing++
		case model.OCRJobStatusCompleted:
			s.Completed++
		case model.OCRJobStatusPartial:
			s.Partial++
		case model.OCRJobStatusFailed:
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = int(math.Round(float64(s.Completed) / float64(s.Total) * 100))
	}
	return s, nil
}

// CancelJob asks the engine to stop the job. Local status is left to the poll loop.
func (o *ocrJobUC) CancelJob(ctx context.Context, jobID string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.RemoteID == "" {
		return fmt.Errorf("%w: job %s has not been dispatched", domain.ErrInvalidRequest, jobID)
	}
	if err := o.ocr.Cancel(ctx, job.RemoteID); err != nil {
		return err
	}
	o.log.Info().Str("job_id", jobID).Str("remote_id", job.RemoteID).Msg("ocr job cancel requested")
	return nil
}

func (o *ocrJobUC) PruneFinished(ctx context.Context, before time.Time) (int, error) {
	n, err := o.jobs.DeleteTerminalBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	metrics.AddOCRJobsPruned(n)
	return n, nil
}

func (o *ocrJobUC) LatestResult(ctx context.Context, receiptID string) (*model.OCRExtraction, error) {
	return o.receipts.LatestOCRResult(ctx, repository.NoTX, receiptID)
}

func (o *ocrJobUC) EngineHealth(ctx context.Context) (*adapter.OCRHealth, error) {
	return o.ocr.HealthCheck(ctx)
}

func receiptIDs(rs []*model.Receipt) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

func engineError(res *adapter.OCRJobResult) string {
	if res.ErrorMessage != "" {
		return res.ErrorMessage
	}
	return reasonEngineFailure
}
