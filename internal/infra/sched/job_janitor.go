package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type JobPruner interface {
	PruneFinished(ctx context.Context, before time.Time) (int, error)
}

type QueuePruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// JobJanitor drops finished jobs and queue items past their retention.
type JobJanitor struct {
	jobs           JobPruner
	queue          QueuePruner
	jobRetention   time.Duration
	queueRetention time.Duration
	now            func() time.Time
	log            *zerolog.Logger
}

func NewJobJanitor(jobs JobPruner, queue QueuePruner, jobRetention, queueRetention time.Duration, logger *zerolog.Logger) *JobJanitor {
	if jobRetention <= 0 {
		jobRetention = 24 * time.Hour
	}
	if queueRetention <= 0 {
		queueRetention = 24 * time.Hour
	}
	l := logger.With().Str("component", "JobJanitor").Logger()
	return &JobJanitor{
		jobs:           jobs,
		queue:          queue,
		jobRetention:   jobRetention,
		queueRetention: queueRetention,
		now:            time.Now,
		log:            &l,
	}
}

func (w *JobJanitor) Sweep(ctx context.Context) (int, error) {
	now := w.now()
	jobs, err := w.jobs.PruneFinished(ctx, now.Add(-w.jobRetention))
	if err != nil {
		return 0, err
	}
	items := 0
	if w.queue != nil {
		items, err = w.queue.Prune(ctx, now.Add(-w.queueRetention))
		if err != nil {
			return jobs, err
		}
	}
	if jobs+items > 0 {
		w.log.Info().Int("jobs", jobs).Int("queue_items", items).Msg("pruned finished work")
	}
	return jobs + items, nil
}
