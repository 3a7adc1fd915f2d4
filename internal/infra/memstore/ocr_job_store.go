package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/repository"
)

var _ repository.OCRJobStore = (*OCRJobStore)(nil)

// OCRJobStore keeps jobs in process memory. Nothing survives a restart.
type OCRJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.OCRJob
}

func NewOCRJobStore() *OCRJobStore {
	return &OCRJobStore{jobs: make(map[string]*model.OCRJob)}
}

func (s *OCRJobStore) Save(ctx context.Context, job *model.OCRJob) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *OCRJobStore) Get(ctx context.Context, id string) (*model.OCRJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *OCRJobStore) Update(ctx context.Context, id string, fn func(job *model.OCRJob) error) (*model.OCRJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	work := j.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	s.jobs[id] = work
	return work.Clone(), nil
}

// List returns every job, oldest first.
func (s *OCRJobStore) List(ctx context.Context) ([]*model.OCRJob, error) {
	return s.filter(func(*model.OCRJob) bool { return true }), nil
}

func (s *OCRJobStore) ListByReceipt(ctx context.Context, receiptID string) ([]*model.OCRJob, error) {
	return s.filter(func(j *model.OCRJob) bool { return j.Contains(receiptID) }), nil
}

func (s *OCRJobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *OCRJobStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *OCRJobStore) filter(keep func(*model.OCRJob) bool) []*model.OCRJob {
	s.mu.RLock()
	out := make([]*model.OCRJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}
