package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"receipt-ocr/internal/domain"
	"receipt-ocr/internal/domain/model"
	"receipt-ocr/internal/domain/ports/adapter"
	"receipt-ocr/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

// --- memReceiptRepo ---

type memReceiptRepo struct {
	mu      sync.Mutex
	store   map[string]*model.Receipt
	results map[string]*model.OCRExtraction
	saveErr error
	findErr error
}

func newMemReceiptRepo(rs ...*model.Receipt) *memReceiptRepo {
	m := &memReceiptRepo{
		store:   make(map[string]*model.Receipt),
		results: make(map[string]*model.OCRExtraction),
	}
	for _, r := range rs {
		cp := *r
		m.store[r.ID] = &cp
	}
	return m
}

func (m *memReceiptRepo) Create(ctx context.Context, tx repository.Tx, r *model.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[r.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *memReceiptRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrReceiptNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memReceiptRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.Receipt, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Receipt, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.store[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memReceiptRepo) UpdateStatus(ctx context.Context, tx repository.Tx, ids []string, status model.ReceiptStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if r, ok := m.store[id]; ok {
			r.Status = status
		}
	}
	return nil
}

func (m *memReceiptRepo) SaveOCRResult(ctx context.Context, tx repository.Tx, res *model.OCRExtraction) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[res.ReceiptID]
	if !ok {
		return domain.ErrReceiptNotFound
	}
	r.Status = res.ReceiptStatus()
	r.OCRError = res.ErrorMessage
	cp := *res
	m.results[res.ReceiptID] = &cp
	return nil
}

func (m *memReceiptRepo) MarkFailed(ctx context.Context, tx repository.Tx, id string, status model.ReceiptStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.store[id]
	if !ok {
		return domain.ErrReceiptNotFound
	}
	r.Status = status
	r.OCRError = reason
	return nil
}

func (m *memReceiptRepo) LatestOCRResult(ctx context.Context, tx repository.Tx, receiptID string) (*model.OCRExtraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[receiptID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (m *memReceiptRepo) ListStaleProcessing(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Receipt
	for _, r := range m.store {
		if r.Status == model.ReceiptStatusProcessing && r.UpdatedAt.Before(olderThan) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memReceiptRepo) get(id string) model.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.store[id]
}

// --- memFileStore ---

type memFileStore struct {
	files map[string][]byte
}

func (m *memFileStore) Read(ctx context.Context, path string) ([]byte, error) {
	b, ok := m.files[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *memFileStore) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.files[path]
	return ok, nil
}

// --- MockOCRClient ---

type MockOCRClient struct {
	mu              sync.Mutex
	submitted       [][]adapter.OCRFile
	statusCalls     int
	cancelled       []string
	SubmitBatchFunc func(ctx context.Context, files []adapter.OCRFile, settlementID string) (*adapter.OCRJobHandle, error)
	GetStatusFunc   func(ctx context.Context, jobID string, call int) (*adapter.OCRJobResult, error)
	CancelFunc      func(ctx context.Context, jobID string) error
}

func (m *MockOCRClient) SubmitBatch(ctx context.Context, files []adapter.OCRFile, settlementID string) (*adapter.OCRJobHandle, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, files)
	m.mu.Unlock()
	if m.SubmitBatchFunc != nil {
		return m.SubmitBatchFunc(ctx, files, settlementID)
	}
	return &adapter.OCRJobHandle{ID: "remote-1", Status: model.OCRJobStatusPending, TotalFiles: len(files)}, nil
}

func (m *MockOCRClient) GetStatus(ctx context.Context, jobID string) (*adapter.OCRJobResult, error) {
	m.mu.Lock()
	m.statusCalls++
	call := m.statusCalls
	m.mu.Unlock()
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, jobID, call)
	}
	return &adapter.OCRJobResult{ID: jobID, Status: model.OCRJobStatusProcessing}, nil
}

func (m *MockOCRClient) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.cancelled = append(m.cancelled, jobID)
	m.mu.Unlock()
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, jobID)
	}
	return nil
}

func (m *MockOCRClient) HealthCheck(ctx context.Context) (*adapter.OCRHealth, error) {
	return &adapter.OCRHealth{Status: "healthy", Service: "mock"}, nil
}

func (m *MockOCRClient) polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

// --- runners and clock ---

// inlineRunner runs every task on the caller's goroutine.
type inlineRunner struct{}

func (inlineRunner) Submit(task func(ctx context.Context) error) error {
	_ = task(context.Background())
	return nil
}

func (inlineRunner) SubmitWait(ctx context.Context, task func(ctx context.Context) error) error {
	_ = task(ctx)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}
