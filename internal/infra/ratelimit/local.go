package ratelimit

import (
	"context"
	"sync"
	"time"

	"receipt-ocr/internal/domain/ports/adapter"

	"golang.org/x/time/rate"
)

var _ adapter.RateLimiter = (*Local)(nil)

// Local is a per-key token bucket for single-replica deployments.
// It admits limit events per window with a burst of limit.
type Local struct {
	mu    sync.Mutex
	keys  map[string]*rate.Limiter
	every rate.Limit
	burst int
}

func NewLocal(limit int, window time.Duration) *Local {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Local{
		keys:  make(map[string]*rate.Limiter),
		every: rate.Every(window / time.Duration(limit)),
		burst: limit,
	}
}

func (l *Local) Allow(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	lim, ok := l.keys[key]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.keys[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}
