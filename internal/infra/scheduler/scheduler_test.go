//go:build !integration

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

func TestScheduler(t *testing.T) {
	t.Run("should sweep on every tick until stopped", func(t *testing.T) {
		var runs atomic.Int32
		s := NewScheduler("test", 5*time.Millisecond, SweeperFunc(func(ctx context.Context) (int, error) {
			runs.Add(1)
			return 1, nil
		}), newTestLogger())

		s.Start(context.Background())
		s.Start(context.Background())
		deadline := time.Now().Add(time.Second)
		for runs.Load() < 3 && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		s.Stop()
		s.Stop()

		if runs.Load() < 3 {
			t.Fatalf("expected at least 3 sweeps, got %d", runs.Load())
		}
		after := runs.Load()
		time.Sleep(20 * time.Millisecond)
		if runs.Load() != after {
			t.Errorf("expected no sweeps after Stop")
		}
	})

	t.Run("should run once on start and survive errors", func(t *testing.T) {
		var runs atomic.Int32
		s := NewScheduler("failing", time.Hour, SweeperFunc(func(ctx context.Context) (int, error) {
			runs.Add(1)
			return 0, errors.New("boom")
		}), newTestLogger(), WithRunOnStart(), WithTimeout(time.Second))

		s.Start(context.Background())
		deadline := time.Now().Add(time.Second)
		for runs.Load() < 1 && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		s.Stop()
		if runs.Load() != 1 {
			t.Fatalf("expected exactly one sweep, got %d", runs.Load())
		}
	})

	t.Run("should bound each sweep with the timeout", func(t *testing.T) {
		got := make(chan error, 1)
		s := NewScheduler("slow", time.Hour, SweeperFunc(func(ctx context.Context) (int, error) {
			<-ctx.Done()
			got <- ctx.Err()
			return 0, ctx.Err()
		}), newTestLogger(), WithRunOnStart(), WithTimeout(10*time.Millisecond))

		s.Start(context.Background())
		defer s.Stop()
		select {
		case err := <-got:
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected deadline exceeded, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("sweep was not cancelled")
		}
	})
}
