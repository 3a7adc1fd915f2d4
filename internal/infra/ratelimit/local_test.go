//go:build !integration

package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()

	t.Run("should admit a burst of limit then throttle", func(t *testing.T) {
		l := NewLocal(3, time.Hour)
		for i := 0; i < 3; i++ {
			ok, err := l.Allow(ctx, "dispatch")
			if err != nil || !ok {
				t.Fatalf("Allow #%d: %v, %v", i, ok, err)
			}
		}
		if ok, _ := l.Allow(ctx, "dispatch"); ok {
			t.Fatal("expected the fourth call to be throttled")
		}
	})

	t.Run("should keep separate buckets per key", func(t *testing.T) {
		l := NewLocal(1, time.Hour)
		if ok, _ := l.Allow(ctx, "a"); !ok {
			t.Fatal("expected a to be admitted")
		}
		if ok, _ := l.Allow(ctx, "b"); !ok {
			t.Fatal("expected b to be admitted")
		}
		if ok, _ := l.Allow(ctx, "a"); ok {
			t.Fatal("expected a to be throttled")
		}
	})

	t.Run("should refill over time", func(t *testing.T) {
		l := NewLocal(1, 20*time.Millisecond)
		if ok, _ := l.Allow(ctx, "k"); !ok {
			t.Fatal("expected first call admitted")
		}
		time.Sleep(40 * time.Millisecond)
		if ok, _ := l.Allow(ctx, "k"); !ok {
			t.Fatal("expected a token after the window")
		}
	})

	t.Run("should refuse on a cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := NewLocal(1, time.Second).Allow(cctx, "k"); err == nil {
			t.Fatal("expected an error")
		}
	})
}
