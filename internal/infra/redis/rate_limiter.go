package redis

import (
	"context"
	"fmt"
	"time"

	"receipt-ocr/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*RateLimiter)(nil)

// luaIncrWindow counts a hit and starts the window. A key left without
// an expiry is given one on the next hit.
const luaIncrWindow = `
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`

// RateLimiter is a fixed-window counter shared by every replica.
type RateLimiter struct {
	client RedisClient
	limit  int
	window time.Duration
}

func NewRateLimiter(client RedisClient, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := r.client.Eval(ctx, luaIncrWindow, []string{key}, r.window.Milliseconds())
	if err != nil {
		return false, err
	}
	count, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("rate limiter: unexpected reply %T", res)
	}
	return count <= int64(r.limit), nil
}
