package rowbatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter applies the fixed-window policy across processes sharing one
// Redis. Windows are aligned to the Unix epoch; each window is a counter key
// "<key>:<window index>" that expires two windows after creation.
type RedisLimiter struct {
	client redis.Cmdable
	key    string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter builds a limiter; a non-positive window means one minute.
func NewRedisLimiter(client redis.Cmdable, key string, limit int, window time.Duration) *RedisLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RedisLimiter{client: client, key: key, limit: int64(limit), window: window, now: time.Now}
}

// Wait blocks until the shared counter admits the caller or ctx is done.
func (l *RedisLimiter) Wait(ctx context.Context) error {
	for {
		idx := l.windowIndex(l.now())
		key := fmt.Sprintf("%s:%d", l.key, idx)

		n, err := l.client.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		if n == 1 {
			if err := l.client.PExpire(ctx, key, 2*l.window).Err(); err != nil {
				return fmt.Errorf("rate limit: %w", err)
			}
		}
		if n <= l.limit {
			return nil
		}
		// hand the slot back so the counter only counts admissions
		if err := l.client.Decr(ctx, key).Err(); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}

		boundary := time.Unix(0, (idx+1)*int64(l.window))
		timer := time.NewTimer(boundary.Sub(l.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLimiter) windowIndex(t time.Time) int64 {
	return t.UnixNano() / int64(l.window)
}
