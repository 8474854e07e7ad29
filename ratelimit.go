package rowbatch

import (
	"context"
	"sync"
	"time"
)

// DefaultRateWindow is the window a per-minute rate limit is counted over.
const DefaultRateWindow = time.Minute

// FixedWindowLimiter admits at most limit calls per window. The window starts
// when the limiter is created and restarts on the first arrival after it has
// elapsed; callers over the limit sleep until the window boundary. Adjacent
// windows can together admit up to 2×limit calls around a boundary.
type FixedWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	count  int
	start  time.Time
	now    func() time.Time
}

// NewFixedWindowLimiter builds a limiter; a non-positive window means one minute.
func NewFixedWindowLimiter(limit int, window time.Duration) *FixedWindowLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	l := &FixedWindowLimiter{limit: limit, window: window, now: time.Now}
	l.start = l.now()
	return l
}

// Wait blocks until the caller is admitted or ctx is done.
func (l *FixedWindowLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		if now.Sub(l.start) >= l.window {
			l.count = 0
			l.start = now
		}
		if l.count < l.limit {
			l.count++
			l.mu.Unlock()
			return nil
		}
		wait := l.start.Add(l.window).Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining returns how many calls the current window still admits.
func (l *FixedWindowLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Sub(l.start) >= l.window {
		return l.limit
	}
	return max(0, l.limit-l.count)
}

// ResetAt returns when the current window ends.
func (l *FixedWindowLimiter) ResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.start.Add(l.window)
}
